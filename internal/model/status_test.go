package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to EventStatus
		ok       bool
	}{
		{EventDraft, EventPublished, true},
		{EventDraft, EventCancelled, true},
		{EventDraft, EventCompleted, false},
		{EventPublished, EventCompleted, true},
		{EventPublished, EventDraft, false},
		{EventCancelled, EventPublished, false},
		{EventCompleted, EventCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	_, err := ParseEventStatus("ARCHIVED")
	assert.Error(t, err)
	s, err := ParseEventStatus("PUBLISHED")
	require.NoError(t, err)
	assert.Equal(t, EventPublished, s)
}

func TestRegistrationStatus(t *testing.T) {
	assert.True(t, RegistrationPending.HoldsCapacity())
	assert.True(t, RegistrationConfirmed.HoldsCapacity())
	assert.True(t, RegistrationAttended.HoldsCapacity())
	assert.False(t, RegistrationCancelled.HoldsCapacity())
	assert.False(t, RegistrationWaitlisted.HoldsCapacity())

	assert.True(t, RegistrationPending.CanTransitionTo(RegistrationConfirmed))
	assert.True(t, RegistrationConfirmed.CanTransitionTo(RegistrationAttended))
	assert.False(t, RegistrationPending.CanTransitionTo(RegistrationAttended))
	assert.False(t, RegistrationCancelled.CanTransitionTo(RegistrationConfirmed))
	assert.False(t, RegistrationAttended.CanTransitionTo(RegistrationCancelled))
}

func TestParseTicketType(t *testing.T) {
	tt, err := ParseTicketType("")
	require.NoError(t, err)
	assert.Equal(t, TicketRegular, tt)

	tt, err = ParseTicketType("VIP")
	require.NoError(t, err)
	assert.Equal(t, TicketVIP, tt)

	_, err = ParseTicketType("BACKSTAGE")
	assert.Error(t, err)
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.False(t, PaymentPending.IsTerminal())
	assert.True(t, PaymentSuccess.IsTerminal())
	assert.True(t, PaymentFailed.IsTerminal())
}

func TestPriceAt(t *testing.T) {
	deadline := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	early := int64(30000)
	ev := Event{Price: 50000, EarlyBirdPrice: &early, EarlyBirdDeadline: &deadline}

	assert.Equal(t, int64(30000), ev.PriceAt(deadline.Add(-time.Second)))
	assert.Equal(t, int64(50000), ev.PriceAt(deadline))

	plain := Event{Price: 50000}
	assert.Equal(t, int64(50000), plain.PriceAt(deadline))
}
