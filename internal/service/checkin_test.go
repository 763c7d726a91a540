package service

import (
	"context"
	"testing"

	"github.com/exjam-alumni/eventreg/internal/badge"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInRequiresConfirmedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(t, 5, 100000)
	res := f.register(t, ev, member(1))

	_, err := f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{RegistrationID: res.RegistrationID})
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)

	reg := f.registration(t, res.RegistrationID)
	assert.Nil(t, reg.CheckedInAt)
	assert.Equal(t, model.RegistrationPending, reg.Status)

	logs := f.mem.CheckInLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, CheckInPaymentNotConfirmed, logs[0].Outcome)
	assert.Equal(t, MethodManual, logs[0].Method)
}

func TestCheckInWithQRCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(t, 5, 100000)
	res := f.register(t, ev, member(1))
	f.deliver(t, "charge.success", res.PaymentReference, 100000)

	qr := badge.PayloadFor(f.registration(t, res.RegistrationID)).Encode()
	out, err := f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{QRData: qr, Location: "Main Hall"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.NotNil(t, out.CheckInTime)
	assert.Equal(t, f.clock.Now(), *out.CheckInTime)

	reg := f.registration(t, res.RegistrationID)
	assert.Equal(t, model.RegistrationAttended, reg.Status)
	assert.Equal(t, "Main Hall", reg.CheckInLocation)
	assert.Equal(t, admin.UserID, reg.CheckedInBy)

	again, err := f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{TicketID: res.TicketID})
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, "already checked in", again.Message)

	logs := f.mem.CheckInLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, CheckInSuccess, logs[0].Outcome)
	assert.Equal(t, MethodQRCode, logs[0].Method)
	assert.Equal(t, CheckInAlreadyCheckedIn, logs[1].Outcome)
}

func TestCheckInFreeRegistration(t *testing.T) {
	f := newFixture(t)
	ev := f.publishedEvent(t, 5, 0)
	res := f.register(t, ev, member(1))

	out, err := f.checkIn.CheckIn(context.Background(), admin.UserID, model.CheckInRequest{TicketID: res.TicketID})
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestCheckInErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(t, 5, 0)
	res := f.register(t, ev, member(1))

	_, err := f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{RegistrationID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{QRData: "garbage"})
	assert.ErrorIs(t, err, ErrInvalidQR)

	var verr *ValidationError
	_, err = f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{})
	assert.ErrorAs(t, err, &verr)

	_, err = f.regs.Cancel(ctx, member(1), res.RegistrationID)
	require.NoError(t, err)
	_, err = f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{RegistrationID: res.RegistrationID})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	outcomes := make([]string, 0)
	for _, l := range f.mem.CheckInLogs() {
		outcomes = append(outcomes, l.Outcome)
	}
	assert.Equal(t, []string{CheckInNotFound, CheckInInvalidQR, CheckInCancelled}, outcomes)
}

func TestCheckInStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(t, 5, 0)
	res := f.register(t, ev, member(1))

	reg, err := f.checkIn.Status(ctx, "", res.TicketID)
	require.NoError(t, err)
	assert.Nil(t, reg.CheckedInAt)

	_, err = f.checkIn.CheckIn(ctx, admin.UserID, model.CheckInRequest{RegistrationID: res.RegistrationID})
	require.NoError(t, err)
	reg, err = f.checkIn.Status(ctx, res.RegistrationID, "")
	require.NoError(t, err)
	assert.NotNil(t, reg.CheckedInAt)

	_, err = f.checkIn.Status(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
