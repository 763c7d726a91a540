package model

import "fmt"

// EventStatus is the publication lifecycle of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
	EventCompleted EventStatus = "COMPLETED"
)

// ParseEventStatus validates a raw status string.
func ParseEventStatus(raw string) (EventStatus, error) {
	switch s := EventStatus(raw); s {
	case EventDraft, EventPublished, EventCancelled, EventCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown event status %q", raw)
	}
}

// CanTransitionTo reports whether an event may move from s to next.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case EventDraft:
		return next == EventPublished || next == EventCancelled
	case EventPublished:
		return next == EventCancelled || next == EventCompleted
	case EventCancelled, EventCompleted:
		return false
	default:
		return false
	}
}

// RegistrationStatus is the lifecycle of a registration.
//
// WAITLISTED is only ever reported back to callers; a waitlisted request is
// persisted as a WaitlistEntry, not a Registration row.
type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "PENDING"
	RegistrationConfirmed  RegistrationStatus = "CONFIRMED"
	RegistrationAttended   RegistrationStatus = "ATTENDED"
	RegistrationCancelled  RegistrationStatus = "CANCELLED"
	RegistrationWaitlisted RegistrationStatus = "WAITLISTED"
)

// ParseRegistrationStatus validates a persisted registration status.
func ParseRegistrationStatus(raw string) (RegistrationStatus, error) {
	switch s := RegistrationStatus(raw); s {
	case RegistrationPending, RegistrationConfirmed, RegistrationAttended, RegistrationCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown registration status %q", raw)
	}
}

// HoldsCapacity reports whether a registration in this status counts
// against the event capacity.
func (s RegistrationStatus) HoldsCapacity() bool {
	switch s {
	case RegistrationPending, RegistrationConfirmed, RegistrationAttended:
		return true
	case RegistrationCancelled, RegistrationWaitlisted:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether a registration may move from s to next.
func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	switch s {
	case RegistrationWaitlisted:
		return next == RegistrationPending || next == RegistrationConfirmed || next == RegistrationCancelled
	case RegistrationPending:
		return next == RegistrationConfirmed || next == RegistrationCancelled
	case RegistrationConfirmed:
		return next == RegistrationAttended || next == RegistrationCancelled
	case RegistrationAttended, RegistrationCancelled:
		return false
	default:
		return false
	}
}

// TicketType is the kind of ticket requested at registration.
type TicketType string

const (
	TicketRegular TicketType = "REGULAR"
	TicketVIP     TicketType = "VIP"
	TicketStudent TicketType = "STUDENT"
)

// ParseTicketType validates a raw ticket type, defaulting to REGULAR.
func ParseTicketType(raw string) (TicketType, error) {
	if raw == "" {
		return TicketRegular, nil
	}
	switch t := TicketType(raw); t {
	case TicketRegular, TicketVIP, TicketStudent:
		return t, nil
	default:
		return "", fmt.Errorf("unknown ticket type %q", raw)
	}
}

// SlotState tracks whether a registration still occupies a capacity slot
// and, once released, whether the waitlist has consumed that slot.
type SlotState string

const (
	SlotHeld     SlotState = "HELD"
	SlotReleased SlotState = "RELEASED"
	SlotConsumed SlotState = "CONSUMED"
)

// WaitlistStatus is the lifecycle of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "WAITING"
	WaitlistPromoted WaitlistStatus = "PROMOTED"
	WaitlistLeft     WaitlistStatus = "LEFT"
)

// PaymentStatus is the gateway-driven state of a payment.
// PENDING -> SUCCESS | FAILED; both outcomes are terminal.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSuccess, PaymentFailed:
		return true
	case PaymentPending:
		return false
	default:
		return false
	}
}
