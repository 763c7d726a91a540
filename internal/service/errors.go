package service

import (
	"errors"
	"fmt"
)

// Domain errors surfaced to handlers. Each maps to one response code.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyRegistered   = errors.New("already registered for this event")
	ErrAlreadyWaitlisted   = errors.New("already on the waitlist for this event")
	ErrEventNotPublished   = errors.New("event is not open for registration")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidPayload      = errors.New("invalid webhook payload")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrCapacityRace        = errors.New("registration conflicted with a concurrent request, please retry")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrForbidden           = errors.New("forbidden")
	ErrOfferExpired        = errors.New("waitlist offer has expired")
	ErrInvalidQR           = errors.New("invalid QR data")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
