// Package model defines the core domain types for alumni event registration.
package model

import "time"

// Event is a registrable alumni event. Prices are in minor currency units.
type Event struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Capacity          int         `json:"capacity"`
	Price             int64       `json:"price"`
	EarlyBirdPrice    *int64      `json:"earlyBirdPrice,omitempty"`
	EarlyBirdDeadline *time.Time  `json:"earlyBirdDeadline,omitempty"`
	Currency          string      `json:"currency"`
	StartsAt          time.Time   `json:"startsAt"`
	EndsAt            time.Time   `json:"endsAt"`
	Status            EventStatus `json:"status"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// PriceAt returns the ticket price applicable at the given instant.
func (e *Event) PriceAt(now time.Time) int64 {
	if e.EarlyBirdPrice != nil && e.EarlyBirdDeadline != nil && now.Before(*e.EarlyBirdDeadline) {
		return *e.EarlyBirdPrice
	}
	return e.Price
}

// Registration is a user's claim on an event slot.
type Registration struct {
	ID               string             `json:"id"`
	EventID          string             `json:"eventId"`
	UserID           string             `json:"userId"`
	UserEmail        string             `json:"userEmail"`
	TicketType       TicketType         `json:"ticketType"`
	TicketID         string             `json:"ticketId"`
	Status           RegistrationStatus `json:"status"`
	SlotState        SlotState          `json:"slotState"`
	SpecialRequests  string             `json:"specialRequests,omitempty"`
	PaymentReference *string            `json:"paymentReference,omitempty"`
	Amount           int64              `json:"amount"`
	ReviewRequired   bool               `json:"reviewRequired"`
	OfferExpiresAt   *time.Time         `json:"offerExpiresAt,omitempty"`
	BadgeIssuedAt    *time.Time         `json:"badgeIssuedAt,omitempty"`
	CheckedInAt      *time.Time         `json:"checkedInAt,omitempty"`
	CheckInLocation  string             `json:"checkInLocation,omitempty"`
	CheckedInBy      string             `json:"checkedInBy,omitempty"`
	CancelReason     string             `json:"cancelReason,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// WaitlistEntry is a queued request for a full event.
type WaitlistEntry struct {
	ID             string         `json:"id"`
	EventID        string         `json:"eventId"`
	UserID         string         `json:"userId"`
	UserEmail      string         `json:"userEmail"`
	TicketType     TicketType     `json:"ticketType"`
	Position       int            `json:"position"`
	Status         WaitlistStatus `json:"status"`
	Notified       bool           `json:"notified"`
	RegistrationID *string        `json:"registrationId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Payment tracks the gateway charge backing a paid registration.
type Payment struct {
	ID               string        `json:"id"`
	RegistrationID   string        `json:"registrationId"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	GatewayReference string        `json:"gatewayReference"`
	GatewayResponse  string        `json:"gatewayResponse,omitempty"`
	FlagReason       string        `json:"flagReason,omitempty"`
	FlaggedAt        *time.Time    `json:"flaggedAt,omitempty"`
	ConfirmedAt      *time.Time    `json:"confirmedAt,omitempty"`
	FailedAt         *time.Time    `json:"failedAt,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// WebhookLog records one verified gateway delivery.
type WebhookLog struct {
	ID               string    `json:"id"`
	GatewayReference string    `json:"gatewayReference"`
	EventType        string    `json:"eventType"`
	Amount           int64     `json:"amount"`
	Outcome          string    `json:"outcome"`
	Payload          []byte    `json:"-"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

// CheckInLog records one check-in attempt, successful or not.
type CheckInLog struct {
	ID             string    `json:"id"`
	RegistrationID *string   `json:"registrationId,omitempty"`
	EventID        *string   `json:"eventId,omitempty"`
	AdminID        string    `json:"adminId"`
	Location       string    `json:"location"`
	Method         string    `json:"method"`
	Outcome        string    `json:"outcome"`
	AttemptedAt    time.Time `json:"attemptedAt"`
}

// Capacity is the derived occupancy of an event.
type Capacity struct {
	Capacity       int  `json:"capacity"`
	Available      bool `json:"available"`
	Remaining      int  `json:"remaining"`
	ConfirmedCount int  `json:"confirmedCount"`
	WaitlistCount  int  `json:"waitlistCount"`
}

// DailyCount is a per-day registration tally.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// PaymentTotals aggregates settled payments for an event.
type PaymentTotals struct {
	PaidCount    int   `json:"paidCount"`
	PendingCount int   `json:"pendingCount"`
	Revenue      int64 `json:"revenue"`
}

// EventAnalytics is the admin dashboard summary for one event.
type EventAnalytics struct {
	EventID        string                     `json:"eventId"`
	Capacity       int                        `json:"capacity"`
	StatusCounts   map[RegistrationStatus]int `json:"statusCounts"`
	WaitlistCount  int                        `json:"waitlistCount"`
	CheckedInCount int                        `json:"checkedInCount"`
	Payments       PaymentTotals              `json:"payments"`
	Daily          []DailyCount               `json:"dailyRegistrations"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Capacity          int        `json:"capacity"`
	Price             int64      `json:"price"`
	EarlyBirdPrice    *int64     `json:"earlyBirdPrice,omitempty"`
	EarlyBirdDeadline *time.Time `json:"earlyBirdDeadline,omitempty"`
	Currency          string     `json:"currency"`
	StartsAt          time.Time  `json:"startsAt"`
	EndsAt            time.Time  `json:"endsAt"`
}

// UpdateEventStatusRequest is the payload for an event status change.
type UpdateEventStatusRequest struct {
	Status string `json:"status"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	EventID         string `json:"eventId"`
	TicketType      string `json:"ticketType"`
	SpecialRequests string `json:"specialRequests,omitempty"`
}

// RegistrationResult summarises the outcome of a single registration attempt.
type RegistrationResult struct {
	Status           RegistrationStatus `json:"status"`
	Position         int                `json:"position,omitempty"`
	RegistrationID   string             `json:"registrationId,omitempty"`
	TicketID         string             `json:"ticketId,omitempty"`
	PaymentReference string             `json:"paymentReference,omitempty"`
	AmountDue        int64              `json:"amountDue,omitempty"`
	Currency         string             `json:"currency,omitempty"`
}

// Promotion is the outcome of a waitlist promotion attempt.
type Promotion struct {
	Promoted       bool   `json:"promoted"`
	UserID         string `json:"userId,omitempty"`
	RegistrationID string `json:"registrationId,omitempty"`
}

// WebhookResult is returned to the payment gateway.
type WebhookResult struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// CheckInRequest identifies the registration being checked in.
type CheckInRequest struct {
	RegistrationID string `json:"registrationId,omitempty"`
	TicketID       string `json:"ticketId,omitempty"`
	QRData         string `json:"qrData,omitempty"`
	Location       string `json:"location,omitempty"`
}

// CheckInResult is the outcome of a check-in attempt.
type CheckInResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	CheckInTime  *time.Time    `json:"checkInTime,omitempty"`
	Registration *Registration `json:"registration,omitempty"`
}

// ResolvePaymentRequest is an operator decision on a flagged payment.
type ResolvePaymentRequest struct {
	Approve bool `json:"approve"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
