package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/exjam-alumni/eventreg/internal/badge"
	"github.com/exjam-alumni/eventreg/internal/logger"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Check-in methods and outcomes recorded in the check-in log.
const (
	MethodQRCode = "qr_code"
	MethodManual = "manual"

	CheckInSuccess             = "SUCCESS"
	CheckInAlreadyCheckedIn    = "ALREADY_CHECKED_IN"
	CheckInNotFound            = "NOT_FOUND"
	CheckInPaymentNotConfirmed = "PAYMENT_NOT_CONFIRMED"
	CheckInCancelled           = "CANCELLED"
	CheckInInvalidQR           = "INVALID_QR"
	CheckInError               = "ERROR"
)

// CheckInService admits confirmed, paid attendees at the door.
type CheckInService struct {
	Deps
}

// NewCheckInService constructs a CheckInService.
func NewCheckInService(deps Deps) *CheckInService {
	deps = deps.withDefaults()
	deps.Log = deps.Log.Named("checkin")
	return &CheckInService{Deps: deps}
}

type lookup struct {
	registrationID string
	ticketID       string
	method         string
}

func resolveLookup(req model.CheckInRequest) (lookup, error) {
	l := lookup{
		registrationID: strings.TrimSpace(req.RegistrationID),
		ticketID:       strings.ToUpper(strings.TrimSpace(req.TicketID)),
		method:         MethodManual,
	}
	if qr := strings.TrimSpace(req.QRData); qr != "" {
		p, err := badge.DecodeQR(qr)
		if err != nil {
			return l, ErrInvalidQR
		}
		if l.registrationID != "" && p.RegistrationID != "" && l.registrationID != p.RegistrationID {
			return l, ErrInvalidQR
		}
		if l.registrationID == "" {
			l.registrationID = p.RegistrationID
		}
		if l.ticketID == "" {
			l.ticketID = p.TicketID
		}
		l.method = MethodQRCode
	}
	if l.registrationID == "" && l.ticketID == "" {
		return l, invalid("registrationId", "registrationId, ticketId or qrData is required")
	}
	return l, nil
}

func findRegistration(ctx context.Context, q repository.Querier, l lookup) (*model.Registration, error) {
	if l.registrationID != "" {
		return q.GetRegistration(ctx, l.registrationID)
	}
	return q.GetRegistrationByTicket(ctx, l.ticketID)
}

// CheckIn marks a registration ATTENDED. Only CONFIRMED registrations with
// a settled payment (or no payment due) are admitted. Every attempt is
// appended to the check-in log, including failures.
func (s *CheckInService) CheckIn(ctx context.Context, adminID string, req model.CheckInRequest) (*model.CheckInResult, error) {
	log := logger.WithContext(ctx, s.Log).With(zap.String("operation", "check_in"))

	attempt := &model.CheckInLog{
		ID:       uuid.NewString(),
		AdminID:  adminID,
		Location: strings.TrimSpace(req.Location),
		Method:   MethodManual,
	}
	l, err := resolveLookup(req)
	attempt.Method = l.method
	if err != nil {
		if errors.Is(err, ErrInvalidQR) {
			s.record(ctx, log, attempt, CheckInInvalidQR)
		}
		return nil, err
	}

	var (
		result  *model.CheckInResult
		outcome string
	)
	err = s.Store.WithTx(ctx, func(q repository.Querier) error {
		result, outcome = nil, ""
		peek, err := findRegistration(ctx, q, l)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				outcome = CheckInNotFound
			}
			return notFound(err, "find registration")
		}
		attempt.RegistrationID = &peek.ID
		attempt.EventID = &peek.EventID
		if l.registrationID != "" && l.ticketID != "" && peek.TicketID != l.ticketID {
			outcome = CheckInInvalidQR
			return ErrInvalidQR
		}

		if _, err := q.LockEvent(ctx, peek.EventID); err != nil {
			return notFound(err, "lock event")
		}
		reg, err := q.LockRegistration(ctx, peek.ID)
		if err != nil {
			return notFound(err, "lock registration")
		}

		if reg.Status == model.RegistrationAttended || reg.CheckedInAt != nil {
			outcome = CheckInAlreadyCheckedIn
			result = &model.CheckInResult{Success: false, Message: "already checked in", CheckInTime: reg.CheckedInAt, Registration: reg}
			return nil
		}
		if reg.Status == model.RegistrationCancelled {
			outcome = CheckInCancelled
			return fmt.Errorf("check in cancelled registration: %w", ErrInvalidTransition)
		}
		if reg.PaymentReference != nil {
			pay, err := q.GetPaymentByReference(ctx, *reg.PaymentReference)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("get payment: %w", err)
			}
			if pay == nil || pay.Status != model.PaymentSuccess {
				outcome = CheckInPaymentNotConfirmed
				return ErrPaymentNotConfirmed
			}
		}
		if !reg.Status.CanTransitionTo(model.RegistrationAttended) {
			outcome = CheckInPaymentNotConfirmed
			return ErrPaymentNotConfirmed
		}

		now := s.now()
		reg.Status = model.RegistrationAttended
		reg.CheckedInAt = &now
		reg.CheckInLocation = attempt.Location
		reg.CheckedInBy = adminID
		reg.UpdatedAt = now
		if err := q.UpdateRegistration(ctx, reg); err != nil {
			return fmt.Errorf("mark attended: %w", err)
		}
		outcome = CheckInSuccess
		result = &model.CheckInResult{Success: true, Message: "checked in", CheckInTime: &now, Registration: reg}
		return nil
	})
	if outcome == "" {
		outcome = CheckInError
	}
	s.record(ctx, log, attempt, outcome)
	if err != nil {
		if outcome == CheckInError {
			log.Error("check-in failed", zap.Error(err))
		}
		return nil, err
	}
	return result, nil
}

func (s *CheckInService) record(ctx context.Context, log *zap.Logger, attempt *model.CheckInLog, outcome string) {
	attempt.Outcome = outcome
	attempt.AttemptedAt = s.now()
	s.Metrics.CheckInOutcome(strings.ToLower(outcome))
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		return q.InsertCheckInLog(ctx, attempt)
	})
	if err != nil {
		log.Warn("check-in log write failed", zap.String("outcome", outcome), zap.Error(err))
	}
}

// Status returns the registration identified by registration or ticket id
// with its check-in fields.
func (s *CheckInService) Status(ctx context.Context, registrationID, ticketID string) (*model.Registration, error) {
	l, err := resolveLookup(model.CheckInRequest{RegistrationID: registrationID, TicketID: ticketID})
	if err != nil {
		return nil, err
	}
	var reg *model.Registration
	err = s.Store.Run(ctx, func(q repository.Querier) (err error) {
		reg, err = findRegistration(ctx, q, l)
		return err
	})
	if err != nil {
		return nil, notFound(err, "find registration")
	}
	return reg, nil
}
