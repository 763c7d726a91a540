package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/exjam-alumni/eventreg/internal/auth"
	"github.com/exjam-alumni/eventreg/internal/badge"
	"github.com/exjam-alumni/eventreg/internal/logger"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegistrationService runs the registration workflow.
type RegistrationService struct {
	Deps
	promoter *Promoter

	// maxTries bounds attempts of the registration transaction.
	maxTries     uint
	retryInitial time.Duration
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(deps Deps, promoter *Promoter) *RegistrationService {
	deps = deps.withDefaults()
	deps.Log = deps.Log.Named("registration")
	return &RegistrationService{
		Deps:         deps,
		promoter:     promoter,
		maxTries:     2,
		retryInitial: 50 * time.Millisecond,
	}
}

// Register creates a registration if the event has room, otherwise appends
// the caller to the waitlist. The capacity check and the insert happen in
// one transaction under the event row lock. A transaction conflict is
// retried once before surfacing ErrCapacityRace.
func (s *RegistrationService) Register(ctx context.Context, caller auth.Identity, req model.RegisterRequest) (*model.RegistrationResult, error) {
	log := logger.WithContext(ctx, s.Log).With(zap.String("operation", "register"), zap.String("event_id", req.EventID))

	req.EventID = strings.TrimSpace(req.EventID)
	if req.EventID == "" {
		return nil, invalid("eventId", "is required")
	}
	if caller.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	email := strings.ToLower(strings.TrimSpace(caller.Email))
	if email != "" && !isValidEmail(email) {
		return nil, invalid("email", "is not a valid email address")
	}
	ticketType, err := model.ParseTicketType(strings.ToUpper(strings.TrimSpace(req.TicketType)))
	if err != nil {
		return nil, invalid("ticketType", err.Error())
	}
	special := strings.TrimSpace(req.SpecialRequests)
	if len(special) > 1000 {
		return nil, invalid("specialRequests", "must be at most 1000 characters")
	}

	var out outbox
	attempt := func() (*model.RegistrationResult, error) {
		out = nil
		var res *model.RegistrationResult
		err := s.Store.WithTx(ctx, func(q repository.Querier) error {
			var err error
			res, err = s.registerLocked(ctx, q, caller.UserID, email, req.EventID, ticketType, special, &out)
			return err
		})
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInitial
	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.Metrics.TxRetry()
			log.Warn("registration transaction conflict, retrying", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			s.Metrics.RegistrationOutcome("capacity_race")
			log.Error("registration conflict persisted after retry", zap.Error(err))
			return nil, fmt.Errorf("register: %w", ErrCapacityRace)
		case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrAlreadyWaitlisted):
			s.Metrics.RegistrationOutcome("already_registered")
		case errors.Is(err, ErrEventNotPublished):
			s.Metrics.RegistrationOutcome("not_published")
		case errors.Is(err, ErrNotFound):
			s.Metrics.RegistrationOutcome("not_found")
		default:
			s.Metrics.RegistrationOutcome("error")
			log.Error("registration failed", zap.Error(err))
		}
		return nil, err
	}

	s.Metrics.RegistrationOutcome(strings.ToLower(string(res.Status)))
	log.Info("registration processed", zap.String("status", string(res.Status)), zap.Int("position", res.Position))
	s.flush(ctx, out)
	return res, nil
}

func (s *RegistrationService) registerLocked(
	ctx context.Context,
	q repository.Querier,
	userID, email, eventID string,
	ticketType model.TicketType,
	special string,
	out *outbox,
) (*model.RegistrationResult, error) {
	ev, err := q.LockEvent(ctx, eventID)
	if err != nil {
		return nil, notFound(err, "lock event")
	}
	if ev.Status != model.EventPublished {
		return nil, ErrEventNotPublished
	}

	if _, err := q.FindActiveRegistration(ctx, eventID, userID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find active registration: %w", err)
	}
	if _, err := q.FindActiveWaitlistEntry(ctx, eventID, userID); err == nil {
		return nil, ErrAlreadyWaitlisted
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find waitlist entry: %w", err)
	}

	capacity, err := capacityOf(ctx, q, ev)
	if err != nil {
		return nil, fmt.Errorf("capacity: %w", err)
	}

	now := s.now()
	if !capacity.Available {
		last, err := q.MaxWaitlistPosition(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("waitlist position: %w", err)
		}
		entry := &model.WaitlistEntry{
			ID:         uuid.NewString(),
			EventID:    eventID,
			UserID:     userID,
			UserEmail:  email,
			TicketType: ticketType,
			Position:   last + 1,
			Status:     model.WaitlistWaiting,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := q.InsertWaitlistEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("insert waitlist entry: %w", err)
		}
		out.add(notify.Message{
			Template: notify.TemplateWaitlistJoined,
			UserID:   userID,
			To:       email,
			Data:     map[string]any{"eventId": ev.ID, "eventTitle": ev.Title, "position": entry.Position},
		})
		return &model.RegistrationResult{Status: model.RegistrationWaitlisted, Position: entry.Position}, nil
	}

	reg := &model.Registration{
		ID:              uuid.NewString(),
		EventID:         eventID,
		UserID:          userID,
		UserEmail:       email,
		TicketType:      ticketType,
		TicketID:        newTicketID(),
		Status:          model.RegistrationConfirmed,
		SlotState:       model.SlotHeld,
		SpecialRequests: special,
		Amount:          ev.PriceAt(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if reg.Amount > 0 {
		reg.Status = model.RegistrationPending
		reg.PaymentReference = ptr(newPaymentReference())
	} else {
		reg.BadgeIssuedAt = &now
	}
	if err := q.InsertRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("insert registration: %w", err)
	}

	res := &model.RegistrationResult{
		Status:         reg.Status,
		RegistrationID: reg.ID,
		TicketID:       reg.TicketID,
	}
	data := map[string]any{"eventId": ev.ID, "eventTitle": ev.Title, "registrationId": reg.ID, "ticketId": reg.TicketID}
	if reg.PaymentReference == nil {
		out.add(notify.Message{Template: notify.TemplateRegistrationConfirmed, UserID: userID, To: email, Data: data})
		return res, nil
	}

	if err := q.InsertPayment(ctx, newPayment(reg, ev.Currency, now)); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	res.PaymentReference = *reg.PaymentReference
	res.AmountDue = reg.Amount
	res.Currency = ev.Currency
	data["paymentReference"] = *reg.PaymentReference
	data["amountDue"] = reg.Amount
	data["currency"] = ev.Currency
	out.add(notify.Message{Template: notify.TemplatePaymentRequired, UserID: userID, To: email, Data: data})
	return res, nil
}

// Cancel cancels a PENDING or CONFIRMED registration on behalf of its owner
// or an admin. Any pending payment is failed and the released slot is
// offered to the waitlist.
func (s *RegistrationService) Cancel(ctx context.Context, caller auth.Identity, registrationID string) (*model.Registration, error) {
	log := logger.WithContext(ctx, s.Log).With(zap.String("operation", "cancel"), zap.String("registration_id", registrationID))

	var (
		reg *model.Registration
		out outbox
	)
	err := s.Store.WithTx(ctx, func(q repository.Querier) error {
		out = nil
		peek, err := q.GetRegistration(ctx, registrationID)
		if err != nil {
			return notFound(err, "get registration")
		}
		if !canAccess(caller, peek) {
			return ErrForbidden
		}
		ev, err := q.LockEvent(ctx, peek.EventID)
		if err != nil {
			return notFound(err, "lock event")
		}
		reg, err = q.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFound(err, "lock registration")
		}

		reason := ReasonUserCancelled
		if caller.UserID != reg.UserID {
			reason = ReasonAdminCancelled
		}
		if err := releaseRegistration(ctx, q, reg, reason, "registration cancelled", s.now()); err != nil {
			return err
		}
		out.add(notify.Message{
			Template: notify.TemplateRegistrationCancelled,
			UserID:   reg.UserID,
			To:       reg.UserEmail,
			Data:     map[string]any{"eventId": ev.ID, "eventTitle": ev.Title, "registrationId": reg.ID},
		})
		_, err = s.promoter.promoteLocked(ctx, q, ev, reg, &out)
		return err
	})
	if err != nil {
		if !isClientError(err) {
			log.Error("cancel registration failed", zap.Error(err))
		}
		return nil, err
	}
	log.Info("registration cancelled", zap.String("event_id", reg.EventID), zap.String("reason", reg.CancelReason))
	s.flush(ctx, out)
	return reg, nil
}

// Accept confirms a promoted offer on a free event within its window.
// Paid offers are confirmed by payment instead.
func (s *RegistrationService) Accept(ctx context.Context, caller auth.Identity, registrationID string) (*model.Registration, error) {
	var (
		reg *model.Registration
		out outbox
	)
	err := s.Store.WithTx(ctx, func(q repository.Querier) error {
		out = nil
		peek, err := q.GetRegistration(ctx, registrationID)
		if err != nil {
			return notFound(err, "get registration")
		}
		if peek.UserID != caller.UserID {
			return ErrForbidden
		}
		ev, err := q.LockEvent(ctx, peek.EventID)
		if err != nil {
			return notFound(err, "lock event")
		}
		reg, err = q.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFound(err, "lock registration")
		}
		if reg.Status != model.RegistrationPending || reg.OfferExpiresAt == nil {
			return fmt.Errorf("accept %s registration: %w", reg.Status, ErrInvalidTransition)
		}
		if reg.PaymentReference != nil {
			return fmt.Errorf("accept paid offer: %w", ErrPaymentNotConfirmed)
		}
		now := s.now()
		if now.After(*reg.OfferExpiresAt) {
			return ErrOfferExpired
		}
		reg.Status = model.RegistrationConfirmed
		reg.OfferExpiresAt = nil
		reg.BadgeIssuedAt = &now
		reg.UpdatedAt = now
		if err := q.UpdateRegistration(ctx, reg); err != nil {
			return fmt.Errorf("confirm registration: %w", err)
		}
		out.add(notify.Message{
			Template: notify.TemplateRegistrationConfirmed,
			UserID:   reg.UserID,
			To:       reg.UserEmail,
			Data:     map[string]any{"eventId": ev.ID, "eventTitle": ev.Title, "registrationId": reg.ID, "ticketId": reg.TicketID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, out)
	return reg, nil
}

// LeaveWaitlist withdraws the caller's active waitlist entry. Positions of
// the remaining entries are unchanged.
func (s *RegistrationService) LeaveWaitlist(ctx context.Context, caller auth.Identity, eventID string) (*model.WaitlistEntry, error) {
	var entry *model.WaitlistEntry
	err := s.Store.WithTx(ctx, func(q repository.Querier) error {
		if _, err := q.LockEvent(ctx, eventID); err != nil {
			return notFound(err, "lock event")
		}
		var err error
		entry, err = q.FindActiveWaitlistEntry(ctx, eventID, caller.UserID)
		if err != nil {
			return notFound(err, "find waitlist entry")
		}
		entry.Status = model.WaitlistLeft
		entry.UpdatedAt = s.now()
		return q.UpdateWaitlistEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns a registration visible to the caller.
func (s *RegistrationService) Get(ctx context.Context, caller auth.Identity, registrationID string) (*model.Registration, error) {
	var reg *model.Registration
	err := s.Store.Run(ctx, func(q repository.Querier) (err error) {
		reg, err = q.GetRegistration(ctx, registrationID)
		return err
	})
	if err != nil {
		return nil, notFound(err, "get registration")
	}
	if !canAccess(caller, reg) {
		return nil, ErrForbidden
	}
	return reg, nil
}

// ListMine returns the caller's registrations, newest first.
func (s *RegistrationService) ListMine(ctx context.Context, caller auth.Identity) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.Store.Run(ctx, func(q repository.Querier) (err error) {
		regs, err = q.ListRegistrationsByUser(ctx, caller.UserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// Badge renders the PDF badge of a confirmed registration.
func (s *RegistrationService) Badge(ctx context.Context, caller auth.Identity, registrationID string) ([]byte, error) {
	var (
		reg *model.Registration
		ev  *model.Event
	)
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		var err error
		if reg, err = q.GetRegistration(ctx, registrationID); err != nil {
			return notFound(err, "get registration")
		}
		if ev, err = q.GetEvent(ctx, reg.EventID); err != nil {
			return notFound(err, "get event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !canAccess(caller, reg) {
		return nil, ErrForbidden
	}
	switch reg.Status {
	case model.RegistrationConfirmed, model.RegistrationAttended:
	default:
		return nil, ErrPaymentNotConfirmed
	}
	return badge.RenderPDF(ev, reg)
}

func canAccess(caller auth.Identity, reg *model.Registration) bool {
	return caller.IsAdmin() || caller.UserID == reg.UserID
}

func isClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOfferExpired)
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
