package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cancel reasons recorded on registrations.
const (
	ReasonUserCancelled   = "user_cancelled"
	ReasonAdminCancelled  = "admin_cancelled"
	ReasonPaymentFailed   = "payment_failed"
	ReasonPaymentRejected = "payment_rejected"
	ReasonOfferExpired    = "offer_expired"
)

// Promoter moves waitlisted members into freed capacity, strictly in
// position order.
type Promoter struct {
	Deps
	window time.Duration
}

// NewPromoter constructs a Promoter. A non-positive window uses
// DefaultOfferWindow.
func NewPromoter(deps Deps, window time.Duration) *Promoter {
	deps = deps.withDefaults()
	deps.Log = deps.Log.Named("waitlist")
	if window <= 0 {
		window = DefaultOfferWindow
	}
	return &Promoter{Deps: deps, window: window}
}

// PromoteNext offers the next free slot of an event to the head of its
// waitlist.
func (p *Promoter) PromoteNext(ctx context.Context, eventID string) (model.Promotion, error) {
	var (
		res model.Promotion
		out outbox
	)
	err := p.Store.WithTx(ctx, func(q repository.Querier) error {
		out = nil
		ev, err := q.LockEvent(ctx, eventID)
		if err != nil {
			return notFound(err, "lock event")
		}
		res, err = p.promoteLocked(ctx, q, ev, nil, &out)
		return err
	})
	if err != nil {
		return model.Promotion{}, err
	}
	p.flush(ctx, out)
	return res, nil
}

// promoteLocked converts the waitlist head into a PENDING registration.
// The caller must hold the event lock. freed is the registration whose
// release triggered the promotion, or nil for an explicit promotion; a
// freed slot is consumed at most once.
func (p *Promoter) promoteLocked(ctx context.Context, q repository.Querier, ev *model.Event, freed *model.Registration, out *outbox) (model.Promotion, error) {
	if freed != nil {
		if freed.SlotState != model.SlotReleased {
			return model.Promotion{}, nil
		}
		freed.SlotState = model.SlotConsumed
		if err := q.UpdateRegistration(ctx, freed); err != nil {
			return model.Promotion{}, fmt.Errorf("consume slot: %w", err)
		}
	}
	if ev.Status != model.EventPublished {
		return model.Promotion{}, nil
	}

	capacity, err := capacityOf(ctx, q, ev)
	if err != nil {
		return model.Promotion{}, err
	}
	if !capacity.Available {
		p.Metrics.Promotion(false)
		return model.Promotion{}, nil
	}

	head, err := q.WaitlistHead(ctx, ev.ID)
	if errors.Is(err, repository.ErrNotFound) {
		p.Metrics.Promotion(false)
		return model.Promotion{}, nil
	}
	if err != nil {
		return model.Promotion{}, fmt.Errorf("waitlist head: %w", err)
	}

	now := p.now()
	expires := now.Add(p.window)
	reg := &model.Registration{
		ID:             uuid.NewString(),
		EventID:        ev.ID,
		UserID:         head.UserID,
		UserEmail:      head.UserEmail,
		TicketType:     head.TicketType,
		TicketID:       newTicketID(),
		Status:         model.RegistrationPending,
		SlotState:      model.SlotHeld,
		Amount:         ev.PriceAt(now),
		OfferExpiresAt: &expires,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if reg.Amount > 0 {
		reg.PaymentReference = ptr(newPaymentReference())
	}
	if err := q.InsertRegistration(ctx, reg); err != nil {
		return model.Promotion{}, fmt.Errorf("insert promoted registration: %w", err)
	}
	if reg.PaymentReference != nil {
		if err := q.InsertPayment(ctx, newPayment(reg, ev.Currency, now)); err != nil {
			return model.Promotion{}, fmt.Errorf("insert promoted payment: %w", err)
		}
	}

	head.Status = model.WaitlistPromoted
	head.Notified = true
	head.RegistrationID = &reg.ID
	head.UpdatedAt = now
	if err := q.UpdateWaitlistEntry(ctx, head); err != nil {
		return model.Promotion{}, fmt.Errorf("mark waitlist entry promoted: %w", err)
	}

	data := map[string]any{
		"eventId":        ev.ID,
		"eventTitle":     ev.Title,
		"registrationId": reg.ID,
		"position":       head.Position,
		"expiresAt":      expires,
		"amountDue":      reg.Amount,
		"currency":       ev.Currency,
	}
	if reg.PaymentReference != nil {
		data["paymentReference"] = *reg.PaymentReference
	}
	out.add(notify.Message{Template: notify.TemplateWaitlistOffer, UserID: reg.UserID, To: reg.UserEmail, Data: data})

	p.Metrics.Promotion(true)
	p.Log.Info("waitlist entry promoted",
		zap.String("event_id", ev.ID),
		zap.String("user_id", reg.UserID),
		zap.String("registration_id", reg.ID),
		zap.Int("position", head.Position),
	)
	return model.Promotion{Promoted: true, UserID: reg.UserID, RegistrationID: reg.ID}, nil
}

// ExpireOffers cancels promoted registrations whose offer window has
// passed and hands each reclaimed slot to the next position. The expired
// entry is not re-queued. It returns the number of offers expired.
func (p *Promoter) ExpireOffers(ctx context.Context) (int, error) {
	var due []model.Registration
	err := p.Store.Run(ctx, func(q repository.Querier) (err error) {
		due, err = q.ListExpiredOffers(ctx, p.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list expired offers: %w", err)
	}

	expired := 0
	for _, candidate := range due {
		ok, err := p.expireOne(ctx, candidate.EventID, candidate.ID)
		if err != nil {
			p.Log.Error("expire offer failed",
				zap.String("event_id", candidate.EventID),
				zap.String("registration_id", candidate.ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (p *Promoter) expireOne(ctx context.Context, eventID, registrationID string) (bool, error) {
	var (
		expired bool
		out     outbox
	)
	err := p.Store.WithTx(ctx, func(q repository.Querier) error {
		out, expired = nil, false
		ev, err := q.LockEvent(ctx, eventID)
		if err != nil {
			return notFound(err, "lock event")
		}
		reg, err := q.LockRegistration(ctx, registrationID)
		if err != nil {
			return notFound(err, "lock registration")
		}
		now := p.now()
		if reg.Status != model.RegistrationPending || reg.OfferExpiresAt == nil || reg.OfferExpiresAt.After(now) {
			return nil
		}
		if err := releaseRegistration(ctx, q, reg, ReasonOfferExpired, "offer expired", now); err != nil {
			return err
		}
		out.add(notify.Message{
			Template: notify.TemplateOfferExpired,
			UserID:   reg.UserID,
			To:       reg.UserEmail,
			Data:     map[string]any{"eventId": ev.ID, "eventTitle": ev.Title, "registrationId": reg.ID},
		})
		expired = true
		_, err = p.promoteLocked(ctx, q, ev, reg, &out)
		return err
	})
	if err != nil {
		return false, err
	}
	if expired {
		p.Log.Info("waitlist offer expired", zap.String("event_id", eventID), zap.String("registration_id", registrationID))
	}
	p.flush(ctx, out)
	return expired, nil
}

// releaseRegistration cancels reg, releases its slot and fails any pending
// payment. The caller holds the event and registration locks.
func releaseRegistration(ctx context.Context, q repository.Querier, reg *model.Registration, reason, gatewayNote string, now time.Time) error {
	if !reg.Status.CanTransitionTo(model.RegistrationCancelled) {
		return fmt.Errorf("registration %s -> %s: %w", reg.Status, model.RegistrationCancelled, ErrInvalidTransition)
	}
	if reg.Status.HoldsCapacity() {
		reg.SlotState = model.SlotReleased
	}
	reg.Status = model.RegistrationCancelled
	reg.CancelReason = reason
	reg.OfferExpiresAt = nil
	reg.UpdatedAt = now
	if err := q.UpdateRegistration(ctx, reg); err != nil {
		return fmt.Errorf("cancel registration: %w", err)
	}

	if reg.PaymentReference == nil {
		return nil
	}
	pay, err := q.LockPaymentByReference(ctx, *reg.PaymentReference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock payment: %w", err)
	}
	if pay.Status != model.PaymentPending {
		return nil
	}
	pay.Status = model.PaymentFailed
	pay.FailedAt = &now
	if pay.GatewayResponse == "" {
		pay.GatewayResponse = gatewayNote
	}
	pay.UpdatedAt = now
	if err := q.UpdatePayment(ctx, pay); err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}
	return nil
}

func newPayment(reg *model.Registration, currency string, now time.Time) *model.Payment {
	return &model.Payment{
		ID:               uuid.NewString(),
		RegistrationID:   reg.ID,
		Amount:           reg.Amount,
		Currency:         currency,
		Status:           model.PaymentPending,
		GatewayReference: *reg.PaymentReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
