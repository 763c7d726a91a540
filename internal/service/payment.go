package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exjam-alumni/eventreg/internal/logger"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/payment"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook outcomes, recorded in the webhook log and returned as reasons.
const (
	OutcomeApplied          = "APPLIED"
	OutcomeAlreadyProcessed = "ALREADY_PROCESSED"
	OutcomeConflictIgnored  = "CONFLICT_IGNORED"
	OutcomeAmountMismatch   = "AMOUNT_MISMATCH"
	OutcomeUnknownReference = "UNKNOWN_REFERENCE"
	OutcomeIgnored          = "IGNORED"
)

// Gateway authenticates and decodes webhook deliveries.
type Gateway interface {
	Verify(body []byte, signature string) error
	Parse(body []byte) (*payment.Event, error)
}

// Reconciler applies payment-gateway outcomes to payments and
// registrations. Each payment reaches exactly one terminal status; the
// first terminal event wins.
type Reconciler struct {
	Deps
	gateway  Gateway
	promoter *Promoter
	baseURL  string
}

// NewReconciler constructs a Reconciler. publicBaseURL prefixes the badge
// link sent on payment confirmation.
func NewReconciler(deps Deps, gateway Gateway, promoter *Promoter, publicBaseURL string) *Reconciler {
	deps = deps.withDefaults()
	deps.Log = deps.Log.Named("payment")
	return &Reconciler{
		Deps:     deps,
		gateway:  gateway,
		promoter: promoter,
		baseURL:  strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// HandleWebhook verifies the signature over the raw body before anything
// else; an invalid signature never reaches the store.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (model.WebhookResult, error) {
	if err := r.gateway.Verify(body, signature); err != nil {
		r.Metrics.WebhookOutcome("invalid_signature")
		logger.WithContext(ctx, r.Log).Warn("webhook signature rejected", zap.Int("body_bytes", len(body)))
		return model.WebhookResult{}, ErrInvalidSignature
	}
	ev, err := r.gateway.Parse(body)
	if err != nil {
		r.Metrics.WebhookOutcome("invalid_payload")
		return model.WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return r.ApplyWebhookEvent(ctx, ev)
}

// ApplyWebhookEvent applies one verified gateway event. Duplicates and
// late conflicting events return applied=false with no state change. A
// store failure is returned as an error so the gateway redelivers.
func (r *Reconciler) ApplyWebhookEvent(ctx context.Context, ev *payment.Event) (model.WebhookResult, error) {
	log := logger.WithContext(ctx, r.Log).With(
		zap.String("operation", "apply_webhook"),
		zap.String("reference", ev.Reference),
		zap.String("event_type", ev.RawType),
	)

	var (
		result model.WebhookResult
		out    outbox
	)
	err := r.Store.WithTx(ctx, func(q repository.Querier) error {
		out = nil
		outcome, err := r.applyLocked(ctx, q, ev, log, &out)
		if err != nil {
			return err
		}
		result = model.WebhookResult{Applied: outcome == OutcomeApplied}
		switch outcome {
		case OutcomeApplied:
		case OutcomeConflictIgnored:
			result.Reason = OutcomeAlreadyProcessed
		default:
			result.Reason = outcome
		}
		return q.InsertWebhookLog(ctx, &model.WebhookLog{
			ID:               uuid.NewString(),
			GatewayReference: ev.Reference,
			EventType:        ev.RawType,
			Amount:           ev.Amount,
			Outcome:          outcome,
			Payload:          ev.Payload,
			ReceivedAt:       r.now(),
		})
	})
	if err != nil {
		r.Metrics.WebhookOutcome("error")
		log.Error("webhook processing failed", zap.Error(err))
		return model.WebhookResult{}, fmt.Errorf("apply webhook: %w", err)
	}

	outcome := result.Reason
	if result.Applied {
		outcome = OutcomeApplied
	}
	r.Metrics.WebhookOutcome(strings.ToLower(outcome))
	log.Info("webhook processed", zap.Bool("applied", result.Applied), zap.String("reason", result.Reason))
	r.flush(ctx, out)
	return result, nil
}

func (r *Reconciler) applyLocked(ctx context.Context, q repository.Querier, ev *payment.Event, log *zap.Logger, out *outbox) (string, error) {
	if ev.Type == payment.EventIgnored {
		return OutcomeIgnored, nil
	}

	peek, err := q.GetPaymentByReference(ctx, ev.Reference)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("webhook for unknown payment reference")
		return OutcomeUnknownReference, nil
	}
	if err != nil {
		return "", fmt.Errorf("get payment: %w", err)
	}
	linked, err := q.GetRegistration(ctx, peek.RegistrationID)
	if err != nil {
		return "", fmt.Errorf("get registration: %w", err)
	}

	// Lock order: event, registration, payment.
	event, err := q.LockEvent(ctx, linked.EventID)
	if err != nil {
		return "", fmt.Errorf("lock event: %w", err)
	}
	reg, err := q.LockRegistration(ctx, linked.ID)
	if err != nil {
		return "", fmt.Errorf("lock registration: %w", err)
	}
	pay, err := q.LockPaymentByReference(ctx, ev.Reference)
	if err != nil {
		return "", fmt.Errorf("lock payment: %w", err)
	}

	if pay.Status.IsTerminal() {
		if conflicts(pay.Status, ev.Type) {
			log.Warn("conflicting terminal webhook ignored",
				zap.String("payment_status", string(pay.Status)),
				zap.String("registration_id", reg.ID),
			)
			return OutcomeConflictIgnored, nil
		}
		return OutcomeAlreadyProcessed, nil
	}

	now := r.now()
	switch ev.Type {
	case payment.EventChargeSuccess:
		if ev.Amount != pay.Amount || (ev.Currency != "" && ev.Currency != pay.Currency) {
			if pay.FlagReason == "" {
				pay.FlagReason = fmt.Sprintf("amount mismatch: expected %d %s, received %d %s",
					pay.Amount, pay.Currency, ev.Amount, ev.Currency)
				pay.FlaggedAt = &now
				pay.GatewayResponse = ev.GatewayResponse
				pay.UpdatedAt = now
				if err := q.UpdatePayment(ctx, pay); err != nil {
					return "", fmt.Errorf("flag payment: %w", err)
				}
				reg.ReviewRequired = true
				reg.OfferExpiresAt = nil
				reg.UpdatedAt = now
				if err := q.UpdateRegistration(ctx, reg); err != nil {
					return "", fmt.Errorf("flag registration: %w", err)
				}
			}
			log.Warn("payment amount mismatch flagged for review",
				zap.String("registration_id", reg.ID),
				zap.Int64("expected", pay.Amount),
				zap.Int64("received", ev.Amount),
			)
			return OutcomeAmountMismatch, nil
		}
		confirmedAt := now
		if ev.PaidAt != nil {
			confirmedAt = *ev.PaidAt
		}
		if err := r.confirm(ctx, q, event, reg, pay, ev.GatewayResponse, confirmedAt, out); err != nil {
			return "", err
		}
		return OutcomeApplied, nil

	case payment.EventChargeFailed:
		if err := r.fail(ctx, q, event, reg, pay, ReasonPaymentFailed, ev.GatewayResponse, out); err != nil {
			return "", err
		}
		return OutcomeApplied, nil

	case payment.EventIgnored:
		return OutcomeIgnored, nil
	default:
		return OutcomeIgnored, nil
	}
}

// confirm settles pay and confirms reg, issuing the badge.
func (r *Reconciler) confirm(ctx context.Context, q repository.Querier, ev *model.Event, reg *model.Registration, pay *model.Payment, gatewayResponse string, confirmedAt time.Time, out *outbox) error {
	now := r.now()
	pay.Status = model.PaymentSuccess
	pay.ConfirmedAt = &confirmedAt
	if gatewayResponse != "" {
		pay.GatewayResponse = gatewayResponse
	}
	pay.UpdatedAt = now
	if err := q.UpdatePayment(ctx, pay); err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}

	if !reg.Status.CanTransitionTo(model.RegistrationConfirmed) {
		// Money arrived for a registration that is no longer pending.
		r.Log.Warn("payment settled for non-pending registration",
			zap.String("registration_id", reg.ID),
			zap.String("status", string(reg.Status)),
		)
		return nil
	}
	reg.Status = model.RegistrationConfirmed
	reg.ReviewRequired = false
	reg.OfferExpiresAt = nil
	reg.BadgeIssuedAt = &now
	reg.UpdatedAt = now
	if err := q.UpdateRegistration(ctx, reg); err != nil {
		return fmt.Errorf("confirm registration: %w", err)
	}

	out.add(notify.Message{
		Template: notify.TemplatePaymentConfirmed,
		UserID:   reg.UserID,
		To:       reg.UserEmail,
		Data: map[string]any{
			"eventId":        ev.ID,
			"eventTitle":     ev.Title,
			"registrationId": reg.ID,
			"ticketId":       reg.TicketID,
			"amount":         pay.Amount,
			"currency":       pay.Currency,
			"badgeUrl":       fmt.Sprintf("%s/registrations/%s/badge", r.baseURL, reg.ID),
		},
	})
	return nil
}

// fail marks pay FAILED, cancels reg and offers the released slot to the
// waitlist.
func (r *Reconciler) fail(ctx context.Context, q repository.Querier, ev *model.Event, reg *model.Registration, pay *model.Payment, reason, gatewayResponse string, out *outbox) error {
	now := r.now()
	pay.Status = model.PaymentFailed
	pay.FailedAt = &now
	if gatewayResponse != "" {
		pay.GatewayResponse = gatewayResponse
	}
	pay.UpdatedAt = now
	if err := q.UpdatePayment(ctx, pay); err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}

	out.add(notify.Message{
		Template: notify.TemplatePaymentFailed,
		UserID:   reg.UserID,
		To:       reg.UserEmail,
		Data:     map[string]any{"eventId": ev.ID, "eventTitle": ev.Title, "registrationId": reg.ID},
	})
	if !reg.Status.CanTransitionTo(model.RegistrationCancelled) {
		return nil
	}
	if err := releaseRegistration(ctx, q, reg, reason, gatewayResponse, now); err != nil {
		return err
	}
	_, err := r.promoter.promoteLocked(ctx, q, ev, reg, out)
	return err
}

// ResolveFlagged settles a payment held for manual review. Approving
// confirms the registration; rejecting fails the payment and releases the
// slot.
func (r *Reconciler) ResolveFlagged(ctx context.Context, adminID, reference string, approve bool) (*model.Payment, error) {
	log := logger.WithContext(ctx, r.Log).With(zap.String("operation", "resolve_payment"), zap.String("reference", reference))

	var (
		pay *model.Payment
		out outbox
	)
	err := r.Store.WithTx(ctx, func(q repository.Querier) error {
		out = nil
		peek, err := q.GetPaymentByReference(ctx, reference)
		if err != nil {
			return notFound(err, "get payment")
		}
		linked, err := q.GetRegistration(ctx, peek.RegistrationID)
		if err != nil {
			return notFound(err, "get registration")
		}
		ev, err := q.LockEvent(ctx, linked.EventID)
		if err != nil {
			return notFound(err, "lock event")
		}
		reg, err := q.LockRegistration(ctx, linked.ID)
		if err != nil {
			return notFound(err, "lock registration")
		}
		pay, err = q.LockPaymentByReference(ctx, reference)
		if err != nil {
			return notFound(err, "lock payment")
		}
		if pay.Status != model.PaymentPending || pay.FlagReason == "" {
			return fmt.Errorf("resolve %s payment: %w", pay.Status, ErrInvalidTransition)
		}
		if approve {
			return r.confirm(ctx, q, ev, reg, pay, "approved by "+adminID, r.now(), &out)
		}
		return r.fail(ctx, q, ev, reg, pay, ReasonPaymentRejected, "rejected by "+adminID, &out)
	})
	if err != nil {
		if !isClientError(err) {
			log.Error("resolve flagged payment failed", zap.Error(err))
		}
		return nil, err
	}
	log.Info("flagged payment resolved", zap.Bool("approved", approve), zap.String("admin_id", adminID))
	r.flush(ctx, out)
	return pay, nil
}

func conflicts(status model.PaymentStatus, evType payment.EventType) bool {
	switch status {
	case model.PaymentSuccess:
		return evType == payment.EventChargeFailed
	case model.PaymentFailed:
		return evType == payment.EventChargeSuccess
	case model.PaymentPending:
		return false
	default:
		return false
	}
}
