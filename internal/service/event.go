package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxCapacity = 100_000

// EventService administers events.
type EventService struct {
	Deps
	currency string
}

// NewEventService constructs an EventService. defaultCurrency is applied to
// events created without one.
func NewEventService(deps Deps, defaultCurrency string) *EventService {
	deps = deps.withDefaults()
	deps.Log = deps.Log.Named("event")
	currency := strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if currency == "" {
		currency = "NGN"
	}
	return &EventService{Deps: deps, currency: currency}
}

// CreateEvent validates the request and stores a DRAFT event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, invalid("title", "is required")
	}
	if req.Capacity < 0 {
		return nil, invalid("capacity", "must not be negative")
	}
	if req.Capacity > maxCapacity {
		return nil, invalid("capacity", "cannot exceed 100,000")
	}
	if req.Price < 0 {
		return nil, invalid("price", "must not be negative")
	}
	if req.EarlyBirdPrice != nil {
		if *req.EarlyBirdPrice < 0 || *req.EarlyBirdPrice > req.Price {
			return nil, invalid("earlyBirdPrice", "must be between 0 and price")
		}
		if req.EarlyBirdDeadline == nil {
			return nil, invalid("earlyBirdDeadline", "is required with an early bird price")
		}
	}
	if req.StartsAt.IsZero() {
		return nil, invalid("startsAt", "is required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, invalid("endsAt", "must be after startsAt")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	ev := &model.Event{
		ID:                uuid.NewString(),
		Title:             req.Title,
		Description:       strings.TrimSpace(req.Description),
		Capacity:          req.Capacity,
		Price:             req.Price,
		EarlyBirdPrice:    req.EarlyBirdPrice,
		EarlyBirdDeadline: req.EarlyBirdDeadline,
		Currency:          currency,
		StartsAt:          req.StartsAt.UTC(),
		EndsAt:            req.EndsAt.UTC(),
		Status:            model.EventDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		return q.CreateEvent(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.Log.Info("event created", zap.String("event_id", ev.ID), zap.Int("capacity", ev.Capacity))
	return ev, nil
}

// ListEvents returns all events ordered by start time.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	err := s.Store.Run(ctx, func(q repository.Querier) (err error) {
		events, err = q.ListEvents(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}
	var ev *model.Event
	err := s.Store.Run(ctx, func(q repository.Querier) (err error) {
		ev, err = q.GetEvent(ctx, id)
		return err
	})
	if err != nil {
		return nil, notFound(err, "get event")
	}
	return ev, nil
}

// UpdateStatus moves an event through its publication lifecycle.
func (s *EventService) UpdateStatus(ctx context.Context, id, raw string) (*model.Event, error) {
	next, err := model.ParseEventStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		return nil, invalid("status", err.Error())
	}

	var ev *model.Event
	err = s.Store.WithTx(ctx, func(q repository.Querier) error {
		var err error
		ev, err = q.LockEvent(ctx, id)
		if err != nil {
			return notFound(err, "lock event")
		}
		if !ev.Status.CanTransitionTo(next) {
			return fmt.Errorf("event %s -> %s: %w", ev.Status, next, ErrInvalidTransition)
		}
		ev.Status = next
		ev.UpdatedAt = s.now()
		return q.UpdateEventStatus(ctx, id, next, ev.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("event status changed", zap.String("event_id", id), zap.String("status", string(next)))
	return ev, nil
}

// ListRegistrations returns every registration for an event, cancelled
// ones included.
func (s *EventService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		if _, err := q.GetEvent(ctx, eventID); err != nil {
			return notFound(err, "get event")
		}
		var err error
		regs, err = q.ListRegistrationsByEvent(ctx, eventID)
		return err
	})
	return regs, err
}

// ExportRegistrations returns the event with its registrations, narrowed
// to one status unless status is empty or "all".
func (s *EventService) ExportRegistrations(ctx context.Context, eventID, status string) (*model.Event, []model.Registration, error) {
	var want model.RegistrationStatus
	if status = strings.ToUpper(strings.TrimSpace(status)); status != "" && status != "ALL" {
		parsed, err := model.ParseRegistrationStatus(status)
		if err != nil {
			return nil, nil, invalid("status", err.Error())
		}
		want = parsed
	}

	var (
		ev   *model.Event
		regs []model.Registration
	)
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		var err error
		if ev, err = q.GetEvent(ctx, eventID); err != nil {
			return notFound(err, "get event")
		}
		all, err := q.ListRegistrationsByEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("list registrations: %w", err)
		}
		for _, r := range all {
			if want == "" || r.Status == want {
				regs = append(regs, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ev, regs, nil
}

// ListWaitlist returns the event's waitlist in position order.
func (s *EventService) ListWaitlist(ctx context.Context, eventID string) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		if _, err := q.GetEvent(ctx, eventID); err != nil {
			return notFound(err, "get event")
		}
		var err error
		entries, err = q.ListWaitlist(ctx, eventID)
		return err
	})
	return entries, err
}
