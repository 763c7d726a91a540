package service

import (
	"context"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/repository"
)

// CapacityTracker answers whether an event has room. Capacity is always
// derived from a live count, never stored.
type CapacityTracker struct {
	store repository.Store
}

// NewCapacityTracker constructs a CapacityTracker.
func NewCapacityTracker(store repository.Store) *CapacityTracker {
	return &CapacityTracker{store: store}
}

// HasCapacity reports the event's current occupancy. It is read-only and
// takes no locks; the registration path re-checks under the event lock.
func (t *CapacityTracker) HasCapacity(ctx context.Context, eventID string) (model.Capacity, error) {
	var c model.Capacity
	err := t.store.Run(ctx, func(q repository.Querier) error {
		ev, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return notFound(err, "get event")
		}
		c, err = capacityOf(ctx, q, ev)
		return err
	})
	return c, err
}

// capacityOf computes occupancy with q. Inside a transaction that holds the
// event lock the result is stable until commit.
func capacityOf(ctx context.Context, q repository.Querier, ev *model.Event) (model.Capacity, error) {
	counts, err := q.CountRegistrationsByStatus(ctx, ev.ID)
	if err != nil {
		return model.Capacity{}, err
	}
	waiting, err := q.CountWaitlist(ctx, ev.ID)
	if err != nil {
		return model.Capacity{}, err
	}

	held := 0
	for status, n := range counts {
		if status.HoldsCapacity() {
			held += n
		}
	}
	remaining := ev.Capacity - held
	if remaining < 0 {
		remaining = 0
	}
	return model.Capacity{
		Capacity:       ev.Capacity,
		Available:      remaining > 0,
		Remaining:      remaining,
		ConfirmedCount: held,
		WaitlistCount:  waiting,
	}, nil
}
