package service

import (
	"context"
	"fmt"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/repository"
)

const analyticsWindow = 30 * 24 * time.Hour

// Analytics summarises registrations, payments and attendance for an
// event's dashboard.
func (s *EventService) Analytics(ctx context.Context, eventID string) (*model.EventAnalytics, error) {
	var a *model.EventAnalytics
	err := s.Store.Run(ctx, func(q repository.Querier) error {
		ev, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return notFound(err, "get event")
		}
		counts, err := q.CountRegistrationsByStatus(ctx, eventID)
		if err != nil {
			return fmt.Errorf("count registrations: %w", err)
		}
		waiting, err := q.CountWaitlist(ctx, eventID)
		if err != nil {
			return fmt.Errorf("count waitlist: %w", err)
		}
		totals, err := q.PaymentTotals(ctx, eventID)
		if err != nil {
			return fmt.Errorf("payment totals: %w", err)
		}
		daily, err := q.DailyRegistrations(ctx, eventID, s.now().Add(-analyticsWindow))
		if err != nil {
			return fmt.Errorf("daily registrations: %w", err)
		}
		if daily == nil {
			daily = []model.DailyCount{}
		}
		a = &model.EventAnalytics{
			EventID:        ev.ID,
			Capacity:       ev.Capacity,
			StatusCounts:   counts,
			WaitlistCount:  waiting,
			CheckedInCount: counts[model.RegistrationAttended],
			Payments:       totals,
			Daily:          daily,
		}
		return nil
	})
	return a, err
}
