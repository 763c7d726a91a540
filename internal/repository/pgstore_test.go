package repository_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/exjam-alumni/eventreg/internal/auth"
	"github.com/exjam-alumni/eventreg/internal/database"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/payment"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/exjam-alumni/eventreg/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pgWebhookSecret = "sk_test_pg"

type pgServices struct {
	store    *repository.PgStore
	events   *service.EventService
	capacity *service.CapacityTracker
	regs     *service.RegistrationService
	recon    *service.Reconciler
	checkIn  *service.CheckInService
	gateway  *payment.Paystack
}

// newPgServices connects to DATABASE_URL, applies migrations and wires the
// service layer on top of PgStore. Tests are skipped without a database.
func newPgServices(t *testing.T) *pgServices {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, database.Migrate(url))

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := repository.NewPgStore(pool)
	deps := service.Deps{Store: store, Log: zap.NewNop()}
	gateway := payment.NewPaystack(pgWebhookSecret)
	promoter := service.NewPromoter(deps, time.Hour)
	return &pgServices{
		store:    store,
		events:   service.NewEventService(deps, "NGN"),
		capacity: service.NewCapacityTracker(store),
		regs:     service.NewRegistrationService(deps, promoter),
		recon:    service.NewReconciler(deps, gateway, promoter, "https://events.example.com"),
		checkIn:  service.NewCheckInService(deps),
		gateway:  gateway,
	}
}

func (s *pgServices) publishedEvent(t *testing.T, capacity int, price int64) *model.Event {
	t.Helper()
	ctx := context.Background()
	starts := time.Now().Add(7 * 24 * time.Hour).UTC()
	ev, err := s.events.CreateEvent(ctx, model.CreateEventRequest{
		Title:    "Reunion " + uuid.NewString()[:8],
		Capacity: capacity,
		Price:    price,
		StartsAt: starts,
		EndsAt:   starts.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	ev, err = s.events.UpdateStatus(ctx, ev.ID, "PUBLISHED")
	require.NoError(t, err)
	return ev
}

func pgMember(n int) auth.Identity {
	id := uuid.NewString()
	return auth.Identity{UserID: id, Email: fmt.Sprintf("pg%d-%s@example.com", n, id[:8]), Role: auth.RoleMember}
}

func TestPgStoreConcurrentRegistrationsRespectCapacity(t *testing.T) {
	s := newPgServices(t)
	ev := s.publishedEvent(t, 5, 0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*model.RegistrationResult
		errs    []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := s.regs.Register(context.Background(), pgMember(n), model.RegisterRequest{EventID: ev.ID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, res)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, service.ErrCapacityRace)
	}
	confirmed := 0
	positions := map[int]bool{}
	for _, res := range results {
		switch res.Status {
		case model.RegistrationConfirmed:
			confirmed++
		case model.RegistrationWaitlisted:
			assert.False(t, positions[res.Position], "duplicate waitlist position %d", res.Position)
			positions[res.Position] = true
		default:
			t.Fatalf("unexpected status %s", res.Status)
		}
	}
	assert.Equal(t, 5, confirmed)

	c, err := s.capacity.HasCapacity(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, c.ConfirmedCount)
	assert.Equal(t, 0, c.Remaining)
	assert.Equal(t, len(positions), c.WaitlistCount)
}

func TestPgStorePaymentTotalsAndDailyCounts(t *testing.T) {
	s := newPgServices(t)
	ctx := context.Background()
	ev := s.publishedEvent(t, 3, 250000)

	paid, err := s.regs.Register(ctx, pgMember(1), model.RegisterRequest{EventID: ev.ID})
	require.NoError(t, err)
	_, err = s.regs.Register(ctx, pgMember(2), model.RegisterRequest{EventID: ev.ID})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data":  map[string]any{"reference": paid.PaymentReference, "amount": 250000, "currency": "NGN"},
	})
	require.NoError(t, err)
	res, err := s.recon.HandleWebhook(ctx, body, s.gateway.Sign(body))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	a, err := s.events.Analytics(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Payments.PaidCount)
	assert.Equal(t, 1, a.Payments.PendingCount)
	assert.Equal(t, int64(250000), a.Payments.Revenue)
	assert.Equal(t, 1, a.StatusCounts[model.RegistrationConfirmed])
	assert.Equal(t, 1, a.StatusCounts[model.RegistrationPending])

	total := 0
	for _, d := range a.Daily {
		total += d.Count
	}
	assert.Equal(t, 2, total)
	require.NotEmpty(t, a.Daily)
	_, err = time.Parse("2006-01-02", a.Daily[len(a.Daily)-1].Date)
	assert.NoError(t, err)
}

func TestPgStoreMalformedIDsAreNotFound(t *testing.T) {
	s := newPgServices(t)
	ctx := context.Background()

	_, err := s.capacity.HasCapacity(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = s.regs.Get(ctx, auth.Identity{UserID: "u", Role: auth.RoleAdmin}, "x")
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = s.checkIn.CheckIn(ctx, "admin-1", model.CheckInRequest{RegistrationID: "garbage"})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = s.regs.LeaveWaitlist(ctx, pgMember(1), "not-a-uuid")
	assert.ErrorIs(t, err, service.ErrNotFound)
}
