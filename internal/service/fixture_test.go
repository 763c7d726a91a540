package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/exjam-alumni/eventreg/internal/auth"
	"github.com/exjam-alumni/eventreg/internal/metrics"
	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/payment"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/exjam-alumni/eventreg/internal/repository/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "sk_test_secret"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recorder) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) byTemplate(template string) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, m := range r.sent {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	mem      *memory.Store
	store    repository.Store
	clock    *fakeClock
	sent     *recorder
	metrics  *metrics.Metrics
	gateway  *payment.Paystack
	events   *EventService
	capacity *CapacityTracker
	promoter *Promoter
	regs     *RegistrationService
	recon    *Reconciler
	checkIn  *CheckInService
}

func newFixture(t *testing.T) *fixture {
	mem := memory.New()
	return newFixtureWithStore(t, mem, mem)
}

func newFixtureWithStore(t *testing.T, mem *memory.Store, store repository.Store) *fixture {
	t.Helper()
	f := &fixture{
		mem:     mem,
		store:   store,
		clock:   &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)},
		sent:    &recorder{},
		metrics: metrics.New(prometheus.NewRegistry()),
		gateway: payment.NewPaystack(webhookSecret),
	}
	log := zap.NewNop()
	deps := Deps{
		Store:    store,
		Notifier: notify.NewNotifier(f.sent, log),
		Metrics:  f.metrics,
		Log:      log,
		Now:      f.clock.Now,
	}
	f.events = NewEventService(deps, "NGN")
	f.capacity = NewCapacityTracker(store)
	f.promoter = NewPromoter(deps, 24*time.Hour)
	f.regs = NewRegistrationService(deps, f.promoter)
	f.regs.retryInitial = time.Millisecond
	f.recon = NewReconciler(deps, f.gateway, f.promoter, "https://events.example.com")
	f.checkIn = NewCheckInService(deps)
	return f
}

func member(n int) auth.Identity {
	return auth.Identity{UserID: fmt.Sprintf("user-%d", n), Email: fmt.Sprintf("user%d@example.com", n), Role: auth.RoleMember}
}

var admin = auth.Identity{UserID: "admin-1", Email: "admin@example.com", Role: auth.RoleAdmin}

// publishedEvent creates and publishes an event. price is in kobo.
func (f *fixture) publishedEvent(t *testing.T, capacity int, price int64) *model.Event {
	t.Helper()
	ctx := context.Background()
	starts := f.clock.Now().Add(30 * 24 * time.Hour)
	ev, err := f.events.CreateEvent(ctx, model.CreateEventRequest{
		Title:    "Annual Reunion",
		Capacity: capacity,
		Price:    price,
		StartsAt: starts,
		EndsAt:   starts.Add(6 * time.Hour),
	})
	require.NoError(t, err)
	ev, err = f.events.UpdateStatus(ctx, ev.ID, string(model.EventPublished))
	require.NoError(t, err)
	return ev
}

func (f *fixture) register(t *testing.T, ev *model.Event, who auth.Identity) *model.RegistrationResult {
	t.Helper()
	res, err := f.regs.Register(context.Background(), who, model.RegisterRequest{EventID: ev.ID, TicketType: "REGULAR"})
	require.NoError(t, err)
	return res
}

func (f *fixture) webhookBody(t *testing.T, event, reference string, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"reference": reference,
			"amount":    amount,
			"currency":  "NGN",
			"status":    "success",
		},
	})
	require.NoError(t, err)
	return body
}

func (f *fixture) deliver(t *testing.T, event, reference string, amount int64) model.WebhookResult {
	t.Helper()
	body := f.webhookBody(t, event, reference, amount)
	res, err := f.recon.HandleWebhook(context.Background(), body, f.gateway.Sign(body))
	require.NoError(t, err)
	return res
}

func (f *fixture) registration(t *testing.T, id string) *model.Registration {
	t.Helper()
	reg, err := f.regs.Get(context.Background(), admin, id)
	require.NoError(t, err)
	return reg
}

func (f *fixture) paymentFor(t *testing.T, reference string) *model.Payment {
	t.Helper()
	var p *model.Payment
	require.NoError(t, f.store.Run(context.Background(), func(q repository.Querier) (err error) {
		p, err = q.GetPaymentByReference(context.Background(), reference)
		return err
	}))
	return p
}

func (f *fixture) waitlist(t *testing.T, eventID string) []model.WaitlistEntry {
	t.Helper()
	entries, err := f.events.ListWaitlist(context.Background(), eventID)
	require.NoError(t, err)
	return entries
}

// activeRegistrationFor returns the user's non-cancelled registration.
func (f *fixture) activeRegistrationFor(t *testing.T, eventID, userID string) *model.Registration {
	t.Helper()
	var reg *model.Registration
	require.NoError(t, f.store.Run(context.Background(), func(q repository.Querier) (err error) {
		reg, err = q.FindActiveRegistration(context.Background(), eventID, userID)
		return err
	}))
	return reg
}

// flakyStore fails the first n transactions with a conflict.
type flakyStore struct {
	repository.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return fmt.Errorf("commit transaction: %w", repository.ErrConflict)
	}
	return s.Store.WithTx(ctx, fn)
}
