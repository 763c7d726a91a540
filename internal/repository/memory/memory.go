// Package memory is an in-process repository.Store. Transactions are
// serialised by a single mutex and applied to a private copy of the data,
// which is swapped in on commit and discarded on error.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/exjam-alumni/eventreg/internal/repository"
)

// Store is a mutex-guarded in-memory repository.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Querier = (*state)(nil)
)

// Run implements repository.Store.
func (s *Store) Run(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// WithTx implements repository.Store.
func (s *Store) WithTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

// WebhookLogs returns a copy of the webhook log.
func (s *Store) WebhookLogs() []model.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WebhookLog(nil), s.st.webhookLogs...)
}

// CheckInLogs returns a copy of the check-in log.
func (s *Store) CheckInLogs() []model.CheckInLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CheckInLog(nil), s.st.checkInLogs...)
}

type state struct {
	events        map[string]model.Event
	registrations map[string]model.Registration
	waitlist      map[string]model.WaitlistEntry
	payments      map[string]model.Payment
	webhookLogs   []model.WebhookLog
	checkInLogs   []model.CheckInLog
}

func newState() *state {
	return &state{
		events:        map[string]model.Event{},
		registrations: map[string]model.Registration{},
		waitlist:      map[string]model.WaitlistEntry{},
		payments:      map[string]model.Payment{},
	}
}

func (st *state) clone() *state {
	c := &state{
		events:        make(map[string]model.Event, len(st.events)),
		registrations: make(map[string]model.Registration, len(st.registrations)),
		waitlist:      make(map[string]model.WaitlistEntry, len(st.waitlist)),
		payments:      make(map[string]model.Payment, len(st.payments)),
		webhookLogs:   append([]model.WebhookLog(nil), st.webhookLogs...),
		checkInLogs:   append([]model.CheckInLog(nil), st.checkInLogs...),
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.registrations {
		c.registrations[k] = v
	}
	for k, v := range st.waitlist {
		c.waitlist[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	return c
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
}

func conflict(what string) error {
	return fmt.Errorf("%s: %w", what, repository.ErrConflict)
}

// ─── Events ──────────────────────────────────────────────────────────────────

func (st *state) CreateEvent(_ context.Context, e *model.Event) error {
	if _, ok := st.events[e.ID]; ok {
		return conflict("insert event")
	}
	st.events[e.ID] = *e
	return nil
}

func (st *state) GetEvent(_ context.Context, id string) (*model.Event, error) {
	e, ok := st.events[id]
	if !ok {
		return nil, notFound("get event")
	}
	return &e, nil
}

func (st *state) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return st.GetEvent(ctx, id)
}

func (st *state) ListEvents(_ context.Context) ([]model.Event, error) {
	out := make([]model.Event, 0, len(st.events))
	for _, e := range st.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (st *state) UpdateEventStatus(_ context.Context, id string, status model.EventStatus, at time.Time) error {
	e, ok := st.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = at
	st.events[id] = e
	return nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

func (st *state) InsertRegistration(_ context.Context, r *model.Registration) error {
	if _, ok := st.registrations[r.ID]; ok {
		return conflict("insert registration")
	}
	for _, other := range st.registrations {
		if other.TicketID == r.TicketID {
			return conflict("insert registration: ticket id")
		}
		if r.PaymentReference != nil && other.PaymentReference != nil && *other.PaymentReference == *r.PaymentReference {
			return conflict("insert registration: payment reference")
		}
		if other.EventID == r.EventID && other.UserID == r.UserID &&
			other.Status != model.RegistrationCancelled && r.Status != model.RegistrationCancelled {
			return conflict("insert registration: active user")
		}
	}
	st.registrations[r.ID] = *r
	return nil
}

func (st *state) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	r, ok := st.registrations[id]
	if !ok {
		return nil, notFound("get registration")
	}
	return &r, nil
}

func (st *state) LockRegistration(ctx context.Context, id string) (*model.Registration, error) {
	return st.GetRegistration(ctx, id)
}

func (st *state) GetRegistrationByTicket(_ context.Context, ticketID string) (*model.Registration, error) {
	for _, r := range st.registrations {
		if r.TicketID == ticketID {
			return &r, nil
		}
	}
	return nil, notFound("get registration by ticket")
}

func (st *state) FindActiveRegistration(_ context.Context, eventID, userID string) (*model.Registration, error) {
	for _, r := range st.registrations {
		if r.EventID == eventID && r.UserID == userID && r.Status != model.RegistrationCancelled {
			return &r, nil
		}
	}
	return nil, notFound("find active registration")
}

func (st *state) UpdateRegistration(_ context.Context, r *model.Registration) error {
	if _, ok := st.registrations[r.ID]; !ok {
		return repository.ErrNotFound
	}
	st.registrations[r.ID] = *r
	return nil
}

func (st *state) filterRegistrations(keep func(model.Registration) bool) []model.Registration {
	var out []model.Registration
	for _, r := range st.registrations {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (st *state) ListRegistrationsByEvent(_ context.Context, eventID string) ([]model.Registration, error) {
	return st.filterRegistrations(func(r model.Registration) bool { return r.EventID == eventID }), nil
}

func (st *state) ListRegistrationsByUser(_ context.Context, userID string) ([]model.Registration, error) {
	out := st.filterRegistrations(func(r model.Registration) bool { return r.UserID == userID })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (st *state) CountRegistrationsByStatus(_ context.Context, eventID string) (map[model.RegistrationStatus]int, error) {
	counts := make(map[model.RegistrationStatus]int)
	for _, r := range st.registrations {
		if r.EventID == eventID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (st *state) ListExpiredOffers(_ context.Context, now time.Time) ([]model.Registration, error) {
	return st.filterRegistrations(func(r model.Registration) bool {
		return r.Status == model.RegistrationPending && r.OfferExpiresAt != nil && !r.OfferExpiresAt.After(now)
	}), nil
}

func (st *state) DailyRegistrations(_ context.Context, eventID string, since time.Time) ([]model.DailyCount, error) {
	byDay := map[string]int{}
	for _, r := range st.registrations {
		if r.EventID == eventID && !r.CreatedAt.Before(since) {
			byDay[r.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}
	out := make([]model.DailyCount, 0, len(byDay))
	for day, n := range byDay {
		out = append(out, model.DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ─── Waitlist ────────────────────────────────────────────────────────────────

func (st *state) InsertWaitlistEntry(_ context.Context, w *model.WaitlistEntry) error {
	for _, other := range st.waitlist {
		if other.EventID != w.EventID {
			continue
		}
		if other.Position == w.Position {
			return conflict("insert waitlist entry: position")
		}
		if other.UserID == w.UserID && other.Status == model.WaitlistWaiting && w.Status == model.WaitlistWaiting {
			return conflict("insert waitlist entry: active user")
		}
	}
	st.waitlist[w.ID] = *w
	return nil
}

func (st *state) MaxWaitlistPosition(_ context.Context, eventID string) (int, error) {
	highest := 0
	for _, w := range st.waitlist {
		if w.EventID == eventID && w.Position > highest {
			highest = w.Position
		}
	}
	return highest, nil
}

func (st *state) FindActiveWaitlistEntry(_ context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	for _, w := range st.waitlist {
		if w.EventID == eventID && w.UserID == userID && w.Status == model.WaitlistWaiting {
			return &w, nil
		}
	}
	return nil, notFound("find waitlist entry")
}

func (st *state) WaitlistHead(_ context.Context, eventID string) (*model.WaitlistEntry, error) {
	var head *model.WaitlistEntry
	for _, w := range st.waitlist {
		if w.EventID != eventID || w.Status != model.WaitlistWaiting || w.Notified {
			continue
		}
		if head == nil || w.Position < head.Position {
			head = &w
		}
	}
	if head == nil {
		return nil, notFound("waitlist head")
	}
	return head, nil
}

func (st *state) UpdateWaitlistEntry(_ context.Context, w *model.WaitlistEntry) error {
	if _, ok := st.waitlist[w.ID]; !ok {
		return repository.ErrNotFound
	}
	st.waitlist[w.ID] = *w
	return nil
}

func (st *state) CountWaitlist(_ context.Context, eventID string) (int, error) {
	n := 0
	for _, w := range st.waitlist {
		if w.EventID == eventID && w.Status == model.WaitlistWaiting {
			n++
		}
	}
	return n, nil
}

func (st *state) ListWaitlist(_ context.Context, eventID string) ([]model.WaitlistEntry, error) {
	var out []model.WaitlistEntry
	for _, w := range st.waitlist {
		if w.EventID == eventID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ─── Payments ────────────────────────────────────────────────────────────────

func (st *state) InsertPayment(_ context.Context, p *model.Payment) error {
	for _, other := range st.payments {
		if other.GatewayReference == p.GatewayReference || other.RegistrationID == p.RegistrationID {
			return conflict("insert payment")
		}
	}
	st.payments[p.ID] = *p
	return nil
}

func (st *state) GetPaymentByReference(_ context.Context, ref string) (*model.Payment, error) {
	for _, p := range st.payments {
		if p.GatewayReference == ref {
			return &p, nil
		}
	}
	return nil, notFound("get payment")
}

func (st *state) LockPaymentByReference(ctx context.Context, ref string) (*model.Payment, error) {
	return st.GetPaymentByReference(ctx, ref)
}

func (st *state) GetPaymentByRegistration(_ context.Context, registrationID string) (*model.Payment, error) {
	for _, p := range st.payments {
		if p.RegistrationID == registrationID {
			return &p, nil
		}
	}
	return nil, notFound("get registration payment")
}

func (st *state) UpdatePayment(_ context.Context, p *model.Payment) error {
	if _, ok := st.payments[p.ID]; !ok {
		return repository.ErrNotFound
	}
	st.payments[p.ID] = *p
	return nil
}

func (st *state) PaymentTotals(_ context.Context, eventID string) (model.PaymentTotals, error) {
	var t model.PaymentTotals
	for _, p := range st.payments {
		r, ok := st.registrations[p.RegistrationID]
		if !ok || r.EventID != eventID {
			continue
		}
		switch p.Status {
		case model.PaymentSuccess:
			t.PaidCount++
			t.Revenue += p.Amount
		case model.PaymentPending:
			t.PendingCount++
		case model.PaymentFailed:
		}
	}
	return t, nil
}

// ─── Logs ────────────────────────────────────────────────────────────────────

func (st *state) InsertWebhookLog(_ context.Context, l *model.WebhookLog) error {
	st.webhookLogs = append(st.webhookLogs, *l)
	return nil
}

func (st *state) InsertCheckInLog(_ context.Context, l *model.CheckInLog) error {
	st.checkInLogs = append(st.checkInLogs, *l)
	return nil
}
