// Package repository implements all database queries for event registration.
// It uses pgx directly (no ORM); capacity-sensitive paths lock the event row
// with SELECT ... FOR UPDATE inside a transaction.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a transaction loses a race: serialization
// failure, deadlock, lock timeout or a unique violation. Callers may retry.
var ErrConflict = errors.New("transaction conflict")

// Querier is the set of queries available both inside and outside a
// transaction. Lock* methods only lock when called inside WithTx.
type Querier interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	LockEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status model.EventStatus, at time.Time) error

	InsertRegistration(ctx context.Context, r *model.Registration) error
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	LockRegistration(ctx context.Context, id string) (*model.Registration, error)
	GetRegistrationByTicket(ctx context.Context, ticketID string) (*model.Registration, error)
	FindActiveRegistration(ctx context.Context, eventID, userID string) (*model.Registration, error)
	UpdateRegistration(ctx context.Context, r *model.Registration) error
	ListRegistrationsByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
	ListRegistrationsByUser(ctx context.Context, userID string) ([]model.Registration, error)
	CountRegistrationsByStatus(ctx context.Context, eventID string) (map[model.RegistrationStatus]int, error)
	ListExpiredOffers(ctx context.Context, now time.Time) ([]model.Registration, error)
	DailyRegistrations(ctx context.Context, eventID string, since time.Time) ([]model.DailyCount, error)

	InsertWaitlistEntry(ctx context.Context, w *model.WaitlistEntry) error
	MaxWaitlistPosition(ctx context.Context, eventID string) (int, error)
	FindActiveWaitlistEntry(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error)
	WaitlistHead(ctx context.Context, eventID string) (*model.WaitlistEntry, error)
	UpdateWaitlistEntry(ctx context.Context, w *model.WaitlistEntry) error
	CountWaitlist(ctx context.Context, eventID string) (int, error)
	ListWaitlist(ctx context.Context, eventID string) ([]model.WaitlistEntry, error)

	InsertPayment(ctx context.Context, p *model.Payment) error
	GetPaymentByReference(ctx context.Context, ref string) (*model.Payment, error)
	LockPaymentByReference(ctx context.Context, ref string) (*model.Payment, error)
	GetPaymentByRegistration(ctx context.Context, registrationID string) (*model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment) error
	PaymentTotals(ctx context.Context, eventID string) (model.PaymentTotals, error)

	InsertWebhookLog(ctx context.Context, l *model.WebhookLog) error
	InsertCheckInLog(ctx context.Context, l *model.CheckInLog) error
}

// Store runs queries either directly or inside a single transaction.
type Store interface {
	// Run executes fn without a transaction.
	Run(ctx context.Context, fn func(q Querier) error) error
	// WithTx executes fn inside a transaction, committing only if fn
	// returns nil.
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is the PostgreSQL-backed Store.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore constructs a PgStore.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

// Run implements Store.
func (s *PgStore) Run(ctx context.Context, fn func(q Querier) error) error {
	return fn(&queries{db: s.db})
}

// WithTx implements Store.
//
// Isolation is READ COMMITTED; correctness under concurrency comes from the
// explicit row locks taken by the Lock* queries. Two registrations racing
// for the last slot both try to lock the event row, so the second one only
// reads the registration count after the first has committed.
func (s *PgStore) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&queries{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

type queries struct {
	db dbtx
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "23505":
			return fmt.Errorf("%w: %s (%s)", ErrConflict, pgErr.Message, pgErr.Code)
		case "22P02":
			// A malformed uuid can never name a row.
			return fmt.Errorf("%w: %s (%s)", ErrNotFound, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

var (
	_ Store   = (*PgStore)(nil)
	_ Querier = (*queries)(nil)
)
