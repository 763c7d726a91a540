package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, title, description, capacity, price, early_bird_price, early_bird_deadline,
	currency, starts_at, ends_at, status, created_at, updated_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Capacity, &e.Price, &e.EarlyBirdPrice, &e.EarlyBirdDeadline,
		&e.Currency, &e.StartsAt, &e.EndsAt, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// CreateEvent inserts a new event.
func (q *queries) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Title, e.Description, e.Capacity, e.Price, e.EarlyBirdPrice, e.EarlyBirdDeadline,
		e.Currency, e.StartsAt, e.EndsAt, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", translate(err))
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (q *queries) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(q.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// LockEvent reads the event and acquires an exclusive row lock on it.
//
// Every transaction that changes how many registrations hold capacity for
// an event takes this lock first, so the derived count read afterwards
// cannot be invalidated by a concurrent writer before commit.
func (q *queries) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(q.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	return e, nil
}

// ListEvents returns all events, soonest first.
func (q *queries) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY starts_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", translate(err))
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, translate(rows.Err())
}

// UpdateEventStatus sets the event status.
func (q *queries) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE events SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, at,
	)
	if err != nil {
		return fmt.Errorf("update event status: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
