package repository

import (
	"context"
	"fmt"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/jackc/pgx/v5"
)

const waitlistColumns = `id, event_id, user_id, user_email, ticket_type, position, status, notified,
	registration_id, created_at, updated_at`

func scanWaitlistEntry(row pgx.Row) (*model.WaitlistEntry, error) {
	var w model.WaitlistEntry
	err := row.Scan(
		&w.ID, &w.EventID, &w.UserID, &w.UserEmail, &w.TicketType, &w.Position, &w.Status, &w.Notified,
		&w.RegistrationID, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// InsertWaitlistEntry appends an entry. (event_id, position) is unique, so a
// concurrent writer that skipped the event lock fails with ErrConflict.
func (q *queries) InsertWaitlistEntry(ctx context.Context, w *model.WaitlistEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO waitlist_entries (`+waitlistColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.EventID, w.UserID, w.UserEmail, w.TicketType, w.Position, w.Status, w.Notified,
		w.RegistrationID, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", translate(err))
	}
	return nil
}

// MaxWaitlistPosition returns the highest position ever assigned for an
// event, including promoted and departed entries, or 0.
func (q *queries) MaxWaitlistPosition(ctx context.Context, eventID string) (int, error) {
	var pos int
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE event_id = $1`,
		eventID,
	).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("max waitlist position: %w", translate(err))
	}
	return pos, nil
}

// FindActiveWaitlistEntry returns the user's WAITING entry for an event.
func (q *queries) FindActiveWaitlistEntry(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	w, err := scanWaitlistEntry(q.db.QueryRow(ctx,
		`SELECT `+waitlistColumns+`
		 FROM waitlist_entries
		 WHERE event_id = $1 AND user_id = $2 AND status = 'WAITING'`,
		eventID, userID))
	if err != nil {
		return nil, fmt.Errorf("find waitlist entry: %w", err)
	}
	return w, nil
}

// WaitlistHead returns the WAITING entry with the lowest position, locked.
func (q *queries) WaitlistHead(ctx context.Context, eventID string) (*model.WaitlistEntry, error) {
	w, err := scanWaitlistEntry(q.db.QueryRow(ctx,
		`SELECT `+waitlistColumns+`
		 FROM waitlist_entries
		 WHERE event_id = $1 AND status = 'WAITING' AND notified = FALSE
		 ORDER BY position ASC
		 LIMIT 1
		 FOR UPDATE`,
		eventID))
	if err != nil {
		return nil, fmt.Errorf("waitlist head: %w", err)
	}
	return w, nil
}

// UpdateWaitlistEntry persists status, notification and promotion fields.
func (q *queries) UpdateWaitlistEntry(ctx context.Context, w *model.WaitlistEntry) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE waitlist_entries
		 SET status = $2, notified = $3, registration_id = $4, updated_at = $5
		 WHERE id = $1`,
		w.ID, w.Status, w.Notified, w.RegistrationID, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update waitlist entry: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWaitlist returns the number of WAITING entries for an event.
func (q *queries) CountWaitlist(ctx context.Context, eventID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM waitlist_entries WHERE event_id = $1 AND status = 'WAITING'`,
		eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count waitlist: %w", translate(err))
	}
	return n, nil
}

// ListWaitlist returns every entry for an event ordered by position.
func (q *queries) ListWaitlist(ctx context.Context, eventID string) ([]model.WaitlistEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+waitlistColumns+`
		 FROM waitlist_entries
		 WHERE event_id = $1
		 ORDER BY position ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", translate(err))
	}
	defer rows.Close()

	var entries []model.WaitlistEntry
	for rows.Next() {
		w, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		entries = append(entries, *w)
	}
	return entries, translate(rows.Err())
}
