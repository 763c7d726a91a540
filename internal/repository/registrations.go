package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/jackc/pgx/v5"
)

const registrationColumns = `id, event_id, user_id, user_email, ticket_type, ticket_id, status, slot_state,
	special_requests, payment_reference, amount, review_required, offer_expires_at, badge_issued_at,
	checked_in_at, check_in_location, checked_in_by, cancel_reason, created_at, updated_at`

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var r model.Registration
	err := row.Scan(
		&r.ID, &r.EventID, &r.UserID, &r.UserEmail, &r.TicketType, &r.TicketID, &r.Status, &r.SlotState,
		&r.SpecialRequests, &r.PaymentReference, &r.Amount, &r.ReviewRequired, &r.OfferExpiresAt, &r.BadgeIssuedAt,
		&r.CheckedInAt, &r.CheckInLocation, &r.CheckedInBy, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func collectRegistrations(rows pgx.Rows) ([]model.Registration, error) {
	defer rows.Close()
	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *r)
	}
	return regs, translate(rows.Err())
}

// InsertRegistration creates the registration record.
func (q *queries) InsertRegistration(ctx context.Context, r *model.Registration) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		r.ID, r.EventID, r.UserID, r.UserEmail, r.TicketType, r.TicketID, r.Status, r.SlotState,
		r.SpecialRequests, r.PaymentReference, r.Amount, r.ReviewRequired, r.OfferExpiresAt, r.BadgeIssuedAt,
		r.CheckedInAt, r.CheckInLocation, r.CheckedInBy, r.CancelReason, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", translate(err))
	}
	return nil
}

// GetRegistration returns a registration by id or ErrNotFound.
func (q *queries) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	r, err := scanRegistration(q.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

// LockRegistration reads a registration and locks its row.
func (q *queries) LockRegistration(ctx context.Context, id string) (*model.Registration, error) {
	r, err := scanRegistration(q.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock registration: %w", err)
	}
	return r, nil
}

// GetRegistrationByTicket looks a registration up by its printed ticket id.
func (q *queries) GetRegistrationByTicket(ctx context.Context, ticketID string) (*model.Registration, error) {
	r, err := scanRegistration(q.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE ticket_id = $1`, ticketID))
	if err != nil {
		return nil, fmt.Errorf("get registration by ticket: %w", err)
	}
	return r, nil
}

// FindActiveRegistration returns the user's non-cancelled registration for
// an event, or ErrNotFound.
func (q *queries) FindActiveRegistration(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	r, err := scanRegistration(q.db.QueryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND user_id = $2 AND status <> 'CANCELLED'
		 LIMIT 1`,
		eventID, userID))
	if err != nil {
		return nil, fmt.Errorf("find active registration: %w", err)
	}
	return r, nil
}

// UpdateRegistration persists the mutable registration fields.
func (q *queries) UpdateRegistration(ctx context.Context, r *model.Registration) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE registrations SET
		   status = $2, slot_state = $3, review_required = $4, offer_expires_at = $5,
		   badge_issued_at = $6, checked_in_at = $7, check_in_location = $8, checked_in_by = $9,
		   cancel_reason = $10, updated_at = $11
		 WHERE id = $1`,
		r.ID, r.Status, r.SlotState, r.ReviewRequired, r.OfferExpiresAt,
		r.BadgeIssuedAt, r.CheckedInAt, r.CheckInLocation, r.CheckedInBy,
		r.CancelReason, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRegistrationsByEvent returns all registrations for an event in
// submission order.
func (q *queries) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", translate(err))
	}
	return collectRegistrations(rows)
}

// ListRegistrationsByUser returns a user's registrations, newest first.
func (q *queries) ListRegistrationsByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user registrations: %w", translate(err))
	}
	return collectRegistrations(rows)
}

// CountRegistrationsByStatus groups an event's registrations by status.
func (q *queries) CountRegistrationsByStatus(ctx context.Context, eventID string) (map[model.RegistrationStatus]int, error) {
	rows, err := q.db.Query(ctx,
		`SELECT status, COUNT(*) FROM registrations WHERE event_id = $1 GROUP BY status`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("count registrations: %w", translate(err))
	}
	defer rows.Close()

	counts := make(map[model.RegistrationStatus]int)
	for rows.Next() {
		var status model.RegistrationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan registration count: %w", err)
		}
		counts[status] = n
	}
	return counts, translate(rows.Err())
}

// ListExpiredOffers returns promoted registrations whose acceptance window
// has passed without payment or acceptance.
func (q *queries) ListExpiredOffers(ctx context.Context, now time.Time) ([]model.Registration, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE status = 'PENDING' AND offer_expires_at IS NOT NULL AND offer_expires_at <= $1
		 ORDER BY offer_expires_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired offers: %w", translate(err))
	}
	return collectRegistrations(rows)
}

// DailyRegistrations counts registrations per UTC day since the given time.
func (q *queries) DailyRegistrations(ctx context.Context, eventID string, since time.Time) ([]model.DailyCount, error) {
	rows, err := q.db.Query(ctx,
		`SELECT to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM registrations
		 WHERE event_id = $1 AND created_at >= $2
		 GROUP BY day
		 ORDER BY day ASC`,
		eventID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("daily registrations: %w", translate(err))
	}
	defer rows.Close()

	var out []model.DailyCount
	for rows.Next() {
		var d model.DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		out = append(out, d)
	}
	return out, translate(rows.Err())
}
