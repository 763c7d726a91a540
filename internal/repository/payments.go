package repository

import (
	"context"
	"fmt"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, registration_id, amount, currency, status, gateway_reference, gateway_response,
	flag_reason, flagged_at, confirmed_at, failed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID, &p.RegistrationID, &p.Amount, &p.Currency, &p.Status, &p.GatewayReference, &p.GatewayResponse,
		&p.FlagReason, &p.FlaggedAt, &p.ConfirmedAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// InsertPayment records a pending payment intent.
func (q *queries) InsertPayment(ctx context.Context, p *model.Payment) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.RegistrationID, p.Amount, p.Currency, p.Status, p.GatewayReference, p.GatewayResponse,
		p.FlagReason, p.FlaggedAt, p.ConfirmedAt, p.FailedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", translate(err))
	}
	return nil
}

// GetPaymentByReference returns the payment for a gateway reference.
func (q *queries) GetPaymentByReference(ctx context.Context, ref string) (*model.Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_reference = $1`, ref))
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// LockPaymentByReference reads and locks the payment for a gateway reference.
func (q *queries) LockPaymentByReference(ctx context.Context, ref string) (*model.Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_reference = $1 FOR UPDATE`, ref))
	if err != nil {
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return p, nil
}

// GetPaymentByRegistration returns the payment attached to a registration.
func (q *queries) GetPaymentByRegistration(ctx context.Context, registrationID string) (*model.Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE registration_id = $1`, registrationID))
	if err != nil {
		return nil, fmt.Errorf("get registration payment: %w", err)
	}
	return p, nil
}

// UpdatePayment persists status and review fields.
func (q *queries) UpdatePayment(ctx context.Context, p *model.Payment) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE payments SET
		   status = $2, gateway_response = $3, flag_reason = $4, flagged_at = $5,
		   confirmed_at = $6, failed_at = $7, updated_at = $8
		 WHERE id = $1`,
		p.ID, p.Status, p.GatewayResponse, p.FlagReason, p.FlaggedAt,
		p.ConfirmedAt, p.FailedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PaymentTotals aggregates payment outcomes for an event.
func (q *queries) PaymentTotals(ctx context.Context, eventID string) (model.PaymentTotals, error) {
	var t model.PaymentTotals
	err := q.db.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE p.status = 'SUCCESS'),
		   COUNT(*) FILTER (WHERE p.status = 'PENDING'),
		   COALESCE(SUM(p.amount) FILTER (WHERE p.status = 'SUCCESS'), 0)
		 FROM payments p
		 JOIN registrations r ON r.id = p.registration_id
		 WHERE r.event_id = $1`,
		eventID,
	).Scan(&t.PaidCount, &t.PendingCount, &t.Revenue)
	if err != nil {
		return t, fmt.Errorf("payment totals: %w", translate(err))
	}
	return t, nil
}
