package repository

import (
	"context"
	"fmt"

	"github.com/exjam-alumni/eventreg/internal/model"
)

// InsertWebhookLog appends a webhook delivery record.
func (q *queries) InsertWebhookLog(ctx context.Context, l *model.WebhookLog) error {
	var payload any
	if len(l.Payload) > 0 {
		payload = l.Payload
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO payment_webhook_logs (id, gateway_reference, event_type, amount, outcome, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.GatewayReference, l.EventType, l.Amount, l.Outcome, payload, l.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", translate(err))
	}
	return nil
}

// InsertCheckInLog appends a check-in attempt record.
func (q *queries) InsertCheckInLog(ctx context.Context, l *model.CheckInLog) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO check_in_logs (id, registration_id, event_id, admin_id, location, method, outcome, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.RegistrationID, l.EventID, l.AdminID, l.Location, l.Method, l.Outcome, l.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert check-in log: %w", translate(err))
	}
	return nil
}
