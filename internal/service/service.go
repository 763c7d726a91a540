// Package service implements the registration core: capacity checks,
// registration and waitlisting, waitlist promotion, payment reconciliation
// and check-in. Every state change runs inside a single store transaction;
// notifications are sent only after commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exjam-alumni/eventreg/internal/metrics"
	"github.com/exjam-alumni/eventreg/internal/notify"
	"github.com/exjam-alumni/eventreg/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultOfferWindow is how long a promoted waitlist member has to pay or
// accept before the slot moves on.
const DefaultOfferWindow = 24 * time.Hour

// Deps are the collaborators shared by every service.
type Deps struct {
	Store    repository.Store
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Now().UTC()
}

// outbox collects notifications produced inside a transaction attempt.
type outbox []notify.Message

func (o *outbox) add(msg notify.Message) {
	*o = append(*o, msg)
}

func (d Deps) flush(ctx context.Context, o outbox) {
	for _, msg := range o {
		d.Notifier.Notify(ctx, msg)
	}
}

// notFound maps repository.ErrNotFound onto the service sentinel.
func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func newTicketID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "EXJ-" + strings.ToUpper(hex[:8])
}

func newPaymentReference() string {
	return "EXJ-PAY-" + uuid.NewString()
}

func ptr[T any](v T) *T {
	return &v
}
