// Package notify dispatches fire-and-forget member notifications. Delivery
// (email, SMS) is owned by a downstream worker; this package only hands the
// message off.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Template names understood by the delivery worker.
const (
	TemplateRegistrationConfirmed = "registration_confirmed"
	TemplatePaymentRequired       = "payment_required"
	TemplateWaitlistJoined        = "waitlist_joined"
	TemplateWaitlistOffer         = "waitlist_offer"
	TemplatePaymentConfirmed      = "payment_confirmed"
	TemplatePaymentFailed         = "payment_failed"
	TemplateRegistrationCancelled = "registration_cancelled"
	TemplateOfferExpired          = "offer_expired"
)

// Message is a templated notification for one recipient.
type Message struct {
	Template string         `json:"template"`
	UserID   string         `json:"userId"`
	To       string         `json:"to"`
	Data     map[string]any `json:"data,omitempty"`
	QueuedAt time.Time      `json:"queuedAt"`
}

// Dispatcher hands a message to the delivery channel.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher writes messages to the log instead of delivering them.
type LogDispatcher struct {
	log *zap.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.Named("notify")}
}

// Send implements Dispatcher.
func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	d.log.Info("notification",
		zap.String("template", msg.Template),
		zap.String("user_id", msg.UserID),
		zap.String("to", msg.To),
		zap.Any("data", msg.Data),
	)
	return nil
}

// pusher is the subset of redis.Cmdable used by RedisDispatcher.
type pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisDispatcher appends JSON messages to a Redis list consumed by the
// delivery worker.
type RedisDispatcher struct {
	client pusher
	queue  string
}

// NewRedisDispatcher constructs a RedisDispatcher on an existing client.
func NewRedisDispatcher(client redis.Cmdable, queue string) *RedisDispatcher {
	return newRedisDispatcher(client, queue)
}

func newRedisDispatcher(client pusher, queue string) *RedisDispatcher {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = "notifications"
	}
	return &RedisDispatcher{client: client, queue: queue}
}

// Send implements Dispatcher.
func (d *RedisDispatcher) Send(ctx context.Context, msg Message) error {
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := d.client.RPush(ctx, d.queue, body).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// Notifier sends best-effort notifications: failures are logged and
// swallowed.
type Notifier struct {
	d   Dispatcher
	log *zap.Logger
}

// NewNotifier wraps d. A nil d discards every message.
func NewNotifier(d Dispatcher, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{d: d, log: log.Named("notify")}
}

// Notify sends msg, logging any failure at warn.
func (n *Notifier) Notify(ctx context.Context, msg Message) {
	if n == nil || n.d == nil {
		return
	}
	if err := n.d.Send(ctx, msg); err != nil {
		n.log.Warn("notification dispatch failed",
			zap.String("template", msg.Template),
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
	}
}
