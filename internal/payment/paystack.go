// Package payment adapts payment-gateway webhooks into gateway-neutral
// events. Paystack is the only gateway the association uses.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw body.
const SignatureHeader = "x-paystack-signature"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// EventType is the gateway-neutral outcome carried by a webhook.
type EventType string

const (
	EventChargeSuccess EventType = "charge.success"
	EventChargeFailed  EventType = "charge.failed"
	// EventIgnored covers every other gateway event.
	EventIgnored EventType = "ignored"
)

// Event is a verified, parsed webhook delivery.
type Event struct {
	Type            EventType
	RawType         string
	Reference       string
	Amount          int64
	Currency        string
	GatewayResponse string
	PaidAt          *time.Time
	Payload         []byte
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		Status          string `json:"status"`
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
	} `json:"data"`
}

// Paystack verifies and parses Paystack webhooks.
type Paystack struct {
	secret []byte
}

// NewPaystack constructs a Paystack adapter for the given secret key.
func NewPaystack(secret string) *Paystack {
	return &Paystack{secret: []byte(strings.TrimSpace(secret))}
}

// Sign returns the signature Paystack would send for body.
func (p *Paystack) Sign(body []byte) string {
	mac := hmac.New(sha512.New, p.secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature in constant time. An empty secret never
// verifies.
func (p *Paystack) Verify(body []byte, signature string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if len(p.secret) == 0 || signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(p.Sign(body))) {
		return ErrInvalidSignature
	}
	return nil
}

// Parse decodes a verified body.
func (p *Paystack) Parse(body []byte) (*Event, error) {
	var wh paystackWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, ErrInvalidPayload
	}

	ev := &Event{
		RawType:         strings.TrimSpace(wh.Event),
		Reference:       strings.TrimSpace(wh.Data.Reference),
		Amount:          wh.Data.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(wh.Data.Currency)),
		GatewayResponse: wh.Data.GatewayResponse,
		Payload:         body,
	}
	switch EventType(ev.RawType) {
	case EventChargeSuccess:
		ev.Type = EventChargeSuccess
	case EventChargeFailed:
		ev.Type = EventChargeFailed
	default:
		ev.Type = EventIgnored
		return ev, nil
	}
	if ev.Reference == "" {
		return nil, ErrInvalidPayload
	}
	if wh.Data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, wh.Data.PaidAt); err == nil {
			t = t.UTC()
			ev.PaidAt = &t
		}
	}
	return ev, nil
}
