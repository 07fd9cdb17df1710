// Package events pushes engine events to subscribed game services over
// signed webhooks.
//
// Delivery is at-least-once: a delivery that fails after retries is dropped
// and logged, never blocking the pipeline that produced it. Subscribers
// verify payloads with an HMAC-SHA256 signature over the raw body.
package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("subscription not found")

// EventType identifies what happened.
type EventType string

const (
	EventActionResolved  EventType = "action_resolved"
	EventTimerExpired    EventType = "timer_expired"
	EventCascadeApplied  EventType = "cascade_applied"
	EventAuctionClosed   EventType = "auction_closed"
	EventLedgerCommitted EventType = "ledger_committed"
)

// Event is one engine occurrence pushed to subscribers.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Subscription registers a delivery endpoint for a set of event types. An
// empty EventTypes list subscribes to everything.
type Subscription struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Secret     string      `json:"-"`
	EventTypes []EventType `json:"eventTypes,omitempty"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Matches reports whether the subscription wants this event type.
func (s *Subscription) Matches(t EventType) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, et := range s.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*Subscription, error)
}

// Sign computes the hex HMAC-SHA256 of body under secret. Subscribers
// recompute it to verify the X-Omerta-Signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
