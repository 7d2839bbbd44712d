// Package webhooks delivers wallet events to external subscribers.
//
// Users register HTTPS endpoints and receive signed notifications for
// balance changes, escrow movements, payment credits, and balance
// policy alerts.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/faithly/walletd/internal/circuitbreaker"
	"github.com/faithly/walletd/internal/metrics"
	"github.com/faithly/walletd/internal/retry"
)

// Events subscribers can receive.
const (
	EventTransactionApplied = "transaction.applied"
	EventEscrowLocked       = "escrow.locked"
	EventEscrowReleased     = "escrow.released"
	EventPaymentCredited    = "payment.credited"
	EventLowBalance         = "wallet.low_balance"
	EventAutoTopupEligible  = "wallet.autotopup_eligible"
)

// KnownEvent reports whether name is a deliverable event type.
func KnownEvent(name string) bool {
	switch name {
	case EventTransactionApplied, EventEscrowLocked, EventEscrowReleased,
		EventPaymentCredited, EventLowBalance, EventAutoTopupEligible:
		return true
	}
	return false
}

// ErrSubscriptionNotFound means no subscription exists with the ID.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// Event is the payload delivered to subscribers.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription is a registered delivery endpoint. Secret signs payloads
// and is only revealed at creation time.
type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"`
	Events      []string   `json:"events"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func (s *Subscription) wants(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByUser(ctx context.Context, userID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher fans events out to subscribers. Deliveries run in the
// background with retries; an endpoint that keeps failing trips its
// circuit and is skipped until the cooldown passes.
type Dispatcher struct {
	store   Store
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// Dispatch sends the event to every active subscription for its type.
// Delivery is asynchronous; Dispatch only fails when the subscriber
// list cannot be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("load subscribers for %s: %w", event.Type, err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		go d.deliver(sub, event)
	}
	return nil
}

// DispatchToUser sends the event to the user's subscriptions only.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID string, event *Event) error {
	subs, err := d.store.GetByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load subscriptions for %s: %w", userID, err)
	}

	for _, sub := range subs {
		if !sub.Active || !sub.wants(event.Type) {
			continue
		}
		go d.deliver(sub, event)
	}
	return nil
}

func (d *Dispatcher) deliver(sub *Subscription, event *Event) {
	if !d.breaker.Allow(sub.URL) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("marshal event: %v", err))
		return
	}

	err = retry.Do(ctx, 3, time.Second, func() error {
		return d.post(ctx, sub, event, payload)
	})
	if err != nil {
		d.breaker.RecordFailure(sub.URL)
		d.recordFailure(ctx, sub, err.Error())
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("webhook delivery failed",
			"subscription_id", sub.ID,
			"event", event.Type,
			"error", err,
		)
		return
	}

	d.breaker.RecordSuccess(sub.URL)
	d.recordSuccess(ctx, sub)
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Walletd-Event", event.Type)
	req.Header.Set("X-Walletd-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Walletd-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("endpoint returned %d", resp.StatusCode))
	}
	return fmt.Errorf("endpoint returned %d", resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 of payload under secret. Receivers
// verify deliveries by recomputing it.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook state update failed", "subscription_id", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, msg string) {
	sub.LastError = msg
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook state update failed", "subscription_id", sub.ID, "error", err)
	}
}
