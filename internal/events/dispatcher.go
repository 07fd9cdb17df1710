package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mbd888/omerta/internal/idgen"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
	"github.com/mbd888/omerta/internal/retry"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	deliveryAttempts = 3
)

type delivery struct {
	sub   *Subscription
	event *Event
}

// Dispatcher fans events out to active subscriptions through a bounded
// worker pool. Publish never blocks the caller beyond queue admission; when
// the queue is full the delivery is dropped and counted.
type Dispatcher struct {
	store      SubscriptionStore
	httpClient *http.Client
	logger     *slog.Logger

	queue   chan delivery
	workers int

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

type DispatcherOption func(*Dispatcher)

// WithWorkers sets the delivery worker count.
func WithWorkers(n int) DispatcherOption { return func(d *Dispatcher) { d.workers = n } }

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(c *http.Client) DispatcherOption { return func(d *Dispatcher) { d.httpClient = c } }

// WithQueueSize sets the pending delivery buffer.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.queue = make(chan delivery, n) }
}

func NewDispatcher(store SubscriptionStore, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.WithComponent(logger, "events"),
		queue:      make(chan delivery, defaultQueueSize),
		workers:    defaultWorkers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store exposes the subscription store for handler wiring.
func (d *Dispatcher) Store() SubscriptionStore {
	return d.store
}

// Start launches the delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("event dispatcher started", "workers", d.workers)
}

// Stop drains in-flight deliveries and halts the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	d.mu.Unlock()
	d.wg.Wait()
}

// Publish builds an event and enqueues a delivery for every matching active
// subscription.
func (d *Dispatcher) Publish(ctx context.Context, eventType EventType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}
	event := &Event{
		ID:         idgen.WithPrefix("evt"),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}

	subs, err := d.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	for _, sub := range subs {
		if !sub.Matches(eventType) {
			continue
		}
		select {
		case d.queue <- delivery{sub: sub, event: event}:
		default:
			metrics.EventDeliveriesTotal.WithLabelValues("dropped").Inc()
			d.logger.Warn("delivery queue full, dropping event",
				"event_id", event.ID, "subscription_id", sub.ID)
		}
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			// drain what's already queued
			for {
				select {
				case dl := <-d.queue:
					d.deliver(ctx, dl)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case dl := <-d.queue:
			d.deliver(ctx, dl)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, dl delivery) {
	body, err := json.Marshal(dl.event)
	if err != nil {
		d.logger.Error("marshaling event", "error", err)
		return
	}

	err = retry.Do(ctx, deliveryAttempts, 250*time.Millisecond, func() error {
		return d.send(ctx, dl.sub, dl.event, body)
	})
	if err != nil {
		metrics.EventDeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("event delivery failed",
			"event_id", dl.event.ID,
			"subscription_id", dl.sub.ID,
			"error", err,
		)
		return
	}
	metrics.EventDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Omerta-Event", string(event.Type))
	req.Header.Set("X-Omerta-Delivery", event.ID)
	req.Header.Set("X-Omerta-Signature", Sign(sub.Secret, body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("subscriber rejected delivery: status %d", resp.StatusCode))
	}
	return fmt.Errorf("delivery failed: status %d", resp.StatusCode)
}
