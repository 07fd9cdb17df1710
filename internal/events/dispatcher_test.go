package events

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	body      []byte
	signature string
	eventType string
}

func newReceiver(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{
			body:      body,
			signature: r.Header.Get("X-Omerta-Signature"),
			eventType: r.Header.Get("X-Omerta-Event"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func subscribe(t *testing.T, store SubscriptionStore, url, secret string, types ...EventType) *Subscription {
	t.Helper()
	sub := &Subscription{
		ID:         "sub_test_" + secret,
		URL:        url,
		Secret:     secret,
		EventTypes: types,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), sub))
	return sub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherDeliversSignedEvent(t *testing.T) {
	srv, deliveries := newReceiver(t, http.StatusOK)
	defer srv.Close()

	store := NewMemorySubscriptionStore()
	subscribe(t, store, srv.URL, "topsecret")

	d := NewDispatcher(store, slog.Default(), WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Publish(ctx, EventActionResolved, map[string]string{"attemptId": "act_1"}))
	waitFor(t, func() bool { return len(deliveries()) == 1 })

	got := deliveries()[0]
	assert.Equal(t, string(EventActionResolved), got.eventType)
	assert.True(t, VerifySignature("topsecret", got.body, got.signature))
	assert.False(t, VerifySignature("wrong", got.body, got.signature))
}

func TestDispatcherFiltersByEventType(t *testing.T) {
	srv, deliveries := newReceiver(t, http.StatusOK)
	defer srv.Close()

	store := NewMemorySubscriptionStore()
	subscribe(t, store, srv.URL, "s1", EventTimerExpired)

	d := NewDispatcher(store, slog.Default(), WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Publish(ctx, EventActionResolved, map[string]string{"a": "1"}))
	require.NoError(t, d.Publish(ctx, EventTimerExpired, map[string]string{"b": "2"}))
	d.Stop()

	got := deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, string(EventTimerExpired), got[0].eventType)
}

func TestDispatcherRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemorySubscriptionStore()
	subscribe(t, store, srv.URL, "s1")

	d := NewDispatcher(store, slog.Default(), WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Publish(ctx, EventCascadeApplied, map[string]string{"originId": "act_2"}))
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	store := NewMemorySubscriptionStore()
	subscribe(t, store, srv.URL, "s1")

	d := NewDispatcher(store, slog.Default(), WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Publish(ctx, EventActionResolved, map[string]string{"a": "1"}))
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSubscriptionMatches(t *testing.T) {
	all := &Subscription{}
	assert.True(t, all.Matches(EventActionResolved))
	assert.True(t, all.Matches(EventAuctionClosed))

	scoped := &Subscription{EventTypes: []EventType{EventTimerExpired}}
	assert.True(t, scoped.Matches(EventTimerExpired))
	assert.False(t, scoped.Matches(EventActionResolved))
}

func TestSubscriptionStoreLifecycle(t *testing.T) {
	store := NewMemorySubscriptionStore()
	ctx := context.Background()
	sub := subscribe(t, store, "http://example.test/hook", "s1")

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)

	require.NoError(t, store.Delete(ctx, sub.ID))
	_, err = store.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, sub.ID), ErrNotFound)
}
