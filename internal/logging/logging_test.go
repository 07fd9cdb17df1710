package logging

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Fatalf("expected empty request ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Fatalf("expected req-123, got %q", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	logger := New("debug", "text")
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Fatal("expected logger from context")
	}
}

func TestLDoesNotPanicWithoutLogger(t *testing.T) {
	l := L(context.Background())
	if l == nil {
		t.Fatal("expected default logger")
	}
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "json") == nil {
			t.Fatalf("New(%q) returned nil", level)
		}
	}
}
