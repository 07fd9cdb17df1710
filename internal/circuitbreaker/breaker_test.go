package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("content") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("content")
	b.RecordFailure("content")
	if !b.Allow("content") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("content")
	if b.Allow("content") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("content") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("content"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("content")
	b.RecordFailure("content")
	if b.Allow("content") {
		t.Fatal("should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open and allow one probe.
	if !b.Allow("content") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("content") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("content"))
	}

	// Second request while half-open should be rejected.
	if b.Allow("content") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("content")
	b.RecordFailure("content")
	time.Sleep(60 * time.Millisecond)
	b.Allow("content") // Transitions to half-open

	b.RecordSuccess("content")
	if b.State("content") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("content"))
	}
	if !b.Allow("content") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("content")
	b.RecordFailure("content")
	time.Sleep(60 * time.Millisecond)
	b.Allow("content") // Transitions to half-open

	b.RecordFailure("content")
	if b.State("content") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("content"))
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("content")
	b.RecordFailure("content")
	b.RecordSuccess("content")

	b.RecordFailure("content")
	if !b.Allow("content") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("narrative")
	b.RecordFailure("narrative")

	if b.Allow("narrative") {
		t.Fatal("narrative should be open")
	}
	if !b.Allow("cascade_targets") {
		t.Fatal("cascade_targets should be closed")
	}
}
