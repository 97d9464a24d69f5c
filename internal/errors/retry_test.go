package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	cases := []struct {
		k    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, 1600 * time.Millisecond},
		{6, 2 * time.Second}, // capped
		{9, 2 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.Backoff(tc.k); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.k, got, tc.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, JitterFactor: 0.2}
	for i := 0; i < 200; i++ {
		got := cfg.Backoff(2) // nominal 200ms
		if got < 160*time.Millisecond || got > 240*time.Millisecond {
			t.Fatalf("jittered Backoff(2) = %v, want within ±20%% of 200ms", got)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransient(fmt.Errorf("flaky"), "op")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return NewPermanent(fmt.Errorf("broken"), "op")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent)", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryConfig(), func(context.Context) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestIsTransientClassification(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Error("context.Canceled must not be transient")
	}
	if IsTransient(ErrNotFound) {
		t.Error("ErrNotFound must not be transient")
	}
	if !IsTransient(NewTransient(fmt.Errorf("io"), "op")) {
		t.Error("explicit transient marker must win")
	}
	if IsTransient(NewPermanent(fmt.Errorf("bad"), "op")) {
		t.Error("explicit permanent marker must win")
	}
	if !IsTransient(Wrap(KindTransportError, fmt.Errorf("conn reset"), "invoke")) {
		t.Error("transport-error kind should be transient")
	}
	if IsTransient(Wrap(KindServiceError, fmt.Errorf("downstream said no"), "invoke")) {
		t.Error("service-error kind must not be transient")
	}
}

func TestCommandErrorKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindNoService, "nothing for capability"))
	if got := KindOf(err); got != KindNoService {
		t.Errorf("KindOf = %s, want %s", got, KindNoService)
	}
	if got := KindOf(fmt.Errorf("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want %s", got, KindInternal)
	}
	if !IsKind(err, KindNoService) {
		t.Error("IsKind should see through wrapping")
	}
}
