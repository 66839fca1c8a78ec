package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/model"
	"github.com/shoptalk/shoptalk/internal/session"
)

func TestRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 rate limit exceeded"), true},
		{"quota", errors.New("Quota Exceeded for project"), true},
		{"server 503", errors.New("503 service unavailable"), true},
		{"overloaded", errors.New("model overloaded"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout", errors.New("request timeout"), true},
		{"bad request", errors.New("400 invalid argument"), false},
		{"auth", errors.New("401 unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func retryTestAgent(t *testing.T, gen *fakeGenerator) *Agent {
	t.Helper()
	a, err := New(Config{
		Sessions:  session.NewStore(log.NewNop()),
		Commerce:  &fakeCommerce{},
		Knowledge: &fakeKnowledge{},
		Generator: gen,
		Logger:    log.NewNop(),
		RetryConfig: RetryConfig{
			MaxRetries:      3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestGenerateWithRetry_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	gen := &fakeGenerator{fn: func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "recovered", nil
	}}
	a := retryTestAgent(t, gen)

	got, err := a.generateWithRetry(context.Background(), model.Request{}, nil)
	if err != nil {
		t.Fatalf("generateWithRetry() error: %v", err)
	}
	if got != "recovered" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestGenerateWithRetry_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	calls := 0
	gen := &fakeGenerator{fn: func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
		calls++
		return "", errors.New("400 invalid argument")
	}}
	a := retryTestAgent(t, gen)

	if _, err := a.generateWithRetry(context.Background(), model.Request{}, nil); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent errors)", calls)
	}
}

func TestGenerateWithRetry_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	transient := errors.New("502 bad gateway")
	gen := &fakeGenerator{fn: func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
		calls++
		return "", transient
	}}
	a := retryTestAgent(t, gen)

	_, err := a.generateWithRetry(context.Background(), model.Request{}, nil)
	if !errors.Is(err, transient) {
		t.Fatalf("error = %v, want wrapped transient error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want initial + 3 retries", calls)
	}
}

// Once output has reached the client a retry would duplicate visible text,
// so failures after the first chunk are final.
func TestGenerateWithRetry_NoRetryAfterOutput(t *testing.T) {
	t.Parallel()

	calls := 0
	gen := &fakeGenerator{fn: func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
		calls++
		if err := cb(ctx, "partial "); err != nil {
			return "", err
		}
		return "", errors.New("503 mid-stream failure")
	}}
	a := retryTestAgent(t, gen)

	_, err := a.generateWithRetry(context.Background(), model.Request{},
		func(context.Context, string) error { return nil })
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after emitted output)", calls)
	}
}

func TestGenerateWithRetry_CanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{fn: func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
		cancel()
		return "", errors.New("503 service unavailable")
	}}
	a := retryTestAgent(t, gen)

	if _, err := a.generateWithRetry(ctx, model.Request{}, nil); err == nil {
		t.Fatal("expected error after cancellation")
	}
}
