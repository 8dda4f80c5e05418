package resilience

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	callCount := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func(context.Context) (string, error) {
		callCount++
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %s", result)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_SucceedsAfterRetry(t *testing.T) {
	callCount := 0
	result, err := Retry(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		callCount++
		if callCount < 3 {
			return "", fmt.Errorf("temporary error")
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %s", result)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetry_ReturnsLastErrorUnchanged(t *testing.T) {
	callCount := 0
	testErr := fmt.Errorf("persistent error")

	_, err := Retry(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		callCount++
		return "", testErr
	})

	if err != testErr {
		t.Errorf("expected testErr itself, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetry_RespectsContext(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 100 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	_, err := Retry(ctx, cfg, func(context.Context) (string, error) {
		callCount++
		return "", fmt.Errorf("error")
	})

	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if callCount >= 10 {
		t.Errorf("expected fewer than 10 calls, got %d", callCount)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", fmt.Errorf("timeout talking to store"), true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"pipeline closed", errors.PipelineClosed(nil), false},
		{"invalid config", errors.InvalidConfig("size", "bad"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultRetryIf(tc.err); got != tc.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetry_RetryIfFilter(t *testing.T) {
	retryableErr := fmt.Errorf("retryable")
	nonRetryableErr := fmt.Errorf("non-retryable")

	cfg := fastConfig(3)
	cfg.RetryIf = func(err error) bool { return stderrors.Is(err, retryableErr) }

	callCount := 0
	_, _ = Retry(context.Background(), cfg, func(context.Context) (string, error) {
		callCount++
		return "", retryableErr
	})
	if callCount != 3 {
		t.Errorf("expected 3 calls for retryable error, got %d", callCount)
	}

	callCount = 0
	_, err := Retry(context.Background(), cfg, func(context.Context) (string, error) {
		callCount++
		return "", nonRetryableErr
	})
	if callCount != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", callCount)
	}
	if err != nonRetryableErr {
		t.Errorf("expected nonRetryableErr, got %v", err)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	var retries []int
	var mu sync.Mutex

	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		mu.Lock()
		retries = append(retries, attempt)
		mu.Unlock()
	}

	_, _ = Retry(context.Background(), cfg, func(context.Context) (string, error) {
		return "", fmt.Errorf("error")
	})

	mu.Lock()
	defer mu.Unlock()
	// Called before each retry, not before the first attempt.
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("expected attempts [1 2], got %v", retries)
	}
}

func TestStage(t *testing.T) {
	calls := 0
	fn := Stage(fastConfig(3), func(_ context.Context, s string) (int, error) {
		calls++
		if calls < 2 {
			return 0, fmt.Errorf("flaky")
		}
		return len(s), nil
	})

	n, err := fn(context.Background(), "abcd")
	if err != nil || n != 4 {
		t.Errorf("expected 4, got %d / %v", n, err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestAction(t *testing.T) {
	boom := fmt.Errorf("boom")
	calls := 0
	fn := Action(fastConfig(2), func(context.Context, int) error {
		calls++
		return boom
	})

	if err := fn(context.Background(), 1); err != boom {
		t.Errorf("expected boom, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestLogRetries(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, &logger.Config{Level: "info", Format: "json"}, "test")

	LogRetries(log, "map-1")(2, fmt.Errorf("flaky"), 20*time.Millisecond)

	out := buf.String()
	for _, want := range []string{`"stage":"map-1"`, `"attempt":2`, `"backoff_ms":20`, `"error":"flaky"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestRetryConfig_ApplyDefaultsAndValidate(t *testing.T) {
	var cfg RetryConfig
	cfg.ApplyDefaults()
	if cfg.MaxAttempts != 3 || cfg.RetryIf == nil {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}

	cfg.Jitter = 2
	if err := cfg.Validate(); !stderrors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected INVALID_CONFIG for jitter 2, got %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
	}

	for _, tt := range tests {
		got := calculateBackoff(tt.attempt, cfg)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}
