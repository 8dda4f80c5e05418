package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestFault_New(t *testing.T) {
	err := New(ErrCodeInvalidConfig, "bad capacity")
	if err.Code != ErrCodeInvalidConfig {
		t.Errorf("expected code %s, got %s", ErrCodeInvalidConfig, err.Code)
	}
	if err.Message != "bad capacity" {
		t.Errorf("expected message 'bad capacity', got %q", err.Message)
	}
	if err.Error() != "INVALID_CONFIG: bad capacity" {
		t.Errorf("unexpected Error(): %q", err.Error())
	}
}

func TestFault_ErrorIncludesStageAndCause(t *testing.T) {
	cause := fmt.Errorf("downstream gone")
	err := PipelineClosed(cause).WithStage("map-1")

	msg := err.Error()
	if !strings.HasPrefix(msg, "PIPELINE_CLOSED[map-1]") {
		t.Errorf("expected stage in prefix, got %q", msg)
	}
	if !strings.Contains(msg, "downstream gone") {
		t.Errorf("expected cause in message, got %q", msg)
	}
	if stderrors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return cause")
	}
}

func TestFault_IsMatchesByCode(t *testing.T) {
	err := PipelineClosed(nil)
	if !stderrors.Is(err, ErrPipelineClosed) {
		t.Error("expected PipelineClosed to match ErrPipelineClosed")
	}
	if stderrors.Is(err, ErrPipelineShutdown) {
		t.Error("PipelineClosed must not match ErrPipelineShutdown")
	}

	wrapped := fmt.Errorf("send: %w", PipelineShutdown(context.Canceled))
	if !stderrors.Is(wrapped, ErrPipelineShutdown) {
		t.Error("expected wrapped shutdown fault to match sentinel")
	}
	if !stderrors.Is(wrapped, context.Canceled) {
		t.Error("expected shutdown fault to expose its cause")
	}
}

func TestFault_WithDetail(t *testing.T) {
	err := ItemDiscarded("where-2").WithDetail("index", 3)
	if err.Details["index"] != 3 {
		t.Errorf("expected index=3, got %v", err.Details["index"])
	}
	if err.Stage != "where-2" {
		t.Errorf("expected stage where-2, got %q", err.Stage)
	}
}

func TestInvalidConfig(t *testing.T) {
	err := InvalidConfig("batch_size", "must be at least 1")
	if err.Details["field"] != "batch_size" {
		t.Errorf("expected field=batch_size, got %v", err.Details["field"])
	}
	if !stderrors.Is(err, ErrInvalidConfig) {
		t.Error("expected InvalidConfig to match ErrInvalidConfig")
	}

	noField := InvalidConfig("", "broken")
	if _, ok := noField.Details["field"]; ok {
		t.Error("expected no 'field' key when field is empty")
	}
}

func TestAsFault(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", PipelineShutdown(nil))
	f, ok := AsFault(wrapped)
	if !ok {
		t.Fatal("expected AsFault to find the fault")
	}
	if f.Code != ErrCodePipelineShutdown {
		t.Errorf("expected PIPELINE_SHUTDOWN, got %s", f.Code)
	}

	if _, ok := AsFault(fmt.Errorf("plain")); ok {
		t.Error("expected plain error not to be a fault")
	}
	if IsFault(nil) {
		t.Error("nil is not a fault")
	}
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped canceled", fmt.Errorf("stage: %w", context.Canceled), true},
		{"cancelled fault", New(ErrCodeCancelled, "stopped"), true},
		{"shutdown fault with canceled cause", PipelineShutdown(context.Canceled), false},
		{"plain", fmt.Errorf("boom"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCancellation(tc.err); got != tc.want {
				t.Errorf("IsCancellation(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"user error", fmt.Errorf("boom"), ErrCodeProcessing},
		{"canceled", context.Canceled, ErrCodeCancelled},
		{"closed", PipelineClosed(context.Canceled), ErrCodePipelineClosed},
		{"discarded", ItemDiscarded("where"), ErrCodeItemDiscarded},
		{"wrapped config", fmt.Errorf("load: %w", Validation("x")), ErrCodeInvalidConfig},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsExpectedCode(t *testing.T) {
	if !IsExpectedCode(ErrCodeCancelled) {
		t.Error("CANCELLED should be expected")
	}
	if !IsExpectedCode(ErrCodeItemDiscarded) {
		t.Error("ITEM_DISCARDED should be expected")
	}
	if IsExpectedCode(ErrCodeProcessing) {
		t.Error("PROCESSING_FAULT should not be expected")
	}
}
