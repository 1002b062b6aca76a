package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/fpid/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

var fastPolicy = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fastPolicy, "test.operation", "req-1", func() error {
		attempts++
		if attempts < 3 {
			return transientTestError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fastPolicy, "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected operation metadata: %+v", opErr)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), fastPolicy, "test.operation", "", func() error {
		attempts++
		return transientTestError{}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != fastPolicy.Attempts {
		t.Fatalf("expected %d attempts, got %d", fastPolicy.Attempts, attempts)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{Attempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	attempts := 0
	err := Do(ctx, zap.NewNop(), policy, "test.operation", "", func() error {
		attempts++
		cancel()
		return transientTestError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) || IsTransient(errors.New("x")) {
		t.Fatal("plain errors are not transient")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)) {
		t.Fatal("deadline exceeded should be transient")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", transientTestError{})) {
		t.Fatal("timeout errors should be transient")
	}
}
