package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntil_StopsOnSuccess(t *testing.T) {
	attempts := 0
	err := Until(context.Background(), time.Millisecond, 10, func() (bool, error) {
		attempts++
		return attempts == 3, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestUntil_ExhaustsBudget(t *testing.T) {
	attempts := 0
	err := Until(context.Background(), time.Millisecond, 5, func() (bool, error) {
		attempts++
		return false, nil
	})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", attempts)
	}
}

func TestUntil_ReportsLastError(t *testing.T) {
	lastError := errors.New("still broken")
	err := Until(context.Background(), time.Millisecond, 3, func() (bool, error) {
		return false, lastError
	})
	if !errors.Is(err, lastError) {
		t.Fatalf("expected the check's error, got %v", err)
	}
}

func TestUntil_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Until(ctx, time.Hour, 10, func() (bool, error) {
		attempts++
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", attempts)
	}
}
