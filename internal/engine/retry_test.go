package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestPolicyRetriesUntilSuccess(t *testing.T) {
	p := Policy{Attempts: 3, Delay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestPolicyExhaustsAttempts(t *testing.T) {
	p := Policy{Attempts: 3, Delay: time.Millisecond}
	calls := 0
	sentinel := fmt.Errorf("boom")
	err := p.Do(context.Background(), "op", func() error {
		calls++
		return sentinel
	})
	if err == nil {
		t.Fatalf("expected terminal error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("terminal error should wrap the last failure: %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestPolicyStopsOnPermanent(t *testing.T) {
	p := Policy{Attempts: 5, Delay: time.Millisecond}
	calls := 0
	sentinel := fmt.Errorf("quota gone")
	err := p.Do(context.Background(), "op", func() error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}

func TestPolicyRespectsContext(t *testing.T) {
	p := Policy{Attempts: 10, Delay: 50 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	calls := 0
	err := p.Do(ctx, "op", func() error {
		calls++
		return fmt.Errorf("transient")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before deadline, got %d", calls)
	}
}
