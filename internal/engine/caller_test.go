package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/DoublePerpetual/BestGoods/internal/llm"
	"github.com/DoublePerpetual/BestGoods/internal/quota"
	"github.com/DoublePerpetual/BestGoods/internal/store"
)

func TestCallerLogsSuccess(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{"ok":true}`}}}
	caller := newTestCaller(backend, st)

	catID := int64(42)
	comp, err := caller.Call(context.Background(), &catID, "sys", "usr")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if comp.Content != `{"ok":true}` {
		t.Fatalf("unexpected content %q", comp.Content)
	}
	if len(st.logs) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(st.logs))
	}
	l := st.logs[0]
	if l.Status != store.CallStatusSuccess || l.InputTokens != 100 || l.OutputTokens != 50 || l.Cost != 0.0003 {
		t.Fatalf("unexpected ledger row: %+v", l)
	}
	if l.CategoryID == nil || *l.CategoryID != 42 {
		t.Fatalf("ledger row missing category id: %+v", l)
	}
}

func TestCallerLogsFailureWithZeroCost(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{
		{err: &llm.TransportError{StatusCode: 500, Err: errors.New("upstream down")}},
	}}
	caller := newTestCaller(backend, st)

	_, err := caller.Call(context.Background(), nil, "sys", "usr")
	var te *llm.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if len(st.logs) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(st.logs))
	}
	l := st.logs[0]
	if l.Status != store.CallStatusFailed {
		t.Fatalf("expected failed status, got %q", l.Status)
	}
	if l.InputTokens != 0 || l.OutputTokens != 0 || l.Cost != 0 {
		t.Fatalf("failed rows must carry zero tokens and cost: %+v", l)
	}
	if l.ErrorMessage == "" {
		t.Fatalf("failed row should carry the error message")
	}
}

func TestCallerQuotaExhaustedIsPermanent(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{}`}}}
	counter := quota.NewLocalCounter(1)
	caller := NewCaller("test", backend, NewLimiter(0), counter, st, nil, nil)

	if _, err := caller.Call(context.Background(), nil, "s", "u"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Second call exceeds the quota; a retry loop must stop immediately.
	p := Policy{Attempts: 5, Delay: 0}
	calls := 0
	err := p.Do(context.Background(), "op", func() error {
		calls++
		_, err := caller.Call(context.Background(), nil, "s", "u")
		return err
	})
	if !errors.Is(err, quota.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("quota exhaustion should not be retried, got %d calls", calls)
	}
	// Quota rejections happen before the backend call, so no ledger row.
	if len(st.logs) != 1 {
		t.Fatalf("expected only the first call in the ledger, got %d rows", len(st.logs))
	}
}
