package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

var testCategory = store.Category{
	ID:       7,
	Level1:   "家用电器",
	Level2:   "厨房小电",
	Level3:   "电水壶",
	FullPath: "家用电器 > 厨房小电 > 电水壶",
}

func TestPriceRangeEngineSuccess(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{
		"category_name":"电水壶","range_count":2,
		"price_ranges":[
			{"level":"低端","min_price":0,"max_price":100,"description":"入门"},
			{"level":"高端","min_price":100,"max_price":500,"description":"旗舰"}
		]}`}}}
	eng := NewPriceRangeEngine(newTestCaller(backend, st), st, Policy{Attempts: 3})

	if err := eng.Process(context.Background(), testCategory); err != nil {
		t.Fatalf("Process: %v", err)
	}
	ranges := st.ranges[7]
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges persisted, got %d", len(ranges))
	}
	// Missing order fields fall back to position.
	if ranges[0].RangeOrder != 1 || ranges[1].RangeOrder != 2 {
		t.Fatalf("unexpected range orders: %+v", ranges)
	}
	if len(st.failures[7]) != 0 {
		t.Fatalf("no failure should be recorded on success")
	}
}

func TestPriceRangeEngineRetriesThenSucceeds(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{
		{content: `garbage`},
		{content: `{"range_count":1,"price_ranges":[{"level":"标准","min_price":0,"order":1}]}`},
	}}
	eng := NewPriceRangeEngine(newTestCaller(backend, st), st, Policy{Attempts: 3})

	if err := eng.Process(context.Background(), testCategory); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", backend.calls)
	}
	// Both attempts hit the backend successfully, so both are in the ledger
	// as successes even though the first payload failed validation.
	if len(st.logs) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(st.logs))
	}
	for _, l := range st.logs {
		if l.Status != store.CallStatusSuccess {
			t.Fatalf("validation failures must not mark the call failed: %+v", l)
		}
	}
}

func TestPriceRangeEngineTerminalFailureRecordsRawPayload(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `not json at all`}}}
	eng := NewPriceRangeEngine(newTestCaller(backend, st), st, Policy{Attempts: 3})

	if err := eng.Process(context.Background(), testCategory); err == nil {
		t.Fatalf("expected terminal failure")
	}
	if backend.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", backend.calls)
	}
	msgs := st.failures[7]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "not json at all") {
		t.Fatalf("failure message should carry the raw payload: %q", msgs[0])
	}
	if _, ok := st.ranges[7]; ok {
		t.Fatalf("no ranges should be persisted on failure")
	}
}

func TestPriceRangeEngineRejectsMissingRangeCount(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{
		"category_name":"电水壶",
		"price_ranges":[{"level":"低端","min_price":0,"max_price":100}]}`}}}
	eng := NewPriceRangeEngine(newTestCaller(backend, st), st, Policy{Attempts: 2})

	if err := eng.Process(context.Background(), testCategory); err == nil {
		t.Fatalf("payload without range_count must be rejected")
	}
	if _, ok := st.ranges[7]; ok {
		t.Fatalf("no ranges should be persisted for an incomplete payload")
	}
	if len(st.failures[7]) != 1 {
		t.Fatalf("expected recorded failure")
	}
}

func TestDimensionEngineSuccess(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{
		"dimension_count":2,
		"dimensions":[
			{"name":"加热速度","code":"heating_speed","description":"烧水快慢"},
			{"name":"安全性","code":"safety","weight":2.0}
		]}`}}}
	eng := NewDimensionEngine(newTestCaller(backend, st), st, Policy{Attempts: 3})

	if err := eng.Process(context.Background(), testCategory); err != nil {
		t.Fatalf("Process: %v", err)
	}
	dims := st.dims[7]
	if len(dims) != 2 {
		t.Fatalf("expected 2 dimensions, got %d", len(dims))
	}
	if dims[0].Weight != 1.0 {
		t.Fatalf("missing weight should default to 1.0, got %f", dims[0].Weight)
	}
	if dims[1].Weight != 2.0 {
		t.Fatalf("explicit weight should persist, got %f", dims[1].Weight)
	}
}

func TestDimensionEngineRejectsMissingDimensionCount(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{
		"dimensions":[{"name":"安全性","code":"safety"}]}`}}}
	eng := NewDimensionEngine(newTestCaller(backend, st), st, Policy{Attempts: 2})

	if err := eng.Process(context.Background(), testCategory); err == nil {
		t.Fatalf("payload without dimension_count must be rejected")
	}
	if _, ok := st.dims[7]; ok {
		t.Fatalf("no dimensions should be persisted for an incomplete payload")
	}
}

func TestDimensionEngineTerminalFailure(t *testing.T) {
	st := newFakeStore()
	backend := &fakeBackend{script: []backendStep{{content: `{"dimensions":[]}`}}}
	eng := NewDimensionEngine(newTestCaller(backend, st), st, Policy{Attempts: 2})

	if err := eng.Process(context.Background(), testCategory); err == nil {
		t.Fatalf("expected terminal failure")
	}
	if len(st.failures[7]) != 1 {
		t.Fatalf("expected recorded failure")
	}
}
