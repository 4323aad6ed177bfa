package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DoublePerpetual/BestGoods/internal/llm"
	"github.com/DoublePerpetual/BestGoods/internal/store"
)

// fakeBackend replays scripted completions or errors in order, repeating
// the last entry when the script runs out.
type fakeBackend struct {
	mu      sync.Mutex
	script  []backendStep
	calls   int
	lastSys string
	lastUsr string
}

type backendStep struct {
	content string
	err     error
}

func (f *fakeBackend) Complete(ctx context.Context, system, user string) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	f.lastSys, f.lastUsr = system, user
	step := f.script[idx]
	if step.err != nil {
		return nil, step.err
	}
	return &llm.Completion{
		Content:      step.content,
		InputTokens:  100,
		OutputTokens: 50,
		Cost:         0.0003,
		Latency:      5 * time.Millisecond,
	}, nil
}

func (f *fakeBackend) Model() string { return "deepseek-chat" }

// fakeStore implements every engine-facing store interface plus the ledger.
type fakeStore struct {
	mu       sync.Mutex
	logs     []store.CallLog
	ranges   map[int64][]store.PriceRange
	dims     map[int64][]store.Dimension
	products []store.BestProduct
	failures map[int64][]string
	selected map[int64]bool

	insertProductErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ranges:   make(map[int64][]store.PriceRange),
		dims:     make(map[int64][]store.Dimension),
		failures: make(map[int64][]string),
		selected: make(map[int64]bool),
	}
}

func (f *fakeStore) InsertCallLog(ctx context.Context, l store.CallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeStore) ReplacePriceRanges(ctx context.Context, categoryID int64, ranges []store.PriceRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges[categoryID] = ranges
	return nil
}

func (f *fakeStore) ReplaceDimensions(ctx context.Context, categoryID int64, dims []store.Dimension) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dims[categoryID] = dims
	return nil
}

func (f *fakeStore) ListPriceRanges(ctx context.Context, categoryID int64) ([]store.PriceRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ranges[categoryID], nil
}

func (f *fakeStore) ListDimensions(ctx context.Context, categoryID int64) ([]store.Dimension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dims[categoryID], nil
}

func (f *fakeStore) InsertBestProduct(ctx context.Context, p store.BestProduct) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertProductErr != nil {
		return 0, f.insertProductErr
	}
	f.products = append(f.products, p)
	return int64(len(f.products)), nil
}

func (f *fakeStore) MarkProductsSelected(ctx context.Context, categoryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ranges[categoryID]) == 0 || len(f.dims[categoryID]) == 0 {
		return fmt.Errorf("category %d is not in the dimensioned stage", categoryID)
	}
	f.selected[categoryID] = true
	return nil
}

func (f *fakeStore) RecordCategoryFailure(ctx context.Context, categoryID int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[categoryID] = append(f.failures[categoryID], msg)
	return nil
}

func newTestCaller(backend Backend, ledger Ledger) *Caller {
	return NewCaller("test", backend, NewLimiter(0), nil, ledger, nil, nil)
}
