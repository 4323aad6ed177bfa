package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DoublePerpetual/BestGoods/internal/store"
)

type fakeSource struct {
	mu       sync.Mutex
	byStage  map[store.Stage][]store.Category
	byID     map[int64]store.Category
	pending  int64
	cost     float64
	costErr  error
	fetchErr error
}

func (f *fakeSource) GetCategoriesByStage(ctx context.Context, stage store.Stage, limit, maxErrors int) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cats := f.byStage[stage]
	if len(cats) > limit {
		cats = cats[:limit]
	}
	return cats, nil
}

func (f *fakeSource) GetCategory(ctx context.Context, id int64) (store.Category, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	return c, ok, nil
}

func (f *fakeSource) CountPending(ctx context.Context, maxErrors int) (int64, error) {
	return f.pending, nil
}

func (f *fakeSource) TodayCost(ctx context.Context) (float64, error) {
	return f.cost, f.costErr
}

type fakeEngine struct {
	mu        sync.Mutex
	processed []int64
	failFor   map[int64]bool
	active    int
	maxActive int
	delay     time.Duration
}

func (f *fakeEngine) Process(ctx context.Context, cat store.Category) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active--
	f.processed = append(f.processed, cat.ID)
	fail := f.failFor[cat.ID]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("engine failure for %d", cat.ID)
	}
	return nil
}

func cats(ids ...int64) []store.Category {
	out := make([]store.Category, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Category{ID: id, Level3: fmt.Sprintf("cat-%d", id)})
	}
	return out
}

func newTestScheduler(src *fakeSource, price, dim, prod *fakeEngine, cfg Config) *Scheduler {
	if cfg.InterStagePause == 0 {
		cfg.InterStagePause = time.Millisecond
	}
	return New(cfg, src, price, dim, prod, nil)
}

func TestProcessStageFansOut(t *testing.T) {
	src := &fakeSource{byStage: map[store.Stage][]store.Category{
		store.StageNew: cats(1, 2, 3, 4, 5),
	}}
	price := &fakeEngine{delay: 10 * time.Millisecond}
	s := newTestScheduler(src, price, &fakeEngine{}, &fakeEngine{}, Config{BatchSize: 10, Workers: 2})

	processed, failed, err := s.ProcessStage(context.Background(), store.StageNew)
	if err != nil {
		t.Fatalf("ProcessStage: %v", err)
	}
	if processed != 5 || failed != 0 {
		t.Fatalf("expected 5 processed, got processed=%d failed=%d", processed, failed)
	}
	if price.maxActive > 2 {
		t.Fatalf("worker pool exceeded its bound: %d concurrent", price.maxActive)
	}
}

func TestProcessStageCountsFailures(t *testing.T) {
	src := &fakeSource{byStage: map[store.Stage][]store.Category{
		store.StagePriced: cats(1, 2, 3),
	}}
	dim := &fakeEngine{failFor: map[int64]bool{2: true}}
	s := newTestScheduler(src, &fakeEngine{}, dim, &fakeEngine{}, Config{BatchSize: 10, Workers: 3})

	processed, failed, err := s.ProcessStage(context.Background(), store.StagePriced)
	if err != nil {
		t.Fatalf("ProcessStage: %v", err)
	}
	if processed != 2 || failed != 1 {
		t.Fatalf("got processed=%d failed=%d", processed, failed)
	}
}

func TestSelectionStageHalvesBatchAndPool(t *testing.T) {
	src := &fakeSource{byStage: map[store.Stage][]store.Category{
		store.StageDimensioned: cats(1, 2, 3, 4, 5, 6, 7, 8),
	}}
	prod := &fakeEngine{delay: 10 * time.Millisecond}
	s := newTestScheduler(src, &fakeEngine{}, &fakeEngine{}, prod, Config{BatchSize: 10, Workers: 4})

	processed, _, err := s.ProcessStage(context.Background(), store.StageDimensioned)
	if err != nil {
		t.Fatalf("ProcessStage: %v", err)
	}
	if processed != 5 {
		t.Fatalf("selection batch should be halved to 5, got %d", processed)
	}
	if prod.maxActive > 2 {
		t.Fatalf("selection pool should be halved to 2, got %d concurrent", prod.maxActive)
	}
}

func TestProcessStageBatchOverride(t *testing.T) {
	src := &fakeSource{byStage: map[store.Stage][]store.Category{
		store.StageNew: cats(1, 2, 3, 4, 5, 6),
	}}
	price := &fakeEngine{}
	s := newTestScheduler(src, price, &fakeEngine{}, &fakeEngine{}, Config{BatchSize: 10, Workers: 2})

	processed, failed, err := s.ProcessStageBatch(context.Background(), store.StageNew, 2)
	if err != nil {
		t.Fatalf("ProcessStageBatch: %v", err)
	}
	if processed != 2 || failed != 0 {
		t.Fatalf("expected 2 processed with override, got processed=%d failed=%d", processed, failed)
	}
}

func TestRunFullPipelineOrdersStages(t *testing.T) {
	src := &fakeSource{byStage: map[store.Stage][]store.Category{
		store.StageNew:         cats(1),
		store.StagePriced:      cats(2),
		store.StageDimensioned: cats(3),
	}}
	price := &fakeEngine{}
	dim := &fakeEngine{}
	prod := &fakeEngine{}
	s := newTestScheduler(src, price, dim, prod, Config{BatchSize: 10, Workers: 2})

	rep, err := s.RunFullPipeline(context.Background())
	if err != nil {
		t.Fatalf("RunFullPipeline: %v", err)
	}
	if rep.PriceProcessed != 1 || rep.DimensionProcessed != 1 || rep.ProductProcessed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Total() != 3 {
		t.Fatalf("expected total 3, got %d", rep.Total())
	}
}

func TestRunFullPipelineStopsAtDailyBudget(t *testing.T) {
	src := &fakeSource{
		byStage: map[store.Stage][]store.Category{store.StageNew: cats(1)},
		cost:    500.0,
	}
	price := &fakeEngine{}
	s := newTestScheduler(src, price, &fakeEngine{}, &fakeEngine{}, Config{BatchSize: 10, Workers: 2, DailyBudget: 500.0})

	rep, err := s.RunFullPipeline(context.Background())
	if err != nil {
		t.Fatalf("RunFullPipeline: %v", err)
	}
	if rep.Total() != 0 {
		t.Fatalf("no work should run past the budget, got %+v", rep)
	}
	if len(price.processed) != 0 {
		t.Fatalf("engine should not have run")
	}
}

func TestProcessCategoryAllSkipsDoneStages(t *testing.T) {
	cat := store.Category{ID: 9, PriceRangesGenerated: true}
	src := &fakeSource{byID: map[int64]store.Category{9: cat}}
	price := &fakeEngine{}
	dim := &fakeEngine{}
	prod := &fakeEngine{}
	s := newTestScheduler(src, price, dim, prod, Config{BatchSize: 10, Workers: 2})

	if err := s.ProcessCategory(context.Background(), 9, "all"); err != nil {
		t.Fatalf("ProcessCategory: %v", err)
	}
	if len(price.processed) != 0 {
		t.Fatalf("priced category should skip the price stage")
	}
	if len(dim.processed) != 1 || len(prod.processed) != 1 {
		t.Fatalf("dimension and product stages should have run: dim=%d prod=%d",
			len(dim.processed), len(prod.processed))
	}
}

func TestProcessCategoryUnknownAction(t *testing.T) {
	src := &fakeSource{byID: map[int64]store.Category{1: {ID: 1}}}
	s := newTestScheduler(src, &fakeEngine{}, &fakeEngine{}, &fakeEngine{}, Config{})
	if err := s.ProcessCategory(context.Background(), 1, "bogus"); err == nil {
		t.Fatalf("expected unknown action error")
	}
}

func TestRunContinuousStopsOnContext(t *testing.T) {
	src := &fakeSource{pending: 0}
	s := newTestScheduler(src, &fakeEngine{}, &fakeEngine{}, &fakeEngine{},
		Config{BatchSize: 1, Workers: 1, IdleInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.RunContinuous(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RunContinuous did not stop on context cancellation")
	}
}
