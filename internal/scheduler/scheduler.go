package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/DoublePerpetual/BestGoods/internal/store"
	"github.com/DoublePerpetual/BestGoods/internal/telemetry"
)

// StageEngine is the contract every stage engine satisfies.
type StageEngine interface {
	Process(ctx context.Context, cat store.Category) error
}

// CategorySource is the slice of the store the scheduler reads from.
type CategorySource interface {
	GetCategoriesByStage(ctx context.Context, stage store.Stage, limit, maxErrors int) ([]store.Category, error)
	GetCategory(ctx context.Context, id int64) (store.Category, bool, error)
	CountPending(ctx context.Context, maxErrors int) (int64, error)
	TodayCost(ctx context.Context) (float64, error)
}

// Config carries the scheduler knobs. Batch size and worker pool size are
// independent settings.
type Config struct {
	BatchSize       int
	Workers         int
	MaxErrors       int
	DailyBudget     float64
	InterStagePause time.Duration
	IdleInterval    time.Duration
	ErrorBackoff    time.Duration
	ScheduleCron    string
}

// Report summarizes one full pipeline pass.
type Report struct {
	PriceProcessed     int
	PriceFailed        int
	DimensionProcessed int
	DimensionFailed    int
	ProductProcessed   int
	ProductFailed      int
}

// Total returns how many categories were touched in the pass.
func (r Report) Total() int {
	return r.PriceProcessed + r.PriceFailed +
		r.DimensionProcessed + r.DimensionFailed +
		r.ProductProcessed + r.ProductFailed
}

// Scheduler drives the three stages over eligible categories with bounded
// worker pools.
type Scheduler struct {
	cfg       Config
	store     CategorySource
	price     StageEngine
	dimension StageEngine
	product   StageEngine
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New builds a scheduler. telemetry may be nil.
func New(cfg Config, src CategorySource, price, dimension, product StageEngine, tel *telemetry.Telemetry) *Scheduler {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.Workers < 1 {
		cfg.Workers = 3
	}
	if cfg.MaxErrors < 1 {
		cfg.MaxErrors = 3
	}
	if cfg.InterStagePause == 0 {
		cfg.InterStagePause = 2 * time.Second
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = time.Hour
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 5 * time.Minute
	}
	return &Scheduler{
		cfg:       cfg,
		store:     src,
		price:     price,
		dimension: dimension,
		product:   product,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

func (s *Scheduler) engineFor(stage store.Stage) (StageEngine, string, error) {
	switch stage {
	case store.StageNew:
		return s.price, "price_range", nil
	case store.StagePriced:
		return s.dimension, "dimension", nil
	case store.StageDimensioned:
		return s.product, "product", nil
	default:
		return nil, "", fmt.Errorf("no engine for stage %q", stage)
	}
}

// batchSizing returns the batch and pool sizes for a stage. Product
// selection runs at half batch and half pool because every category fans
// out into a grid of backend calls. override replaces the configured batch
// size when positive; the selection halving still applies on top.
func (s *Scheduler) batchSizing(stage store.Stage, override int) (batch, workers int) {
	batch = s.cfg.BatchSize
	if override > 0 {
		batch = override
	}
	workers = s.cfg.Workers
	if stage == store.StageDimensioned {
		if batch = batch / 2; batch < 1 {
			batch = 1
		}
		if workers = workers / 2; workers < 1 {
			workers = 1
		}
	}
	return batch, workers
}

// ProcessStage runs one batch of the given stage through its engine and
// reports how many categories succeeded and failed.
func (s *Scheduler) ProcessStage(ctx context.Context, stage store.Stage) (processed, failed int, err error) {
	return s.ProcessStageBatch(ctx, stage, 0)
}

// ProcessStageBatch is ProcessStage with an explicit batch size, for
// operator-triggered runs. batch <= 0 uses the configured size.
func (s *Scheduler) ProcessStageBatch(ctx context.Context, stage store.Stage, batch int) (processed, failed int, err error) {
	engine, name, err := s.engineFor(stage)
	if err != nil {
		return 0, 0, err
	}
	batch, workers := s.batchSizing(stage, batch)

	cats, err := s.store.GetCategoriesByStage(ctx, stage, batch, s.cfg.MaxErrors)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch %s batch: %w", name, err)
	}
	if len(cats) == 0 {
		return 0, 0, nil
	}
	s.logger.Printf("stage %s: processing %d categories with %d workers", name, len(cats), workers)

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
		mu  sync.Mutex
	)
	for _, cat := range cats {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(cat store.Category) {
			defer wg.Done()
			defer func() { <-sem }()

			perr := engine.Process(ctx, cat)
			mu.Lock()
			if perr != nil {
				failed++
				s.logger.Printf("stage %s: category %d failed: %v", name, cat.ID, perr)
			} else {
				processed++
			}
			mu.Unlock()
			if s.telemetry != nil {
				s.telemetry.RecordCategory(name, perr == nil)
			}
		}(cat)
	}
	wg.Wait()
	return processed, failed, ctx.Err()
}

// RunFullPipeline runs one batch of every stage in order with a short pause
// between stages. It refuses to start when today's ledger cost has reached
// the daily budget.
func (s *Scheduler) RunFullPipeline(ctx context.Context) (Report, error) {
	var rep Report

	if s.cfg.DailyBudget > 0 {
		cost, err := s.store.TodayCost(ctx)
		if err != nil {
			return rep, fmt.Errorf("check daily budget: %w", err)
		}
		if cost >= s.cfg.DailyBudget {
			s.logger.Printf("daily budget reached (%.2f >= %.2f), skipping pass", cost, s.cfg.DailyBudget)
			return rep, nil
		}
	}

	stages := []store.Stage{store.StageNew, store.StagePriced, store.StageDimensioned}
	for i, stage := range stages {
		if i > 0 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-time.After(s.cfg.InterStagePause):
			}
		}
		processed, failed, err := s.ProcessStage(ctx, stage)
		if err != nil {
			return rep, err
		}
		switch stage {
		case store.StageNew:
			rep.PriceProcessed, rep.PriceFailed = processed, failed
		case store.StagePriced:
			rep.DimensionProcessed, rep.DimensionFailed = processed, failed
		case store.StageDimensioned:
			rep.ProductProcessed, rep.ProductFailed = processed, failed
		}
	}
	return rep, nil
}

// RunContinuous loops full pipeline passes until ctx is done. When nothing
// is pending it sleeps until the next cron occurrence (or the idle
// interval); failures back off before the next attempt.
func (s *Scheduler) RunContinuous(ctx context.Context) {
	s.logger.Printf("continuous mode started")
	var cron *cronexpr.Expression
	if s.cfg.ScheduleCron != "" {
		var err error
		cron, err = cronexpr.Parse(s.cfg.ScheduleCron)
		if err != nil {
			s.logger.Printf("invalid schedule_cron %q, using idle interval: %v", s.cfg.ScheduleCron, err)
			cron = nil
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		rep, err := s.RunFullPipeline(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.logger.Printf("pipeline pass failed: %v", err)
			wait = s.cfg.ErrorBackoff
		default:
			pending, perr := s.store.CountPending(ctx, s.cfg.MaxErrors)
			if perr != nil {
				s.logger.Printf("pending count failed: %v", perr)
				wait = s.cfg.ErrorBackoff
				break
			}
			if pending == 0 {
				wait = s.idleWait(cron)
				s.logger.Printf("all work done, sleeping %v", wait)
			} else {
				s.logger.Printf("pass done (%d touched), %d categories pending", rep.Total(), pending)
				wait = time.Minute
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) idleWait(cron *cronexpr.Expression) time.Duration {
	if cron != nil {
		next := cron.Next(time.Now())
		if !next.IsZero() {
			return time.Until(next)
		}
	}
	return s.cfg.IdleInterval
}

// ProcessCategory runs selected stages for one category regardless of batch
// eligibility, for operator-triggered runs. action is one of price,
// dimension, product or all. Stage order is still enforced by the category
// flags.
func (s *Scheduler) ProcessCategory(ctx context.Context, id int64, action string) error {
	cat, ok, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("category %d not found", id)
	}

	run := func(eng StageEngine, name string) error {
		err := eng.Process(ctx, cat)
		if s.telemetry != nil {
			s.telemetry.RecordCategory(name, err == nil)
		}
		if err != nil {
			return err
		}
		// Reload so the next stage sees the updated flags.
		cat, ok, err = s.store.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("category %d disappeared", id)
		}
		return nil
	}

	switch action {
	case "price":
		return run(s.price, "price_range")
	case "dimension":
		return run(s.dimension, "dimension")
	case "product":
		return run(s.product, "product")
	case "all":
		if !cat.PriceRangesGenerated {
			if err := run(s.price, "price_range"); err != nil {
				return err
			}
		}
		if !cat.DimensionsGenerated {
			if err := run(s.dimension, "dimension"); err != nil {
				return err
			}
		}
		if !cat.ProductsSelected {
			if err := run(s.product, "product"); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}
