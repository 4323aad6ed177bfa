package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/DoublePerpetual/BestGoods/internal/llm"
	"github.com/DoublePerpetual/BestGoods/internal/quota"
	"github.com/DoublePerpetual/BestGoods/internal/store"
	"github.com/DoublePerpetual/BestGoods/internal/telemetry"
)

// Backend is the slice of the LLM client the engines need.
type Backend interface {
	Complete(ctx context.Context, system, user string) (*llm.Completion, error)
	Model() string
}

// Ledger records backend call attempts.
type Ledger interface {
	InsertCallLog(ctx context.Context, l store.CallLog) error
}

// Caller wraps one backend with the cross-cutting call machinery: rate
// limiting, the daily quota, the call ledger and telemetry. Each stage
// engine owns a Caller configured with its own limiter and timeout.
type Caller struct {
	stage     string
	backend   Backend
	limiter   *Limiter
	quota     quota.Counter
	ledger    Ledger
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewCaller wires a stage's call path. quota and telemetry may be nil.
func NewCaller(stage string, backend Backend, limiter *Limiter, q quota.Counter, ledger Ledger, tel *telemetry.Telemetry, logger *log.Logger) *Caller {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Caller{
		stage:     stage,
		backend:   backend,
		limiter:   limiter,
		quota:     q,
		ledger:    ledger,
		telemetry: tel,
		logger:    logger,
	}
}

// Call performs one rate-limited backend call and appends a ledger row for
// the attempt. Failed attempts are logged with zero tokens and zero cost.
// A used-up daily quota comes back as a Permanent error so retry loops
// stop immediately.
func (c *Caller) Call(ctx context.Context, categoryID *int64, system, user string) (*llm.Completion, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if c.quota != nil {
		if err := c.quota.Take(ctx); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				return nil, Permanent(err)
			}
			// A broken quota backend should not halt the pipeline.
			c.logger.Printf("quota check failed, proceeding: %v", err)
		}
	}

	start := time.Now()
	comp, err := c.backend.Complete(ctx, system, user)
	elapsed := time.Since(start)

	if err != nil {
		c.appendLedger(ctx, store.CallLog{
			CategoryID:     categoryID,
			APIProvider:    llm.ProviderName,
			ModelName:      c.backend.Model(),
			ResponseTimeMs: int(elapsed.Milliseconds()),
			Status:         store.CallStatusFailed,
			ErrorMessage:   err.Error(),
		})
		if c.telemetry != nil {
			c.telemetry.RecordCall(telemetry.CallEvent{Stage: c.stage, Latency: elapsed})
		}
		return nil, err
	}

	c.appendLedger(ctx, store.CallLog{
		CategoryID:     categoryID,
		APIProvider:    llm.ProviderName,
		ModelName:      c.backend.Model(),
		InputTokens:    comp.InputTokens,
		OutputTokens:   comp.OutputTokens,
		Cost:           comp.Cost,
		ResponseTimeMs: int(comp.Latency.Milliseconds()),
		Status:         store.CallStatusSuccess,
	})
	if c.telemetry != nil {
		c.telemetry.RecordCall(telemetry.CallEvent{
			Stage:   c.stage,
			Success: true,
			Tokens:  int64(comp.InputTokens + comp.OutputTokens),
			Cost:    comp.Cost,
			Latency: comp.Latency,
		})
	}
	return comp, nil
}

func (c *Caller) appendLedger(ctx context.Context, l store.CallLog) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.InsertCallLog(ctx, l); err != nil {
		c.logger.Printf("failed to append call ledger row: %v", err)
	}
}
