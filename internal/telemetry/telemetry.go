package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry aggregates per-stage call metrics and cost in process and
// mirrors them into Prometheus collectors for the /metrics endpoint.
type Telemetry struct {
	logger *log.Logger

	mu      sync.RWMutex
	metrics *Metrics

	callsTotal      *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	categoriesTotal *prometheus.CounterVec
}

// Metrics holds the in-process aggregate counters.
type Metrics struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	TotalTokens     int64
	TotalCost       float64

	StageCalls   map[string]int64
	StageTokens  map[string]int64
	StageCost    map[string]float64
	StageLatency map[string]time.Duration

	CategoriesProcessed map[string]int64
	CategoriesFailed    map[string]int64
}

// CallEvent records one backend call attempt.
type CallEvent struct {
	Stage   string
	Success bool
	Tokens  int64
	Cost    float64
	Latency time.Duration
}

// New creates a telemetry instance registering its collectors on reg
// (pass prometheus.DefaultRegisterer in production). When reportInterval is
// positive a background goroutine logs a summary at that cadence until ctx
// is done.
func New(ctx context.Context, reg prometheus.Registerer, reportInterval time.Duration) *Telemetry {
	factory := promauto.With(reg)
	t := &Telemetry{
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageCalls:          make(map[string]int64),
			StageTokens:         make(map[string]int64),
			StageCost:           make(map[string]float64),
			StageLatency:        make(map[string]time.Duration),
			CategoriesProcessed: make(map[string]int64),
			CategoriesFailed:    make(map[string]int64),
		},
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bestgoods_backend_calls_total",
			Help: "Backend call attempts by stage and outcome.",
		}, []string{"stage", "status"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bestgoods_backend_tokens_total",
			Help: "Tokens consumed by stage.",
		}, []string{"stage"}),
		costTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bestgoods_backend_cost_total",
			Help: "Accumulated backend cost by stage.",
		}, []string{"stage"}),
		categoriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bestgoods_categories_total",
			Help: "Categories that finished a stage, by outcome.",
		}, []string{"stage", "outcome"}),
	}
	if reportInterval > 0 {
		go t.startReporting(ctx, reportInterval)
	}
	return t
}

// RecordCall records one backend call attempt.
func (t *Telemetry) RecordCall(ev CallEvent) {
	status := "success"
	if !ev.Success {
		status = "failed"
	}
	t.callsTotal.WithLabelValues(ev.Stage, status).Inc()
	t.tokensTotal.WithLabelValues(ev.Stage).Add(float64(ev.Tokens))
	t.costTotal.WithLabelValues(ev.Stage).Add(ev.Cost)

	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.metrics
	m.TotalCalls++
	if ev.Success {
		m.SuccessfulCalls++
	} else {
		m.FailedCalls++
	}
	m.TotalTokens += ev.Tokens
	m.TotalCost += ev.Cost
	m.StageCalls[ev.Stage]++
	m.StageTokens[ev.Stage] += ev.Tokens
	m.StageCost[ev.Stage] += ev.Cost
	n := m.StageCalls[ev.Stage]
	if n == 1 {
		m.StageLatency[ev.Stage] = ev.Latency
	} else {
		total := m.StageLatency[ev.Stage] * time.Duration(n-1)
		m.StageLatency[ev.Stage] = (total + ev.Latency) / time.Duration(n)
	}
}

// RecordCategory records a category finishing a stage.
func (t *Telemetry) RecordCategory(stage string, success bool) {
	outcome := "processed"
	if !success {
		outcome = "failed"
	}
	t.categoriesTotal.WithLabelValues(stage, outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	if success {
		t.metrics.CategoriesProcessed[stage]++
	} else {
		t.metrics.CategoriesFailed[stage]++
	}
}

// Snapshot returns a copy of the aggregate counters.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := Metrics{
		TotalCalls:          t.metrics.TotalCalls,
		SuccessfulCalls:     t.metrics.SuccessfulCalls,
		FailedCalls:         t.metrics.FailedCalls,
		TotalTokens:         t.metrics.TotalTokens,
		TotalCost:           t.metrics.TotalCost,
		StageCalls:          make(map[string]int64, len(t.metrics.StageCalls)),
		StageTokens:         make(map[string]int64, len(t.metrics.StageTokens)),
		StageCost:           make(map[string]float64, len(t.metrics.StageCost)),
		StageLatency:        make(map[string]time.Duration, len(t.metrics.StageLatency)),
		CategoriesProcessed: make(map[string]int64, len(t.metrics.CategoriesProcessed)),
		CategoriesFailed:    make(map[string]int64, len(t.metrics.CategoriesFailed)),
	}
	for k, v := range t.metrics.StageCalls {
		out.StageCalls[k] = v
	}
	for k, v := range t.metrics.StageTokens {
		out.StageTokens[k] = v
	}
	for k, v := range t.metrics.StageCost {
		out.StageCost[k] = v
	}
	for k, v := range t.metrics.StageLatency {
		out.StageLatency[k] = v
	}
	for k, v := range t.metrics.CategoriesProcessed {
		out.CategoriesProcessed[k] = v
	}
	for k, v := range t.metrics.CategoriesFailed {
		out.CategoriesFailed[k] = v
	}
	return out
}

func (t *Telemetry) startReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m := t.Snapshot()
		t.logger.Printf("Calls: total=%d success=%d failed=%d, Tokens=%d, Cost=$%.4f",
			m.TotalCalls, m.SuccessfulCalls, m.FailedCalls, m.TotalTokens, m.TotalCost)
		for stage, calls := range m.StageCalls {
			t.logger.Printf("  stage=%s calls=%d tokens=%d cost=$%.4f avg_latency=%v",
				stage, calls, m.StageTokens[stage], m.StageCost[stage], m.StageLatency[stage])
		}
	}
}
