package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/DoublePerpetual/BestGoods/config"
	"github.com/DoublePerpetual/BestGoods/internal/engine"
	"github.com/DoublePerpetual/BestGoods/internal/llm"
	"github.com/DoublePerpetual/BestGoods/internal/quota"
	"github.com/DoublePerpetual/BestGoods/internal/scheduler"
	"github.com/DoublePerpetual/BestGoods/internal/store"
	"github.com/DoublePerpetual/BestGoods/internal/telemetry"
)

// NewEcho builds the echo instance with the shared middleware: panic
// recovery, CORS, a unified JSON error handler, /healthz and /metrics.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Run wires the whole service and starts the admin server: migrations,
// store, quota, telemetry, the three stage engines, the scheduler and the
// HTTP surface. Blocks until the server stops.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	counter, err := NewQuotaCounter(ctx, cfg)
	if err != nil {
		return err
	}

	tel := telemetry.New(ctx, prometheus.DefaultRegisterer, 10*time.Minute)

	sched := BuildScheduler(cfg, st, counter, tel)

	e := NewEcho()
	api := e.Group("/api")
	(&StatsHandler{Store: st, MaxErrors: cfg.Pipeline.MaxRetries}).Register(api)
	(&CategoriesHandler{Store: st, MaxErrors: cfg.Pipeline.MaxRetries}).Register(api)
	(&CallLogsHandler{Store: st}).Register(api)
	(&ExportHandler{Store: st}).Register(api)
	(&ProcessHandler{Runner: sched}).Register(api)

	if cfg.Pipeline.AutoStart {
		go sched.RunContinuous(ctx)
	}

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":10080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// NewQuotaCounter builds the daily call quota: shared via redis when
// configured, otherwise tracked in process.
func NewQuotaCounter(ctx context.Context, cfg *config.Config) (quota.Counter, error) {
	addr := cfg.Storage.Redis.Addr()
	if addr == "" {
		return quota.NewLocalCounter(cfg.Pipeline.CallsPerDay), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	return quota.NewRedisCounter(rdb, cfg.Pipeline.CallsPerDay), nil
}

// BuildScheduler assembles the three stage engines and the scheduler from
// configuration. The pipeline command reuses it for headless runs.
func BuildScheduler(cfg *config.Config, st *store.Store, counter quota.Counter, tel *telemetry.Telemetry) *scheduler.Scheduler {
	standard := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model,
		cfg.LLM.MaxTokens, cfg.LLM.Temperature, cfg.LLM.CostPerMillionTokens, cfg.LLM.Timeout)
	selection := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model,
		cfg.LLM.MaxTokens, cfg.LLM.Temperature, cfg.LLM.CostPerMillionTokens, cfg.LLM.SelectionTimeout)

	standardRetry := engine.Policy{Attempts: cfg.Pipeline.MaxRetries, Delay: cfg.Pipeline.RetryDelay}
	selectionRetry := engine.Policy{Attempts: cfg.Pipeline.MaxRetries, Delay: cfg.Pipeline.SelectionRetryDelay}

	priceCaller := engine.NewCaller("price_range", standard,
		engine.NewLimiter(cfg.Pipeline.CallsPerMinute), counter, st, tel, nil)
	dimCaller := engine.NewCaller("dimension", standard,
		engine.NewLimiter(cfg.Pipeline.CallsPerMinute), counter, st, tel, nil)
	prodCaller := engine.NewCaller("product", selection,
		engine.NewLimiter(cfg.Pipeline.SelectionCallsPerMinute), counter, st, tel, nil)

	price := engine.NewPriceRangeEngine(priceCaller, st, standardRetry)
	dim := engine.NewDimensionEngine(dimCaller, st, standardRetry)
	prod := engine.NewProductEngine(prodCaller, st, selectionRetry, time.Second)

	return scheduler.New(scheduler.Config{
		BatchSize:    cfg.Pipeline.BatchSize,
		Workers:      cfg.Pipeline.Workers,
		MaxErrors:    cfg.Pipeline.MaxRetries,
		DailyBudget:  cfg.Pipeline.DailyBudget,
		IdleInterval: cfg.Pipeline.IdleInterval,
		ScheduleCron: cfg.Pipeline.ScheduleCron,
	}, st, price, dim, prod, tel)
}
