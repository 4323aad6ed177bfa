package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/DoublePerpetual/BestGoods/config"
	srv "github.com/DoublePerpetual/BestGoods/internal/server"
	"github.com/DoublePerpetual/BestGoods/internal/store"
	"github.com/DoublePerpetual/BestGoods/internal/telemetry"
)

func pipelineCMD() *cobra.Command {
	var cfgPath string
	var continuous bool
	var batch int

	var pipeline = &cobra.Command{
		Use:   "pipeline",
		Short: "Run pipeline passes headless, without the admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if batch > 0 {
				cfg.Pipeline.BatchSize = batch
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			if err := srv.Migrate("file://migrations", dsn, "up", 0); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			counter, err := srv.NewQuotaCounter(ctx, cfg)
			if err != nil {
				return err
			}
			tel := telemetry.New(ctx, prometheus.DefaultRegisterer, 0)
			sched := srv.BuildScheduler(cfg, st, counter, tel)

			if continuous {
				sched.RunContinuous(ctx)
				return nil
			}
			rep, err := sched.RunFullPipeline(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("price: %d ok / %d failed, dimensions: %d ok / %d failed, products: %d ok / %d failed\n",
				rep.PriceProcessed, rep.PriceFailed,
				rep.DimensionProcessed, rep.DimensionFailed,
				rep.ProductProcessed, rep.ProductFailed)
			return nil
		},
	}
	pipeline.Flags().BoolVar(&continuous, "continuous", false, "keep running until interrupted")
	pipeline.Flags().IntVar(&batch, "batch", 0, "override pipeline.batch_size for this run")
	pipeline.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file directory (default is .)")

	return pipeline
}
