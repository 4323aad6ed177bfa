package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DoublePerpetual/BestGoods/config"
	"github.com/DoublePerpetual/BestGoods/internal/store"
)

func importCMD() *cobra.Command {
	var cfgPath string
	var file string

	var imp = &cobra.Command{
		Use:   "import",
		Short: "Bulk load category taxonomy rows from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			var rows []struct {
				Level1 string `json:"level1"`
				Level2 string `json:"level2"`
				Level3 string `json:"level3"`
			}
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			items := make([]store.CategoryImport, 0, len(rows))
			for _, r := range rows {
				items = append(items, store.CategoryImport{Level1: r.Level1, Level2: r.Level2, Level3: r.Level3})
			}

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			inserted, err := st.ImportCategories(ctx, items)
			if err != nil {
				return fmt.Errorf("import categories: %w", err)
			}
			fmt.Printf("imported %d of %d categories (duplicates and incomplete rows skipped)\n", inserted, len(items))
			return nil
		},
	}
	imp.Flags().StringVar(&file, "file", "global-categories-expanded.json", "taxonomy file to load")
	imp.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file directory (default is .)")

	return imp
}
