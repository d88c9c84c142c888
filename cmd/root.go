package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dateline",
	Short: "Place-name disambiguation for news pipelines",
	Long:  "Resolves place mentions in article text against a local gazetteer snapshot, builds and publishes snapshots from the PostGIS authority, and runs the authority ingest and dedupe jobs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
