package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/ingest"
)

var ingestBoundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Load boundary polygons into the authority",
	Long: `Loads administrative boundary polygons from a shapefile and attaches
them to gazetteer places by GeoNames id. The path may be a local .shp, a
local .zip holding one, or an http(s)/ftp URL to such a zip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest.boundaries"))

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		pool, err := authorityPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest boundaries: migrate")
		}

		opts := ingest.BoundaryOptions{
			Path:    cfg.Ingest.BoundariesPath,
			Source:  cfg.Ingest.BoundariesSource,
			IDField: cfg.Ingest.BoundaryIDField,
			TempDir: cfg.Ingest.TempDir,
		}
		if v, _ := cmd.Flags().GetString("path"); v != "" {
			opts.Path = v
		}
		if v, _ := cmd.Flags().GetString("source"); v != "" {
			opts.Source = v
		}
		if v, _ := cmd.Flags().GetString("id-field"); v != "" {
			opts.IDField = v
		}

		log.Info("loading boundaries",
			zap.String("path", opts.Path),
			zap.String("source", opts.Source),
			zap.String("id_field", opts.IDField),
		)

		report, err := ingest.LoadBoundaries(ctx, pool, opts)
		if err != nil {
			return eris.Wrap(err, "ingest boundaries")
		}

		fmt.Printf("Attached %d of %d staged boundaries in %s (%d features skipped)\n",
			report.Applied, report.Staged,
			report.Elapsed.Round(time.Second), report.Skipped)
		return nil
	},
}

func init() {
	ingestBoundariesCmd.Flags().String("path", "", "shapefile path, zip, or URL (default from config)")
	ingestBoundariesCmd.Flags().String("source", "", "source label scoping re-staging (default from config)")
	ingestBoundariesCmd.Flags().String("id-field", "", "shapefile attribute carrying the GeoNames id (default from config)")
	ingestCmd.AddCommand(ingestBoundariesCmd)
}
