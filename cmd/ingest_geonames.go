package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/ingest"
)

var ingestGeonamesCmd = &cobra.Command{
	Use:   "geonames",
	Short: "Load a GeoNames dump into the authority",
	Long: `Loads a GeoNames places dump (and optionally alternateNames) into the
authority database. Sources may be local files, local zips, or http(s)/ftp
URLs; defaults come from the ingest config section.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest.geonames"))

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		pool, err := authorityPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest geonames: migrate")
		}

		opts := ingest.GeoNamesOptions{
			PlacesPath:         cfg.Ingest.GeoNamesPlaces,
			AlternateNamesPath: cfg.Ingest.GeoNamesAlternates,
			TempDir:            cfg.Ingest.TempDir,
			MinPopulation:      cfg.Ingest.MinPopulation,
			Langs:              cfg.Ingest.AliasLangs,
		}
		if v, _ := cmd.Flags().GetString("places"); v != "" {
			opts.PlacesPath = v
		}
		if v, _ := cmd.Flags().GetString("alternates"); v != "" {
			opts.AlternateNamesPath = v
		}
		if cmd.Flags().Changed("min-population") {
			opts.MinPopulation, _ = cmd.Flags().GetInt64("min-population")
		}

		log.Info("loading geonames",
			zap.String("places", opts.PlacesPath),
			zap.String("alternates", opts.AlternateNamesPath),
			zap.Int64("min_population", opts.MinPopulation),
		)

		report, err := ingest.LoadGeoNames(ctx, pool, opts)
		if err != nil {
			return eris.Wrap(err, "ingest geonames")
		}

		fmt.Printf("Loaded %d places and %d aliases in %s (%d rows skipped)\n",
			report.MergedPlaces, report.MergedAliases,
			report.Elapsed.Round(time.Second), report.SkippedRows)
		return nil
	},
}

func init() {
	ingestGeonamesCmd.Flags().String("places", "", "places dump path or URL (default from config)")
	ingestGeonamesCmd.Flags().String("alternates", "", "alternateNames path or URL (default from config)")
	ingestGeonamesCmd.Flags().Int64("min-population", 0, "populated-place population floor (default from config)")
	ingestCmd.AddCommand(ingestGeonamesCmd)
}
