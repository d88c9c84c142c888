package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/ingest"
)

var snapshotBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build and publish a gazetteer snapshot",
	Long: `Builds a new SQLite snapshot from the authority database, verifies it,
and atomically repoints CURRENT at it. Use --skip-publish to build and
verify without publishing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "snapshot.build"))

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		if cfg.Gazetteer.SnapshotDir == "" {
			return eris.New("snapshot build: gazetteer.snapshot_dir is required")
		}

		pool, err := authorityPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "snapshot build: migrate")
		}

		source, _ := cmd.Flags().GetString("source")
		if source == "" {
			source = "authority-" + time.Now().UTC().Format("2006-01-02")
		}
		skipPublish, _ := cmd.Flags().GetBool("skip-publish")

		log.Info("building snapshot",
			zap.String("source", source),
			zap.Bool("skip_publish", skipPublish),
		)

		report, err := ingest.BuildSnapshot(ctx, pool, ingest.BuildOptions{
			SnapshotDir: cfg.Gazetteer.SnapshotDir,
			Source:      source,
			SkipPublish: skipPublish,
		})
		if err != nil {
			return eris.Wrap(err, "snapshot build")
		}

		verb := "Published"
		if skipPublish {
			verb = "Built"
		}
		fmt.Printf("%s snapshot v%d: %d places, %d aliases, %d admin edges, %d boundaries in %s\n",
			verb, report.Version, report.Places, report.Aliases, report.Edges,
			report.Boundaries, report.Elapsed.Round(time.Second))
		return nil
	},
}

func init() {
	snapshotBuildCmd.Flags().String("source", "", "source label for sync_log (default authority-YYYY-MM-DD)")
	snapshotBuildCmd.Flags().Bool("skip-publish", false, "build and verify without repointing CURRENT")
	snapshotCmd.AddCommand(snapshotBuildCmd)
}
