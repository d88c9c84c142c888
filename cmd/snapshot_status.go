package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/monitoring"
)

var snapshotStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report published snapshot health",
	Long: `Reports the published snapshot's version, age, and contents. When an
authority database is configured, also reports recent build outcomes and
resolution drift.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Gazetteer.SnapshotDir == "" {
			return eris.New("snapshot status: gazetteer.snapshot_dir is required")
		}

		var pool db.Pool
		if cfg.Authority.DatabaseURL != "" {
			p, err := authorityPool(ctx)
			if err != nil {
				return err
			}
			defer p.Close()
			pool = p
		} else {
			zap.L().Info("no authority configured, reporting snapshot metrics only")
		}

		collector := monitoring.NewCollector(pool, monitoring.DirStatter{Dir: cfg.Gazetteer.SnapshotDir})
		metrics, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "snapshot status")
		}

		formatStatus(os.Stdout, metrics, pool != nil)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotStatusCmd)
}

// formatStatus writes a tabular health report. Authority-backed rows are
// omitted when no database was consulted.
func formatStatus(out io.Writer, m *monitoring.MetricsSnapshot, withAuthority bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if m.SnapshotMissing {
		_, _ = fmt.Fprintln(w, "SNAPSHOT\tnone published")
	} else {
		_, _ = fmt.Fprintf(w, "SNAPSHOT\tv%d\n", m.SnapshotVersion)
		_, _ = fmt.Fprintf(w, "  age\t%.1fh\n", m.SnapshotAgeHours)
		_, _ = fmt.Fprintf(w, "  places\t%d\n", m.SnapshotPlaces)
	}

	if withAuthority {
		_, _ = fmt.Fprintf(w, "BUILDS (last %dh)\t%d total\n", m.LookbackHours, m.SyncTotal)
		_, _ = fmt.Fprintf(w, "  complete\t%d\n", m.SyncComplete)
		_, _ = fmt.Fprintf(w, "  failed\t%d\n", m.SyncFailed)
		_, _ = fmt.Fprintf(w, "  building\t%d\n", m.SyncBuilding)

		_, _ = fmt.Fprintf(w, "DRIFT (last %dh)\t%d names\n", m.LookbackHours, m.DriftNames)
		_, _ = fmt.Fprintf(w, "  unknown to authority\t%d\n", m.DriftUnmatched)
		if m.DriftNames > 0 {
			_, _ = fmt.Fprintf(w, "  authority hit rate\t%.0f%%\n", m.DriftHitRate*100)
		}
	}

	_ = w.Flush()
}
