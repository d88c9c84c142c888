package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/ingest"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Merge duplicate places in the authority",
	Long: `Finds places the sources loaded twice (shared external ids, or same
name and kind within close range) and merges each cluster onto its
highest-quality record. Use --dry-run to print the plan without applying.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "dedupe"))

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		pool, err := authorityPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		opts := ingest.DedupeOptions{}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		opts.ProximityMeters, _ = cmd.Flags().GetFloat64("proximity-meters")
		opts.NameSimilarity, _ = cmd.Flags().GetFloat64("name-similarity")

		log.Info("deduplicating authority places", zap.Bool("dry_run", opts.DryRun))

		report, err := ingest.Dedupe(ctx, pool, opts)
		if err != nil {
			return eris.Wrap(err, "dedupe")
		}

		if len(report.Actions) == 0 {
			fmt.Printf("No duplicates found among %d places\n", report.Examined)
			return nil
		}

		formatMergeActions(os.Stdout, report.Actions)
		verb := "Merged"
		if !report.Applied {
			verb = "Would merge"
		}
		fmt.Printf("%s %d duplicates among %d places in %s\n",
			verb, len(report.Actions), report.Examined, report.Elapsed.Round(time.Second))
		return nil
	},
}

func init() {
	dedupeCmd.Flags().Bool("dry-run", false, "plan merges without applying them")
	dedupeCmd.Flags().Float64("proximity-meters", 0, "same-place distance bound (default 10km)")
	dedupeCmd.Flags().Float64("name-similarity", 0, "trigram floor for proximity-only merges (default 0.80)")
	rootCmd.AddCommand(dedupeCmd)
}

// formatMergeActions writes the merge plan one action per row.
func formatMergeActions(out io.Writer, actions []ingest.MergeAction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SURVIVOR\tABSORBED\tREASON")

	for _, a := range actions {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\n", a.Survivor, a.Absorbed, a.Reason)
	}
	_ = w.Flush()
}
