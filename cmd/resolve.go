package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/ingest"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/priors"
	"github.com/pressassoc/dateline/internal/resolver"
)

var (
	resolveInput         string
	resolveOutput        string
	resolveWithAuthority bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Disambiguate place mentions from article batches",
	Long: `Resolve reads article batches from a JSON file (or stdin with "-"),
disambiguates every place mention against the current gazetteer snapshot,
and writes the results as JSON to --output or stdout.

With --with-authority, snapshot misses are queued to the authority database
in the background and recorded as drift for the next snapshot build.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "resolve"))

		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		batches, err := readBatches(resolveInput)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			log.Info("no article batches in input, nothing to resolve")
			return nil
		}

		snap, err := gazetteer.OpenCurrent(cfg.Gazetteer.SnapshotDir,
			gazetteer.WithFuzzyThreshold(cfg.Scoring.FuzzyThreshold))
		if err != nil {
			return eris.Wrap(err, "resolve: open snapshot")
		}
		defer snap.Close() //nolint:errcheck

		opts, err := priorOptions()
		if err != nil {
			return err
		}

		var bf *gazetteer.Backfill
		if resolveWithAuthority {
			if err := cfg.Validate("backfill"); err != nil {
				return err
			}
			pool, err := authorityPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			auth, err := gazetteer.NewAuthority(ctx, pool, breakerConfig())
			if err != nil {
				return eris.Wrap(err, "resolve: connect authority")
			}
			bf = gazetteer.NewBackfill(auth,
				cfg.Authority.BackfillPerSec,
				cfg.Authority.BackfillBurst,
				cfg.Authority.BackfillQueue,
				gazetteer.WithDriftFunc(ingest.RecordDrift(pool)),
			)

			bfCtx, bfStop := context.WithCancel(ctx)
			defer bfStop()
			go func() { _ = bf.Run(bfCtx) }()

			opts = append(opts, resolver.WithBackfill(bf))
		}

		svc := resolver.New(snap, cfg, opts...)

		log.Info("resolving batches",
			zap.Int("batches", len(batches)),
			zap.Int("snapshot_version", snap.Version()),
		)

		results, err := svc.ResolveAll(ctx, batches)
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		if err := writeResults(resolveOutput, results); err != nil {
			return err
		}

		if bf != nil {
			drainBackfill(ctx, bf, 5*time.Second)
			stats := bf.Stats()
			log.Info("backfill summary",
				zap.Int64("enqueued", stats.Enqueued),
				zap.Int64("processed", stats.Processed),
				zap.Int64("drifts", stats.Drifts),
				zap.Int64("dropped", stats.Dropped),
			)
		}

		resolved, total := countResolved(results)
		fmt.Printf("Resolved %d/%d mentions across %d articles\n", resolved, total, len(batches))
		return nil
	},
}

// drainBackfill waits for queued authority lookups to finish so a short
// CLI run still records its drift. The timeout caps how long exit is
// delayed; anything still queued afterwards is dropped.
func drainBackfill(ctx context.Context, bf *gazetteer.Backfill, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if bf.Stats().QueueLen == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			zap.L().Warn("exiting with backfill requests still queued",
				zap.Int("queued", bf.Stats().QueueLen))
			return
		case <-tick.C:
		}
	}
}

func init() {
	resolveCmd.Flags().StringVar(&resolveInput, "input", "", "article batch JSON file, or - for stdin (required)")
	resolveCmd.Flags().StringVar(&resolveOutput, "output", "", "results JSON file (default stdout)")
	resolveCmd.Flags().BoolVar(&resolveWithAuthority, "with-authority", false, "queue snapshot misses to the authority database")
	_ = resolveCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(resolveCmd)
}

// priorOptions loads the configured editorial prior tables. Unconfigured
// paths are simply skipped; a configured path that fails to load is an error.
func priorOptions() ([]resolver.Option, error) {
	var opts []resolver.Option

	if path := cfg.Priors.KindCuesFile; path != "" {
		kc, err := priors.LoadKindCues(path)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: load kind cues")
		}
		opts = append(opts, resolver.WithKindCues(kc))
	}
	if path := cfg.Priors.PublisherSheet; path != "" {
		pp, err := priors.LoadPublisherPriors(path)
		if err != nil {
			return nil, eris.Wrap(err, "resolve: load publisher priors")
		}
		opts = append(opts, resolver.WithPublisherPriors(pp))
	}

	return opts, nil
}

// readBatches parses the input file into article batches. "-" reads stdin.
func readBatches(path string) ([]model.ArticleBatch, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read input %s", path)
	}

	var batches []model.ArticleBatch
	if err := json.Unmarshal(data, &batches); err != nil {
		return nil, eris.Wrap(err, "resolve: parse input")
	}
	return batches, nil
}

// writeResults marshals per-batch results to the output path, or stdout
// when the path is empty.
func writeResults(path string, results [][]model.Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return eris.Wrap(err, "resolve: marshal results")
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "resolve: write output %s", path)
	}
	return nil
}

func countResolved(results [][]model.Result) (resolved, total int) {
	for _, batch := range results {
		for _, r := range batch {
			total++
			if r.Status == model.StatusResolved {
				resolved++
			}
		}
	}
	return resolved, total
}
