package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration is sufficient for the given mode.
// Modes: "resolve" (snapshot-backed disambiguation), "ingest" (snapshot
// builds), "backfill" (authority consultation), "serve" (ops endpoint).
func (c *Config) Validate(mode string) error {
	var errs []string

	errs = append(errs, c.validateScoring()...)
	errs = append(errs, c.validateCoherence()...)
	errs = append(errs, c.validateResolver()...)

	switch mode {
	case "resolve":
		if c.Gazetteer.SnapshotDir == "" {
			errs = append(errs, "gazetteer.snapshot_dir is required")
		}
	case "ingest":
		if c.Authority.DatabaseURL == "" {
			errs = append(errs, "authority.database_url is required")
		}
		if c.Ingest.TempDir == "" {
			errs = append(errs, "ingest.temp_dir is required")
		}
	case "backfill":
		if c.Authority.DatabaseURL == "" {
			errs = append(errs, "authority.database_url is required")
		}
		if c.Authority.BackfillPerSec <= 0 {
			errs = append(errs, "authority.backfill_per_sec must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Gazetteer.SnapshotDir == "" {
			errs = append(errs, "gazetteer.snapshot_dir is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateScoring() []string {
	var errs []string

	weights := map[string]float64{
		"scoring.name_match_weight":   c.Scoring.NameMatchWeight,
		"scoring.population_weight":   c.Scoring.PopulationWeight,
		"scoring.kind_prior_weight":   c.Scoring.KindPriorWeight,
		"scoring.source_prior_weight": c.Scoring.SourcePriorWeight,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	sum := c.Scoring.NameMatchWeight + c.Scoring.PopulationWeight +
		c.Scoring.KindPriorWeight + c.Scoring.SourcePriorWeight
	if sum <= 0 {
		errs = append(errs, "scoring weight sum must be > 0")
	} else if math.Abs(sum-1) > 0.01 {
		errs = append(errs, fmt.Sprintf("scoring weights should sum to 1.0, got %.2f", sum))
	}

	if c.Scoring.FuzzyThreshold < 0 || c.Scoring.FuzzyThreshold > 1 {
		errs = append(errs, "scoring.fuzzy_threshold must be between 0 and 1")
	}
	if c.Scoring.MaxCandidates < 1 {
		errs = append(errs, "scoring.max_candidates must be >= 1")
	}
	if c.Scoring.NilPopulationSignal <= 0 || c.Scoring.NilPopulationSignal >= 1 {
		errs = append(errs, "scoring.nil_population_signal must be between 0 and 1 exclusive")
	}

	return errs
}

func (c *Config) validateCoherence() []string {
	var errs []string

	if c.Coherence.ContainmentBonus < 0 {
		errs = append(errs, "coherence.containment_bonus must be >= 0")
	}
	if c.Coherence.ProximityBonus < 0 {
		errs = append(errs, "coherence.proximity_bonus must be >= 0")
	}
	if c.Coherence.ProximityBonus > c.Coherence.ContainmentBonus {
		errs = append(errs, "coherence.proximity_bonus must not exceed containment_bonus")
	}
	if c.Coherence.ProximityRadiusKM <= 0 {
		errs = append(errs, "coherence.proximity_radius_km must be > 0")
	}
	if c.Coherence.MaxBonus < 0 {
		errs = append(errs, "coherence.max_bonus must be >= 0")
	}

	return errs
}

func (c *Config) validateResolver() []string {
	var errs []string

	if c.Resolver.ConfidenceCutoff < 0 || c.Resolver.ConfidenceCutoff > 1 {
		errs = append(errs, "resolver.confidence_cutoff must be between 0 and 1")
	}
	if c.Resolver.MaxAlternates < 0 {
		errs = append(errs, "resolver.max_alternates must be >= 0")
	}
	// Zero disables the per-article soft deadline.
	if c.Resolver.MentionBudgetMS < 0 {
		errs = append(errs, "resolver.mention_budget_ms must be >= 0")
	}
	if c.Resolver.BatchWorkers < 1 || c.Resolver.BatchWorkers > 64 {
		errs = append(errs, "resolver.batch_workers must be between 1 and 64")
	}

	return errs
}
