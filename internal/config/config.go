package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Gazetteer  GazetteerConfig  `yaml:"gazetteer" mapstructure:"gazetteer"`
	Authority  AuthorityConfig  `yaml:"authority" mapstructure:"authority"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Coherence  CoherenceConfig  `yaml:"coherence" mapstructure:"coherence"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Priors     PriorsConfig     `yaml:"priors" mapstructure:"priors"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GazetteerConfig configures the local snapshot store.
type GazetteerConfig struct {
	SnapshotDir string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
}

// AuthorityConfig configures the PostGIS authority database and the
// background backfill worker that consults it.
type AuthorityConfig struct {
	DatabaseURL     string  `yaml:"database_url" mapstructure:"database_url"`
	MaxConns        int32   `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns        int32   `yaml:"min_conns" mapstructure:"min_conns"`
	BackfillQueue   int     `yaml:"backfill_queue" mapstructure:"backfill_queue"`
	BackfillPerSec  float64 `yaml:"backfill_per_sec" mapstructure:"backfill_per_sec"`
	BackfillBurst   int     `yaml:"backfill_burst" mapstructure:"backfill_burst"`
	BreakerFailures int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ScoringConfig holds the per-candidate feature weights and the
// candidate-generation thresholds.
type ScoringConfig struct {
	NameMatchWeight   float64 `yaml:"name_match_weight" mapstructure:"name_match_weight"`
	PopulationWeight  float64 `yaml:"population_weight" mapstructure:"population_weight"`
	KindPriorWeight   float64 `yaml:"kind_prior_weight" mapstructure:"kind_prior_weight"`
	SourcePriorWeight float64 `yaml:"source_prior_weight" mapstructure:"source_prior_weight"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	MaxCandidates     int     `yaml:"max_candidates" mapstructure:"max_candidates"`

	// NilPopulationSignal is the population signal assigned to places with
	// no recorded population. Low but nonzero so they stay rankable.
	NilPopulationSignal float64 `yaml:"nil_population_signal" mapstructure:"nil_population_signal"`
}

// CoherenceConfig holds the cross-mention bonus parameters.
type CoherenceConfig struct {
	ContainmentBonus  float64 `yaml:"containment_bonus" mapstructure:"containment_bonus"`
	ProximityBonus    float64 `yaml:"proximity_bonus" mapstructure:"proximity_bonus"`
	ProximityRadiusKM float64 `yaml:"proximity_radius_km" mapstructure:"proximity_radius_km"`
	MaxBonus          float64 `yaml:"max_bonus" mapstructure:"max_bonus"`
}

// ResolverConfig configures batch resolution behavior.
type ResolverConfig struct {
	ConfidenceCutoff float64 `yaml:"confidence_cutoff" mapstructure:"confidence_cutoff"`
	MaxAlternates    int     `yaml:"max_alternates" mapstructure:"max_alternates"`
	MentionBudgetMS  int     `yaml:"mention_budget_ms" mapstructure:"mention_budget_ms"`
	BatchWorkers     int     `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// PriorsConfig points at the editorial prior tables.
type PriorsConfig struct {
	PublisherSheet string `yaml:"publisher_sheet" mapstructure:"publisher_sheet"`
	KindCuesFile   string `yaml:"kind_cues_file" mapstructure:"kind_cues_file"`
}

// IngestConfig configures authority loads from upstream sources. Source
// fields accept local paths, local zips, or http(s)/ftp URLs.
type IngestConfig struct {
	TempDir            string   `yaml:"temp_dir" mapstructure:"temp_dir"`
	GeoNamesPlaces     string   `yaml:"geonames_places" mapstructure:"geonames_places"`
	GeoNamesAlternates string   `yaml:"geonames_alternates" mapstructure:"geonames_alternates"`
	MinPopulation      int64    `yaml:"min_population" mapstructure:"min_population"`
	AliasLangs         []string `yaml:"alias_langs" mapstructure:"alias_langs"`
	BoundariesPath     string   `yaml:"boundaries_path" mapstructure:"boundaries_path"`
	BoundariesSource   string   `yaml:"boundaries_source" mapstructure:"boundaries_source"`
	BoundaryIDField    string   `yaml:"boundary_id_field" mapstructure:"boundary_id_field"`
}

// ServerConfig configures the operational HTTP endpoint.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker and its
// alert thresholds.
type MonitoringConfig struct {
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MaxSnapshotAgeHours int    `yaml:"max_snapshot_age_hours" mapstructure:"max_snapshot_age_hours"`
	DriftAlertCount     int    `yaml:"drift_alert_count" mapstructure:"drift_alert_count"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DATELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("gazetteer.snapshot_dir", "snapshots")
	v.SetDefault("authority.max_conns", 8)
	v.SetDefault("authority.min_conns", 2)
	v.SetDefault("authority.backfill_queue", 256)
	v.SetDefault("authority.backfill_per_sec", 2.0)
	v.SetDefault("authority.backfill_burst", 4)
	v.SetDefault("authority.breaker_failures", 5)
	v.SetDefault("authority.breaker_cooldown_secs", 30)
	v.SetDefault("scoring.name_match_weight", 0.55)
	v.SetDefault("scoring.population_weight", 0.25)
	v.SetDefault("scoring.kind_prior_weight", 0.10)
	v.SetDefault("scoring.source_prior_weight", 0.10)
	v.SetDefault("scoring.fuzzy_threshold", 0.55)
	v.SetDefault("scoring.max_candidates", 20)
	v.SetDefault("scoring.nil_population_signal", 0.10)
	v.SetDefault("coherence.containment_bonus", 0.25)
	v.SetDefault("coherence.proximity_bonus", 0.10)
	v.SetDefault("coherence.proximity_radius_km", 250)
	v.SetDefault("coherence.max_bonus", 0.40)
	v.SetDefault("resolver.confidence_cutoff", 0.40)
	v.SetDefault("resolver.max_alternates", 5)
	v.SetDefault("resolver.mention_budget_ms", 100)
	v.SetDefault("resolver.batch_workers", 4)
	v.SetDefault("ingest.temp_dir", "/tmp/dateline")
	v.SetDefault("ingest.geonames_places", "https://download.geonames.org/export/dump/cities500.zip")
	v.SetDefault("ingest.geonames_alternates", "https://download.geonames.org/export/dump/alternateNames.zip")
	v.SetDefault("ingest.min_population", 500)
	v.SetDefault("ingest.alias_langs", []string{"en"})
	v.SetDefault("ingest.boundaries_source", "ne-admin0")
	v.SetDefault("ingest.boundary_id_field", "gn_id")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.max_snapshot_age_hours", 48)
	v.SetDefault("monitoring.drift_alert_count", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
