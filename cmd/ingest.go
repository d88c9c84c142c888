package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/resilience"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Authority database loaders",
	Long:  "Loads GeoNames extracts and administrative boundary shapefiles into the PostGIS authority, from which snapshots are built.",
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// authorityPool creates a pgxpool.Pool for the authority database using the
// pool sizing from config.
func authorityPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Authority.DatabaseURL
	if dsn == "" {
		return nil, eris.New("authority: no database_url configured (set authority.database_url)")
	}

	pool, err := db.Connect(ctx, dsn, &db.PoolConfig{
		MaxConns: cfg.Authority.MaxConns,
		MinConns: cfg.Authority.MinConns,
	}, nil)
	if err != nil {
		return nil, eris.Wrap(err, "authority: connect")
	}

	fmt.Println("Connected to authority database")
	return pool, nil
}

// breakerConfig maps the authority config onto circuit breaker settings.
func breakerConfig() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(cfg.Authority.BreakerFailures, cfg.Authority.BreakerCooldown)
}
