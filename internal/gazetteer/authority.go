package gazetteer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/resilience"
)

// authorityColumns lists the place columns selected by authority queries.
const authorityColumns = `id, name, kind, lat, lng, population, admin_path, external_ids, country_code`

// Authority is a Store backed by the PostGIS authority database. It is the
// source of truth that snapshots are built from; the resolver only consults
// it through the rate-limited backfill worker, never on the hot path.
type Authority struct {
	pool    db.Pool
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	version int
}

// NewAuthority wraps a connection pool in a circuit-breaker-guarded Store.
// The gazetteer version is read once at construction; authority content only
// changes through ingest syncs, which construct fresh handles.
func NewAuthority(ctx context.Context, pool db.Pool, breakerCfg resilience.CircuitBreakerConfig) (*Authority, error) {
	if breakerCfg.ShouldTrip == nil {
		// A missing place is an answer, not an outage.
		breakerCfg.ShouldTrip = func(err error) bool {
			return !errors.Is(err, ErrNotFound)
		}
	}
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("gazetteer: authority breaker state change",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}

	a := &Authority{
		pool:    pool,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		retry:   resilience.DefaultRetryConfig(),
	}

	var version int
	err := pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM gazetteer.sync_log WHERE status = 'complete'`).Scan(&version)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: read authority version")
	}
	a.version = version
	return a, nil
}

// guard runs fn through the breaker with retries, translating an open
// circuit into ErrGazetteerUnavailable.
func (a *Authority) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, a.retry, fn)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return eris.Wrap(ErrGazetteerUnavailable, "authority circuit open")
	}
	return err
}

// LookupByName mirrors the snapshot's tiered lookup against the authority
// tables, using pg_trgm similarity for the fuzzy tier.
func (a *Authority) LookupByName(ctx context.Context, folded string) ([]NameMatch, error) {
	if folded == "" {
		return nil, nil
	}

	var matches []NameMatch
	err := a.guard(ctx, func(ctx context.Context) error {
		var err error
		matches, err = a.lookupTiered(ctx, folded)
		return err
	})
	return matches, err
}

func (a *Authority) lookupTiered(ctx context.Context, folded string) ([]NameMatch, error) {
	exact, err := a.queryMatches(ctx, model.TierExact,
		`SELECT `+authorityColumns+`, 1.0 AS sim
		 FROM gazetteer.places WHERE folded_name = $1`, folded)
	if err != nil || len(exact) > 0 {
		return exact, err
	}

	alias, err := a.queryMatches(ctx, model.TierAlias,
		`SELECT DISTINCT `+authorityColumns+`, 1.0 AS sim
		 FROM gazetteer.places p JOIN gazetteer.place_aliases a ON a.place_id = p.id
		 WHERE a.alias = $1`, folded)
	if err != nil || len(alias) > 0 {
		return alias, err
	}

	return a.queryMatches(ctx, model.TierFuzzy,
		`SELECT `+authorityColumns+`, similarity(folded_name, $1) AS sim
		 FROM gazetteer.places
		 WHERE similarity(folded_name, $1) > $2
		 ORDER BY sim DESC, id ASC
		 LIMIT $3`, folded, DefaultFuzzyThreshold, trigramScanLimit)
}

func (a *Authority) queryMatches(ctx context.Context, tier model.MatchTier, sql string, args ...any) ([]NameMatch, error) {
	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "gazetteer: authority %s lookup", tier)
	}
	defer rows.Close()

	var matches []NameMatch
	for rows.Next() {
		p, sim, err := scanAuthorityPlace(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, NameMatch{Place: *p, Tier: tier, Similarity: sim})
	}
	return matches, eris.Wrapf(rows.Err(), "gazetteer: authority %s iterate", tier)
}

// GetPlace returns the full authority record for a place id.
func (a *Authority) GetPlace(ctx context.Context, id model.PlaceID) (*model.CanonicalPlace, error) {
	var place *model.CanonicalPlace
	err := a.guard(ctx, func(ctx context.Context) error {
		rows, err := a.pool.Query(ctx,
			`SELECT `+authorityColumns+`, 1.0 AS sim FROM gazetteer.places WHERE id = $1`, int64(id))
		if err != nil {
			return eris.Wrap(err, "gazetteer: authority get place")
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return eris.Wrap(err, "gazetteer: authority get place")
			}
			return eris.Wrapf(ErrNotFound, "place %d", id)
		}
		p, _, err := scanAuthorityPlace(rows)
		if err != nil {
			return err
		}

		aliasRows, err := a.pool.Query(ctx,
			`SELECT alias FROM gazetteer.place_aliases WHERE place_id = $1 ORDER BY alias`, int64(id))
		if err != nil {
			return eris.Wrap(err, "gazetteer: authority get aliases")
		}
		defer aliasRows.Close()
		for aliasRows.Next() {
			var alias string
			if err := aliasRows.Scan(&alias); err != nil {
				return eris.Wrap(err, "gazetteer: authority scan alias")
			}
			p.Aliases = append(p.Aliases, alias)
		}
		if err := aliasRows.Err(); err != nil {
			return eris.Wrap(err, "gazetteer: authority iterate aliases")
		}

		place = p
		return nil
	})
	return place, err
}

// GetAdminPath returns the ancestor chain for a place, root first.
func (a *Authority) GetAdminPath(ctx context.Context, id model.PlaceID) ([]model.PlaceID, error) {
	var path []model.PlaceID
	err := a.guard(ctx, func(ctx context.Context) error {
		var raw []int64
		err := a.pool.QueryRow(ctx,
			`SELECT admin_path FROM gazetteer.places WHERE id = $1`, int64(id)).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "place %d", id)
		}
		if err != nil {
			return eris.Wrap(err, "gazetteer: authority admin path")
		}
		path = make([]model.PlaceID, len(raw))
		for i, p := range raw {
			path[i] = model.PlaceID(p)
		}
		return nil
	})
	return path, err
}

// IsWithin checks the admin path array, then falls back to an ST_Contains
// test against the container's boundary.
func (a *Authority) IsWithin(ctx context.Context, id, container model.PlaceID) (bool, error) {
	if id == container {
		return false, nil
	}

	var within bool
	err := a.guard(ctx, func(ctx context.Context) error {
		err := a.pool.QueryRow(ctx,
			`SELECT ($2 = ANY(p.admin_path))
			        OR (c.boundary IS NOT NULL AND ST_Contains(c.boundary, p.geom))
			 FROM gazetteer.places p, gazetteer.places c
			 WHERE p.id = $1 AND c.id = $2`,
			int64(id), int64(container)).Scan(&within)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "place %d or %d", id, container)
		}
		return eris.Wrap(err, "gazetteer: authority containment")
	})
	return within, err
}

// DistanceMeters returns the geodesic distance between two places.
func (a *Authority) DistanceMeters(ctx context.Context, idA, idB model.PlaceID) (float64, error) {
	var meters float64
	err := a.guard(ctx, func(ctx context.Context) error {
		err := a.pool.QueryRow(ctx,
			`SELECT ST_Distance(p.geom::geography, q.geom::geography)
			 FROM gazetteer.places p, gazetteer.places q
			 WHERE p.id = $1 AND q.id = $2`,
			int64(idA), int64(idB)).Scan(&meters)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "place %d or %d", idA, idB)
		}
		return eris.Wrap(err, "gazetteer: authority distance")
	})
	return meters, err
}

// Version returns the sync id the authority reported at construction.
func (a *Authority) Version() int {
	return a.version
}

// BreakerState exposes the circuit state for the ops endpoint.
func (a *Authority) BreakerState() resilience.CircuitState {
	return a.breaker.State()
}

func (a *Authority) Close() error {
	a.pool.Close()
	return nil
}

func scanAuthorityPlace(rows pgx.Rows) (*model.CanonicalPlace, float64, error) {
	var p model.CanonicalPlace
	var id int64
	var population *int64
	var adminPath []int64
	var externalIDs map[string]string
	var country *string
	var sim float64

	if err := rows.Scan(&id, &p.Name, &p.Kind, &p.Lat, &p.Lng, &population, &adminPath, &externalIDs, &country, &sim); err != nil {
		return nil, 0, eris.Wrap(err, "gazetteer: scan authority place")
	}

	p.ID = model.PlaceID(id)
	p.Population = population
	p.ExternalIDs = externalIDs
	if country != nil {
		p.CountryCode = *country
	}
	if len(adminPath) > 0 {
		p.AdminPath = make([]model.PlaceID, len(adminPath))
		for i, a := range adminPath {
			p.AdminPath[i] = model.PlaceID(a)
		}
	}
	return &p, sim, nil
}
