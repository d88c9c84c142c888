// Package ingest owns the authority side of the gazetteer lifecycle: schema
// migrations, GeoNames and boundary loads, duplicate merges, snapshot builds,
// and recording backfill drift. Everything here runs offline; the resolver
// only ever sees the immutable snapshots this package publishes.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
)

// BuildOptions configures a snapshot build.
type BuildOptions struct {
	// SnapshotDir is the directory holding snapshot files and the CURRENT
	// pointer.
	SnapshotDir string

	// Source labels the build in sync_log and snapshot_meta, e.g.
	// "geonames-2026-08".
	Source string

	// SkipPublish writes and verifies the snapshot without repointing
	// CURRENT at it.
	SkipPublish bool
}

// BuildReport summarizes a finished snapshot build.
type BuildReport struct {
	Version    int
	Path       string
	Places     int
	Aliases    int
	Edges      int
	Boundaries int
	Trigrams   int
	Elapsed    time.Duration
}

// authorityRow is one place pulled from the authority, with the folded name
// kept alongside since the canonical model does not carry it.
type authorityRow struct {
	place    model.CanonicalPlace
	folded   string
	external map[string]string
}

type aliasRow struct {
	placeID model.PlaceID
	alias   string
	lang    *string
}

type boundaryRow struct {
	placeID model.PlaceID
	ewkb    []byte
}

// BuildSnapshot exports the authority gazetteer into a self-contained SQLite
// snapshot. The build is registered in gazetteer.sync_log: the new row's id
// becomes the snapshot version, and the row is marked complete only after the
// snapshot file is written, verified, and (unless SkipPublish) published.
func BuildSnapshot(ctx context.Context, pool db.Pool, opts BuildOptions) (*BuildReport, error) {
	if opts.SnapshotDir == "" {
		return nil, eris.New("ingest: snapshot dir is required")
	}
	if opts.Source == "" {
		opts.Source = "authority"
	}

	log := zap.L().With(zap.String("component", "ingest.builder"))
	start := time.Now()

	version, err := beginSync(ctx, pool, opts.Source)
	if err != nil {
		return nil, err
	}
	log.Info("snapshot build started",
		zap.Int("version", version),
		zap.String("source", opts.Source),
	)

	// The three exports are independent reads; only the SQLite write is
	// serial.
	var (
		places     []authorityRow
		aliases    []aliasRow
		boundaries []boundaryRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		places, err = fetchPlaces(gctx, pool)
		return err
	})
	g.Go(func() error {
		var err error
		aliases, err = fetchAliases(gctx, pool)
		return err
	})
	g.Go(func() error {
		var err error
		boundaries, err = fetchBoundaries(gctx, pool)
		return err
	})
	if err := g.Wait(); err != nil {
		failSync(pool, version)
		return nil, err
	}

	report := &BuildReport{
		Version: version,
		Path:    gazetteer.SnapshotPath(opts.SnapshotDir, version),
		Places:  len(places),
		Aliases: len(aliases),
	}
	if err := writeSnapshot(ctx, report, opts.Source, places, aliases, boundaries); err != nil {
		failSync(pool, version)
		return nil, err
	}

	// Open what was just written before anyone can be pointed at it. A
	// snapshot that cannot be read back is a failed build, not a warning.
	if err := verifySnapshot(opts.SnapshotDir, version, len(places)); err != nil {
		failSync(pool, version)
		return nil, err
	}

	if !opts.SkipPublish {
		if err := gazetteer.Publish(opts.SnapshotDir, version); err != nil {
			failSync(pool, version)
			return nil, err
		}
	}

	if err := completeSync(ctx, pool, version, len(places)); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	log.Info("snapshot build finished",
		zap.Int("version", version),
		zap.Int("places", report.Places),
		zap.Int("aliases", report.Aliases),
		zap.Int("boundaries", report.Boundaries),
		zap.Int("trigrams", report.Trigrams),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func beginSync(ctx context.Context, pool db.Pool, source string) (int, error) {
	var version int
	err := pool.QueryRow(ctx,
		`INSERT INTO gazetteer.sync_log (status, source) VALUES ('building', $1) RETURNING id`,
		source).Scan(&version)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: begin sync")
	}
	return version, nil
}

func completeSync(ctx context.Context, pool db.Pool, version, placeCount int) error {
	_, err := pool.Exec(ctx,
		`UPDATE gazetteer.sync_log SET status = 'complete', place_count = $2, finished_at = now() WHERE id = $1`,
		version, placeCount)
	return eris.Wrap(err, "ingest: complete sync")
}

// failSync marks the sync_log row failed. Best effort on a fresh context so
// a cancelled build still leaves an accurate trail.
func failSync(pool db.Pool, version int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx,
		`UPDATE gazetteer.sync_log SET status = 'failed', finished_at = now() WHERE id = $1`,
		version); err != nil {
		zap.L().Warn("failed to mark sync failed",
			zap.Int("version", version),
			zap.Error(err),
		)
	}
}

func fetchPlaces(ctx context.Context, pool db.Pool) ([]authorityRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code
		FROM gazetteer.places
		ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: fetch places")
	}
	defer rows.Close()

	var out []authorityRow
	for rows.Next() {
		var (
			r          authorityRow
			id         int64
			population *int64
			adminPath  []int64
			country    *string
		)
		if err := rows.Scan(&id, &r.place.Name, &r.folded, &r.place.Kind, &r.place.Lat, &r.place.Lng,
			&population, &adminPath, &r.external, &country); err != nil {
			return nil, eris.Wrap(err, "ingest: scan place")
		}
		r.place.ID = model.PlaceID(id)
		r.place.Population = population
		if country != nil {
			r.place.CountryCode = *country
		}
		for _, a := range adminPath {
			r.place.AdminPath = append(r.place.AdminPath, model.PlaceID(a))
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "ingest: iterate places")
}

func fetchAliases(ctx context.Context, pool db.Pool) ([]aliasRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT place_id, alias, lang
		FROM gazetteer.place_aliases
		ORDER BY place_id, alias`)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: fetch aliases")
	}
	defer rows.Close()

	var out []aliasRow
	for rows.Next() {
		var (
			r  aliasRow
			id int64
		)
		if err := rows.Scan(&id, &r.alias, &r.lang); err != nil {
			return nil, eris.Wrap(err, "ingest: scan alias")
		}
		r.placeID = model.PlaceID(id)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "ingest: iterate aliases")
}

func fetchBoundaries(ctx context.Context, pool db.Pool) ([]boundaryRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, ST_AsEWKB(boundary)
		FROM gazetteer.places
		WHERE boundary IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: fetch boundaries")
	}
	defer rows.Close()

	var out []boundaryRow
	for rows.Next() {
		var (
			r  boundaryRow
			id int64
		)
		if err := rows.Scan(&id, &r.ewkb); err != nil {
			return nil, eris.Wrap(err, "ingest: scan boundary")
		}
		r.placeID = model.PlaceID(id)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "ingest: iterate boundaries")
}

// writeSnapshot materializes the export as a SQLite file. Everything goes
// through a single transaction into a .tmp path that is renamed into place
// on success, so a crashed build never leaves a plausible-looking snapshot.
func writeSnapshot(ctx context.Context, report *BuildReport, source string,
	places []authorityRow, aliases []aliasRow, boundaries []boundaryRow) error {

	if err := os.MkdirAll(filepath.Dir(report.Path), 0755); err != nil {
		return eris.Wrap(err, "ingest: create snapshot dir")
	}
	tmp := report.Path + ".tmp"
	os.Remove(tmp)

	sdb, err := sql.Open("sqlite", "file:"+tmp)
	if err != nil {
		return eris.Wrap(err, "ingest: open snapshot for write")
	}
	defer sdb.Close()

	// The file is private until renamed, so durability pragmas only slow
	// the build down.
	for _, pragma := range []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sdb.ExecContext(ctx, pragma); err != nil {
			return eris.Wrapf(err, "ingest: exec %s", pragma)
		}
	}

	if _, err := sdb.ExecContext(ctx, gazetteer.SnapshotSchema); err != nil {
		return eris.Wrap(err, "ingest: create snapshot schema")
	}

	tx, err := sdb.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "ingest: begin snapshot tx")
	}
	defer tx.Rollback()

	if err := insertPlaces(ctx, tx, report, places, foldedAliasesByPlace(aliases)); err != nil {
		return err
	}
	if err := insertAliases(ctx, tx, aliases); err != nil {
		return err
	}
	if err := insertBoundaries(ctx, tx, report, boundaries); err != nil {
		return err
	}
	if err := insertMeta(ctx, tx, report.Version, source, len(places)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "ingest: commit snapshot tx")
	}
	if err := sdb.Close(); err != nil {
		return eris.Wrap(err, "ingest: close snapshot")
	}
	if err := os.Rename(tmp, report.Path); err != nil {
		return eris.Wrap(err, "ingest: rename snapshot into place")
	}
	return nil
}

func insertPlaces(ctx context.Context, tx *sql.Tx, report *BuildReport,
	places []authorityRow, aliasesByPlace map[model.PlaceID][]string) error {

	insertPlace, err := tx.PrepareContext(ctx, `
		INSERT INTO places (id, name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "ingest: prepare place insert")
	}
	defer insertPlace.Close()

	insertEdge, err := tx.PrepareContext(ctx, `
		INSERT INTO admin_edges (place_id, ancestor_id, depth) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "ingest: prepare edge insert")
	}
	defer insertEdge.Close()

	insertTrigram, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO name_trigrams (trigram, place_id) VALUES (?, ?)`)
	if err != nil {
		return eris.Wrap(err, "ingest: prepare trigram insert")
	}
	defer insertTrigram.Close()

	for _, r := range places {
		adminJSON := "[]"
		if len(r.place.AdminPath) > 0 {
			raw, err := json.Marshal(r.place.AdminPath)
			if err != nil {
				return eris.Wrapf(err, "ingest: marshal admin path for %d", r.place.ID)
			}
			adminJSON = string(raw)
		}

		var externalJSON *string
		if len(r.external) > 0 {
			raw, err := json.Marshal(r.external)
			if err != nil {
				return eris.Wrapf(err, "ingest: marshal external ids for %d", r.place.ID)
			}
			s := string(raw)
			externalJSON = &s
		}

		if _, err := insertPlace.ExecContext(ctx,
			int64(r.place.ID), r.place.Name, r.folded, string(r.place.Kind),
			r.place.Lat, r.place.Lng, r.place.Population, adminJSON,
			externalJSON, r.place.CountryCode,
		); err != nil {
			return eris.Wrapf(err, "ingest: insert place %d", r.place.ID)
		}

		// Immediate parent gets depth 1, the root the full path length.
		for i, ancestor := range r.place.AdminPath {
			if _, err := insertEdge.ExecContext(ctx,
				int64(r.place.ID), int64(ancestor), len(r.place.AdminPath)-i,
			); err != nil {
				return eris.Wrapf(err, "ingest: insert admin edge %d->%d", r.place.ID, ancestor)
			}
			report.Edges++
		}

		seen := map[string]bool{}
		names := append([]string{r.folded}, aliasesByPlace[r.place.ID]...)
		for _, n := range names {
			for g := range normalize.Trigrams(n) {
				if seen[g] {
					continue
				}
				seen[g] = true
				if _, err := insertTrigram.ExecContext(ctx, g, int64(r.place.ID)); err != nil {
					return eris.Wrapf(err, "ingest: insert trigram for %d", r.place.ID)
				}
				report.Trigrams++
			}
		}
	}
	return nil
}

func insertAliases(ctx context.Context, tx *sql.Tx, aliases []aliasRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO place_aliases (place_id, alias, lang) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "ingest: prepare alias insert")
	}
	defer stmt.Close()

	for _, a := range aliases {
		if _, err := stmt.ExecContext(ctx, int64(a.placeID), a.alias, a.lang); err != nil {
			return eris.Wrapf(err, "ingest: insert alias %q for %d", a.alias, a.placeID)
		}
	}
	return nil
}

func insertBoundaries(ctx context.Context, tx *sql.Tx, report *BuildReport, boundaries []boundaryRow) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO boundaries (place_id, ewkb) VALUES (?, ?)`)
	if err != nil {
		return eris.Wrap(err, "ingest: prepare boundary insert")
	}
	defer stmt.Close()

	for _, b := range boundaries {
		if _, err := stmt.ExecContext(ctx, int64(b.placeID), b.ewkb); err != nil {
			return eris.Wrapf(err, "ingest: insert boundary for %d", b.placeID)
		}
		report.Boundaries++
	}
	return nil
}

func insertMeta(ctx context.Context, tx *sql.Tx, version int, source string, placeCount int) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_meta (key, value) VALUES (?, ?)`)
	if err != nil {
		return eris.Wrap(err, "ingest: prepare meta insert")
	}
	defer stmt.Close()

	meta := [][2]string{
		{"version", strconv.Itoa(version)},
		{"built_at", time.Now().UTC().Format(time.RFC3339)},
		{"source", source},
		{"place_count", strconv.Itoa(placeCount)},
	}
	for _, kv := range meta {
		if _, err := stmt.ExecContext(ctx, kv[0], kv[1]); err != nil {
			return eris.Wrapf(err, "ingest: insert meta %s", kv[0])
		}
	}
	return nil
}

// foldedAliasesByPlace groups alias text by place for trigram generation.
// Aliases arrive already folded from the authority.
func foldedAliasesByPlace(aliases []aliasRow) map[model.PlaceID][]string {
	byPlace := make(map[model.PlaceID][]string, len(aliases))
	for _, a := range aliases {
		byPlace[a.placeID] = append(byPlace[a.placeID], a.alias)
	}
	return byPlace
}

func verifySnapshot(dir string, version, wantPlaces int) error {
	snap, err := gazetteer.OpenVersion(dir, version)
	if err != nil {
		return eris.Wrapf(err, "ingest: verify snapshot v%d", version)
	}
	defer snap.Close()

	if got := snap.Meta().PlaceCount; got != wantPlaces {
		return eris.Errorf("ingest: snapshot v%d meta reports %d places, exported %d",
			version, got, wantPlaces)
	}
	return nil
}
