package gazetteer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
	"github.com/pressassoc/dateline/internal/spatial"
)

// currentPointer is the file in the snapshot directory naming the active
// snapshot. It is replaced atomically on publish, so readers either see the
// old build or the new one, never a partial state.
const currentPointer = "CURRENT"

// trigramScanLimit caps how many places the trigram prefilter hands to the
// exact similarity pass.
const trigramScanLimit = 400

// DefaultFuzzyThreshold is the minimum trigram similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.55

// SnapshotPath returns the database filename for a snapshot version.
func SnapshotPath(dir string, version int) string {
	return filepath.Join(dir, fmt.Sprintf("gazetteer-v%06d.db", version))
}

// CurrentVersion reads the active snapshot version from the CURRENT pointer.
func CurrentVersion(dir string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(dir, currentPointer))
	if err != nil {
		return 0, eris.Wrap(err, "gazetteer: read CURRENT pointer")
	}
	name := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(name, "gazetteer-v") || !strings.HasSuffix(name, ".db") {
		return 0, eris.Errorf("gazetteer: malformed CURRENT pointer %q", name)
	}
	version, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "gazetteer-v"), ".db"))
	if err != nil {
		return 0, eris.Wrapf(err, "gazetteer: malformed CURRENT pointer %q", name)
	}
	return version, nil
}

// Publish atomically repoints CURRENT at the given snapshot version. The
// snapshot file must already exist and be fully written.
func Publish(dir string, version int) error {
	path := SnapshotPath(dir, version)
	if _, err := os.Stat(path); err != nil {
		return eris.Wrapf(err, "gazetteer: snapshot v%d not found", version)
	}

	tmp := filepath.Join(dir, currentPointer+".tmp")
	name := filepath.Base(path)
	if err := os.WriteFile(tmp, []byte(name+"\n"), 0644); err != nil {
		return eris.Wrap(err, "gazetteer: write CURRENT.tmp")
	}
	if err := os.Rename(tmp, filepath.Join(dir, currentPointer)); err != nil {
		return eris.Wrap(err, "gazetteer: rename CURRENT.tmp")
	}

	zap.L().Info("published gazetteer snapshot",
		zap.Int("version", version),
		zap.String("path", path),
	)
	return nil
}

// Meta describes a snapshot build.
type Meta struct {
	Version    int
	BuiltAt    time.Time
	Source     string
	PlaceCount int
}

// Snapshot is a read-only Store over a single immutable SQLite snapshot.
type Snapshot struct {
	db             *sql.DB
	meta           Meta
	fuzzyThreshold float64
}

// SnapshotOption customizes snapshot behavior.
type SnapshotOption func(*Snapshot)

// WithFuzzyThreshold overrides the minimum trigram similarity for fuzzy
// matches.
func WithFuzzyThreshold(threshold float64) SnapshotOption {
	return func(s *Snapshot) {
		if threshold > 0 {
			s.fuzzyThreshold = threshold
		}
	}
}

// OpenCurrent opens the snapshot named by the CURRENT pointer. A missing or
// unreadable pointer means no usable local gazetteer exists, which is
// reported as ErrGazetteerUnavailable.
func OpenCurrent(dir string, opts ...SnapshotOption) (*Snapshot, error) {
	version, err := CurrentVersion(dir)
	if err != nil {
		return nil, eris.Wrap(ErrGazetteerUnavailable, err.Error())
	}
	return OpenVersion(dir, version, opts...)
}

// OpenVersion opens a specific snapshot version read-only.
func OpenVersion(dir string, version int, opts ...SnapshotOption) (*Snapshot, error) {
	path := SnapshotPath(dir, version)
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrap(ErrGazetteerUnavailable, err.Error())
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: open snapshot")
	}
	for _, pragma := range []string{
		"PRAGMA query_only=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "gazetteer: exec %s", pragma)
		}
	}

	s := &Snapshot{db: db, fuzzyThreshold: DefaultFuzzyThreshold}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadMeta(); err != nil {
		db.Close()
		return nil, err
	}
	if s.meta.Version != version {
		zap.L().Warn("snapshot meta version differs from filename",
			zap.Int("file_version", version),
			zap.Int("meta_version", s.meta.Version),
		)
	}
	return s, nil
}

func (s *Snapshot) loadMeta() error {
	rows, err := s.db.Query(`SELECT key, value FROM snapshot_meta`)
	if err != nil {
		return eris.Wrap(err, "gazetteer: read snapshot meta")
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return eris.Wrap(err, "gazetteer: scan snapshot meta")
		}
		switch key {
		case "version":
			fmt.Sscanf(value, "%d", &s.meta.Version)
		case "built_at":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				s.meta.BuiltAt = t
			}
		case "source":
			s.meta.Source = value
		case "place_count":
			fmt.Sscanf(value, "%d", &s.meta.PlaceCount)
		}
	}
	return eris.Wrap(rows.Err(), "gazetteer: iterate snapshot meta")
}

// Meta returns the snapshot's build metadata.
func (s *Snapshot) Meta() Meta {
	return s.meta
}

// Version returns the snapshot's build version.
func (s *Snapshot) Version() int {
	return s.meta.Version
}

func (s *Snapshot) Close() error {
	return s.db.Close()
}

const placeColumns = `id, name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code`

// LookupByName implements the tiered name lookup. Tiers short-circuit:
// exact primary-name matches suppress alias matches, and alias matches
// suppress fuzzy ones.
func (s *Snapshot) LookupByName(ctx context.Context, folded string) ([]NameMatch, error) {
	if folded == "" {
		return nil, nil
	}

	exact, err := s.lookupExact(ctx, folded)
	if err != nil || len(exact) > 0 {
		return exact, err
	}

	alias, err := s.lookupAlias(ctx, folded)
	if err != nil || len(alias) > 0 {
		return alias, err
	}

	return s.lookupFuzzy(ctx, folded)
}

func (s *Snapshot) lookupExact(ctx context.Context, folded string) ([]NameMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE folded_name = ?`, folded)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: exact lookup")
	}
	defer rows.Close()

	var matches []NameMatch
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, NameMatch{Place: *p, Tier: model.TierExact, Similarity: 1.0})
	}
	return matches, eris.Wrap(rows.Err(), "gazetteer: exact lookup iterate")
}

func (s *Snapshot) lookupAlias(ctx context.Context, folded string) ([]NameMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT `+prefixColumns("p")+`
		 FROM place_aliases a JOIN places p ON p.id = a.place_id
		 WHERE a.alias = ?`, folded)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: alias lookup")
	}
	defer rows.Close()

	var matches []NameMatch
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, NameMatch{Place: *p, Tier: model.TierAlias, Similarity: 1.0})
	}
	return matches, eris.Wrap(rows.Err(), "gazetteer: alias lookup iterate")
}

// lookupFuzzy prefilters by shared trigrams, then scores the survivors with
// exact trigram similarity the way pg_trgm would.
func (s *Snapshot) lookupFuzzy(ctx context.Context, folded string) ([]NameMatch, error) {
	grams := normalize.Trigrams(folded)
	if len(grams) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(grams)), ",")
	args := make([]any, 0, len(grams)+1)
	for g := range grams {
		args = append(args, g)
	}
	args = append(args, trigramScanLimit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT place_id FROM name_trigrams
		 WHERE trigram IN (`+placeholders+`)
		 GROUP BY place_id ORDER BY COUNT(*) DESC, place_id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: trigram prefilter")
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "gazetteer: scan trigram prefilter")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "gazetteer: iterate trigram prefilter")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	places, err := s.placesByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	var matches []NameMatch
	for _, p := range places {
		sim := normalize.TrigramSimilarity(folded, p.folded)
		if sim >= s.fuzzyThreshold {
			matches = append(matches, NameMatch{Place: p.place, Tier: model.TierFuzzy, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Place.ID < matches[j].Place.ID
	})
	return matches, nil
}

type foldedPlace struct {
	place  model.CanonicalPlace
	folded string
}

func (s *Snapshot) placesByID(ctx context.Context, ids []int64) ([]foldedPlace, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: fetch places by id")
	}
	defer rows.Close()

	var out []foldedPlace
	for rows.Next() {
		var fp foldedPlace
		p, err := scanPlaceFolded(rows, &fp.folded)
		if err != nil {
			return nil, err
		}
		fp.place = *p
		out = append(out, fp)
	}
	return out, eris.Wrap(rows.Err(), "gazetteer: iterate places by id")
}

// GetPlace returns the full record for a place, including its aliases.
func (s *Snapshot) GetPlace(ctx context.Context, id model.PlaceID) (*model.CanonicalPlace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE id = ?`, int64(id))
	p, err := scanPlace(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT alias FROM place_aliases WHERE place_id = ? ORDER BY alias`, int64(id))
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: get aliases")
	}
	defer rows.Close()
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, eris.Wrap(err, "gazetteer: scan alias")
		}
		p.Aliases = append(p.Aliases, alias)
	}
	return p, eris.Wrap(rows.Err(), "gazetteer: iterate aliases")
}

// GetAdminPath returns the ancestor chain for a place, root first.
func (s *Snapshot) GetAdminPath(ctx context.Context, id model.PlaceID) ([]model.PlaceID, error) {
	var adminJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT admin_path FROM places WHERE id = ?`, int64(id)).Scan(&adminJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "place %d", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: admin path lookup")
	}

	var path []model.PlaceID
	if adminJSON != "" {
		if err := json.Unmarshal([]byte(adminJSON), &path); err != nil {
			return nil, eris.Wrapf(err, "gazetteer: unmarshal admin path for %d", id)
		}
	}
	return path, nil
}

// IsWithin checks the precomputed admin hierarchy first and falls back to a
// point-in-boundary test when the container has geometry.
func (s *Snapshot) IsWithin(ctx context.Context, id, container model.PlaceID) (bool, error) {
	if id == container {
		return false, nil
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM admin_edges WHERE place_id = ? AND ancestor_id = ?`,
		int64(id), int64(container)).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, eris.Wrap(err, "gazetteer: admin edge lookup")
	}

	boundary, err := s.boundary(ctx, container)
	if err != nil || boundary == nil {
		return false, err
	}

	var lat, lng float64
	err = s.db.QueryRowContext(ctx,
		`SELECT lat, lng FROM places WHERE id = ?`, int64(id)).Scan(&lat, &lng)
	if err == sql.ErrNoRows {
		return false, eris.Wrapf(ErrNotFound, "place %d", id)
	}
	if err != nil {
		return false, eris.Wrap(err, "gazetteer: point lookup")
	}

	return spatial.PointInMultiPolygon(lng, lat, boundary), nil
}

// DistanceMeters returns the haversine distance between two places.
func (s *Snapshot) DistanceMeters(ctx context.Context, a, b model.PlaceID) (float64, error) {
	var latA, lngA, latB, lngB float64
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lng FROM places WHERE id = ?`, int64(a)).Scan(&latA, &lngA)
	if err == sql.ErrNoRows {
		return 0, eris.Wrapf(ErrNotFound, "place %d", a)
	}
	if err != nil {
		return 0, eris.Wrap(err, "gazetteer: point lookup")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT lat, lng FROM places WHERE id = ?`, int64(b)).Scan(&latB, &lngB)
	if err == sql.ErrNoRows {
		return 0, eris.Wrapf(ErrNotFound, "place %d", b)
	}
	if err != nil {
		return 0, eris.Wrap(err, "gazetteer: point lookup")
	}

	return spatial.HaversineMeters(latA, lngA, latB, lngB), nil
}

func (s *Snapshot) boundary(ctx context.Context, id model.PlaceID) (*geom.MultiPolygon, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT ewkb FROM boundaries WHERE place_id = ?`, int64(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: boundary lookup")
	}
	return decodeBoundary(blob)
}

// decodeBoundary parses an EWKB blob into a multipolygon, promoting a bare
// polygon to a single-member multipolygon.
func decodeBoundary(blob []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(blob)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: decode boundary")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "gazetteer: promote polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("gazetteer: unexpected boundary geometry %T", g)
	}
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func prefixColumns(prefix string) string {
	cols := strings.Split(placeColumns, ", ")
	for i, c := range cols {
		cols[i] = prefix + "." + c
	}
	return strings.Join(cols, ", ")
}

func scanPlace(row scannable) (*model.CanonicalPlace, error) {
	var folded string
	return scanPlaceFolded(row, &folded)
}

func scanPlaceFolded(row scannable, folded *string) (*model.CanonicalPlace, error) {
	var p model.CanonicalPlace
	var id int64
	var population sql.NullInt64
	var adminJSON string
	var externalJSON, country sql.NullString

	err := row.Scan(&id, &p.Name, folded, &p.Kind, &p.Lat, &p.Lng, &population, &adminJSON, &externalJSON, &country)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: scan place")
	}

	p.ID = model.PlaceID(id)
	p.CountryCode = country.String
	if population.Valid {
		p.Population = &population.Int64
	}
	if adminJSON != "" {
		if err := json.Unmarshal([]byte(adminJSON), &p.AdminPath); err != nil {
			return nil, eris.Wrapf(err, "gazetteer: unmarshal admin path for %d", id)
		}
	}
	if externalJSON.Valid && externalJSON.String != "" {
		if err := json.Unmarshal([]byte(externalJSON.String), &p.ExternalIDs); err != nil {
			return nil, eris.Wrapf(err, "gazetteer: unmarshal external ids for %d", id)
		}
	}
	return &p, nil
}
