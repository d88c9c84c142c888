package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/fetcher"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
)

// defaultBatchSize bounds COPY batches across the loaders.
const defaultBatchSize = 50000

// GeoNames main-table column indexes.
const (
	gnID         = 0
	gnName       = 1
	gnLat        = 4
	gnLng        = 5
	gnClass      = 6
	gnCode       = 7
	gnCountry    = 8
	gnAdmin1     = 10
	gnAdmin2     = 11
	gnPopulation = 14
	gnModified   = 18
	gnColumns    = 19
)

// alternateNames column indexes. Rows legitimately stop after the name;
// columns past anName may be absent.
const (
	anID         = 0
	anGeonameID  = 1
	anLang       = 2
	anName       = 3
	anPreferred  = 4
	anShort      = 5
	anColloquial = 6
	anHistoric   = 7
)

// aliasDropLangs are the GeoNames pseudo-languages that never hold a name a
// news article would use: URLs, postal codes, airport codes, and catalog ids.
var aliasDropLangs = map[string]bool{
	"link":    true,
	"post":    true,
	"iata":    true,
	"icao":    true,
	"faac":    true,
	"wkdt":    true,
	"unlc":    true,
	"fr_1793": true,
}

var stagingPlaceColumns = []string{
	"geoname_id", "name", "folded_name", "kind", "lat", "lng",
	"country_code", "admin1_code", "admin2_code", "population", "modified",
}

var stagingAliasColumns = []string{
	"alternate_id", "geoname_id", "lang", "alias", "folded_alias", "is_preferred", "is_short",
}

// GeoNamesOptions configures a GeoNames load.
type GeoNamesOptions struct {
	// PlacesPath is the main table, e.g. allCountries.txt or a
	// single-country extract. Local path, local .zip, or http(s)/ftp URL.
	PlacesPath string

	// AlternateNamesPath is alternateNames.txt, in the same forms as
	// PlacesPath. Empty skips alias loading.
	AlternateNamesPath string

	// TempDir receives downloads and zip extractions.
	TempDir string

	// MinPopulation drops populated places (P class) below the threshold.
	// Administrative rows always load so admin paths stay connected.
	MinPopulation int64

	// Langs lists alias languages to keep beyond untagged names and
	// abbreviations. Default: en.
	Langs []string

	// ExtraClasses admits additional GeoNames feature classes (e.g. "T",
	// "H") as kind "other". A and P are always considered.
	ExtraClasses []string

	// BatchSize bounds COPY batches (default 50,000).
	BatchSize int
}

// GeoNamesReport summarizes a finished load.
type GeoNamesReport struct {
	StagedPlaces  int64
	StagedAliases int64
	SkippedRows   int64
	MergedPlaces  int64
	MergedAliases int64
	Elapsed       time.Duration
}

// LoadGeoNames stages a GeoNames dump into the authority and promotes it
// into gazetteer.places. The merge runs countries first and leaves last so
// each level can resolve its parents into admin_path ids. Re-running with
// the same dump is a no-op beyond refreshed updated_at stamps.
func LoadGeoNames(ctx context.Context, pool db.Pool, opts GeoNamesOptions) (*GeoNamesReport, error) {
	if opts.PlacesPath == "" {
		return nil, eris.New("ingest: places path is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if len(opts.Langs) == 0 {
		opts.Langs = []string{"en"}
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "dateline-geonames")
	}

	log := zap.L().With(zap.String("component", "ingest.geonames"))
	start := time.Now()
	report := &GeoNamesReport{}

	var err error
	opts.PlacesPath, err = resolveSourceFile(ctx, opts.PlacesPath, opts.TempDir, "geonames", ".txt")
	if err != nil {
		return nil, err
	}
	if opts.AlternateNamesPath != "" {
		opts.AlternateNamesPath, err = resolveSourceFile(ctx, opts.AlternateNamesPath, opts.TempDir, "geonames", ".txt")
		if err != nil {
			return nil, err
		}
	}

	if err := truncateStaging(ctx, pool); err != nil {
		return nil, err
	}

	staged, skipped, err := stagePlaces(ctx, pool, opts)
	if err != nil {
		return nil, err
	}
	report.StagedPlaces = staged
	report.SkippedRows = skipped
	log.Info("geonames places staged",
		zap.Int64("staged", staged),
		zap.Int64("skipped", skipped),
	)

	if opts.AlternateNamesPath != "" {
		stagedAliases, err := stageAlternateNames(ctx, pool, opts)
		if err != nil {
			return nil, err
		}
		report.StagedAliases = stagedAliases
		log.Info("geonames aliases staged", zap.Int64("staged", stagedAliases))
	}

	merged, err := mergeStagedPlaces(ctx, pool)
	if err != nil {
		return nil, err
	}
	report.MergedPlaces = merged

	mergedAliases, err := mergeStagedAliases(ctx, pool)
	if err != nil {
		return nil, err
	}
	report.MergedAliases = mergedAliases

	report.Elapsed = time.Since(start)
	log.Info("geonames load complete",
		zap.Int64("places", report.MergedPlaces),
		zap.Int64("aliases", report.MergedAliases),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func truncateStaging(ctx context.Context, pool db.Pool) error {
	for _, table := range []string{"staging_geonames", "staging_alternate_names"} {
		sql := fmt.Sprintf("TRUNCATE %s", pgx.Identifier{"gazetteer", table}.Sanitize())
		if _, err := pool.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "ingest: truncate gazetteer.%s", table)
		}
	}
	return nil
}

func stagePlaces(ctx context.Context, pool db.Pool, opts GeoNamesOptions) (staged, skipped int64, err error) {
	f, err := os.Open(opts.PlacesPath)
	if err != nil {
		return 0, 0, eris.Wrap(err, "ingest: open places file")
	}
	defer f.Close()

	// Own cancel scope so an early return stops the producer goroutine.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := fetcher.StreamTSV(sctx, f, fetcher.TSVOptions{})

	extra := make(map[string]bool, len(opts.ExtraClasses))
	for _, c := range opts.ExtraClasses {
		extra[c] = true
	}

	batch := make([][]any, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := pool.CopyFrom(ctx,
			pgx.Identifier{"gazetteer", "staging_geonames"},
			stagingPlaceColumns,
			pgx.CopyFromRows(batch),
		)
		if err != nil {
			return eris.Wrap(err, "ingest: copy staged places")
		}
		staged += n
		batch = batch[:0]
		return nil
	}

	for rec := range rowCh {
		row, ok := parseGeoNamesRow(rec, opts.MinPopulation, extra)
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, row)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return staged, skipped, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return staged, skipped, eris.Wrap(err, "ingest: stream places file")
	}
	return staged, skipped, flush()
}

func stageAlternateNames(ctx context.Context, pool db.Pool, opts GeoNamesOptions) (staged int64, err error) {
	f, err := os.Open(opts.AlternateNamesPath)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: open alternate names file")
	}
	defer f.Close()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := fetcher.StreamTSV(sctx, f, fetcher.TSVOptions{})

	langs := make(map[string]bool, len(opts.Langs))
	for _, l := range opts.Langs {
		langs[l] = true
	}

	batch := make([][]any, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := pool.CopyFrom(ctx,
			pgx.Identifier{"gazetteer", "staging_alternate_names"},
			stagingAliasColumns,
			pgx.CopyFromRows(batch),
		)
		if err != nil {
			return eris.Wrap(err, "ingest: copy staged aliases")
		}
		staged += n
		batch = batch[:0]
		return nil
	}

	for rec := range rowCh {
		row, ok := parseAlternateRow(rec, langs)
		if !ok {
			continue
		}
		batch = append(batch, row)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return staged, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return staged, eris.Wrap(err, "ingest: stream alternate names file")
	}
	return staged, flush()
}

// parseGeoNamesRow converts one dump row into a staging tuple, or reports it
// unloadable. Feature classes outside A, P, and extraClasses are dropped, as
// are populated places under minPopulation.
func parseGeoNamesRow(rec []string, minPopulation int64, extraClasses map[string]bool) ([]any, bool) {
	if len(rec) < gnColumns {
		return nil, false
	}
	id, err := strconv.ParseInt(rec[gnID], 10, 64)
	if err != nil {
		return nil, false
	}
	name := rec[gnName]
	folded := normalize.Fold(name)
	if folded == "" {
		return nil, false
	}
	lat, err := strconv.ParseFloat(rec[gnLat], 64)
	if err != nil {
		return nil, false
	}
	lng, err := strconv.ParseFloat(rec[gnLng], 64)
	if err != nil {
		return nil, false
	}

	class := rec[gnClass]
	var kind model.PlaceKind
	switch {
	case class == "A" || class == "P":
		kind = kindFor(class, rec[gnCode])
	case extraClasses[class]:
		kind = model.KindOther
	default:
		return nil, false
	}

	// GeoNames writes 0 for unknown population.
	population, _ := strconv.ParseInt(rec[gnPopulation], 10, 64)
	if kind == model.KindCity && population < minPopulation {
		return nil, false
	}

	var modified any
	if t, err := time.Parse("2006-01-02", rec[gnModified]); err == nil {
		modified = t
	}

	return []any{
		id, name, folded, string(kind), lat, lng,
		rec[gnCountry], rec[gnAdmin1], rec[gnAdmin2], population, modified,
	}, true
}

func parseAlternateRow(rec []string, langs map[string]bool) ([]any, bool) {
	if len(rec) <= anName {
		return nil, false
	}
	id, err := strconv.ParseInt(rec[anID], 10, 64)
	if err != nil {
		return nil, false
	}
	geonameID, err := strconv.ParseInt(rec[anGeonameID], 10, 64)
	if err != nil {
		return nil, false
	}

	lang := rec[anLang]
	if aliasDropLangs[lang] {
		return nil, false
	}
	if lang != "" && lang != "abbr" && !langs[lang] {
		return nil, false
	}
	if optField(rec, anColloquial) == "1" || optField(rec, anHistoric) == "1" {
		return nil, false
	}

	alias := rec[anName]
	folded := normalize.Fold(alias)
	if folded == "" {
		return nil, false
	}

	return []any{
		id, geonameID, lang, alias, folded,
		optField(rec, anPreferred) == "1", optField(rec, anShort) == "1",
	}, true
}

func optField(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// kindFor maps a GeoNames feature class and code onto the canonical kinds.
func kindFor(featureClass, featureCode string) model.PlaceKind {
	switch featureClass {
	case "A":
		switch {
		case featureCode == "ADM1":
			return model.KindAdmin1
		case featureCode == "ADM2":
			return model.KindAdmin2
		case strings.HasPrefix(featureCode, "PCL"):
			return model.KindCountry
		default:
			return model.KindOther
		}
	case "P":
		return model.KindCity
	default:
		return model.KindOther
	}
}

// Promotion statements, one administrative level at a time so parents exist
// before children resolve their admin_path. Each keys on the geonames
// external id, so re-promotion updates in place.
const mergeCountriesSQL = `
	INSERT INTO gazetteer.places (name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code)
	SELECT s.name, s.folded_name, s.kind, s.lat, s.lng, NULLIF(s.population, 0),
	       '{}'::bigint[],
	       jsonb_build_object('geonames', s.geoname_id::text),
	       s.country_code
	FROM gazetteer.staging_geonames s
	WHERE s.kind = 'country'
	ON CONFLICT ((external_ids->>'geonames')) WHERE external_ids ? 'geonames'
	DO UPDATE SET
		name = EXCLUDED.name,
		folded_name = EXCLUDED.folded_name,
		kind = EXCLUDED.kind,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		population = EXCLUDED.population,
		country_code = EXCLUDED.country_code,
		updated_at = now()`

const mergeAdmin1SQL = `
	INSERT INTO gazetteer.places (name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code)
	SELECT s.name, s.folded_name, s.kind, s.lat, s.lng, NULLIF(s.population, 0),
	       array_remove(ARRAY[c.id], NULL),
	       jsonb_build_object('geonames', s.geoname_id::text),
	       s.country_code
	FROM gazetteer.staging_geonames s
	LEFT JOIN LATERAL (
		SELECT id FROM gazetteer.places
		WHERE kind = 'country' AND country_code = s.country_code
		ORDER BY population DESC NULLS LAST, id
		LIMIT 1
	) c ON true
	WHERE s.kind = 'admin1'
	ON CONFLICT ((external_ids->>'geonames')) WHERE external_ids ? 'geonames'
	DO UPDATE SET
		name = EXCLUDED.name,
		folded_name = EXCLUDED.folded_name,
		kind = EXCLUDED.kind,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		population = EXCLUDED.population,
		admin_path = EXCLUDED.admin_path,
		country_code = EXCLUDED.country_code,
		updated_at = now()`

const mergeAdmin2SQL = `
	INSERT INTO gazetteer.places (name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code)
	SELECT s.name, s.folded_name, s.kind, s.lat, s.lng, NULLIF(s.population, 0),
	       array_remove(ARRAY[c.id, p1.id], NULL),
	       jsonb_build_object('geonames', s.geoname_id::text),
	       s.country_code
	FROM gazetteer.staging_geonames s
	LEFT JOIN LATERAL (
		SELECT id FROM gazetteer.places
		WHERE kind = 'country' AND country_code = s.country_code
		ORDER BY population DESC NULLS LAST, id
		LIMIT 1
	) c ON true
	LEFT JOIN gazetteer.staging_geonames a1
		ON a1.kind = 'admin1' AND s.admin1_code <> ''
		AND a1.country_code = s.country_code AND a1.admin1_code = s.admin1_code
	LEFT JOIN gazetteer.places p1 ON p1.external_ids->>'geonames' = a1.geoname_id::text
	WHERE s.kind = 'admin2'
	ON CONFLICT ((external_ids->>'geonames')) WHERE external_ids ? 'geonames'
	DO UPDATE SET
		name = EXCLUDED.name,
		folded_name = EXCLUDED.folded_name,
		kind = EXCLUDED.kind,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		population = EXCLUDED.population,
		admin_path = EXCLUDED.admin_path,
		country_code = EXCLUDED.country_code,
		updated_at = now()`

const mergeLeavesSQL = `
	INSERT INTO gazetteer.places (name, folded_name, kind, lat, lng, population, admin_path, external_ids, country_code)
	SELECT s.name, s.folded_name, s.kind, s.lat, s.lng, NULLIF(s.population, 0),
	       array_remove(ARRAY[c.id, p1.id, p2.id], NULL),
	       jsonb_build_object('geonames', s.geoname_id::text),
	       s.country_code
	FROM gazetteer.staging_geonames s
	LEFT JOIN LATERAL (
		SELECT id FROM gazetteer.places
		WHERE kind = 'country' AND country_code = s.country_code
		ORDER BY population DESC NULLS LAST, id
		LIMIT 1
	) c ON true
	LEFT JOIN gazetteer.staging_geonames a1
		ON a1.kind = 'admin1' AND s.admin1_code <> ''
		AND a1.country_code = s.country_code AND a1.admin1_code = s.admin1_code
	LEFT JOIN gazetteer.places p1 ON p1.external_ids->>'geonames' = a1.geoname_id::text
	LEFT JOIN gazetteer.staging_geonames a2
		ON a2.kind = 'admin2' AND s.admin2_code <> ''
		AND a2.country_code = s.country_code
		AND a2.admin1_code = s.admin1_code AND a2.admin2_code = s.admin2_code
	LEFT JOIN gazetteer.places p2 ON p2.external_ids->>'geonames' = a2.geoname_id::text
	WHERE s.kind IN ('city', 'other')
	ON CONFLICT ((external_ids->>'geonames')) WHERE external_ids ? 'geonames'
	DO UPDATE SET
		name = EXCLUDED.name,
		folded_name = EXCLUDED.folded_name,
		kind = EXCLUDED.kind,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		population = EXCLUDED.population,
		admin_path = EXCLUDED.admin_path,
		country_code = EXCLUDED.country_code,
		updated_at = now()`

const mergeAliasesSQL = `
	INSERT INTO gazetteer.place_aliases (place_id, alias, lang)
	SELECT DISTINCT ON (p.id, s.folded_alias)
	       p.id, s.folded_alias, NULLIF(s.lang, '')
	FROM gazetteer.staging_alternate_names s
	JOIN gazetteer.places p ON p.external_ids->>'geonames' = s.geoname_id::text
	WHERE s.folded_alias <> '' AND s.folded_alias <> p.folded_name
	ORDER BY p.id, s.folded_alias, s.is_preferred DESC, s.alternate_id
	ON CONFLICT (place_id, alias) DO NOTHING`

func mergeStagedPlaces(ctx context.Context, pool db.Pool) (int64, error) {
	var total int64
	steps := []struct {
		name string
		sql  string
	}{
		{"countries", mergeCountriesSQL},
		{"admin1", mergeAdmin1SQL},
		{"admin2", mergeAdmin2SQL},
		{"leaves", mergeLeavesSQL},
	}
	for _, step := range steps {
		tag, err := pool.Exec(ctx, step.sql)
		if err != nil {
			return total, eris.Wrapf(err, "ingest: merge %s", step.name)
		}
		total += tag.RowsAffected()
		zap.L().Debug("geonames merge step done",
			zap.String("step", step.name),
			zap.Int64("rows", tag.RowsAffected()),
		)
	}
	return total, nil
}

func mergeStagedAliases(ctx context.Context, pool db.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, mergeAliasesSQL)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: merge aliases")
	}
	return tag.RowsAffected(), nil
}
