package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
)

// BoundaryOptions configures a boundary shapefile load.
type BoundaryOptions struct {
	// Path locates the shapefile: a local .shp, a local .zip holding one,
	// or an http(s)/ftp URL to such a zip.
	Path string

	// Source labels the load and scopes re-staging, e.g. "ne-admin0".
	Source string

	// IDField names the shapefile attribute carrying the GeoNames id each
	// feature joins on. Natural Earth ships this as gn_id.
	IDField string

	// TempDir receives downloads and zip extractions.
	TempDir string

	// BatchSize bounds COPY batches (default 50,000).
	BatchSize int
}

// BoundaryReport summarizes a finished boundary load.
type BoundaryReport struct {
	Staged  int64
	Applied int64
	Skipped int
	Elapsed time.Duration
}

// LoadBoundaries stages polygon features from a shapefile and attaches them
// to gazetteer places by GeoNames id. Features without a usable id or
// polygon geometry are counted and skipped; re-running replaces the source's
// staged rows and re-applies.
func LoadBoundaries(ctx context.Context, pool db.Pool, opts BoundaryOptions) (*BoundaryReport, error) {
	if opts.Path == "" || opts.Source == "" {
		return nil, eris.New("ingest: boundary path and source are required")
	}
	if opts.IDField == "" {
		opts.IDField = "gn_id"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "dateline-boundaries")
	}

	log := zap.L().With(
		zap.String("component", "ingest.boundaries"),
		zap.String("source", opts.Source),
	)
	start := time.Now()

	shpPath, err := resolveShapefile(ctx, opts)
	if err != nil {
		return nil, err
	}

	rows, skipped, err := parseBoundaryFeatures(shpPath, opts.IDField, opts.Source)
	if err != nil {
		return nil, err
	}
	log.Info("boundary shapefile parsed",
		zap.String("path", shpPath),
		zap.Int("features", len(rows)),
		zap.Int("skipped", skipped),
	)

	report := &BoundaryReport{Skipped: skipped}

	report.Staged, err = stageBoundaries(ctx, pool, opts.Source, rows, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	report.Applied, err = applyBoundaries(ctx, pool, opts.Source)
	if err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)

	log.Info("boundary load complete",
		zap.Int64("staged", report.Staged),
		zap.Int64("applied", report.Applied),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// stageBoundaries replaces the source's staged rows with a fresh COPY.
func stageBoundaries(ctx context.Context, pool db.Pool, source string, rows [][]any, batchSize int) (int64, error) {
	if _, err := pool.Exec(ctx,
		`DELETE FROM gazetteer.staging_boundaries WHERE source = $1`, source); err != nil {
		return 0, eris.Wrap(err, "ingest: clear staged boundaries")
	}

	var staged int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx,
			pgx.Identifier{"gazetteer", "staging_boundaries"},
			[]string{"external_id", "source", "ewkb"},
			pgx.CopyFromRows(rows[i:end]),
		)
		if err != nil {
			return staged, eris.Wrapf(err, "ingest: copy boundaries (batch %d-%d)", i, end)
		}
		staged += n
	}
	return staged, nil
}

// applyBoundaries attaches staged geometry to places by GeoNames id.
func applyBoundaries(ctx context.Context, pool db.Pool, source string) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE gazetteer.places p
		SET boundary = ST_Multi(ST_GeomFromEWKB(b.ewkb)), updated_at = now()
		FROM gazetteer.staging_boundaries b
		WHERE b.source = $1 AND p.external_ids->>'geonames' = b.external_id`,
		source)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: apply boundaries")
	}
	return tag.RowsAffected(), nil
}

// resolveShapefile turns the configured path into a local .shp, downloading
// and extracting as needed.
func resolveShapefile(ctx context.Context, opts BoundaryOptions) (string, error) {
	return resolveSourceFile(ctx, opts.Path, opts.TempDir, opts.Source, ".shp")
}

// parseBoundaryFeatures reads polygon features and their join ids into COPY
// rows for gazetteer.staging_boundaries.
func parseBoundaryFeatures(shpPath, idField, source string) ([][]any, int, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "ingest: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	idIdx := -1
	var available []string
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		available = append(available, name)
		if strings.EqualFold(name, idField) {
			idIdx = i
		}
	}
	if idIdx < 0 {
		return nil, 0, eris.Errorf("ingest: shapefile has no %q field (fields: %s)",
			idField, strings.Join(available, ", "))
	}

	var rows [][]any
	var skipped int
	seen := make(map[int64]bool)
	for reader.Next() {
		_, shape := reader.Shape()

		raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(idIdx), "\x00"))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			// Natural Earth writes -1 for features without a GeoNames id.
			skipped++
			continue
		}
		if seen[id] {
			skipped++
			continue
		}

		blob, err := polygonEWKB(shape)
		if err != nil || blob == nil {
			skipped++
			continue
		}

		seen[id] = true
		rows = append(rows, []any{strconv.FormatInt(id, 10), source, blob})
	}
	return rows, skipped, nil
}

// polygonEWKB converts a shapefile polygon to EWKB multipolygon bytes with
// SRID 4326. Non-polygon shapes return nil.
func polygonEWKB(shape shp.Shape) ([]byte, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil, nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}
	if mp.NumPolygons() == 0 {
		return nil, nil
	}

	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: encode boundary")
	}
	return data, nil
}
