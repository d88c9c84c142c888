package ingest

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
	"github.com/pressassoc/dateline/internal/spatial"
)

// DedupeOptions configures the duplicate merge job.
type DedupeOptions struct {
	// DryRun plans merges without applying them.
	DryRun bool

	// ProximityMeters bounds how far apart two records of the same place
	// can sit (default 10km; gazetteer sources disagree on centroids).
	ProximityMeters float64

	// NameSimilarity is the trigram similarity floor for proximity-only
	// merges (default 0.80). Exact name matches bypass it.
	NameSimilarity float64
}

// MergeAction is one planned merge: Absorbed's aliases, external ids, and
// admin references move onto Survivor, then Absorbed is deleted. Survivor
// identity is never mutated.
type MergeAction struct {
	Survivor model.PlaceID `json:"survivor"`
	Absorbed model.PlaceID `json:"absorbed"`
	Reason   string        `json:"reason"`
}

// DedupeReport summarizes a dedupe run.
type DedupeReport struct {
	Examined int
	Actions  []MergeAction
	Applied  bool
	Elapsed  time.Duration
}

// dedupePlace is the in-memory arena entry the planner works over.
type dedupePlace struct {
	id          model.PlaceID
	folded      string
	kind        model.PlaceKind
	country     string
	lat, lng    float64
	population  *int64
	hasBoundary bool
	externalIDs map[string]string
	aliasCount  int
}

// Dedupe finds duplicate place records in the authority and merges each
// cluster onto its richest member. Three detectors feed one union-find:
// shared external id, same folded name + country + kind within the proximity
// radius, and same-kind proximity with near-identical names.
func Dedupe(ctx context.Context, pool db.Pool, opts DedupeOptions) (*DedupeReport, error) {
	if opts.ProximityMeters <= 0 {
		opts.ProximityMeters = 10_000
	}
	if opts.NameSimilarity <= 0 {
		opts.NameSimilarity = 0.80
	}

	log := zap.L().With(zap.String("component", "ingest.dedupe"))
	start := time.Now()

	places, err := loadDedupeArena(ctx, pool)
	if err != nil {
		return nil, err
	}

	report := &DedupeReport{
		Examined: len(places),
		Actions:  planMerges(places, opts),
	}

	log.Info("dedupe planned",
		zap.Int("examined", report.Examined),
		zap.Int("merges", len(report.Actions)),
		zap.Bool("dry_run", opts.DryRun),
	)

	if opts.DryRun || len(report.Actions) == 0 {
		report.Elapsed = time.Since(start)
		return report, nil
	}

	if err := applyMerges(ctx, pool, report.Actions); err != nil {
		return nil, err
	}
	report.Applied = true
	report.Elapsed = time.Since(start)

	log.Info("dedupe applied",
		zap.Int("merges", len(report.Actions)),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func loadDedupeArena(ctx context.Context, pool db.Pool) ([]dedupePlace, error) {
	rows, err := pool.Query(ctx, `
		SELECT p.id, p.folded_name, p.kind, COALESCE(p.country_code, ''), p.lat, p.lng,
		       p.population, p.boundary IS NOT NULL, p.external_ids,
		       (SELECT COUNT(*) FROM gazetteer.place_aliases a WHERE a.place_id = p.id)
		FROM gazetteer.places p
		ORDER BY p.id`)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load dedupe arena")
	}
	defer rows.Close()

	var places []dedupePlace
	for rows.Next() {
		var (
			p  dedupePlace
			id int64
		)
		if err := rows.Scan(&id, &p.folded, &p.kind, &p.country, &p.lat, &p.lng,
			&p.population, &p.hasBoundary, &p.externalIDs, &p.aliasCount); err != nil {
			return nil, eris.Wrap(err, "ingest: scan dedupe place")
		}
		p.id = model.PlaceID(id)
		places = append(places, p)
	}
	return places, eris.Wrap(rows.Err(), "ingest: iterate dedupe arena")
}

type mergePair struct {
	a, b   int
	reason string
}

// planMerges is the pure planning core: it pairs suspected duplicates, joins
// them into clusters, and emits one action per absorbed record. Output is
// deterministic for a given arena.
func planMerges(places []dedupePlace, opts DedupeOptions) []MergeAction {
	pairs := externalIDPairs(places)
	pairs = append(pairs, nameCountryPairs(places, opts.ProximityMeters)...)
	pairs = append(pairs, proximityPairs(places, opts)...)

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		if pairs[i].b != pairs[j].b {
			return pairs[i].b < pairs[j].b
		}
		return pairs[i].reason < pairs[j].reason
	})

	uf := newUnionFind(len(places))
	reasonByPlace := make(map[int]string)
	for _, pr := range pairs {
		if !uf.union(pr.a, pr.b) {
			continue
		}
		if _, ok := reasonByPlace[pr.a]; !ok {
			reasonByPlace[pr.a] = pr.reason
		}
		if _, ok := reasonByPlace[pr.b]; !ok {
			reasonByPlace[pr.b] = pr.reason
		}
	}

	groups := make(map[int][]int)
	for i := range places {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	var actions []MergeAction
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		survivor := pickSurvivor(places, members)
		for _, m := range members {
			if m == survivor {
				continue
			}
			actions = append(actions, MergeAction{
				Survivor: places[survivor].id,
				Absorbed: places[m].id,
				Reason:   reasonByPlace[m],
			})
		}
	}

	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Survivor != actions[j].Survivor {
			return actions[i].Survivor < actions[j].Survivor
		}
		return actions[i].Absorbed < actions[j].Absorbed
	})
	return actions
}

// externalIDPairs pairs records sharing any external id.
func externalIDPairs(places []dedupePlace) []mergePair {
	var pairs []mergePair
	firstByKey := make(map[string]int)
	for i, p := range places {
		keys := make([]string, 0, len(p.externalIDs))
		for source, value := range p.externalIDs {
			keys = append(keys, source+":"+value)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if first, ok := firstByKey[key]; ok {
				pairs = append(pairs, mergePair{first, i, "shared external id"})
			} else {
				firstByKey[key] = i
			}
		}
	}
	return pairs
}

// nameCountryPairs pairs records with identical folded name, country, and
// kind that sit within the proximity radius. The radius keeps distinct
// same-named towns in one country apart.
func nameCountryPairs(places []dedupePlace, proximityMeters float64) []mergePair {
	buckets := make(map[string][]int)
	for i, p := range places {
		if p.folded == "" {
			continue
		}
		key := p.folded + "\x00" + p.country + "\x00" + string(p.kind)
		buckets[key] = append(buckets[key], i)
	}

	var pairs []mergePair
	for _, members := range buckets {
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				a, b := places[members[x]], places[members[y]]
				if spatial.HaversineMeters(a.lat, a.lng, b.lat, b.lng) > proximityMeters {
					continue
				}
				pairs = append(pairs, mergePair{members[x], members[y], "name and country"})
			}
		}
	}
	return pairs
}

// Grid cells for the proximity scan. 0.1 degrees of latitude is ~11km, so
// any pair within a 10km radius is at most one latitude cell apart.
const (
	dedupeCellDeg = 0.1
	cellsPerRow   = 3600
)

type gridKey struct{ lat, lng int }

func gridCell(lat, lng float64) gridKey {
	lngIdx := int(math.Floor((lng + 180) / dedupeCellDeg))
	lngIdx = ((lngIdx % cellsPerRow) + cellsPerRow) % cellsPerRow
	return gridKey{int(math.Floor((lat + 90) / dedupeCellDeg)), lngIdx}
}

// lngSpan is how many longitude cells to scan each side so meridian
// convergence toward the poles never hides a pair within the radius.
func lngSpan(lat, meters float64) int {
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.05 {
		return cellsPerRow / 2
	}
	cellMeters := dedupeCellDeg * 111_320 * cosLat
	return int(math.Ceil(meters/cellMeters)) + 1
}

// proximityPairs pairs same-kind records within the radius whose names are
// nearly identical. The similarity floor stops adjacent distinct towns from
// collapsing into one record.
func proximityPairs(places []dedupePlace, opts DedupeOptions) []mergePair {
	grid := make(map[gridKey][]int, len(places))
	for i, p := range places {
		key := gridCell(p.lat, p.lng)
		grid[key] = append(grid[key], i)
	}

	var pairs []mergePair
	for i, p := range places {
		cell := gridCell(p.lat, p.lng)
		span := lngSpan(p.lat, opts.ProximityMeters)
		if span > cellsPerRow/2 {
			span = cellsPerRow / 2
		}
		for dLat := -1; dLat <= 1; dLat++ {
			for dLng := -span; dLng <= span; dLng++ {
				key := gridKey{
					lat: cell.lat + dLat,
					lng: ((cell.lng+dLng)%cellsPerRow + cellsPerRow) % cellsPerRow,
				}
				for _, j := range grid[key] {
					if j <= i {
						continue
					}
					q := places[j]
					if q.kind != p.kind {
						continue
					}
					if spatial.HaversineMeters(p.lat, p.lng, q.lat, q.lng) > opts.ProximityMeters {
						continue
					}
					if normalize.TrigramSimilarity(p.folded, q.folded) < opts.NameSimilarity {
						continue
					}
					pairs = append(pairs, mergePair{i, j, "proximity"})
				}
			}
		}
	}
	return pairs
}

// pickSurvivor chooses the richest record; ties keep the oldest id.
func pickSurvivor(places []dedupePlace, members []int) int {
	best := members[0]
	for _, m := range members[1:] {
		if quality(places[m]) > quality(places[best]) {
			best = m
			continue
		}
		if quality(places[m]) == quality(places[best]) && places[m].id < places[best].id {
			best = m
		}
	}
	return best
}

// quality ranks merge candidates by how much a record carries.
func quality(p dedupePlace) int {
	q := len(p.externalIDs) + p.aliasCount
	if p.population != nil {
		q += 10
	}
	if p.hasBoundary {
		q += 5
	}
	return q
}

// applyMerges runs all actions in one transaction so a failed merge leaves
// the authority untouched.
func applyMerges(ctx context.Context, pool db.Pool, actions []MergeAction) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "ingest: begin merge tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, act := range actions {
		if err := applyMerge(ctx, tx, act); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "ingest: commit merge tx")
	}
	return nil
}

func applyMerge(ctx context.Context, tx pgx.Tx, act MergeAction) error {
	survivor, absorbed := int64(act.Survivor), int64(act.Absorbed)

	// Pull anything the survivor lacks off the absorbed record while it
	// still exists.
	if _, err := tx.Exec(ctx, `
		UPDATE gazetteer.places s
		SET population = COALESCE(s.population, a.population),
		    boundary = COALESCE(s.boundary, a.boundary),
		    updated_at = now()
		FROM gazetteer.places a
		WHERE s.id = $1 AND a.id = $2`,
		survivor, absorbed); err != nil {
		return eris.Wrapf(err, "ingest: merge %d<-%d fill", survivor, absorbed)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO gazetteer.place_aliases (place_id, alias, lang)
		SELECT $1, alias, lang FROM gazetteer.place_aliases WHERE place_id = $2
		ON CONFLICT (place_id, alias) DO NOTHING`,
		survivor, absorbed); err != nil {
		return eris.Wrapf(err, "ingest: merge %d<-%d aliases", survivor, absorbed)
	}

	// The absorbed record's own name stays findable as a survivor alias.
	if _, err := tx.Exec(ctx, `
		INSERT INTO gazetteer.place_aliases (place_id, alias, lang)
		SELECT $1, a.folded_name, NULL
		FROM gazetteer.places a, gazetteer.places s
		WHERE a.id = $2 AND s.id = $1 AND a.folded_name <> s.folded_name
		ON CONFLICT (place_id, alias) DO NOTHING`,
		survivor, absorbed); err != nil {
		return eris.Wrapf(err, "ingest: merge %d<-%d name alias", survivor, absorbed)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE gazetteer.places
		SET admin_path = array_replace(admin_path, $2::bigint, $1::bigint), updated_at = now()
		WHERE $2::bigint = ANY(admin_path)`,
		survivor, absorbed); err != nil {
		return eris.Wrapf(err, "ingest: merge %d<-%d admin paths", survivor, absorbed)
	}

	var absorbedIDs map[string]string
	if err := tx.QueryRow(ctx, `
		DELETE FROM gazetteer.places WHERE id = $1 RETURNING external_ids`,
		absorbed).Scan(&absorbedIDs); err != nil {
		return eris.Wrapf(err, "ingest: merge %d<-%d delete", survivor, absorbed)
	}

	if len(absorbedIDs) > 0 {
		// Survivor keys win; absorbed ids only fill gaps.
		if _, err := tx.Exec(ctx, `
			UPDATE gazetteer.places
			SET external_ids = $2::jsonb || COALESCE(external_ids, '{}'::jsonb), updated_at = now()
			WHERE id = $1`,
			survivor, absorbedIDs); err != nil {
			return eris.Wrapf(err, "ingest: merge %d<-%d external ids", survivor, absorbed)
		}
	}
	return nil
}

// unionFind is a plain disjoint-set with path halving.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union joins two sets and reports whether they were previously distinct.
func (u *unionFind) union(a, b int) bool {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return false
	}
	u.parent[rb] = ra
	return true
}
