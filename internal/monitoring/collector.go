// Package monitoring watches gazetteer health: snapshot freshness, build
// outcomes, and resolution drift against the authority.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/gazetteer"
)

// MetricsSnapshot holds a point-in-time view of gazetteer health.
type MetricsSnapshot struct {
	// Published snapshot state.
	SnapshotMissing  bool    `json:"snapshot_missing"`
	SnapshotVersion  int     `json:"snapshot_version"`
	SnapshotAgeHours float64 `json:"snapshot_age_hours"`
	SnapshotPlaces   int     `json:"snapshot_places"`

	// Snapshot builds within the lookback window.
	SyncTotal    int `json:"sync_total"`
	SyncComplete int `json:"sync_complete"`
	SyncFailed   int `json:"sync_failed"`
	SyncBuilding int `json:"sync_building"`

	// Resolution drift within the lookback window: names resolvers missed
	// against the snapshot, and how many the authority did not know either.
	DriftNames     int     `json:"drift_names"`
	DriftUnmatched int     `json:"drift_unmatched"`
	DriftHitRate   float64 `json:"drift_hit_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SnapshotStatter reports the published snapshot's build metadata.
type SnapshotStatter interface {
	Stat() (gazetteer.Meta, error)
}

// DirStatter stats the CURRENT snapshot in a directory.
type DirStatter struct {
	Dir string
}

// Stat opens the published snapshot just long enough to read its metadata.
func (d DirStatter) Stat() (gazetteer.Meta, error) {
	snap, err := gazetteer.OpenCurrent(d.Dir)
	if err != nil {
		return gazetteer.Meta{}, err
	}
	defer snap.Close() //nolint:errcheck
	return snap.Meta(), nil
}

// Collector gathers health metrics from the published snapshot and the
// authority's sync and drift tables.
type Collector struct {
	pool     db.Pool
	snapshot SnapshotStatter
}

// NewCollector creates a new metrics collector. Either source may be nil;
// the corresponding metrics stay zero.
func NewCollector(pool db.Pool, snapshot SnapshotStatter) *Collector {
	return &Collector{pool: pool, snapshot: snapshot}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	if c.snapshot != nil {
		meta, err := c.snapshot.Stat()
		if err != nil {
			// An unreadable snapshot is a finding, not a collection failure.
			snap.SnapshotMissing = true
		} else {
			snap.SnapshotVersion = meta.Version
			snap.SnapshotPlaces = meta.PlaceCount
			if !meta.BuiltAt.IsZero() {
				snap.SnapshotAgeHours = time.Since(meta.BuiltAt).Hours()
			}
		}
	}

	if c.pool == nil {
		return snap, nil
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	if err := c.collectSyncs(ctx, cutoff, snap); err != nil {
		return nil, err
	}
	if err := c.collectDrift(ctx, cutoff, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Collector) collectSyncs(ctx context.Context, cutoff time.Time, snap *MetricsSnapshot) error {
	rows, err := c.pool.Query(ctx, `
		SELECT status, count(*)
		FROM gazetteer.sync_log
		WHERE started_at >= $1
		GROUP BY status`, cutoff)
	if err != nil {
		return eris.Wrap(err, "monitoring: query sync log")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return eris.Wrap(err, "monitoring: scan sync log")
		}
		snap.SyncTotal += n
		switch status {
		case "complete":
			snap.SyncComplete = n
		case "failed":
			snap.SyncFailed = n
		case "building":
			snap.SyncBuilding = n
		}
	}
	return eris.Wrap(rows.Err(), "monitoring: iterate sync log")
}

func (c *Collector) collectDrift(ctx context.Context, cutoff time.Time, snap *MetricsSnapshot) error {
	err := c.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE hit_place_id IS NULL)
		FROM gazetteer.backfill_requests
		WHERE last_seen >= $1`, cutoff).Scan(&snap.DriftNames, &snap.DriftUnmatched)
	if err != nil {
		return eris.Wrap(err, "monitoring: count backfill requests")
	}
	if snap.DriftNames > 0 {
		snap.DriftHitRate = float64(snap.DriftNames-snap.DriftUnmatched) / float64(snap.DriftNames)
	}
	return nil
}
