package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/gazetteer"
)

// RecordDrift returns a backfill drift callback that upserts confirmed
// snapshot gaps into gazetteer.backfill_requests. The next snapshot build
// reads the table to prioritize sources, and ops dashboards watch it to
// decide when a rebuild is overdue.
func RecordDrift(pool db.Pool) gazetteer.DriftFunc {
	log := zap.L().With(zap.String("component", "ingest.drift"))

	return func(req gazetteer.BackfillRequest, matches []gazetteer.NameMatch) {
		// The callback fires inside the backfill worker loop; keep its own
		// deadline so a slow authority write cannot stall the queue.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var hit *int64
		if len(matches) > 0 {
			id := int64(matches[0].Place.ID)
			hit = &id
		}

		if _, err := pool.Exec(ctx, `
			INSERT INTO gazetteer.backfill_requests (folded_name, snapshot_version, hit_place_id, seen_count, first_seen, last_seen)
			VALUES ($1, $2, $3, 1, now(), now())
			ON CONFLICT (folded_name) DO UPDATE
			SET seen_count = gazetteer.backfill_requests.seen_count + 1,
			    snapshot_version = EXCLUDED.snapshot_version,
			    hit_place_id = EXCLUDED.hit_place_id,
			    last_seen = now()`,
			req.Folded, req.SnapshotVersion, hit,
		); err != nil {
			log.Warn("failed to record snapshot drift",
				zap.String("name", req.Folded),
				zap.Error(err),
			)
			return
		}

		log.Debug("recorded snapshot drift",
			zap.String("name", req.Folded),
			zap.Int("snapshot_version", req.SnapshotVersion),
			zap.Int("authority_matches", len(matches)),
		)
	}
}
