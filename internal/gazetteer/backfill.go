package gazetteer

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BackfillRequest is a name the local snapshot could not answer.
type BackfillRequest struct {
	Folded          string
	SnapshotVersion int
}

// DriftFunc receives authority matches for a name the snapshot missed.
// Implementations typically record the gap for the next snapshot build.
type DriftFunc func(req BackfillRequest, matches []NameMatch)

// BackfillStats reports worker counters for the ops endpoint.
type BackfillStats struct {
	Enqueued  int64 `json:"enqueued"`
	Dropped   int64 `json:"dropped"`
	Processed int64 `json:"processed"`
	Drifts    int64 `json:"drifts"`
	QueueLen  int   `json:"queue_len"`
}

// Backfill consults the authority database for snapshot misses, off the
// resolution hot path and behind a rate limiter so a burst of unknown names
// cannot hammer PostGIS.
type Backfill struct {
	authority Store
	limiter   *rate.Limiter
	queue     chan BackfillRequest
	onDrift   DriftFunc

	mu      sync.Mutex
	pending map[string]struct{}

	enqueued  atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
	drifts    atomic.Int64
}

// BackfillOption customizes the worker.
type BackfillOption func(*Backfill)

// WithDriftFunc registers a callback for confirmed snapshot gaps.
func WithDriftFunc(fn DriftFunc) BackfillOption {
	return func(b *Backfill) {
		b.onDrift = fn
	}
}

// NewBackfill creates a backfill worker. perSec and burst bound the
// authority query rate; queueSize bounds memory under sustained misses.
func NewBackfill(authority Store, perSec float64, burst, queueSize int, opts ...BackfillOption) *Backfill {
	if perSec <= 0 {
		perSec = 2.0
	}
	if burst <= 0 {
		burst = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	b := &Backfill{
		authority: authority,
		limiter:   rate.NewLimiter(rate.Limit(perSec), burst),
		queue:     make(chan BackfillRequest, queueSize),
		pending:   make(map[string]struct{}, queueSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue schedules a snapshot miss for authority consultation. Duplicate
// names already queued and names arriving while the queue is full are
// dropped; resolution never blocks on backfill.
func (b *Backfill) Enqueue(req BackfillRequest) bool {
	if req.Folded == "" {
		return false
	}

	b.mu.Lock()
	if _, dup := b.pending[req.Folded]; dup {
		b.mu.Unlock()
		return false
	}
	b.pending[req.Folded] = struct{}{}
	b.mu.Unlock()

	select {
	case b.queue <- req:
		b.enqueued.Add(1)
		return true
	default:
		b.forget(req.Folded)
		b.dropped.Add(1)
		zap.L().Debug("backfill queue full, dropping miss",
			zap.String("name", req.Folded),
		)
		return false
	}
}

// Run consumes the queue until the context is cancelled.
func (b *Backfill) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-b.queue:
			if err := b.limiter.Wait(ctx); err != nil {
				b.forget(req.Folded)
				return nil
			}
			b.process(ctx, req)
		}
	}
}

func (b *Backfill) process(ctx context.Context, req BackfillRequest) {
	defer b.forget(req.Folded)

	matches, err := b.authority.LookupByName(ctx, req.Folded)
	b.processed.Add(1)
	if err != nil {
		zap.L().Warn("backfill authority lookup failed",
			zap.String("name", req.Folded),
			zap.Error(err),
		)
		return
	}
	if len(matches) == 0 {
		zap.L().Debug("backfill confirmed unknown name",
			zap.String("name", req.Folded),
		)
		return
	}

	// The authority knows a name the snapshot does not: the snapshot has
	// drifted behind. Current results stay as-is; the gap is recorded for
	// the next build.
	b.drifts.Add(1)
	zap.L().Warn("snapshot drift detected",
		zap.String("name", req.Folded),
		zap.Int("snapshot_version", req.SnapshotVersion),
		zap.Int("authority_matches", len(matches)),
	)
	if b.onDrift != nil {
		b.onDrift(req, matches)
	}
}

func (b *Backfill) forget(folded string) {
	b.mu.Lock()
	delete(b.pending, folded)
	b.mu.Unlock()
}

// Stats returns a snapshot of the worker counters.
func (b *Backfill) Stats() BackfillStats {
	return BackfillStats{
		Enqueued:  b.enqueued.Load(),
		Dropped:   b.dropped.Load(),
		Processed: b.processed.Load(),
		Drifts:    b.drifts.Load(),
		QueueLen:  len(b.queue),
	}
}
