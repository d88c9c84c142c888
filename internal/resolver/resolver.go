// Package resolver runs joint place-name disambiguation over article
// mention batches: per-mention candidate scoring first, then a greedy
// coherence pass that lets confidently placed mentions steer ambiguous ones.
package resolver

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pressassoc/dateline/internal/candidates"
	"github.com/pressassoc/dateline/internal/coherence"
	"github.com/pressassoc/dateline/internal/config"
	"github.com/pressassoc/dateline/internal/explain"
	"github.com/pressassoc/dateline/internal/features"
	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
	"github.com/pressassoc/dateline/internal/priors"
)

// Service disambiguates article batches against one immutable gazetteer
// bind. All per-request state is local; a Service is safe for concurrent
// use by multiple goroutines.
type Service struct {
	store     gazetteer.Store
	generator *candidates.Generator
	extractor *features.Extractor
	coherence *coherence.Scorer
	builder   *explain.Builder
	cfg       config.ResolverConfig

	kinds      *priors.KindCues
	publishers *priors.PublisherPriors
	backfill   *gazetteer.Backfill

	now func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithKindCues installs the kind-cue table consulted during feature scoring.
func WithKindCues(kc *priors.KindCues) Option {
	return func(s *Service) {
		s.kinds = kc
	}
}

// WithPublisherPriors installs the publisher affinity table.
func WithPublisherPriors(p *priors.PublisherPriors) Option {
	return func(s *Service) {
		s.publishers = p
	}
}

// WithBackfill registers the worker told about snapshot misses. Enqueues
// are non-blocking; resolution never waits on the authority.
func WithBackfill(b *gazetteer.Backfill) Option {
	return func(s *Service) {
		s.backfill = b
	}
}

// New wires the full pipeline over one gazetteer store.
func New(store gazetteer.Store, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		cfg:   cfg.Resolver,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.generator = candidates.NewGenerator(store, cfg.Scoring.MaxCandidates)
	s.extractor = features.NewExtractor(cfg.Scoring, s.kinds, s.publishers)
	s.coherence = coherence.NewScorer(store, cfg.Coherence)
	s.builder = explain.NewBuilder(s.extractor, cfg.Resolver.ConfidenceCutoff, cfg.Resolver.MaxAlternates)
	return s
}

// mentionWork carries one mention through the resolution states.
type mentionWork struct {
	index   int
	mention model.Mention
	cands   []model.Candidate
	state   model.MentionState
	result  model.Result
}

// Resolve disambiguates one article's mentions jointly and returns one
// result per mention, in input order. Unknown names, ambiguity, and
// malformed mentions become statuses; the only batch-level failures are an
// unusable gazetteer and context cancellation.
func (s *Service) Resolve(ctx context.Context, batch model.ArticleBatch) ([]model.Result, error) {
	start := s.now()

	work := make([]*mentionWork, len(batch.Mentions))
	for i, m := range batch.Mentions {
		work[i] = &mentionWork{index: i, mention: m, state: model.StatePending}
	}

	// Local pass: candidates and single-mention scores, no cross-talk yet.
	for _, w := range work {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "resolver: batch cancelled")
		}

		if w.mention.IsBlank() {
			w.result = model.Result{Mention: w.mention, Status: model.StatusRejected}
			w.state = model.StateFinal
			continue
		}

		cands, err := s.generator.Generate(ctx, w.mention)
		if err != nil {
			return nil, eris.Wrapf(err, "resolver: article %s", batch.ArticleID)
		}
		w.state = model.StateCandidatesGenerated

		if len(cands) == 0 {
			s.requestBackfill(w.mention)
			w.result = s.builder.Build(w.mention, nil, false)
			w.state = model.StateFinal
			continue
		}

		s.extractor.Score(w.mention, batch.Publisher, cands)
		candidates.SortByScore(cands)
		w.cands = cands
		w.state = model.StateScoredLocally
	}

	// Coherence pass: resolve the strongest mentions first so their places
	// anchor the ambiguous ones. Decisions are append-only; an anchor is
	// never revisited.
	var anchors []model.PlaceID
	deadline := s.deadlineFor(start)
	degraded := 0

	for _, w := range resolutionOrder(work) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "resolver: batch cancelled")
		}

		if !deadline.IsZero() && s.now().After(deadline) {
			// Soft deadline expired: the remaining mentions keep their
			// single-mention ranking instead of blocking the article.
			w.result = s.builder.Build(w.mention, w.cands, true)
			w.state = model.StateFinal
			degraded++
			continue
		}

		if err := s.coherence.Adjust(ctx, w.cands, anchors); err != nil {
			return nil, eris.Wrapf(err, "resolver: article %s", batch.ArticleID)
		}
		candidates.SortByScore(w.cands)
		w.state = model.StateCoherenceAdjusted

		w.result = s.builder.Build(w.mention, w.cands, false)
		w.state = model.StateFinal
		if w.result.Status == model.StatusResolved {
			anchors = append(anchors, *w.result.PlaceID)
		}
	}

	if degraded > 0 {
		zap.L().Warn("article deadline expired before coherence completed",
			zap.String("article_id", batch.ArticleID),
			zap.Int("degraded_mentions", degraded),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	results := make([]model.Result, len(work))
	for _, w := range work {
		results[w.index] = w.result
	}

	zap.L().Debug("article resolved",
		zap.String("article_id", batch.ArticleID),
		zap.Int("mentions", len(results)),
		zap.Int("resolved", countStatus(results, model.StatusResolved)),
		zap.Int("anchors", len(anchors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// ResolveAll processes independent articles on a bounded worker pool.
// results[i] answers batches[i]. Articles share the read-only store and
// nothing else; the first batch-level failure cancels the remaining work.
func (s *Service) ResolveAll(ctx context.Context, batches []model.ArticleBatch) ([][]model.Result, error) {
	start := time.Now()
	results := make([][]model.Result, len(batches))

	// One id per request so interleaved worker logs stay correlatable.
	log := zap.L().With(zap.String("request_id", uuid.New().String()))

	workers := s.cfg.BatchWorkers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, batch := range batches {
		g.Go(func() error {
			res, err := s.Resolve(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "resolver: resolve all")
	}

	log.Info("batch resolution complete",
		zap.Int("articles", len(batches)),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// resolutionOrder picks the still-open mentions and orders them: strongest
// local winner first, fewer candidates breaking ties (an unambiguous mention
// is better anchor evidence than an ambiguous one), then article offset so
// the order is total.
func resolutionOrder(work []*mentionWork) []*mentionWork {
	var pending []*mentionWork
	for _, w := range work {
		if w.state == model.StateScoredLocally {
			pending = append(pending, w)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.cands[0].BaseScore != b.cands[0].BaseScore {
			return a.cands[0].BaseScore > b.cands[0].BaseScore
		}
		if len(a.cands) != len(b.cands) {
			return len(a.cands) < len(b.cands)
		}
		if a.mention.Offset != b.mention.Offset {
			return a.mention.Offset < b.mention.Offset
		}
		return a.index < b.index
	})
	return pending
}

func (s *Service) deadlineFor(start time.Time) time.Time {
	if s.cfg.MentionBudgetMS <= 0 {
		return time.Time{}
	}
	return start.Add(time.Duration(s.cfg.MentionBudgetMS) * time.Millisecond)
}

func (s *Service) requestBackfill(m model.Mention) {
	if s.backfill == nil {
		return
	}
	s.backfill.Enqueue(gazetteer.BackfillRequest{
		Folded:          normalize.Fold(m.Text),
		SnapshotVersion: s.store.Version(),
	})
}

func countStatus(results []model.Result, status model.ResultStatus) int {
	n := 0
	for i := range results {
		if results[i].Status == status {
			n++
		}
	}
	return n
}
