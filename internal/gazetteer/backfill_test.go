package gazetteer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressassoc/dateline/internal/model"
)

// stubStore is a Store with pluggable behavior for worker tests.
type stubStore struct {
	lookup func(ctx context.Context, folded string) ([]NameMatch, error)
}

func (s *stubStore) LookupByName(ctx context.Context, folded string) ([]NameMatch, error) {
	return s.lookup(ctx, folded)
}

func (s *stubStore) GetPlace(context.Context, model.PlaceID) (*model.CanonicalPlace, error) {
	return nil, ErrNotFound
}

func (s *stubStore) GetAdminPath(context.Context, model.PlaceID) ([]model.PlaceID, error) {
	return nil, ErrNotFound
}

func (s *stubStore) IsWithin(context.Context, model.PlaceID, model.PlaceID) (bool, error) {
	return false, nil
}

func (s *stubStore) DistanceMeters(context.Context, model.PlaceID, model.PlaceID) (float64, error) {
	return 0, nil
}

func (s *stubStore) Version() int { return 99 }
func (s *stubStore) Close() error { return nil }

func TestBackfill_Enqueue_DedupsPendingNames(t *testing.T) {
	b := NewBackfill(&stubStore{}, 100, 10, 8)

	assert.True(t, b.Enqueue(BackfillRequest{Folded: "paris", SnapshotVersion: 1}))
	assert.False(t, b.Enqueue(BackfillRequest{Folded: "paris", SnapshotVersion: 1}))
	assert.True(t, b.Enqueue(BackfillRequest{Folded: "london", SnapshotVersion: 1}))

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, 2, stats.QueueLen)
}

func TestBackfill_Enqueue_DropsWhenFull(t *testing.T) {
	b := NewBackfill(&stubStore{}, 100, 10, 1)

	assert.True(t, b.Enqueue(BackfillRequest{Folded: "a"}))
	assert.False(t, b.Enqueue(BackfillRequest{Folded: "b"}))

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Dropped)

	// A dropped name may be enqueued again once there is room.
	<-b.queue
	assert.True(t, b.Enqueue(BackfillRequest{Folded: "b"}))
}

func TestBackfill_Enqueue_RejectsEmpty(t *testing.T) {
	b := NewBackfill(&stubStore{}, 100, 10, 8)
	assert.False(t, b.Enqueue(BackfillRequest{}))
}

func TestBackfill_Run_ReportsDrift(t *testing.T) {
	store := &stubStore{
		lookup: func(_ context.Context, folded string) ([]NameMatch, error) {
			return []NameMatch{{
				Place: model.CanonicalPlace{ID: 77, Name: "Lagos"},
				Tier:  model.TierExact,
			}}, nil
		},
	}

	drifts := make(chan BackfillRequest, 1)
	b := NewBackfill(store, 1000, 10, 8, WithDriftFunc(func(req BackfillRequest, matches []NameMatch) {
		require.Len(t, matches, 1)
		drifts <- req
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	require.True(t, b.Enqueue(BackfillRequest{Folded: "lagos", SnapshotVersion: 12}))

	select {
	case req := <-drifts:
		assert.Equal(t, "lagos", req.Folded)
		assert.Equal(t, 12, req.SnapshotVersion)
	case <-time.After(2 * time.Second):
		t.Fatal("drift callback never fired")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Drifts)
}

func TestBackfill_Run_AuthorityErrorDoesNotDrift(t *testing.T) {
	calls := make(chan struct{}, 1)
	store := &stubStore{
		lookup: func(context.Context, string) ([]NameMatch, error) {
			calls <- struct{}{}
			return nil, errors.New("authority down")
		},
	}

	b := NewBackfill(store, 1000, 10, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	require.True(t, b.Enqueue(BackfillRequest{Folded: "lagos"}))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("authority was never consulted")
	}

	assert.Eventually(t, func() bool {
		return b.Stats().Processed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), b.Stats().Drifts)
}

func TestBackfill_RetryAfterProcessing(t *testing.T) {
	store := &stubStore{
		lookup: func(context.Context, string) ([]NameMatch, error) {
			return nil, nil
		},
	}

	b := NewBackfill(store, 1000, 10, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	require.True(t, b.Enqueue(BackfillRequest{Folded: "nowhere"}))
	assert.Eventually(t, func() bool {
		return b.Stats().Processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Once processed, the same name can be enqueued again.
	assert.Eventually(t, func() bool {
		return b.Enqueue(BackfillRequest{Folded: "nowhere"})
	}, 2*time.Second, 10*time.Millisecond)
}
