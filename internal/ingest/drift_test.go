package ingest

import (
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/model"
)

func TestRecordDrift_UpsertsHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO gazetteer\.backfill_requests`).
		WithArgs("ouagadougou", 12, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	drift := RecordDrift(mock)
	drift(
		gazetteer.BackfillRequest{Folded: "ouagadougou", SnapshotVersion: 12},
		[]gazetteer.NameMatch{{Place: model.CanonicalPlace{ID: 2357048}}},
	)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDrift_NoMatchesRecordsNullHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO gazetteer\.backfill_requests`).
		WithArgs("atlantis", 12, (*int64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	drift := RecordDrift(mock)
	drift(gazetteer.BackfillRequest{Folded: "atlantis", SnapshotVersion: 12}, nil)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDrift_SwallowsWriteErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO gazetteer\.backfill_requests`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(assert.AnError)

	drift := RecordDrift(mock)
	assert.NotPanics(t, func() {
		drift(gazetteer.BackfillRequest{Folded: "somewhere", SnapshotVersion: 3}, nil)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
