package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	return rows, <-errCh
}

func TestStreamTSV_Basic(t *testing.T) {
	input := "a\tb\tc\n1\t2\t3\n"
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"1", "2", "3"}, rows[1])
}

func TestStreamTSV_BareQuotesInFields(t *testing.T) {
	// GeoNames rows carry unescaped quotes inside fields, which encoding/csv
	// rejects even with LazyQuotes in some arrangements.
	input := "2986043\tPic de Font Blanca\t\"Font\" Blanca\n"
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"2986043", "Pic de Font Blanca", `"Font" Blanca`}, rows[0])
}

func TestStreamTSV_PreservesEmptyFields(t *testing.T) {
	input := "a\t\tc\n"
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"a", "", "c"}, rows[0])
}

func TestStreamTSV_Comment(t *testing.T) {
	input := "# ISO\tISO3\nAD\tAND\n# trailing comment\nAE\tARE\n"
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{
		Comment: '#',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"AD", "AND"}, rows[0])
	assert.Equal(t, []string{"AE", "ARE"}, rows[1])
}

func TestStreamTSV_SkipsBlankLines(t *testing.T) {
	input := "a\tb\n\n1\t2\n"
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStreamTSV_TrimSpace(t *testing.T) {
	input := " a \t b \n"
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"a", "b"}, rows[0])
}

func TestStreamTSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a\tb\tc\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamTSV(ctx, strings.NewReader(sb.String()), TSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count >= 5 {
			cancel()
			break
		}
	}
	for range rowCh {
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
	cancel()
}

func TestStreamTSV_Empty(t *testing.T) {
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(""), TSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
