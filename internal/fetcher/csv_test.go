package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectCSV(t *testing.T, input string, opts CSVOptions) ([][]string, error) {
	t.Helper()
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	return rows, <-errCh
}

func TestStreamCSV_PublisherSheet(t *testing.T) {
	input := "publisher,country,affinity\n" +
		"Le Monde,FR,0.9\n" +
		"\"Sydney Morning Herald\",AU,0.85\n"

	rows, err := collectCSV(t, input, CSVOptions{HasHeader: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Le Monde", "FR", "0.9"}, rows[0])
	assert.Equal(t, []string{"Sydney Morning Herald", "AU", "0.85"}, rows[1])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := "publisher, country , affinity\n  BBC News , GB ,0.7\n"

	rows, err := collectCSV(t, input, CSVOptions{HasHeader: true, TrimSpace: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"BBC News", "GB", "0.7"}, rows[0])
}

func TestStreamCSV_HeaderKeptWhenNotDeclared(t *testing.T) {
	rows, err := collectCSV(t, "a,b\n1,2\n", CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b"}, rows[0])
}

func TestStreamCSV_Delimiter(t *testing.T) {
	rows, err := collectCSV(t, "Berliner Zeitung;DE;0.8\n", CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"Berliner Zeitung", "DE", "0.8"}, rows[0])
}

func TestStreamCSV_CommentLines(t *testing.T) {
	input := "# exported 2026-03-02\nReuters,GB,0.6\n# trailing note\n"

	rows, err := collectCSV(t, input, CSVOptions{Comment: '#'})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Reuters", rows[0][0])
}

func TestStreamCSV_VariableFieldCounts(t *testing.T) {
	rows, err := collectCSV(t, "a,b,c\nd,e\nf\n", CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[0], 3)
	assert.Len(t, rows[1], 2)
	assert.Len(t, rows[2], 1)
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := "Diario \"El Pais,UY,0.75\n"

	_, err := collectCSV(t, input, CSVOptions{})
	require.Error(t, err, "stray quote rejected by default")
	assert.Contains(t, err.Error(), "read row")

	rows, err := collectCSV(t, input, CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Diario \"El Pais", rows[0][0])
}

func TestStreamCSV_EmptyInput(t *testing.T) {
	rows, err := collectCSV(t, "", CSVOptions{HasHeader: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\nc,d\n"), CSVOptions{})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
