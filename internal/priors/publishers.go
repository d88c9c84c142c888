package priors

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/fetcher"
	"github.com/pressassoc/dateline/internal/normalize"
)

// PublisherPriors maps publishers to the countries their coverage favors.
// Affinities are 0..1 weights; a publisher or country absent from the table
// contributes nothing to a candidate's score.
type PublisherPriors struct {
	affinities map[string]map[string]float64
}

// NewPublisherPriors builds a table from publisher -> country code -> affinity.
func NewPublisherPriors(affinities map[string]map[string]float64) *PublisherPriors {
	t := &PublisherPriors{affinities: make(map[string]map[string]float64, len(affinities))}
	for publisher, countries := range affinities {
		for country, affinity := range countries {
			t.set(publisher, country, affinity)
		}
	}
	return t
}

// LoadPublisherPriors reads the news desk's affinity sheet, either .xlsx or
// .csv. Column layout: publisher | ISO country code | affinity, with one
// header row.
func LoadPublisherPriors(path string) (*PublisherPriors, error) {
	rows, err := readPublisherRows(path)
	if err != nil {
		return nil, err
	}

	t := &PublisherPriors{affinities: make(map[string]map[string]float64)}
	for i, row := range rows {
		// Sheet rows are 1-based and the header was skipped.
		rowNum := i + 2

		if isBlankRow(row) {
			continue
		}
		if len(row) < 3 {
			return nil, eris.Errorf("priors: publisher sheet row %d has %d columns, want 3", rowNum, len(row))
		}

		publisher := strings.TrimSpace(row[0])
		country := strings.TrimSpace(row[1])
		if publisher == "" || country == "" {
			return nil, eris.Errorf("priors: publisher sheet row %d missing publisher or country", rowNum)
		}

		affinity, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "priors: publisher sheet row %d affinity", rowNum)
		}
		if affinity < 0 || affinity > 1 {
			return nil, eris.Errorf("priors: publisher sheet row %d affinity %g outside [0,1]", rowNum, affinity)
		}

		t.set(publisher, country, affinity)
	}

	zap.L().Info("priors: publisher table loaded",
		zap.String("path", path),
		zap.Int("publishers", len(t.affinities)),
	)
	return t, nil
}

func readPublisherRows(path string) ([][]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SkipRows: 1})
		if err != nil {
			return nil, eris.Wrap(err, "priors: read publisher sheet")
		}
		return rows, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "priors: open publisher sheet")
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := fetcher.StreamCSV(context.Background(), f, fetcher.CSVOptions{
		HasHeader: true,
		TrimSpace: true,
	})
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "priors: read publisher sheet")
	}
	return rows, nil
}

// Affinity returns the publisher's affinity for a country, zero when either
// side is unknown to the table.
func (t *PublisherPriors) Affinity(publisher, countryCode string) float64 {
	if t == nil || publisher == "" || countryCode == "" {
		return 0
	}
	countries, ok := t.affinities[normalize.Fold(publisher)]
	if !ok {
		return 0
	}
	return countries[strings.ToUpper(strings.TrimSpace(countryCode))]
}

func (t *PublisherPriors) set(publisher, country string, affinity float64) {
	key := normalize.Fold(publisher)
	if t.affinities[key] == nil {
		t.affinities[key] = make(map[string]float64)
	}
	t.affinities[key][strings.ToUpper(strings.TrimSpace(country))] = affinity
}

// isBlankRow reports whether every cell is empty. Hand-maintained sheets
// routinely carry trailing padding rows.
func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
