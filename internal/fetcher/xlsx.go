package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects which part of a workbook to read.
type XLSXOptions struct {
	SheetName  string // sheet to read; falls back to SheetIndex when empty
	SheetIndex int    // zero-based, default first sheet
	SkipRows   int    // leading rows to drop, typically the header
}

// ReadXLSX loads one sheet of a workbook into rows of cell strings. Publisher
// affinity sheets are small enough to read whole, and the xlsx library keeps
// the full workbook in memory regardless.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	book, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	sheet, err := pickSheet(book, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, max(0, len(sheet.Rows)-opts.SkipRows))
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func pickSheet(book *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := book.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: no sheet named %q", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(book.Sheets) {
		return nil, eris.Errorf("xlsx: sheet %d out of range, workbook has %d", opts.SheetIndex, len(book.Sheets))
	}
	return book.Sheets[opts.SheetIndex], nil
}
