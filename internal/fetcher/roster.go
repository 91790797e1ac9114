package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadRoster returns the MC identifiers in the first column of a .csv,
// .txt or .xlsx file, deduplicated in file order. Headers, blanks and
// other non-numeric cells are ignored; an "MC" prefix is stripped.
func ReadRoster(ctx context.Context, path string) ([]string, error) {
	var (
		cells []string
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx":
		cells, err = xlsxFirstColumn(path)
	case ".csv", ".txt":
		var f *os.File
		if f, err = os.Open(path); err != nil {
			return nil, eris.Wrap(err, "roster: open file")
		}
		defer f.Close() //nolint:errcheck
		cells, err = csvFirstColumn(ctx, f)
	default:
		return nil, eris.Errorf("roster: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cells))
	seen := make(map[string]struct{}, len(cells))
	for _, cell := range cells {
		id := normalizeMC(cell)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// csvFirstColumn reads the leading cell of every record. Lines starting
// with '#' are comments.
func csvFirstColumn(ctx context.Context, r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var cells []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "roster: read csv")
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return cells, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "roster: read csv")
		}
		if len(rec) > 0 {
			cells = append(cells, strings.TrimSpace(rec[0]))
		}
	}
}

// xlsxFirstColumn reads column A of the workbook's first sheet.
func xlsxFirstColumn(path string) ([]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open workbook")
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("roster: %s has no sheets", filepath.Base(path))
	}

	sheet := wb.Sheets[0]
	cells := make([]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil || len(row.Cells) == 0 {
			continue
		}
		cells = append(cells, strings.TrimSpace(row.Cells[0].String()))
	}
	return cells, nil
}

func normalizeMC(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "MC")
	s = strings.TrimLeft(s, "-# ")
	if s == "" {
		return ""
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return ""
		}
	}
	return s
}
