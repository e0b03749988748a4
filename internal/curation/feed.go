// Package curation reads and writes the bank-statement CSV feeds that are
// triaged before import. Decisions are stored in the feed itself, in the
// keep and categoria_orcamento columns.
package curation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"despesas/internal/core"
)

const (
	ColumnKeep     = "keep"
	ColumnCategory = "categoria_orcamento"
	ColumnDate     = "date"
	ColumnTitle    = "title"
	ColumnDesc     = "description"
	ColumnAmount   = "amount"
	ColumnSchema   = "schema_type"
	ColumnSource   = "source_file"

	utf8BOM = "\ufeff"
)

var truthy = map[string]struct{}{
	"1": {}, "true": {}, "yes": {}, "y": {}, "sim": {}, "s": {},
}

// ParseKeep reads a keep cell. Anything outside the truthy set is a drop.
func ParseKeep(v string) bool {
	_, ok := truthy[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

func formatKeep(keep bool) string {
	if keep {
		return "true"
	}
	return "false"
}

// Feed is a parsed CSV file. Row ids are 1-based positions in the file.
type Feed struct {
	File   string // path relative to the curation root
	header []string
	index  map[string]int
	rows   [][]string
}

// Parse reads a CSV with a header row and makes sure the decision columns exist.
func Parse(file string, r io.Reader) (*Feed, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", core.ErrSourceUnavailable, file, err)
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, core.SourceUnavailablef("CSV header missing: %s", file)
	}

	header := records[0]
	header[0] = strings.TrimPrefix(header[0], utf8BOM)
	f := &Feed{File: file, header: header, index: map[string]int{}}
	for i, col := range header {
		if _, dup := f.index[col]; !dup {
			f.index[col] = i
		}
	}
	for _, col := range []string{ColumnKeep, ColumnCategory} {
		if _, ok := f.index[col]; !ok {
			f.index[col] = len(f.header)
			f.header = append(f.header, col)
		}
	}

	f.rows = make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		f.rows = append(f.rows, f.pad(rec))
	}
	return f, nil
}

func (f *Feed) pad(rec []string) []string {
	if len(rec) >= len(f.header) {
		return rec
	}
	out := make([]string, len(f.header))
	copy(out, rec)
	return out
}

// Len is the number of data rows.
func (f *Feed) Len() int { return len(f.rows) }

// Has reports whether rowID addresses a row of the feed.
func (f *Feed) Has(rowID int) bool { return rowID >= 1 && rowID <= len(f.rows) }

func (f *Feed) get(rec []string, col string) string {
	i, ok := f.index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (f *Feed) set(rowID int, col, v string) {
	f.rows[rowID-1][f.index[col]] = v
}

// Row returns the row with the given 1-based id.
func (f *Feed) Row(rowID int) core.CurationRow {
	rec := f.rows[rowID-1]
	return core.CurationRow{
		RowID:       rowID,
		Date:        strings.TrimSpace(f.get(rec, ColumnDate)),
		Title:       f.get(rec, ColumnTitle),
		Description: f.get(rec, ColumnDesc),
		Amount:      f.get(rec, ColumnAmount),
		SchemaType:  f.get(rec, ColumnSchema),
		SourceFile:  f.get(rec, ColumnSource),
		Keep:        ParseKeep(f.get(rec, ColumnKeep)),
		Category:    strings.TrimSpace(f.get(rec, ColumnCategory)),
	}
}

// Rows returns every row in file order.
func (f *Feed) Rows() []core.CurationRow {
	out := make([]core.CurationRow, len(f.rows))
	for i := range f.rows {
		out[i] = f.Row(i + 1)
	}
	return out
}

func (f *Feed) SetKeep(rowID int, keep bool) { f.set(rowID, ColumnKeep, formatKeep(keep)) }

func (f *Feed) SetCategory(rowID int, category string) {
	f.set(rowID, ColumnCategory, strings.TrimSpace(category))
}

// Kept returns a copy of the feed holding only rows marked keep.
func (f *Feed) Kept(file string) *Feed {
	out := &Feed{File: file, header: f.header, index: f.index}
	for _, rec := range f.rows {
		if ParseKeep(f.get(rec, ColumnKeep)) {
			out.rows = append(out.rows, rec)
		}
	}
	return out
}

// Write serializes the feed with its header.
func (f *Feed) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.header); err != nil {
		return err
	}
	if err := cw.WriteAll(f.rows); err != nil {
		return err
	}
	return cw.Error()
}
