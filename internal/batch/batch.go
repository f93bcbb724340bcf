// Package batch holds the tabular unit passed between pipeline components.
//
// A Batch is a slice of rows sharing one ordered column list. The column list
// is fixed once a source has produced its first batch; rows are mutable and
// owned by whichever component currently holds the batch.
package batch

import (
	"strings"

	"dataload/internal/schema"
)

// Column describes one column of a Batch.
//
// Fields:
//   - Name: column name as reported by the source (unquoted).
//   - Type: declared logical type, schema.Unknown when the source could not
//     tell (e.g. SQLite expressions, CSV text).
//   - DatabaseType: the raw driver type name, kept for diagnostics.
type Column struct {
	Name         string
	Type         schema.Type
	DatabaseType string
}

// Schema is the ordered column list shared by every batch of one stream.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column (case-insensitive) or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Batch is an ordered set of rows plus the metadata destinations need.
type Batch struct {
	// Name is the logical name of the stream (target table or file stem).
	Name string
	// Columns is shared by all batches of a stream; do not mutate in place.
	Columns Schema
	// Rows are aligned to Columns.
	Rows [][]any
	// PrimaryKey lists the columns a destination should declare as primary
	// key once the load has committed. Empty means no key.
	PrimaryKey []string
}

// New returns an empty batch with the given name and columns.
func New(name string, cols Schema) *Batch {
	return &Batch{Name: name, Columns: cols}
}

// Len is the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Append adds a row. The row must be aligned to b.Columns.
func (b *Batch) Append(row []any) { b.Rows = append(b.Rows, row) }

// SchemaOnly returns a zero-row batch with the same name, columns and key.
func (b *Batch) SchemaOnly() *Batch {
	return &Batch{Name: b.Name, Columns: b.Columns, PrimaryKey: b.PrimaryKey}
}

// Column returns the values of column i in row order.
func (b *Batch) Column(i int) []any {
	out := make([]any, len(b.Rows))
	for r, row := range b.Rows {
		out[r] = row[i]
	}
	return out
}

// AddColumn appends a column and fills it per row with fill(row). The
// column list is copied so batches already handed out keep their schema.
func (b *Batch) AddColumn(col Column, fill func(row []any) any) {
	cols := make(Schema, len(b.Columns), len(b.Columns)+1)
	copy(cols, b.Columns)
	b.Columns = append(cols, col)
	for i, row := range b.Rows {
		b.Rows[i] = append(row, fill(row))
	}
}
