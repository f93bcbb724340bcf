package builtin

import (
	"context"
	"strings"

	"dataload/internal/batch"
	"dataload/internal/pipeline"

	"golang.org/x/text/unicode/norm"
)

const nbsp = "\u00a0"

// Normalize cleans string values in place: Unicode NFC, NBSP (and its
// latin-1 mojibake "Â ") to a plain space, then edge whitespace trimmed.
// Columns restricts the stage to the named columns; empty means all.
type Normalize struct {
	Columns []string

	idx []int
}

func (n *Normalize) Name() string { return "normalize" }

// Open resolves Columns against the stream schema.
func (n *Normalize) Open(_ context.Context, cols batch.Schema, _ pipeline.Listener) error {
	n.idx = n.idx[:0]
	if len(n.Columns) == 0 {
		for i := range cols {
			n.idx = append(n.idx, i)
		}
		return nil
	}
	for _, c := range n.Columns {
		i := cols.Index(c)
		if i < 0 {
			return pipeline.Configurationf("normalize: unknown column %q", c)
		}
		n.idx = append(n.idx, i)
	}
	return nil
}

func (n *Normalize) Process(_ context.Context, b *batch.Batch, _ pipeline.Listener) (*batch.Batch, error) {
	for _, row := range b.Rows {
		for _, i := range n.idx {
			if s, ok := row[i].(string); ok {
				row[i] = normalizeString(s)
			}
		}
	}
	return b, nil
}

func normalizeString(s string) string {
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	if strings.Contains(s, nbsp) {
		s = strings.ReplaceAll(s, "Â"+nbsp, " ")
		s = strings.ReplaceAll(s, nbsp, " ")
	}
	return strings.TrimSpace(s)
}
