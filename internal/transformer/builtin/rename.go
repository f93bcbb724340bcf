package builtin

import (
	"context"
	"strings"

	"dataload/internal/batch"
	"dataload/internal/pipeline"
)

// Rename maps source column names to new names (case-insensitive lookup).
// Columns not in Map keep their name. Primary key entries follow the rename.
type Rename struct {
	Map map[string]string

	in  batch.Schema
	out batch.Schema
}

func (r *Rename) Name() string { return "rename" }

func (r *Rename) Check(context.Context, pipeline.Listener) error {
	for from, to := range r.Map {
		if strings.TrimSpace(to) == "" {
			return pipeline.Configurationf("rename: empty target name for %q", from)
		}
	}
	return nil
}

// Open fails when a mapped column is missing or two columns end up with the
// same name.
func (r *Rename) Open(_ context.Context, cols batch.Schema, _ pipeline.Listener) error {
	for from := range r.Map {
		if cols.Index(from) < 0 {
			return pipeline.Configurationf("rename: unknown column %q", from)
		}
	}
	out := r.Reshape(cols)
	seen := make(map[string]struct{}, len(out))
	for _, c := range out {
		k := strings.ToLower(c.Name)
		if _, dup := seen[k]; dup {
			return pipeline.Configurationf("rename: duplicate column %q", c.Name)
		}
		seen[k] = struct{}{}
	}
	r.in, r.out = cols, out
	return nil
}

// Reshape returns cols with the mapping applied.
func (r *Rename) Reshape(cols batch.Schema) batch.Schema {
	out := make(batch.Schema, len(cols))
	for i, c := range cols {
		c.Name = r.target(c.Name)
		out[i] = c
	}
	return out
}

func (r *Rename) target(name string) string {
	for from, to := range r.Map {
		if strings.EqualFold(from, name) {
			return to
		}
	}
	return name
}

func (r *Rename) Process(_ context.Context, b *batch.Batch, _ pipeline.Listener) (*batch.Batch, error) {
	if r.out == nil || len(b.Columns) != len(r.in) {
		r.in, r.out = b.Columns, r.Reshape(b.Columns)
	}
	b.Columns = r.out
	if len(b.PrimaryKey) > 0 {
		pk := make([]string, len(b.PrimaryKey))
		for i, k := range b.PrimaryKey {
			pk[i] = r.target(k)
		}
		b.PrimaryKey = pk
	}
	return b, nil
}
