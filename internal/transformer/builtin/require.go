// Package builtin contains simple, reusable transform stages.
package builtin

import (
	"context"
	"strings"

	"dataload/internal/batch"
	"dataload/internal/metrics"
	"dataload/internal/pipeline"
)

// Require removes any row missing a value for one of the specified fields.
// Nil and blank strings count as missing.
type Require struct {
	Fields []string

	job     string
	idx     []int
	dropped int64
}

func (r *Require) Name() string { return "require" }

func (r *Require) Bind(req *pipeline.Request) error {
	r.job = req.Job
	return nil
}

func (r *Require) Check(context.Context, pipeline.Listener) error {
	if len(r.Fields) == 0 {
		return pipeline.Configurationf("require: no fields")
	}
	return nil
}

func (r *Require) Open(_ context.Context, cols batch.Schema, _ pipeline.Listener) error {
	r.idx = r.idx[:0]
	for _, f := range r.Fields {
		i := cols.Index(f)
		if i < 0 {
			return pipeline.Configurationf("require: unknown column %q", f)
		}
		r.idx = append(r.idx, i)
	}
	return nil
}

// Process filters b in place.
func (r *Require) Process(_ context.Context, b *batch.Batch, _ pipeline.Listener) (*batch.Batch, error) {
	out := b.Rows[:0]
	for _, row := range b.Rows {
		if r.complete(row) {
			out = append(out, row)
		}
	}
	n := int64(len(b.Rows) - len(out))
	b.Rows = out
	r.dropped += n
	metrics.RecordRow(r.job, "dropped", n)
	return b, nil
}

func (r *Require) complete(row []any) bool {
	for _, i := range r.idx {
		switch v := row[i].(type) {
		case nil:
			return false
		case string:
			if strings.TrimSpace(v) == "" {
				return false
			}
		}
	}
	return true
}

func (r *Require) Dispose(l pipeline.Listener) {
	if r.dropped > 0 {
		pipeline.Warnf(l, "require: dropped %d row(s) missing %s", r.dropped, strings.Join(r.Fields, ", "))
	}
}
