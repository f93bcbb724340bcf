// Package transformer composes transform stages and builds them from the
// transfer configuration.
package transformer

import (
	"context"
	"errors"
	"fmt"

	"dataload/internal/batch"
	"dataload/internal/pipeline"
)

// Reshaper is implemented by stages that change the column list. Chain uses
// it to open later stages against the schema they will actually see.
type Reshaper interface {
	Reshape(cols batch.Schema) batch.Schema
}

// Chain is an ordered list of stages run as one.
type Chain []pipeline.Stage

func (c Chain) Name() string { return "transform" }

func (c Chain) Bind(req *pipeline.Request) error {
	for _, s := range c {
		if b, ok := s.(pipeline.Binder); ok {
			if err := b.Bind(req); err != nil {
				return fmt.Errorf("%s: %w", name(s), err)
			}
		}
	}
	return nil
}

func (c Chain) Check(ctx context.Context, l pipeline.Listener) error {
	var errs []error
	for _, s := range c {
		if ch, ok := s.(pipeline.Checker); ok {
			if err := ch.Check(ctx, l); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c Chain) Open(ctx context.Context, cols batch.Schema, l pipeline.Listener) error {
	for _, s := range c {
		if o, ok := s.(pipeline.Opener); ok {
			if err := o.Open(ctx, cols, l); err != nil {
				return err
			}
		}
		if r, ok := s.(Reshaper); ok {
			cols = r.Reshape(cols)
		}
	}
	return nil
}

// Process runs b through every stage. A stage that filters out a non-empty
// batch ends the chain; a schema-only batch is passed along regardless.
func (c Chain) Process(ctx context.Context, b *batch.Batch, l pipeline.Listener) (*batch.Batch, error) {
	empty := b.Len() == 0
	cur := b
	for _, s := range c {
		out, err := s.Process(ctx, cur, l)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name(s), err)
		}
		if out == nil || (out.Len() == 0 && !empty) {
			if !empty {
				return nil, nil
			}
			out = cur.SchemaOnly()
		}
		cur = out
	}
	return cur, nil
}

func (c Chain) Flush(ctx context.Context, l pipeline.Listener) error {
	for _, s := range c {
		if f, ok := s.(pipeline.Flusher); ok {
			if err := f.Flush(ctx, l); err != nil {
				return fmt.Errorf("%s: %w", name(s), err)
			}
		}
	}
	return nil
}

func (c Chain) Abort(ctx context.Context, l pipeline.Listener) error {
	var errs []error
	for _, s := range c {
		if a, ok := s.(pipeline.Aborter); ok {
			errs = append(errs, a.Abort(ctx, l))
		}
	}
	return errors.Join(errs...)
}

func (c Chain) Dispose(l pipeline.Listener) {
	for _, s := range c {
		if d, ok := s.(pipeline.Disposer); ok {
			d.Dispose(l)
		}
	}
}

func name(s pipeline.Stage) string {
	if n, ok := s.(pipeline.Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
