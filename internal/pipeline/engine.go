// Package pipeline drives a Source -> Stage... -> Destination chain under
// one context.
//
// The engine is single-threaded by contract: batch N+1 is never fetched
// before batch N has been consumed, since destinations evolve their schema
// and transaction state in batch order. Cancellation is checked once per
// batch, never mid-batch; a cancelled run aborts every component instead of
// finishing it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"dataload/internal/batch"
	"dataload/internal/metrics"
)

// Source produces batches. NextBatch returns io.EOF once exhausted and never
// returns a zero-row batch together with a nil error.
type Source interface {
	NextBatch(ctx context.Context, l Listener) (*batch.Batch, error)
}

// EmptySource is implemented by sources that can describe their result set
// after producing no rows. The engine uses it to synthesize a schema-only
// batch when empty extracts are allowed.
type EmptySource interface {
	EmptyBatch() *batch.Batch
}

// Stage transforms a batch. Returning nil or a zero-row batch filters the
// batch out.
type Stage interface {
	Process(ctx context.Context, b *batch.Batch, l Listener) (*batch.Batch, error)
}

// Destination materializes batches into a sink.
type Destination interface {
	Consume(ctx context.Context, b *batch.Batch, l Listener) error
	// Finish ends the run. A nil failure commits; otherwise the destination
	// rolls back.
	Finish(ctx context.Context, failure error, l Listener) error
	// Abort is Finish after cancellation.
	Abort(ctx context.Context, l Listener) error
}

// Optional capabilities of sources, stages and destinations.
type (
	// Binder receives the request during Engine.Initialize.
	Binder interface {
		Bind(req *Request) error
	}
	// Checker validates configuration without side effects.
	Checker interface {
		Check(ctx context.Context, l Listener) error
	}
	// Opener is told the schema of the first batch before it is processed.
	Opener interface {
		Open(ctx context.Context, cols batch.Schema, l Listener) error
	}
	// Flusher writes buffered state once the source is exhausted.
	Flusher interface {
		Flush(ctx context.Context, l Listener) error
	}
	// Aborter is told the run was cancelled. Destinations always are.
	Aborter interface {
		Abort(ctx context.Context, l Listener) error
	}
	// Disposer releases resources. It is called exactly once per run.
	Disposer interface {
		Dispose(l Listener)
	}
	// Committer reports rows durably committed so far.
	Committer interface {
		RowsCommitted() int64
	}
	// Named gives a component a label for check reports.
	Named interface {
		Name() string
	}
)

// DefaultProgressEvery is the progress cadence in rows.
const DefaultProgressEvery = 1000

// Summary describes a finished run.
type Summary struct {
	RequestID     string
	Batches       int
	Rows          int64
	RowsCommitted int64
	Elapsed       time.Duration
}

// Engine runs one Request.
type Engine struct {
	Source      Source
	Stages      []Stage
	Destination Destination
	Listener    Listener
	// ProgressEvery is the progress cadence in rows.
	ProgressEvery int64

	req *Request
	now func() time.Time
}

// New returns an Engine for src -> stages -> dst.
func New(src Source, dst Destination, stages ...Stage) *Engine {
	return &Engine{
		Source:        src,
		Stages:        stages,
		Destination:   dst,
		Listener:      NopListener{},
		ProgressEvery: DefaultProgressEvery,
		now:           time.Now,
	}
}

// Initialize validates req and binds it to every component that accepts it.
func (e *Engine) Initialize(req *Request) error {
	if req == nil {
		return Configurationf("request is nil")
	}
	if e.Source == nil || e.Destination == nil {
		return Configurationf("engine needs a source and a destination")
	}
	if e.req != nil {
		return InvalidStatef("engine is already bound to request %s", e.req.ID)
	}
	if req.State() != StateNotStarted {
		return InvalidStatef("request %s is %s", req.ID, req.State())
	}
	if err := req.validate(); err != nil {
		return err
	}
	for _, c := range e.components() {
		if b, ok := c.(Binder); ok {
			if err := b.Bind(req); err != nil {
				return fmt.Errorf("%s: %w", label(c), err)
			}
		}
	}
	e.req = req
	return nil
}

// Check runs every Checker and reports all failures at once, each labelled
// with its component.
func (e *Engine) Check(ctx context.Context) error {
	var errs []error
	for _, c := range e.components() {
		if ch, ok := c.(Checker); ok {
			if err := ch.Check(ctx, e.listener()); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", label(c), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Run executes the bound request: check, open, the batch loop, flush and
// finish. Errors are returned as *RunError.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if e.req == nil {
		return nil, InvalidStatef("Run called before Initialize")
	}
	if err := e.req.advance(StateNotStarted, StateWaitingOnSource); err != nil {
		return nil, err
	}
	defer func() { e.req.state.Store(int32(StateDone)) }()
	if e.now == nil {
		e.now = time.Now
	}

	r := &run{Engine: e, start: e.now(), l: e.listener()}
	defer r.dispose()

	sum, err := r.execute(ctx)
	if err != nil {
		metrics.RecordStep(e.req.Job, "run", err, e.now().Sub(r.start))
		return sum, err
	}
	metrics.RecordStep(e.req.Job, "run", nil, sum.Elapsed)
	return sum, nil
}

func (e *Engine) listener() Listener {
	if e.Listener == nil {
		return NopListener{}
	}
	return e.Listener
}

func (e *Engine) components() []any {
	out := make([]any, 0, len(e.Stages)+2)
	out = append(out, e.Source)
	for _, s := range e.Stages {
		out = append(out, s)
	}
	return append(out, e.Destination)
}

// run holds the mutable state of one Engine.Run.
type run struct {
	*Engine
	l       Listener
	start   time.Time
	batches int
	rows    int64
	next    int64
}

func (r *run) execute(ctx context.Context) (*Summary, error) {
	job := r.req.Job
	Infof(r.l, "run %s: starting %s", r.req.ID, job)

	t := r.now()
	err := r.Check(ctx)
	metrics.RecordStep(job, "check", err, r.now().Sub(t))
	if err != nil {
		return nil, r.fail("check", err, false)
	}

	first, err := r.firstBatch(ctx)
	if err != nil {
		return nil, r.fail("extract", err, false)
	}

	if err := r.open(ctx, first.Columns); err != nil {
		return nil, r.finishFailed(ctx, "open", err)
	}

	t = r.now()
	for b := first; b != nil; {
		if err := ctx.Err(); err != nil {
			return nil, r.abort(ctx, "extract", err)
		}
		if err := r.process(ctx, b); err != nil {
			if isContextErr(err) {
				return nil, r.abort(ctx, stageOf(err), err)
			}
			return nil, r.finishFailed(ctx, stageOf(err), err)
		}
		if b, err = r.nextBatch(ctx); err != nil {
			if isContextErr(err) {
				return nil, r.abort(ctx, "extract", err)
			}
			return nil, r.finishFailed(ctx, "extract", err)
		}
	}
	metrics.RecordStep(job, "load", nil, r.now().Sub(t))

	if err := ctx.Err(); err != nil {
		return nil, r.abort(ctx, "flush", err)
	}
	if err := r.flush(ctx); err != nil {
		return nil, r.finishFailed(ctx, "flush", err)
	}

	t = r.now()
	err = r.Destination.Finish(ctx, nil, r.l)
	metrics.RecordStep(job, "finish", err, r.now().Sub(t))
	if err != nil {
		return nil, &RunError{Stage: "finish", Batches: r.batches, RowsCommitted: r.committed(), Err: err}
	}

	sum := &Summary{
		RequestID:     r.req.ID.String(),
		Batches:       r.batches,
		Rows:          r.rows,
		RowsCommitted: r.committed(),
		Elapsed:       r.now().Sub(r.start),
	}
	r.l.OnProgress(Progress{Rows: r.rows, Batches: r.batches, Elapsed: sum.Elapsed})
	Infof(r.l, "run %s: done batches=%d rows=%d committed=%d elapsed=%s",
		r.req.ID, sum.Batches, sum.Rows, sum.RowsCommitted, sum.Elapsed.Truncate(time.Millisecond))
	return sum, nil
}

// firstBatch fetches the first batch. An immediately exhausted source is
// ErrNoData unless the request allows empty extracts, in which case a
// schema-only batch is synthesized.
func (r *run) firstBatch(ctx context.Context) (*batch.Batch, error) {
	b, err := r.Source.NextBatch(ctx, r.l)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, io.EOF) {
		if isContextErr(err) {
			return nil, err
		}
		return nil, Transport("first batch", err)
	}
	if !r.req.AllowEmpty {
		return nil, fmt.Errorf("%w: %s", ErrNoData, r.req.Job)
	}
	es, ok := r.Source.(EmptySource)
	if !ok {
		return nil, fmt.Errorf("%w: %s (source cannot describe an empty result)", ErrNoData, r.req.Job)
	}
	empty := es.EmptyBatch()
	if empty == nil || len(empty.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s (no columns)", ErrNoData, r.req.Job)
	}
	Warnf(r.l, "source returned no rows; continuing with an empty %s", empty.Name)
	return empty.SchemaOnly(), nil
}

// nextBatch returns the next non-empty batch, or nil once the source is
// exhausted.
func (r *run) nextBatch(ctx context.Context) (*batch.Batch, error) {
	for {
		b, err := r.Source.NextBatch(ctx, r.l)
		switch {
		case errors.Is(err, io.EOF):
			return nil, nil
		case err != nil:
			return nil, Transport("next batch", err)
		case b.Len() > 0:
			return b, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *run) open(ctx context.Context, cols batch.Schema) error {
	for _, c := range r.components()[1:] {
		if o, ok := c.(Opener); ok {
			if err := o.Open(ctx, cols, r.l); err != nil {
				return fmt.Errorf("%s: %w", label(c), err)
			}
		}
	}
	return nil
}

// stageErr tags an error with the step it came from.
type stageErr struct {
	stage string
	err   error
}

func (e *stageErr) Error() string { return e.err.Error() }
func (e *stageErr) Unwrap() error { return e.err }

func stageOf(err error) string {
	var se *stageErr
	if errors.As(err, &se) {
		return se.stage
	}
	return "load"
}

// process passes b through the stages and hands the result to the
// destination. Filtered batches are dropped, except the schema-only batch of
// an empty run, which must reach the destination.
func (r *run) process(ctx context.Context, b *batch.Batch) error {
	empty := b.Len() == 0
	cur := b
	for _, s := range r.Stages {
		out, err := s.Process(ctx, cur, r.l)
		if err != nil {
			return &stageErr{stage: "transform", err: fmt.Errorf("%s: %w", label(s), err)}
		}
		if out == nil {
			if !empty {
				return nil
			}
			out = cur.SchemaOnly()
		}
		if out.Len() == 0 && !empty {
			return nil
		}
		cur = out
	}

	if err := r.Destination.Consume(ctx, cur, r.l); err != nil {
		return &stageErr{stage: "load", err: err}
	}
	r.batches++
	r.rows += int64(cur.Len())
	metrics.RecordBatches(r.req.Job, 1)
	metrics.RecordRow(r.req.Job, "consumed", int64(cur.Len()))
	r.progress()
	return nil
}

func (r *run) progress() {
	every := r.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	if r.next == 0 {
		r.next = every
	}
	if r.rows < r.next {
		return
	}
	r.l.OnProgress(Progress{Rows: r.rows, Batches: r.batches, Elapsed: r.now().Sub(r.start)})
	r.next = (r.rows/every + 1) * every
}

func (r *run) flush(ctx context.Context) error {
	for _, c := range r.components()[1:] {
		if f, ok := c.(Flusher); ok {
			if err := f.Flush(ctx, r.l); err != nil {
				return fmt.Errorf("%s: %w", label(c), err)
			}
		}
	}
	return nil
}

// finishFailed ends the destination with a failure and wraps err.
func (r *run) finishFailed(ctx context.Context, stage string, err error) error {
	cleanup := context.WithoutCancel(ctx)
	if ferr := r.Destination.Finish(cleanup, err, r.l); ferr != nil {
		Warnf(r.l, "finish after failure: %v", ferr)
		err = errors.Join(err, ferr)
	}
	return r.fail(stage, err, true)
}

// abort stops a cancelled run: every stage and the destination are aborted
// instead of finished.
func (r *run) abort(ctx context.Context, stage string, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	Warnf(r.l, "run %s cancelled after %d batch(es)", r.req.ID, r.batches)
	err := cause
	for _, s := range r.Stages {
		if a, ok := s.(Aborter); ok {
			if aerr := a.Abort(cleanup, r.l); aerr != nil {
				err = errors.Join(err, aerr)
			}
		}
	}
	if aerr := r.Destination.Abort(cleanup, r.l); aerr != nil {
		err = errors.Join(err, aerr)
	}
	return r.fail(stage, err, true)
}

func (r *run) fail(stage string, err error, touched bool) error {
	var committed int64
	if touched {
		committed = r.committed()
	}
	metrics.RecordStep(r.req.Job, stage, err, r.now().Sub(r.start))
	return &RunError{Stage: stage, Batches: r.batches, RowsCommitted: committed, Err: err}
}

func (r *run) committed() int64 {
	if c, ok := r.Destination.(Committer); ok {
		return c.RowsCommitted()
	}
	return 0
}

func (r *run) dispose() {
	for _, c := range r.components() {
		if d, ok := c.(Disposer); ok {
			d.Dispose(r.l)
		}
	}
}

func label(c any) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
