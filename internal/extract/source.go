// Package extract implements the relational extraction source: it pages a
// query into batches and keeps the accounting a single batch cannot provide.
//
// With DistinctOrdered the source reads past the page boundary while rows
// still share the boundary identifier, so an identifier group always reaches
// the destination whole and deduplicated. Every identifier seen is recorded
// for the distinct-subject count reported at the end of the run.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"dataload/internal/batch"
	"dataload/internal/metrics"
	"dataload/internal/pipeline"
	"dataload/internal/schema"
	"dataload/internal/storage"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/cases"
)

// Querier starts a forward-only cursor. storage.Repository satisfies it.
type Querier interface {
	Query(ctx context.Context, query string) (storage.Rows, error)
}

// Config describes one extraction.
type Config struct {
	// Name is the logical stream name stamped on every batch. It defaults to
	// the request's resolved target name.
	Name string
	// Query is the extraction SQL. It defaults to the request's query.
	Query    string
	PageSize int
	// Timeout bounds the query including reading its rows; zero is unbounded.
	Timeout  time.Duration
	Distinct DistinctStrategy
	// IdentifierColumns hold the release identifier(s) of a row.
	IdentifierColumns []string
	// OrderColumn is the column the query is ordered by for DistinctOrdered.
	// It defaults to the single identifier column. Order keys are compared
	// byte for byte unless FoldOrderKeys is set, so a query ordered under a
	// case-insensitive or pad-space collation (the SQL Server and MySQL
	// defaults) can interleave "a" and "A " and fail the order check.
	OrderColumn string
	// FoldOrderKeys compares order keys case-folded and without trailing
	// spaces, matching case-insensitive pad-space collations.
	FoldOrderKeys bool
	// PrimaryKey is forwarded on every batch for the destination to declare
	// after commit.
	PrimaryKey []string
	// Validation appends the validation_failures column when set.
	Validation *schema.Contract
	// CoverageColumn buckets rows per month of this date column when set.
	CoverageColumn string
}

// Stats is the running accounting of a Source.
type Stats struct {
	Batches         int
	Rows            int64
	Duplicates      int64
	NullIdentifiers int64
	Subjects        int
}

// Source is a pipeline.Source over a paged query.
type Source struct {
	cfg Config
	db  Querier
	job string

	qctx    context.Context
	cancel  context.CancelFunc
	rows    storage.Rows
	done    bool
	inCols  batch.Schema
	outCols batch.Schema
	peek    batch.RowPeeker

	idIdx    []int
	orderIdx int
	fold     cases.Caser
	subjects map[string]struct{}
	closed   map[xxh3.Uint128]struct{}
	lastKey  string
	haveLast bool

	validating bool
	val        *validator
	cov        *coverage

	stats Stats
}

// New returns a Source reading from db.
func New(db Querier, cfg Config) *Source {
	return &Source{
		cfg:      cfg,
		db:       db,
		orderIdx: -1,
		fold:     cases.Fold(),
		subjects: make(map[string]struct{}),
		closed:   make(map[xxh3.Uint128]struct{}),
	}
}

func (s *Source) Name() string { return "extract" }

// Bind fills unset fields from the request.
func (s *Source) Bind(req *pipeline.Request) error {
	if s.cfg.Query == "" {
		s.cfg.Query = req.Source.SQL
	}
	if s.cfg.PageSize == 0 {
		s.cfg.PageSize = req.Source.PageSize
	}
	if s.cfg.Timeout == 0 {
		s.cfg.Timeout = req.Source.Timeout
	}
	if s.cfg.Name == "" {
		s.cfg.Name = req.Target.Name()
	}
	s.job = req.Job
	return nil
}

var (
	reDistinct = regexp.MustCompile(`(?i)\bselect\s+distinct\b`)
	reOrderBy  = regexp.MustCompile(`(?i)\border\s+by\b`)
)

// Check validates the configuration. It does not touch the database.
func (s *Source) Check(_ context.Context, l pipeline.Listener) error {
	var errs []error
	if strings.TrimSpace(s.cfg.Query) == "" {
		errs = append(errs, pipeline.Configurationf("extract: query is empty"))
	}
	if s.cfg.PageSize <= 0 {
		errs = append(errs, pipeline.Configurationf("extract: page size %d must be positive", s.cfg.PageSize))
	}
	switch s.cfg.Distinct {
	case DistinctOrdered:
		if s.orderColumn() == "" {
			errs = append(errs, pipeline.Configurationf(
				"extract: ordered distinct needs an order column or exactly one identifier column, got %d identifier column(s)",
				len(s.cfg.IdentifierColumns)))
		} else if !reOrderBy.MatchString(s.cfg.Query) {
			pipeline.Warnf(l, "extract: ordered distinct on %q but the query has no ORDER BY", s.orderColumn())
		}
	case DistinctSink:
		if !reDistinct.MatchString(s.cfg.Query) {
			pipeline.Warnf(l, "extract: sink distinct selected but the query has no SELECT DISTINCT")
		}
	}
	if c := s.cfg.Validation; c != nil {
		for _, f := range c.Fields {
			if _, err := FieldKind(f.Type); err != nil {
				errs = append(errs, pipeline.Configurationf("extract: contract %q field %q: %v", c.Name, f.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Source) orderColumn() string {
	if s.cfg.OrderColumn != "" {
		return s.cfg.OrderColumn
	}
	if len(s.cfg.IdentifierColumns) == 1 {
		return s.cfg.IdentifierColumns[0]
	}
	return ""
}

// NextBatch returns the next page, or io.EOF once the query is exhausted.
func (s *Source) NextBatch(ctx context.Context, l pipeline.Listener) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.rows == nil {
		if err := s.start(ctx, l); err != nil {
			return nil, err
		}
	}
	rows, err := s.page()
	if err != nil {
		return nil, s.transport(ctx, "extract: read page", err)
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	b, err := s.resolve(rows, l)
	if err != nil {
		return nil, err
	}
	s.stats.Batches++
	return b, nil
}

func (s *Source) start(ctx context.Context, l pipeline.Listener) error {
	var (
		qctx   context.Context
		cancel context.CancelFunc
	)
	if s.cfg.Timeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	} else {
		qctx, cancel = context.WithCancel(ctx)
	}
	s.qctx = qctx
	rows, err := s.db.Query(qctx, s.cfg.Query)
	if err != nil {
		err = s.transport(ctx, "extract: query", err)
		cancel()
		return err
	}
	s.rows, s.cancel = rows, cancel
	s.inCols = rows.Columns()

	for _, name := range s.cfg.IdentifierColumns {
		i := s.inCols.Index(name)
		if i < 0 {
			return pipeline.Configurationf("extract: identifier column %q is not in the result set", name)
		}
		s.idIdx = append(s.idIdx, i)
	}
	if s.cfg.Distinct == DistinctOrdered {
		name := s.orderColumn()
		if s.orderIdx = s.inCols.Index(name); s.orderIdx < 0 {
			return pipeline.Configurationf("extract: order column %q is not in the result set", name)
		}
	}

	s.outCols = s.inCols
	if s.cfg.Validation != nil {
		s.validating = true
		s.outCols = append(append(batch.Schema{}, s.inCols...), batch.Column{Name: ValidationColumn})
		v, err := newValidator(*s.cfg.Validation, s.inCols)
		if err != nil {
			pipeline.Warnf(l, "extract: validation disabled: %v", err)
		}
		s.val = v
	}
	if c := s.cfg.CoverageColumn; c != "" {
		if i := s.inCols.Index(c); i >= 0 {
			s.cov = newCoverage(c, i)
		} else {
			pipeline.Warnf(l, "extract: coverage column %q is not in the result set", c)
		}
	}
	pipeline.Infof(l, "extract: %d column(s), page size %d, distinct %s", len(s.inCols), s.cfg.PageSize, s.cfg.Distinct)
	return nil
}

// transport classifies a read failure. A query that ran past its own
// timeout is a transport failure, not a cancellation of the run.
func (s *Source) transport(ctx context.Context, op string, err error) error {
	if ctx.Err() == nil && s.qctx != nil && errors.Is(s.qctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: query exceeded %s: %w", pipeline.ErrTransport, op, s.cfg.Timeout, err)
	}
	return pipeline.Transport(op, err)
}

func (s *Source) next() ([]any, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if !s.rows.Next() {
		s.done = true
		return nil, false, s.rows.Err()
	}
	row, err := s.rows.Values()
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// page reads up to PageSize rows, starting with the row held back by the
// previous call. With DistinctOrdered it then keeps reading while rows share
// the identifier of the last row read.
func (s *Source) page() ([][]any, error) {
	out := make([][]any, 0, s.cfg.PageSize)
	if row, ok := s.peek.Take(); ok {
		out = append(out, row)
	}
	for len(out) < s.cfg.PageSize {
		row, ok, err := s.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	if s.cfg.Distinct != DistinctOrdered || len(out) == 0 {
		return out, nil
	}
	boundary := s.orderKey(out[len(out)-1])
	out, _, err := s.peek.AddWhile(out, s.next, func(row []any) bool {
		return s.orderKey(row) == boundary
	})
	return out, err
}

func (s *Source) resolve(rows [][]any, l pipeline.Listener) (*batch.Batch, error) {
	read := int64(len(rows))
	if s.cfg.Distinct == DistinctOrdered {
		var removed int
		rows, removed = dedupRows(rows)
		s.stats.Duplicates += int64(removed)
		metrics.RecordRow(s.job, "deduplicated", int64(removed))
		if err := s.checkOrder(rows); err != nil {
			return nil, err
		}
	}
	if err := s.recordIdentifiers(rows); err != nil {
		return nil, err
	}
	if s.validating {
		for i, row := range rows {
			rows[i] = append(row, s.validate(row, l))
		}
	}
	if s.cov != nil {
		for _, row := range rows {
			if err := s.cov.add(row); err != nil {
				pipeline.Warnf(l, "extract: time coverage disabled: %v", err)
				s.cov = nil
				break
			}
		}
	}
	s.stats.Rows += read
	metrics.RecordRow(s.job, "extracted", read)
	return &batch.Batch{Name: s.cfg.Name, Columns: s.outCols, Rows: rows, PrimaryKey: s.cfg.PrimaryKey}, nil
}

// checkOrder fails when an order key shows up again after its group ended,
// which means the query is not ordered by that column and groups would be
// split silently.
func (s *Source) checkOrder(rows [][]any) error {
	for _, row := range rows {
		key := s.orderKey(row)
		if s.haveLast && key == s.lastKey {
			continue
		}
		h := xxh3.HashString128(key)
		if _, ok := s.closed[h]; ok {
			return pipeline.Configurationf("extract: %q value %q reappeared after its group ended; the query must be ordered by %q",
				s.orderColumn(), key, s.orderColumn())
		}
		if s.haveLast {
			s.closed[xxh3.HashString128(s.lastKey)] = struct{}{}
		}
		s.lastKey, s.haveLast = key, true
	}
	return nil
}

func (s *Source) orderKey(row []any) string {
	key := keyOf(row[s.orderIdx])
	if s.cfg.FoldOrderKeys {
		key = s.fold.String(strings.TrimRight(key, " "))
	}
	return key
}

func (s *Source) recordIdentifiers(rows [][]any) error {
	if len(s.idIdx) == 0 {
		return nil
	}
	for n, row := range rows {
		for k, i := range s.idIdx {
			v := row[i]
			if v == nil {
				if len(s.idIdx) == 1 {
					return fmt.Errorf("%w: column %q, row %d of batch %d",
						pipeline.ErrNullIdentifier, s.cfg.IdentifierColumns[k], n+1, s.stats.Batches+1)
				}
				s.stats.NullIdentifiers++
				continue
			}
			s.subjects[keyOf(v)] = struct{}{}
		}
	}
	s.stats.Subjects = len(s.subjects)
	return nil
}

func (s *Source) validate(row []any, l pipeline.Listener) any {
	if s.val == nil {
		return nil
	}
	failures, err := s.val.validate(row)
	if err != nil {
		pipeline.Warnf(l, "extract: validation disabled: %v", err)
		s.val = nil
		return nil
	}
	if len(failures) == 0 {
		return nil
	}
	metrics.RecordRow(s.job, "rejected", 1)
	return strings.Join(failures, "; ")
}

// EmptyBatch describes the result set of a query that produced no rows.
func (s *Source) EmptyBatch() *batch.Batch {
	return &batch.Batch{Name: s.cfg.Name, Columns: s.outCols, PrimaryKey: s.cfg.PrimaryKey}
}

// Stats returns the accounting so far.
func (s *Source) Stats() Stats { return s.stats }

// Dispose closes the cursor and reports the extraction summary.
func (s *Source) Dispose(l pipeline.Listener) {
	if s.rows != nil {
		if err := s.rows.Close(); err != nil {
			pipeline.Warnf(l, "extract: close cursor: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	pipeline.Infof(l, "extract: rows=%d duplicates=%d distinct_subjects=%d batches=%d",
		s.stats.Rows, s.stats.Duplicates, s.stats.Subjects, s.stats.Batches)
	if s.stats.NullIdentifiers > 0 {
		pipeline.Warnf(l, "extract: %d null identifier value(s) skipped", s.stats.NullIdentifiers)
	}
	if s.cov != nil {
		pipeline.Infof(l, "extract: coverage of %s: %s", s.cov.column, s.cov.Summary())
	}
}
