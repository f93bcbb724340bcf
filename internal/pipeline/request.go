package pipeline

import (
	"strings"
	"sync/atomic"
	"time"

	"dataload/internal/naming"

	"github.com/google/uuid"
)

// State is the lifecycle of a Request. It only moves forward.
type State int32

const (
	StateNotStarted State = iota
	StateWaitingOnSource
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateWaitingOnSource:
		return "waiting-on-source"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// SourceQuery describes what to extract.
type SourceQuery struct {
	// SQL is the extraction query.
	SQL string
	// PageSize is the number of rows per batch.
	PageSize int
	// Timeout bounds the query; zero means unbounded.
	Timeout time.Duration
}

// Target describes where to load.
type Target struct {
	// Pattern names the target table or file. It may contain naming tokens.
	Pattern naming.Pattern
	// Values supplies the token substitutions.
	Values naming.Values
}

// Name resolves the target name.
func (t Target) Name() string { return t.Pattern.Resolve(t.Values) }

// Request describes one logical transfer. A Request is bound to exactly one
// Engine run and cannot be reused.
type Request struct {
	// ID correlates log lines and metrics of one run.
	ID uuid.UUID
	// Job labels metrics; it defaults to the resolved target name.
	Job    string
	Source SourceQuery
	Target Target
	// AllowEmpty lets a zero-row extract produce an empty artifact instead
	// of failing with ErrNoData.
	AllowEmpty bool

	state atomic.Int32
}

// DefaultPageSize is used when SourceQuery.PageSize is not set.
const DefaultPageSize = 10_000

// NewRequest returns a Request with a fresh ID.
func NewRequest(job string, src SourceQuery, dst Target) *Request {
	return &Request{ID: uuid.New(), Job: job, Source: src, Target: dst}
}

// State returns the current lifecycle state.
func (r *Request) State() State { return State(r.state.Load()) }

// advance moves the request from one state to the next. It fails when the
// request is not in from, which catches reuse and concurrent runs.
func (r *Request) advance(from, to State) error {
	if !r.state.CompareAndSwap(int32(from), int32(to)) {
		return InvalidStatef("request %s is %s, want %s", r.ID, r.State(), from)
	}
	return nil
}

// validate reports incomplete descriptors.
func (r *Request) validate() error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if strings.TrimSpace(string(r.Target.Pattern)) == "" {
		return Configurationf("request %s: target pattern is empty", r.ID)
	}
	if strings.TrimSpace(r.Source.SQL) == "" {
		return Configurationf("request %s: source query is empty", r.ID)
	}
	if r.Source.PageSize < 0 {
		return Configurationf("request %s: page size %d must not be negative", r.ID, r.Source.PageSize)
	}
	if r.Source.PageSize == 0 {
		r.Source.PageSize = DefaultPageSize
	}
	if r.Job == "" {
		r.Job = r.Target.Name()
	}
	return nil
}
