package pipeline

import (
	"errors"
	"fmt"
)

// Error categories. Match with errors.Is; concrete errors wrap one of these
// and, where there is one, the underlying driver error.
var (
	// ErrConfiguration marks missing or contradictory setup. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoData is returned when the source produced no rows and empty
	// extracts are not allowed.
	ErrNoData = errors.New("source produced no rows")
	// ErrNullIdentifier marks a null release identifier that cannot be
	// tolerated.
	ErrNullIdentifier = errors.New("null release identifier")
	// ErrTargetAlreadyPopulated is returned before any write when the target
	// table holds rows and loading into it was not allowed.
	ErrTargetAlreadyPopulated = errors.New("target table already populated")
	// ErrSchemaWiden marks a failed (or forbidden) column widening.
	ErrSchemaWiden = errors.New("schema widen failed")
	// ErrTransport marks a database or file I/O failure during fetch or
	// write.
	ErrTransport = errors.New("transport error")
	// ErrInvalidState marks a method called out of sequence.
	ErrInvalidState = errors.New("invalid state")
)

// Configurationf returns an ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// InvalidStatef returns an ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Transport wraps err as ErrTransport, keeping err in the chain. Errors that
// are already categorised, and context errors, are returned unchanged.
func Transport(op string, err error) error {
	if err == nil || categorised(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// SchemaWiden wraps err as ErrSchemaWiden for the named column.
func SchemaWiden(column string, err error) error {
	return fmt.Errorf("%w: column %q: %w", ErrSchemaWiden, column, err)
}

func categorised(err error) bool {
	for _, c := range []error{ErrConfiguration, ErrNoData, ErrNullIdentifier,
		ErrTargetAlreadyPopulated, ErrSchemaWiden, ErrTransport, ErrInvalidState} {
		if errors.Is(err, c) {
			return true
		}
	}
	return isContextErr(err)
}

// RunError is the terminal error of Engine.Run. It records how far the run
// got so operators can tell "nothing happened" from "partial data visible".
type RunError struct {
	// Stage is the step that failed: check, extract, open, transform, load,
	// flush or finish.
	Stage string
	// Batches is the number of batches handed to the destination.
	Batches int
	// RowsCommitted is the number of rows durably committed. It is zero
	// when the destination rolled back.
	RowsCommitted int64
	Err           error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed after %d batch(es), %d row(s) committed: %v",
		e.Stage, e.Batches, e.RowsCommitted, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
