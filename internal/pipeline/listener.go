package pipeline

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"
)

// Progress is a running measurement of a transfer.
type Progress struct {
	Rows    int64
	Batches int
	Elapsed time.Duration
}

// Listener receives pipeline events. Implementations must be cheap; they are
// called inline from the pipeline loop.
type Listener interface {
	OnInfo(msg string)
	OnWarning(msg string)
	OnProgress(p Progress)
}

// Infof sends a formatted informational message to l.
func Infof(l Listener, format string, args ...any) { l.OnInfo(fmt.Sprintf(format, args...)) }

// Warnf sends a formatted warning to l.
func Warnf(l Listener, format string, args ...any) { l.OnWarning(fmt.Sprintf(format, args...)) }

// NopListener discards every event.
type NopListener struct{}

func (NopListener) OnInfo(string)       {}
func (NopListener) OnWarning(string)    {}
func (NopListener) OnProgress(Progress) {}

// LogListener writes events through separate info and warning loggers.
// Progress lines are only written when Verbose is set.
type LogListener struct {
	Info    *log.Logger
	Warn    *log.Logger
	Verbose bool

	warnings atomic.Int64
}

// NewLogListener returns a LogListener writing to w.
func NewLogListener(w io.Writer, verbose bool) *LogListener {
	return &LogListener{
		Info:    log.New(w, "INFO: ", log.Ldate|log.Ltime),
		Warn:    log.New(w, "WARN: ", log.Ldate|log.Ltime),
		Verbose: verbose,
	}
}

func (l *LogListener) OnInfo(msg string) { l.Info.Println(msg) }

func (l *LogListener) OnWarning(msg string) {
	l.warnings.Add(1)
	l.Warn.Println(msg)
}

func (l *LogListener) OnProgress(p Progress) {
	if !l.Verbose {
		return
	}
	rps := float64(0)
	if p.Elapsed > 0 {
		rps = float64(p.Rows) / p.Elapsed.Seconds()
	}
	l.Info.Printf("progress: rows=%d batches=%d rps=%.0f elapsed=%s",
		p.Rows, p.Batches, rps, p.Elapsed.Truncate(time.Millisecond))
}

// Warnings is the number of warnings seen so far.
func (l *LogListener) Warnings() int64 { return l.warnings.Load() }
