// Package csvsink writes a transfer to a CSV file.
//
// Rows are written to a temporary file in the target directory, which is
// renamed into place only when the run finishes successfully; a failed or
// cancelled run removes it. An empty run still produces a headers-only file.
package csvsink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dataload/internal/batch"
	"dataload/internal/metrics"
	"dataload/internal/naming"
	"dataload/internal/pipeline"
)

// Ext is appended to the resolved target name.
const Ext = ".csv"

// maxFileName is the common file name limit of Linux, macOS and Windows.
const maxFileName = 255

// Config configures a Destination.
type Config struct {
	// Dir must exist.
	Dir     string
	Pattern naming.Pattern
	Values  naming.Values
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Overwrite replaces an existing non-empty file instead of failing.
	Overwrite bool
}

type state int

const (
	notOpened state = iota
	opened
	committed
	rolledBack
)

// Destination is a pipeline.Destination writing one CSV file.
type Destination struct {
	cfg Config
	job string

	state     state
	path      string
	tmp       *os.File
	w         *csv.Writer
	written   int64
	committed int64
}

// New returns a Destination for cfg.
func New(cfg Config) *Destination {
	return &Destination{cfg: cfg}
}

func (d *Destination) Name() string { return "csv" }

// RowsCommitted is the number of rows in the renamed file.
func (d *Destination) RowsCommitted() int64 { return d.committed }

// Path is the final file path, set once the first batch arrived.
func (d *Destination) Path() string { return d.path }

func (d *Destination) Bind(req *pipeline.Request) error {
	if d.cfg.Pattern == "" {
		d.cfg.Pattern = req.Target.Pattern
		d.cfg.Values = req.Target.Values
	}
	d.job = req.Job
	return nil
}

func (d *Destination) fileName() string {
	return d.cfg.Pattern.Resolve(d.cfg.Values) + Ext
}

func (d *Destination) Check(context.Context, pipeline.Listener) error {
	var errs []error
	if len(d.cfg.Pattern.Tokens()) > 0 {
		if err := d.cfg.Pattern.Check(); err != nil {
			errs = append(errs, pipeline.Configurationf("%v", err))
		}
	}
	if err := legalFile(d.fileName()); err != nil {
		errs = append(errs, pipeline.Configurationf("%v", err))
	}
	fi, err := os.Stat(d.cfg.Dir)
	switch {
	case err != nil:
		errs = append(errs, pipeline.Configurationf("output directory: %v", err))
	case !fi.IsDir():
		errs = append(errs, pipeline.Configurationf("output directory %s is not a directory", d.cfg.Dir))
	}
	return errors.Join(errs...)
}

func legalFile(name string) error {
	if err := naming.Legal(name, maxFileName); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("file name %q contains a path separator", name)
	}
	return nil
}

func (d *Destination) Consume(_ context.Context, b *batch.Batch, _ pipeline.Listener) error {
	switch d.state {
	case committed, rolledBack:
		return pipeline.InvalidStatef("csv destination already finished")
	case notOpened:
		if err := d.open(b.Columns); err != nil {
			return err
		}
	}

	rec := make([]string, len(b.Columns))
	for _, row := range b.Rows {
		for i, v := range row {
			rec[i] = format(v)
		}
		if err := d.w.Write(rec); err != nil {
			return pipeline.Transport("write "+d.tmp.Name(), err)
		}
	}
	d.written += int64(len(b.Rows))
	return nil
}

func (d *Destination) open(cols batch.Schema) error {
	name := d.fileName()
	if err := legalFile(name); err != nil {
		return pipeline.Configurationf("%v", err)
	}
	d.path = filepath.Join(d.cfg.Dir, name)
	if fi, err := os.Stat(d.path); err == nil && fi.Size() > 0 && !d.cfg.Overwrite {
		return fmt.Errorf("%w: %s", pipeline.ErrTargetAlreadyPopulated, d.path)
	}

	f, err := os.CreateTemp(d.cfg.Dir, "."+name+".*.tmp")
	if err != nil {
		return pipeline.Transport("create temp file", err)
	}
	d.tmp = f
	d.w = csv.NewWriter(f)
	if d.cfg.Comma != 0 {
		d.w.Comma = d.cfg.Comma
	}
	d.state = opened
	if err := d.w.Write(cols.Names()); err != nil {
		return pipeline.Transport("write header", err)
	}
	return nil
}

// Finish renames the temp file into place when failure is nil and removes it
// otherwise.
func (d *Destination) Finish(_ context.Context, failure error, l pipeline.Listener) error {
	switch d.state {
	case committed, rolledBack:
		return pipeline.InvalidStatef("csv destination already finished")
	case notOpened:
		d.state = rolledBack
		if failure == nil {
			d.state = committed
		}
		return nil
	}
	if failure != nil {
		d.discard()
		pipeline.Warnf(l, "csv: removed partial output for %s", d.path)
		return nil
	}

	if err := d.close(); err != nil {
		d.discard()
		return pipeline.Transport("close "+d.path, err)
	}
	if err := os.Rename(d.tmp.Name(), d.path); err != nil {
		d.discard()
		return pipeline.Transport("rename to "+d.path, err)
	}
	d.state = committed
	d.committed = d.written
	metrics.RecordRow(d.job, "inserted", d.committed)
	pipeline.Infof(l, "csv: wrote %d row(s) to %s", d.committed, d.path)
	return nil
}

func (d *Destination) Abort(_ context.Context, l pipeline.Listener) error {
	if d.state == committed || d.state == rolledBack {
		return pipeline.InvalidStatef("csv destination already finished")
	}
	if d.state == opened {
		pipeline.Warnf(l, "csv: cancelled; removed partial output for %s", d.path)
	}
	d.discard()
	return nil
}

func (d *Destination) Dispose(pipeline.Listener) {
	if d.state == opened {
		d.discard()
	}
}

func (d *Destination) close() error {
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		_ = d.tmp.Close()
		return err
	}
	if err := d.tmp.Sync(); err != nil {
		_ = d.tmp.Close()
		return err
	}
	return d.tmp.Close()
}

func (d *Destination) discard() {
	if d.tmp != nil {
		_ = d.tmp.Close()
		_ = os.Remove(d.tmp.Name())
	}
	d.state = rolledBack
	d.written = 0
}

// format renders a driver value as CSV text. NULL becomes an empty field.
func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
