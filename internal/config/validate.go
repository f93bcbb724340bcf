package config

import (
	"fmt"
	"strings"

	"dataload/internal/extract"
	"dataload/internal/naming"
	"dataload/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "destination.target",
// "transform[1].options.fields").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains at least one error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// StorageKinds are the database kinds a transfer may name.
var StorageKinds = []string{"postgres", "mssql", "mysql", "sqlite"}

var transformKinds = map[string]struct{}{"normalize": {}, "rename": {}, "require": {}}

// ValidateTransfer lints t without mutating it.
//
// Example:
//
//	issues := config.ValidateTransfer(*t)
//	for _, iss := range issues {
//	    fmt.Println(iss)
//	}
func ValidateTransfer(t Transfer) []Issue {
	var v linter
	if strings.TrimSpace(t.Job) == "" {
		v.warn("job", "job is empty; the resolved target name is used for metrics labels")
	}
	v.source(t.Source)
	v.transforms(t.Transform)
	v.destination(t.Destination)
	v.run(t.Run)
	return v.issues
}

type linter struct{ issues []Issue }

func (v *linter) add(sev IssueSeverity, path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *linter) err(path, format string, args ...any) { v.add(SeverityError, path, format, args...) }

func (v *linter) warn(path, format string, args ...any) { v.add(SeverityWarning, path, format, args...) }

func (v *linter) source(s Source) {
	v.kind("source.kind", s.Kind, false)
	if strings.TrimSpace(s.DSN) == "" {
		v.err("source.dsn", "source.dsn must not be empty")
	}
	if strings.TrimSpace(s.Query) == "" {
		v.err("source.query", "source.query must not be empty")
	}
	if s.PageSize < 0 {
		v.err("source.page_size", "page_size must not be negative")
	}
	if s.TimeoutSeconds < 0 {
		v.err("source.timeout_seconds", "timeout_seconds must not be negative")
	}

	d, err := extract.ParseDistinct(s.Distinct)
	if err != nil {
		v.err("source.distinct", "%v", err)
	}
	if d == extract.DistinctOrdered {
		if len(s.IdentifierColumns) == 0 {
			v.err("source.identifier_columns", "ordered distinct needs at least one identifier column")
		}
		if strings.TrimSpace(s.OrderColumn) == "" {
			v.err("source.order_column", "ordered distinct needs an order column")
		}
	}

	if c := s.Validation; c != nil {
		if len(c.Fields) == 0 {
			v.warn("source.validation", "validation contract has no fields; it will not enforce anything")
		}
		for i, f := range c.Fields {
			path := fmt.Sprintf("source.validation.fields[%d]", i)
			if strings.TrimSpace(f.Name) == "" {
				v.err(path+".name", "field name must not be empty")
			}
			if _, err := extract.FieldKind(f.Type); err != nil {
				v.err(path+".type", "unknown field type %q", f.Type)
			}
			if f.MaxLen < 0 {
				v.err(path+".max_len", "max_len must not be negative")
			}
		}
	}
}

func (v *linter) transforms(ts []Transform) {
	for i, t := range ts {
		path := fmt.Sprintf("transform[%d]", i)
		if strings.TrimSpace(t.Kind) == "" {
			v.err(path+".kind", "transform kind must not be empty")
			continue
		}
		if _, ok := transformKinds[t.Kind]; !ok {
			v.err(path+".kind", "unknown transform kind %q", t.Kind)
			continue
		}
		switch t.Kind {
		case "require":
			if len(t.Options.StringSlice("fields")) == 0 {
				v.err(path+".options.fields", "require transform needs at least one field")
			}
		case "rename":
			if len(t.Options.StringMap("columns")) == 0 {
				v.err(path+".options.columns", "rename transform needs a columns map")
			}
		}
	}
}

func (v *linter) destination(d Destination) {
	if d.IsFile() {
		if strings.TrimSpace(d.Dir) == "" {
			v.err("destination.dir", "csv destination needs an output directory")
		}
	} else {
		v.kind("destination.kind", d.Kind, true)
		if strings.TrimSpace(d.DSN) == "" {
			v.err("destination.dsn", "destination.dsn must not be empty")
		}
	}

	p := naming.Pattern(d.Target)
	switch {
	case strings.TrimSpace(d.Target) == "":
		v.err("destination.target", "destination.target must not be empty")
	case len(p.Tokens()) == 0:
		v.warn("destination.target", "target %q has no naming tokens; every run writes the same name", d.Target)
	default:
		if err := p.Check(); err != nil {
			v.err("destination.target", "%v", err)
		}
	}

	for col, typ := range d.TypeOverrides {
		path := "destination.type_overrides." + col
		if strings.TrimSpace(typ) == "" {
			v.err(path, "type override must not be empty")
		} else if t := schema.ParseSQLType(typ); t.Kind == schema.KindUnknown {
			v.warn(path, "type %q is not understood; it will be passed to the database verbatim", typ)
		}
	}
	if d.ChunkSize < 0 {
		v.err("destination.chunk_size", "chunk_size must not be negative")
	}
}

func (v *linter) kind(path, kind string, allowFile bool) {
	if strings.TrimSpace(kind) == "" {
		v.err(path, "%s must not be empty", path)
		return
	}
	for _, k := range StorageKinds {
		if k == kind {
			return
		}
	}
	want := strings.Join(StorageKinds, ", ")
	if allowFile {
		want += ", csv"
	}
	v.err(path, "unknown kind %q (want one of %s)", kind, want)
}

func (v *linter) run(r RunOptions) {
	if r.ProgressEvery < 0 {
		v.err("run.progress_every", "progress_every must not be negative")
	}
	m := r.Metrics
	switch m.Backend {
	case "", "none":
	case "prometheus":
		if m.PushgatewayURL == "" {
			v.err("run.metrics.pushgateway_url", "prometheus backend needs a pushgateway_url")
		}
	case "datadog":
		if m.DatadogAddr == "" {
			v.err("run.metrics.datadog_addr", "datadog backend needs a datadog_addr")
		}
	default:
		v.err("run.metrics.backend", "unknown metrics backend %q (want none, prometheus or datadog)", m.Backend)
	}
}
