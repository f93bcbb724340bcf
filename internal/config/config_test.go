package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// -----------------------------------------------------------------------------
// Transfer decoding tests
// -----------------------------------------------------------------------------
//
// These tests check that transfer JSON maps onto the Go struct graph, that Load
// applies defaults and environment overrides, and that the Options helper
// returns typed values. Documents are inline strings to keep tests hermetic.

const sampleTransfer = `{
  "job": "visits",
  "source": {
    "kind": "postgres",
    "dsn": "postgres://${DL_TEST_USER}@db/clinic",
    "query": "SELECT * FROM visits ORDER BY patient",
    "distinct": "ordered",
    "identifier_columns": ["patient"],
    "order_column": "patient",
    "primary_key": ["patient", "visit"],
    "timeout_seconds": 30,
    "validation": { "name": "visits", "fields": [ { "name": "patient", "type": "text", "required": true } ] },
    "coverage": { "date_column": "visited_at" }
  },
  "transform": [
    { "kind": "normalize" },
    { "kind": "require", "options": { "fields": ["patient"] } }
  ],
  "destination": {
    "kind": "mssql",
    "dsn": "sqlserver://sa@target",
    "target": "Proj_$n_$d",
    "values": { "project_number": "42", "dataset": "visits" },
    "type_overrides": { "amount": "decimal(12,2)" },
    "drop_on_failure": false
  },
  "run": { "allow_empty": true, "metrics": { "backend": "datadog", "datadog_addr": "127.0.0.1:8125" } }
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecode(t *testing.T) {
	tr, err := Decode([]byte(sampleTransfer))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if tr.Job != "visits" || tr.Source.Kind != "postgres" || tr.Destination.Kind != "mssql" {
		t.Fatalf("unexpected top-level fields: %+v", tr)
	}
	if got := tr.Source.Timeout().Seconds(); got != 30 {
		t.Fatalf("timeout=%v want 30s", got)
	}
	if !reflect.DeepEqual(tr.Source.PrimaryKey, []string{"patient", "visit"}) {
		t.Fatalf("primary_key=%v", tr.Source.PrimaryKey)
	}
	if tr.Source.Validation == nil || len(tr.Source.Validation.Fields) != 1 || !tr.Source.Validation.Fields[0].Required {
		t.Fatalf("validation=%+v", tr.Source.Validation)
	}
	if tr.Source.Coverage.DateColumn != "visited_at" {
		t.Fatalf("coverage=%+v", tr.Source.Coverage)
	}
	if len(tr.Transform) != 2 || tr.Transform[1].Options.StringSlice("fields")[0] != "patient" {
		t.Fatalf("transform=%+v", tr.Transform)
	}
	if tr.Destination.Values.ProjectNumber != "42" || tr.Destination.Values.Dataset != "visits" {
		t.Fatalf("values=%+v", tr.Destination.Values)
	}
	if BoolOr(tr.Destination.DropOnFailure, true) {
		t.Fatalf("drop_on_failure=false was not honoured")
	}
	if !BoolOr(tr.Destination.SchemaEvolution, true) {
		t.Fatalf("schema_evolution must default to true")
	}
	if !tr.Run.AllowEmpty || tr.Run.Metrics.Backend != "datadog" {
		t.Fatalf("run=%+v", tr.Run)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte(`{"job":"x","sorce":{}}`))
	if err == nil || !strings.Contains(err.Error(), "sorce") {
		t.Fatalf("err=%v, want unknown field error", err)
	}
}

func TestLoad_DefaultsAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "transfer.json", sampleTransfer)
	env := writeFile(t, dir, "test.env", "DL_TEST_USER=reader\n")

	t.Setenv("DL_TEST_USER", "")
	os.Unsetenv("DL_TEST_USER")
	t.Setenv(EnvSourceDSN, "")
	t.Setenv(EnvDestinationDSN, "sqlserver://override@target")

	tr, err := Load(path, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.Source.DSN != "postgres://reader@db/clinic" {
		t.Fatalf("source dsn=%q; ${VAR} not expanded from env file", tr.Source.DSN)
	}
	if tr.Destination.DSN != "sqlserver://override@target" {
		t.Fatalf("destination dsn=%q; override not applied", tr.Destination.DSN)
	}
	if tr.Source.PageSize != DefaultPageSize || tr.Destination.ChunkSize != DefaultChunkSize || tr.Run.ProgressEvery != DefaultProgressEvery {
		t.Fatalf("defaults not applied: page=%d chunk=%d progress=%d",
			tr.Source.PageSize, tr.Destination.ChunkSize, tr.Run.ProgressEvery)
	}
}

func TestLoad_SourceOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "transfer.json", `{"source":{"dsn":"file.db"},"destination":{}}`)
	t.Setenv(EnvSourceDSN, "other.db")

	tr, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.Source.DSN != "other.db" {
		t.Fatalf("source dsn=%q", tr.Source.DSN)
	}
	if tr.Source.Distinct != "none" {
		t.Fatalf("distinct=%q want none", tr.Source.Distinct)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	bad := writeFile(t, dir, "bad.json", `{`)
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
	good := writeFile(t, dir, "good.json", `{}`)
	if _, err := Load(good, filepath.Join(dir, "missing.env")); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

// -----------------------------------------------------------------------------
// Options helper tests
// -----------------------------------------------------------------------------

func TestOptions(t *testing.T) {
	o := Options{
		"s":   "x",
		"b":   true,
		"f":   float64(7),
		"i":   3,
		"m":   map[string]any{"a": "b", "n": 1.0},
		"arr": []any{"p", 2.0, "q"},
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string", o.String("s", "d"), "x"},
		{"string_default", o.String("b", "d"), "d"},
		{"bool", o.Bool("b", false), true},
		{"bool_default", o.Bool("missing", true), true},
		{"int_from_float", o.Int("f", 0), 7},
		{"int", o.Int("i", 0), 3},
		{"int_default", o.Int("s", 9), 9},
		{"string_map", o.StringMap("m"), map[string]string{"a": "b"}},
		{"string_map_missing", o.StringMap("missing"), map[string]string{}},
		{"string_slice", o.StringSlice("arr"), []string{"p", "q"}},
		{"string_slice_missing", o.StringSlice("missing"), []string(nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !reflect.DeepEqual(tc.got, tc.want) {
				t.Fatalf("got %#v want %#v", tc.got, tc.want)
			}
		})
	}

	var nilOpts Options
	if nilOpts.String("x", "d") != "d" {
		t.Fatalf("nil Options must return defaults")
	}
}
