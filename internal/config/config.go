// Package config defines the JSON configuration model of a transfer and
// loads it from disk.
//
// Field names in Go mirror the JSON structure of transfer files. Kind-specific
// transform settings live in a free-form Options bag with typed accessors.
//
// Example (trimmed):
//
//	{
//	  "job": "visits",
//	  "source": {
//	    "kind": "postgres", "dsn": "${SOURCE_DSN}",
//	    "query": "SELECT ... ORDER BY patient_id",
//	    "distinct": "ordered", "identifier_columns": ["patient_id"],
//	    "order_column": "patient_id"
//	  },
//	  "transform": [ { "kind": "normalize" } ],
//	  "destination": {
//	    "kind": "mssql", "dsn": "${TARGET_DSN}",
//	    "target": "Proj_$n_$d_$l",
//	    "values": { "project_number": "42", "dataset": "visits", "release": "REL-9" }
//	  }
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dataload/internal/naming"
	"dataload/internal/schema"

	"github.com/joho/godotenv"
)

// Environment overrides applied by Load.
const (
	EnvSourceDSN      = "DATALOAD_SOURCE_DSN"
	EnvDestinationDSN = "DATALOAD_DESTINATION_DSN"
)

// Defaults applied by Load when a field is left unset.
const (
	DefaultPageSize      = 10_000
	DefaultProgressEvery = 1_000
	DefaultChunkSize     = 5_000
)

// Transfer is the top-level object of a transfer file.
type Transfer struct {
	// Job labels metrics and log lines. Defaults to the resolved target name.
	Job         string      `json:"job"`
	Source      Source      `json:"source"`
	Transform   []Transform `json:"transform"`
	Destination Destination `json:"destination"`
	Run         RunOptions  `json:"run"`
}

// Source configures the extraction query.
type Source struct {
	// Kind is a registered storage kind: postgres, mssql, mysql or sqlite.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	Query          string `json:"query"`
	PageSize       int    `json:"page_size"`
	TimeoutSeconds int    `json:"timeout_seconds"`

	// Distinct is none, sink or ordered.
	Distinct          string   `json:"distinct"`
	IdentifierColumns []string `json:"identifier_columns"`
	OrderColumn       string   `json:"order_column"`
	PrimaryKey        []string `json:"primary_key"`

	Validation *schema.Contract `json:"validation,omitempty"`
	Coverage   Coverage         `json:"coverage"`
}

// Timeout is the query timeout; zero means unbounded.
func (s Source) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Coverage configures the per-month row histogram.
type Coverage struct {
	DateColumn string `json:"date_column"`
}

// Transform defines a single transform stage.
type Transform struct {
	// Kind selects the stage: normalize, rename or require.
	Kind string `json:"kind"`
	// Options is interpreted by the selected stage.
	Options Options `json:"options"`
}

// Destination configures where rows are written.
type Destination struct {
	// Kind is a registered storage kind, or "csv" for a file target.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
	// Dir is the output directory of csv targets.
	Dir string `json:"dir"`

	// Target is the naming pattern of the table or file.
	Target string        `json:"target"`
	Values naming.Values `json:"values"`

	// TypeOverrides maps column names to SQL types, e.g. "decimal(12,2)".
	TypeOverrides   map[string]string `json:"type_overrides"`
	AllowPopulated  bool              `json:"allow_populated"`
	DropOnFailure   *bool             `json:"drop_on_failure"`
	SchemaEvolution *bool             `json:"schema_evolution"`
	ChunkSize       int               `json:"chunk_size"`
}

// IsFile reports whether the destination writes a file instead of a table.
func (d Destination) IsFile() bool { return d.Kind == "csv" }

// RunOptions controls the engine and the ambient stack.
type RunOptions struct {
	AllowEmpty    bool    `json:"allow_empty"`
	ProgressEvery int64   `json:"progress_every"`
	Metrics       Metrics `json:"metrics"`
}

// Metrics selects a metrics backend.
type Metrics struct {
	// Backend is "", "none", "prometheus" or "datadog".
	Backend        string   `json:"backend"`
	PushgatewayURL string   `json:"pushgateway_url"`
	DatadogAddr    string   `json:"datadog_addr"`
	DatadogTags    []string `json:"datadog_tags"`
}

// Load reads a transfer file. An optional .env file next to the process is
// loaded first (existing environment variables win), ${VAR} references in
// DSNs are expanded, and the DATALOAD_*_DSN variables override the file.
// Unset numeric fields get their defaults.
func Load(path string, envFiles ...string) (*Transfer, error) {
	if err := loadEnv(envFiles); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	t, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	t.Source.DSN = os.ExpandEnv(t.Source.DSN)
	t.Destination.DSN = os.ExpandEnv(t.Destination.DSN)
	if v := os.Getenv(EnvSourceDSN); v != "" {
		t.Source.DSN = v
	}
	if v := os.Getenv(EnvDestinationDSN); v != "" {
		t.Destination.DSN = v
	}
	t.applyDefaults()
	return t, nil
}

// Decode parses a transfer document without touching the environment.
// Unknown fields are rejected so typos do not silently fall back to defaults.
func Decode(b []byte) (*Transfer, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t Transfer
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &t, nil
}

func loadEnv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env %v: %w", files, err)
	}
	return nil
}

func (t *Transfer) applyDefaults() {
	if t.Source.PageSize == 0 {
		t.Source.PageSize = DefaultPageSize
	}
	if t.Run.ProgressEvery == 0 {
		t.Run.ProgressEvery = DefaultProgressEvery
	}
	if t.Destination.ChunkSize == 0 {
		t.Destination.ChunkSize = DefaultChunkSize
	}
	if t.Source.Distinct == "" {
		t.Source.Distinct = "none"
	}
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Options fetches typed values from a free-form JSON object. It performs only
// minimal coercion and returns the given default when a key is absent or of
// an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if s, ok := o[key].(string); ok {
		return s
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if b, ok := o[key].(bool); ok {
		return b
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64, so both float64 and int are accepted.
func (o Options) Int(key string, def int) int {
	switch n := o[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

// StringMap returns the string-valued entries of the object at key. Non-string
// values are ignored. The map is empty when key is missing or not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	switch m := o[key].(type) {
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				res[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			res[k] = v
		}
	}
	return res
}

// StringSlice returns the strings of the array at key, or nil when key is
// missing or not an array.
func (o Options) StringSlice(key string) []string {
	switch vv := o[key].(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	}
	return nil
}

// UnmarshalJSON decodes a missing or null "options" object to an empty,
// non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
