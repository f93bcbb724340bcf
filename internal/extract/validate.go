package extract

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"dataload/internal/batch"
	"dataload/internal/schema"
)

// ValidationColumn is appended to every batch when a contract is configured.
// It holds the joined rule failures of the row, or NULL when the row is valid.
const ValidationColumn = "validation_failures"

// validator evaluates a schema.Contract against rows. Field metadata is
// resolved once against the result set columns.
type validator struct {
	meta []fieldMeta
}

type fieldMeta struct {
	name     string
	index    int
	kind     string // "int","decimal","bool","date","timestamp","text"
	required bool
	maxLen   int
	enumSet  map[string]struct{}
	enumList []string
}

func newValidator(c schema.Contract, cols batch.Schema) (*validator, error) {
	v := &validator{meta: make([]fieldMeta, 0, len(c.Fields))}
	for _, f := range c.Fields {
		idx := cols.Index(f.Name)
		if idx < 0 {
			return nil, fmt.Errorf("contract %q: field %q is not in the result set", c.Name, f.Name)
		}
		kind, err := FieldKind(f.Type)
		if err != nil {
			return nil, fmt.Errorf("contract %q: field %q: %w", c.Name, f.Name, err)
		}
		m := fieldMeta{name: f.Name, index: idx, kind: kind, required: f.Required, maxLen: f.MaxLen}
		if len(f.Enum) > 0 {
			m.enumSet = make(map[string]struct{}, len(f.Enum))
			for _, s := range f.Enum {
				m.enumSet[s] = struct{}{}
			}
			m.enumList = append(m.enumList, f.Enum...)
		}
		v.meta = append(v.meta, m)
	}
	return v, nil
}

// FieldKind maps a contract field type and its aliases to one of text, int,
// decimal, bool, date or timestamp.
func FieldKind(t string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text", "string":
		return "text", nil
	case "int", "integer", "bigint":
		return "int", nil
	case "decimal", "numeric", "float":
		return "decimal", nil
	case "bool", "boolean":
		return "bool", nil
	case "date":
		return "date", nil
	case "timestamp", "datetime":
		return "timestamp", nil
	}
	return "", fmt.Errorf("unknown type %q", t)
}

// validate returns the rule failures of row; nil means valid.
func (v *validator) validate(row []any) (failures []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panic: %v", r)
		}
	}()
	for _, m := range v.meta {
		if m.index >= len(row) {
			return nil, fmt.Errorf("row has %d values; field %q is column %d", len(row), m.name, m.index)
		}
		val := row[m.index]
		text, present := textOf(val)
		if !present {
			if m.required {
				failures = append(failures, m.name+": required")
			}
			continue
		}
		if !kindMatches(m.kind, val) {
			failures = append(failures, fmt.Sprintf("%s: not a %s (%q)", m.name, m.kind, text))
			continue
		}
		if m.enumSet != nil {
			if _, ok := m.enumSet[text]; !ok {
				failures = append(failures, fmt.Sprintf("%s: %q not in [%s]", m.name, text, strings.Join(m.enumList, ",")))
			}
		}
		if m.maxLen > 0 && utf8.RuneCountInString(text) > m.maxLen {
			failures = append(failures, fmt.Sprintf("%s: longer than %d", m.name, m.maxLen))
		}
	}
	return failures, nil
}

func textOf(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		if strings.TrimSpace(x) == "" {
			return "", false
		}
		return x, true
	case []byte:
		return textOf(string(x))
	case time.Time:
		return x.Format(time.RFC3339Nano), true
	}
	return fmt.Sprint(v), true
}

func kindMatches(kind string, v any) bool {
	if kind == "text" {
		return true
	}
	t, ok := schema.Classify(v)
	if !ok {
		return true
	}
	switch kind {
	case "int":
		return t.Kind == schema.KindInt || (t.Kind == schema.KindDecimal && t.Scale == 0)
	case "decimal":
		return t.Kind == schema.KindInt || t.Kind == schema.KindDecimal
	case "bool":
		return t.Kind == schema.KindBool || (t.Kind == schema.KindInt && t.Width == 1)
	case "date":
		return t.Kind == schema.KindDate
	case "timestamp":
		return t.Kind == schema.KindDate || t.Kind == schema.KindTimestamp
	}
	return false
}
