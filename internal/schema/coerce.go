package schema

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Numeric is the canonical Go value for a KindDecimal column (and for
// integers wider than int64). Keeping the textual form avoids float rounding;
// database/sql drivers receive it through driver.Valuer.
type Numeric string

// Value implements driver.Valuer.
func (n Numeric) Value() (driver.Value, error) { return string(n), nil }

// Coerce converts v into the canonical Go value for a column of type t:
//
//	bool      -> bool
//	int       -> int64 (Numeric beyond MaxInt64Digits)
//	decimal   -> Numeric
//	date/ts   -> time.Time
//	string    -> string
//
// Nil stays nil, and blank strings become nil for every non-string kind.
// Values the type cannot represent return an error rather than being
// truncated.
func Coerce(v any, t Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	if valuer, ok := v.(driver.Valuer); ok {
		if _, isNumeric := v.(Numeric); !isNumeric {
			inner, err := valuer.Value()
			if err != nil {
				return nil, fmt.Errorf("schema: value of %T: %w", v, err)
			}
			return Coerce(inner, t)
		}
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch t.Kind {
	case KindUnknown:
		return v, nil
	case KindString:
		return coerceString(v, t)
	}

	if s, ok := textOf(v); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		return coerceText(s, t)
	}

	switch t.Kind {
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case int:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		}
	case KindInt, KindDecimal:
		vt, ok := Classify(v)
		if ok && isNumeric(vt.Kind) && t.Covers(vt) {
			return numericValue(v, t)
		}
	case KindDate, KindTimestamp:
		if ts, ok := v.(time.Time); ok {
			if vt, _ := Classify(ts); !t.Covers(vt) {
				return nil, fmt.Errorf("schema: timestamp %v does not fit %s column", ts, t)
			}
			return ts, nil
		}
	}
	return nil, fmt.Errorf("schema: cannot store %T value %v in %s column", v, v, t)
}

func textOf(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case Numeric:
		return string(x), true
	}
	return "", false
}

func coerceString(v any, t Type) (any, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case Numeric:
		s = string(x)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		if isMidnight(x) {
			s = x.Format(DateLayout)
		} else {
			s = x.Format(TimestampLayout)
		}
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if t.Width != Unbounded && t.Width > 0 && len([]rune(s)) > t.Width {
		return nil, fmt.Errorf("schema: value of length %d exceeds %s", len([]rune(s)), t)
	}
	return s, nil
}

func coerceText(s string, t Type) (any, error) {
	vt, ok := Classify(s)
	if !ok {
		return nil, nil
	}
	if !t.Covers(vt) {
		return nil, fmt.Errorf("schema: value %q (%s) does not fit %s column", s, vt, t)
	}

	switch t.Kind {
	case KindBool:
		return s == "true", nil
	case KindInt:
		if t.Width > MaxInt64Digits {
			return Numeric(s), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("schema: parse int %q: %w", s, err)
		}
		return n, nil
	case KindDecimal:
		return Numeric(s), nil
	case KindDate, KindTimestamp:
		if ts, _, ok := parseTemporal(s); ok {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("schema: cannot parse %q as %s", s, t)
}

func numericValue(v any, t Type) (any, error) {
	var s string
	switch x := v.(type) {
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if t.Kind == KindDecimal || t.Width > MaxInt64Digits {
		return Numeric(s), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("schema: parse int %q: %w", s, err)
	}
	return n, nil
}
