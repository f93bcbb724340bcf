package schema

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Canonical renderings of temporal values. Text is only inferred as a date
// or timestamp when it already has this exact form, so loading it as
// time.Time and rendering it back yields the input unchanged.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05.999999"
)

// Estimator incrementally refines the minimal sufficient Type for a column
// from the values observed so far. The zero value is ready to use.
//
// An Estimator is not safe for concurrent use; each column owns one.
type Estimator struct {
	current Type
	maxLen  int
	seen    int64
}

// NewEstimator returns an Estimator whose recommendation starts at seed. A
// zero seed (Unknown) lets the first value decide.
func NewEstimator(seed Type) *Estimator {
	e := &Estimator{current: seed}
	if seed.Kind == KindString && seed.Width != Unbounded {
		e.maxLen = seed.Width
	}
	return e
}

// Adjust widens the recommendation so that v can be represented. Nil and
// blank values are ignored.
func (e *Estimator) Adjust(v any) {
	t, text, ok := classify(v)
	if !ok {
		return
	}
	e.seen++
	if n := utf8.RuneCountInString(text); n > e.maxLen {
		e.maxLen = n
	}
	e.current = Union(e.current, t)
	if e.current.Kind == KindString && e.current.Width < e.maxLen {
		e.current.Width = e.maxLen
	}
}

// Recommended returns the narrowest Type covering every value passed to
// Adjust (and the seed). It never shrinks between calls.
func (e *Estimator) Recommended() Type { return e.current }

// Seen reports how many non-null values have been observed.
func (e *Estimator) Seen() int64 { return e.seen }

// Classify returns the narrowest Type for a single value. ok is false for
// nil and blank values.
func Classify(v any) (Type, bool) {
	t, _, ok := classify(v)
	return t, ok
}

func classify(v any) (Type, string, bool) {
	switch x := v.(type) {
	case nil:
		return Unknown, "", false
	case bool:
		return Bool, strconv.FormatBool(x), true
	case int:
		return intType(int64(x))
	case int8:
		return intType(int64(x))
	case int16:
		return intType(int64(x))
	case int32:
		return intType(int64(x))
	case int64:
		return intType(x)
	case uint8:
		return intType(int64(x))
	case uint16:
		return intType(int64(x))
	case uint32:
		return intType(int64(x))
	case uint64:
		s := strconv.FormatUint(x, 10)
		return digitsType(len(s)), s, true
	case float32:
		return floatType(float64(x))
	case float64:
		return floatType(x)
	case time.Time:
		if isMidnight(x) {
			return Date, x.Format(DateLayout), true
		}
		return Timestamp, x.Format(TimestampLayout), true
	case []byte:
		return classifyString(string(x))
	case string:
		return classifyString(x)
	case Numeric:
		return classifyString(string(x))
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return Unknown, "", false
		}
		return classify(inner)
	}
	return classifyString(fmt.Sprint(v))
}

func intType(n int64) (Type, string, bool) {
	s := strconv.FormatInt(n, 10)
	return Int(len(strings.TrimPrefix(s, "-"))), s, true
}

func floatType(f float64) (Type, string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		return String(len(s)), s, true
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		return digitsType(len(strings.TrimPrefix(s, "-"))), s, true
	}
	t, ok := parseDecimalText(s)
	if !ok {
		return String(len(s)), s, true
	}
	return t, s, true
}

// classifyString infers a non-string kind only for text in the canonical
// form of that kind: "true"/"false", unsigned-or-minus digits without a
// leading zero, plain decimals, DateLayout and TimestampLayout. Anything
// else ("Y", "+5", "02.01.2024") stays a string so that it is stored as
// written.
func classifyString(raw string) (Type, string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Unknown, "", false
	}
	width := utf8.RuneCountInString(raw)

	if t, ok := parseIntText(s); ok {
		return t, raw, true
	}
	if t, ok := parseDecimalText(s); ok {
		return t, raw, true
	}
	if s == "true" || s == "false" {
		return Bool, raw, true
	}
	if _, t, ok := parseTemporal(s); ok {
		return t, raw, true
	}
	return String(width), raw, true
}

// parseIntText accepts a run of digits with an optional minus sign. Values
// with a leading zero ("007", zip codes) or a sign that would not survive a
// round trip ("+5", "-0") are kept as strings.
func parseIntText(s string) (Type, bool) {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || !allDigits(digits) {
		return Unknown, false
	}
	if len(digits) > 1 && digits[0] == '0' {
		return Unknown, false
	}
	if digits == "0" && s != "0" {
		return Unknown, false
	}
	return digitsType(len(digits)), true
}

// parseDecimalText accepts plain positional notation ("12.50", "-0.3").
// Exponent notation, a plus sign and bare dots (".5", "5.") are left to the
// string fallback.
func parseDecimalText(s string) (Type, bool) {
	body := strings.TrimPrefix(s, "-")
	dot := strings.IndexByte(body, '.')
	if dot < 0 {
		return Unknown, false
	}
	intPart, frac := body[:dot], body[dot+1:]
	if intPart == "" || frac == "" || !allDigits(intPart) || !allDigits(frac) {
		return Unknown, false
	}
	if len(intPart) > 1 && intPart[0] == '0' {
		return Unknown, false
	}
	intDigits := len(strings.TrimLeft(intPart, "0"))
	if intDigits == 0 {
		intDigits = 1
	}
	return Decimal(intDigits+len(frac), len(frac)), true
}

func digitsType(digits int) Type {
	if digits > MaxInt64Digits {
		return Decimal(digits, 0)
	}
	return Int(digits)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// parseTemporal parses s as a date or timestamp when formatting the result
// back reproduces s exactly. A timestamp at midnight renders as a date, so
// "2024-01-31 00:00:00" stays text.
func parseTemporal(s string) (time.Time, Type, bool) {
	if ts, err := time.Parse(DateLayout, s); err == nil && ts.Format(DateLayout) == s {
		return ts, Date, true
	}
	if ts, err := time.Parse(TimestampLayout, s); err == nil && !isMidnight(ts) && ts.Format(TimestampLayout) == s {
		return ts, Timestamp, true
	}
	return time.Time{}, Unknown, false
}
