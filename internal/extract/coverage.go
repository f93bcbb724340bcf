package extract

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// coverage counts rows per calendar month of a date column.
type coverage struct {
	column  string
	index   int
	buckets map[string]int64
	nulls   int64
}

var coverageLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02.01.2006",
	"2006/01/02",
}

func newCoverage(column string, index int) *coverage {
	return &coverage{column: column, index: index, buckets: map[string]int64{}}
}

// add buckets one row. Values that are not dates are an error.
func (c *coverage) add(row []any) error {
	v := row[c.index]
	var ts time.Time
	switch x := v.(type) {
	case nil:
		c.nulls++
		return nil
	case time.Time:
		ts = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			c.nulls++
			return nil
		}
		parsed, ok := parseDate(s)
		if !ok {
			return fmt.Errorf("coverage: %s value %q is not a date", c.column, s)
		}
		ts = parsed
	default:
		return fmt.Errorf("coverage: %s value of type %T is not a date", c.column, v)
	}
	c.buckets[ts.Format("2006-01")]++
	return nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range coverageLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Summary renders the buckets in month order, e.g.
// "2024-01=10 2024-02=4 null=1".
func (c *coverage) Summary() string {
	months := make([]string, 0, len(c.buckets))
	for m := range c.buckets {
		months = append(months, m)
	}
	sort.Strings(months)
	parts := make([]string, 0, len(months)+1)
	for _, m := range months {
		parts = append(parts, fmt.Sprintf("%s=%d", m, c.buckets[m]))
	}
	if c.nulls > 0 {
		parts = append(parts, fmt.Sprintf("null=%d", c.nulls))
	}
	return strings.Join(parts, " ")
}
