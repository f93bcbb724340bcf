package extract

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// DistinctStrategy selects how duplicate rows are eliminated.
type DistinctStrategy int

const (
	// DistinctNone forwards every row; duplicates may reach the destination.
	DistinctNone DistinctStrategy = iota
	// DistinctSink relies on the query itself (SELECT DISTINCT).
	DistinctSink
	// DistinctOrdered expects rows ordered by the identifier column and
	// removes exact duplicates within each identifier group. Groups are
	// never split across batches.
	DistinctOrdered
)

func (d DistinctStrategy) String() string {
	switch d {
	case DistinctNone:
		return "none"
	case DistinctSink:
		return "sink"
	case DistinctOrdered:
		return "ordered"
	}
	return fmt.Sprintf("distinct(%d)", int(d))
}

// ParseDistinct accepts "", "none", "sink" and "ordered" (case-insensitive).
func ParseDistinct(s string) (DistinctStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return DistinctNone, nil
	case "sink", "sink-distinct", "query":
		return DistinctSink, nil
	case "ordered", "ordered-streaming", "streaming":
		return DistinctOrdered, nil
	}
	return DistinctNone, fmt.Errorf("unknown distinct strategy %q (want none, sink or ordered)", s)
}

// keyOf renders a single value as a map key. nil maps to "\x00" so a null
// never collides with an empty string.
func keyOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// fingerprint hashes a whole row. Each value is length-prefixed and tagged
// so ("ab","c") and ("a","bc") differ, as do nil and "".
func fingerprint(buf []byte, row []any) (xxh3.Uint128, []byte) {
	buf = buf[:0]
	for _, v := range row {
		if v == nil {
			buf = append(buf, 0)
			continue
		}
		s := keyOf(v)
		buf = append(buf, 1)
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return xxh3.Hash128(buf), buf
}

// dedupRows removes exact duplicate rows, keeping the first occurrence and
// the input order. It returns the kept rows and the number removed.
func dedupRows(rows [][]any) ([][]any, int) {
	if len(rows) < 2 {
		return rows, 0
	}
	seen := make(map[xxh3.Uint128]struct{}, len(rows))
	var buf []byte
	out := rows[:0]
	for _, row := range rows {
		var h xxh3.Uint128
		h, buf = fingerprint(buf, row)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, row)
	}
	removed := len(rows) - len(out)
	for i := len(out); i < len(rows); i++ {
		rows[i] = nil
	}
	return out, removed
}
