// Package schema defines the dialect-neutral column type descriptor used by
// every stage of a transfer, plus the incremental estimator that refines a
// descriptor from observed values.
//
// A Type is deliberately coarse: a kind plus the widths needed to size a
// column (characters for strings, digits for integers, precision/scale for
// decimals). Dialects in internal/storage/*/ddl turn a Type into SQL.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the logical family of a column type.
//
// Kinds are ordered loosely from narrow to wide; Union decides the actual
// widening rules since not every pair of kinds is comparable.
type Kind uint8

const (
	// KindUnknown means no non-null value has been observed yet.
	KindUnknown Kind = iota
	KindBool
	KindInt
	KindDecimal
	KindDate
	KindTimestamp
	KindString
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindBool:      "bool",
	KindInt:       "int",
	KindDecimal:   "decimal",
	KindDate:      "date",
	KindTimestamp: "timestamp",
	KindString:    "string",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type describes the minimal column type able to hold a set of values.
//
// Fields:
//   - Width: max characters for KindString, max digits for KindInt.
//   - Precision, Scale: total and fractional digits for KindDecimal.
type Type struct {
	Kind      Kind
	Width     int
	Precision int
	Scale     int
}

// Common fixed-size descriptors.
var (
	Unknown   = Type{Kind: KindUnknown}
	Bool      = Type{Kind: KindBool}
	Date      = Type{Kind: KindDate}
	Timestamp = Type{Kind: KindTimestamp}
)

// Unbounded is the Width of a character type with no declared limit
// (TEXT, NVARCHAR(MAX), ...).
const Unbounded = 1<<31 - 1

// MaxInt64Digits is the largest digit count that always fits a signed 64-bit
// integer. Wider integers are rendered as DECIMAL(n,0) by dialects.
const MaxInt64Digits = 18

// Int returns an integer type wide enough for digits decimal digits.
func Int(digits int) Type { return Type{Kind: KindInt, Width: digits} }

// Decimal returns a decimal type with the given precision and scale.
func Decimal(precision, scale int) Type {
	return Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}

// String returns a character type of the given width.
func String(width int) Type { return Type{Kind: KindString, Width: width} }

// IsUnknown reports whether no value has shaped t yet.
func (t Type) IsUnknown() bool { return t.Kind == KindUnknown }

// IntegerDigits is the number of digits left of the decimal point.
func (t Type) IntegerDigits() int {
	switch t.Kind {
	case KindInt:
		return t.Width
	case KindDecimal:
		return t.Precision - t.Scale
	}
	return 0
}

// TextWidth is the longest textual rendering a value of t can have. It is
// used when two incompatible kinds collapse into a string.
func (t Type) TextWidth() int {
	switch t.Kind {
	case KindBool:
		return len("false")
	case KindInt:
		return t.Width + 1
	case KindDecimal:
		return t.Precision + 2
	case KindDate:
		return len("2006-01-02")
	case KindTimestamp:
		return len("2006-01-02 15:04:05.999999")
	case KindString:
		return t.Width
	}
	return 0
}

// Union returns the narrowest type able to hold every value of a and b.
// It never returns a type narrower than either argument.
func Union(a, b Type) Type {
	switch {
	case a.Kind == KindUnknown:
		return b
	case b.Kind == KindUnknown:
		return a
	}

	if a.Kind == b.Kind {
		switch a.Kind {
		case KindString, KindInt:
			return Type{Kind: a.Kind, Width: max(a.Width, b.Width)}
		case KindDecimal:
			return decimalUnion(a, b)
		}
		return a
	}

	switch {
	case isNumeric(a.Kind) && isNumeric(b.Kind):
		return decimalUnion(a, b)
	case isTemporal(a.Kind) && isTemporal(b.Kind):
		return Timestamp
	}
	return String(max(a.TextWidth(), b.TextWidth()))
}

// Covers reports whether t can represent every value of other without loss.
func (t Type) Covers(other Type) bool {
	return Union(t, other) == t
}

func decimalUnion(a, b Type) Type {
	intDigits := max(a.IntegerDigits(), b.IntegerDigits())
	scale := max(a.Scale, b.Scale)
	return Decimal(intDigits+scale, scale)
}

func isNumeric(k Kind) bool  { return k == KindInt || k == KindDecimal }
func isTemporal(k Kind) bool { return k == KindDate || k == KindTimestamp }

func (t Type) String() string {
	switch t.Kind {
	case KindInt:
		return fmt.Sprintf("int(%d)", t.Width)
	case KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case KindString:
		if t.Width == Unbounded {
			return "string(max)"
		}
		return fmt.Sprintf("string(%d)", t.Width)
	}
	return t.Kind.String()
}

// ParseSQLType maps a SQL type name, as declared by a caller override or
// reported by a driver, onto a Type. Length arguments are read from the
// parenthesised suffix ("varchar(20)", "decimal(12,2)"). Unrecognised names
// return KindUnknown so callers can fall back to estimation.
//
//	"int", "integer", "bigint", "smallint" -> int
//	"bool", "boolean", "bit"               -> bool
//	"numeric", "decimal", "real", "float"  -> decimal
//	"date"                                 -> date
//	"timestamp", "datetime*", "timestamptz"-> timestamp
//	"text", "varchar", "char", "nvarchar"  -> string
func ParseSQLType(decl string) Type {
	name, args := splitTypeArgs(strings.ToLower(strings.TrimSpace(decl)))

	switch name {
	case "tinyint", "int1":
		return Int(3)
	case "smallint", "int2", "smallserial":
		return Int(5)
	case "int", "integer", "int4", "mediumint", "serial":
		return Int(10)
	case "bigint", "int8", "bigserial":
		return Int(MaxInt64Digits)
	case "bool", "boolean", "bit":
		return Bool
	case "numeric", "decimal", "money", "smallmoney":
		p, s := 38, 10
		if len(args) > 0 {
			p = args[0]
			s = 0
		}
		if len(args) > 1 {
			s = args[1]
		}
		return Decimal(p, s)
	case "real", "float", "float4", "float8", "double", "double precision":
		return Decimal(38, 10)
	case "date":
		return Date
	case "timestamp", "timestamptz", "datetime", "datetime2", "smalldatetime",
		"datetimeoffset", "timestamp with time zone", "timestamp without time zone":
		return Timestamp
	case "text", "ntext", "mediumtext", "longtext", "clob":
		return String(Unbounded)
	case "varchar", "nvarchar", "char", "nchar", "character varying", "character", "bpchar", "string":
		w := Unbounded
		if len(args) > 0 && args[0] > 0 {
			w = args[0]
		}
		return String(w)
	}
	return Unknown
}

// splitTypeArgs splits "decimal(12, 2)" into ("decimal", [12 2]). A "max"
// argument (SQL Server) is reported as no argument.
func splitTypeArgs(s string) (string, []int) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, nil
	}
	name := strings.TrimSpace(s[:open])
	inner := strings.TrimSuffix(strings.TrimSpace(s[open+1:]), ")")
	var args []int
	for _, part := range strings.Split(inner, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		args = append(args, n)
	}
	return name, args
}
