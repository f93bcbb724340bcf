package schema

import "testing"

func TestUnion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Type
		want Type
	}{
		{"unknown left", Unknown, Int(3), Int(3)},
		{"unknown right", String(4), Unknown, String(4)},
		{"int widths", Int(3), Int(7), Int(7)},
		{"int and decimal", Int(5), Decimal(4, 2), Decimal(7, 2)},
		{"decimal scales", Decimal(5, 1), Decimal(4, 3), Decimal(7, 3)},
		{"date and timestamp", Date, Timestamp, Timestamp},
		{"bool and int collapse", Bool, Int(2), String(5)},
		{"int and string", Int(9), String(3), String(10)},
		{"date and string", Date, String(4), String(10)},
		{"unbounded string", String(Unbounded), String(20), String(Unbounded)},
	}
	for _, c := range cases {
		if got := Union(c.a, c.b); got != c.want {
			t.Fatalf("%s: Union(%s, %s) = %s; want %s", c.name, c.a, c.b, got, c.want)
		}
		if got := Union(c.b, c.a); got != c.want {
			t.Fatalf("%s: Union is not symmetric: got %s; want %s", c.name, got, c.want)
		}
	}
}

func TestCovers(t *testing.T) {
	t.Parallel()

	if !String(10).Covers(Int(5)) {
		t.Fatalf("string(10) should cover int(5)")
	}
	if Int(5).Covers(Decimal(3, 1)) {
		t.Fatalf("int(5) must not cover decimal(3,1)")
	}
	if !Timestamp.Covers(Date) {
		t.Fatalf("timestamp should cover date")
	}
	if Date.Covers(Timestamp) {
		t.Fatalf("date must not cover timestamp")
	}
}

func TestParseSQLType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Type
	}{
		{"INT", Int(10)},
		{"bigint", Int(MaxInt64Digits)},
		{"boolean", Bool},
		{"BIT", Bool},
		{"decimal(12, 2)", Decimal(12, 2)},
		{"numeric(7)", Decimal(7, 0)},
		{"varchar(20)", String(20)},
		{"NVARCHAR(MAX)", String(Unbounded)},
		{"text", String(Unbounded)},
		{"datetime2", Timestamp},
		{"timestamp(6)", Timestamp},
		{"date", Date},
		{"geometry", Unknown},
	}
	for _, c := range cases {
		if got := ParseSQLType(c.in); got != c.want {
			t.Fatalf("ParseSQLType(%q) = %s; want %s", c.in, got, c.want)
		}
	}
}
