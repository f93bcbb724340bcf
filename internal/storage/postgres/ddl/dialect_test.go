package ddl

import (
	"testing"

	gddl "dataload/internal/ddl"
	"dataload/internal/schema"
)

func TestColumnType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   schema.Type
		want string
	}{
		{schema.Unknown, "VARCHAR(1)"},
		{schema.Bool, "BOOLEAN"},
		{schema.Int(4), "INTEGER"},
		{schema.Int(12), "BIGINT"},
		{schema.Int(22), "NUMERIC(22,0)"},
		{schema.Decimal(12, 2), "NUMERIC(12,2)"},
		{schema.Date, "DATE"},
		{schema.Timestamp, "TIMESTAMP"},
		{schema.String(0), "VARCHAR(1)"},
		{schema.String(40), "VARCHAR(40)"},
		{schema.String(schema.Unbounded), "TEXT"},
	}
	for _, c := range cases {
		if got := (Dialect{}).ColumnType(c.in); got != c.want {
			t.Fatalf("ColumnType(%s) = %q; want %q", c.in, got, c.want)
		}
	}
}

func TestStatements(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if got, want := d.WidenColumn("public.people", "name", schema.String(30)),
		`ALTER TABLE "public"."people" ALTER COLUMN "name" TYPE VARCHAR(30) USING "name"::VARCHAR(30)`; got != want {
		t.Fatalf("WidenColumn =\n%s\nwant\n%s", got, want)
	}
	pk := d.AddPrimaryKey("people", []gddl.ColumnDef{{Name: "id"}})
	if len(pk) != 1 || pk[0] != `ALTER TABLE "people" ADD PRIMARY KEY ("id")` {
		t.Fatalf("AddPrimaryKey = %q", pk)
	}
	if d.AddPrimaryKey("people", nil) != nil {
		t.Fatalf("AddPrimaryKey without columns should be empty")
	}
	if got := d.LimitOne("people"); got != `SELECT 1 FROM "people" LIMIT 1` {
		t.Fatalf("LimitOne = %q", got)
	}
	if got := d.DropTable(`we"ird`); got != `DROP TABLE "we""ird"` {
		t.Fatalf("DropTable = %q", got)
	}
}

// TestCreateTable exercises the shared renderer with Postgres quoting.
func TestCreateTable(t *testing.T) {
	t.Parallel()

	got, err := gddl.BuildCreateTableSQL(Dialect{}, gddl.TableDef{
		FQN: "public.people",
		Columns: []gddl.ColumnDef{
			{Name: "id", Type: schema.Int(3), Nullable: true},
			{Name: "amount", SQLType: "NUMERIC(12,2)", Nullable: true},
		},
	})
	if err != nil {
		t.Fatalf("BuildCreateTableSQL: %v", err)
	}
	want := "CREATE TABLE \"public\".\"people\" (\n  \"id\" INTEGER,\n  \"amount\" NUMERIC(12,2)\n)"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}
