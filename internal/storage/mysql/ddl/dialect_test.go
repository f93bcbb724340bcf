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
		{schema.Int(9), "INT"},
		{schema.Int(18), "BIGINT"},
		{schema.Int(30), "DECIMAL(30,0)"},
		{schema.Decimal(12, 2), "DECIMAL(12,2)"},
		{schema.Decimal(80, 40), "DECIMAL(65,30)"},
		{schema.Date, "DATE"},
		{schema.Timestamp, "DATETIME(6)"},
		{schema.String(255), "VARCHAR(255)"},
		{schema.String(5000), "LONGTEXT"},
		{schema.String(schema.Unbounded), "LONGTEXT"},
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
	if got := d.QuoteTable("shop.or`ders"); got != "`shop`.`or``ders`" {
		t.Fatalf("QuoteTable = %q", got)
	}
	if got, want := d.WidenColumn("orders", "note", schema.String(120)),
		"ALTER TABLE `orders` MODIFY COLUMN `note` VARCHAR(120) NULL"; got != want {
		t.Fatalf("WidenColumn = %q, want %q", got, want)
	}
	pk := d.AddPrimaryKey("orders", []gddl.ColumnDef{{Name: "id"}, {Name: "line"}})
	if len(pk) != 1 || pk[0] != "ALTER TABLE `orders` ADD PRIMARY KEY (`id`, `line`)" {
		t.Fatalf("AddPrimaryKey = %q", pk)
	}
	if got := d.LimitOne("orders"); got != "SELECT 1 FROM `orders` LIMIT 1" {
		t.Fatalf("LimitOne = %q", got)
	}
	if d.TransactionalDDL() {
		t.Fatalf("TransactionalDDL = true; MySQL commits DDL implicitly")
	}
}
