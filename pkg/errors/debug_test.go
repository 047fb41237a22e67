package errors

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpCapturesPostgresDriverErrors(t *testing.T) {
	pgxErr := &pgconn.PgError{Code: "23505", ConstraintName: "coupons_code_key", TableName: "coupons"}
	dump := Dump(Wrap(CodeConflict, fmt.Errorf("insert coupon: %w", pgxErr), "coupon exists"))

	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %q", dump.Code)
	}
	if dump.Driver == nil || dump.Driver.Driver != "pgx" || dump.Driver.Constraint != "coupons_code_key" {
		t.Fatalf("unexpected driver detail %+v", dump.Driver)
	}
	if len(dump.Chain) < 3 {
		t.Fatalf("expected full chain, got %v", dump.Chain)
	}

	pqDump := Dump(&pq.Error{Code: "23514", Table: "product_variants", Column: "inventory_quantity"})
	if pqDump.Driver == nil || pqDump.Driver.SQLState != "23514" || pqDump.Driver.Column != "inventory_quantity" {
		t.Fatalf("unexpected pq detail %+v", pqDump.Driver)
	}
}

func TestDumpCapturesMySQLErrors(t *testing.T) {
	dump := Dump(fmt.Errorf("reserve: %w", &mysql.MySQLError{Number: 3819, SQLState: [5]byte{'H', 'Y', '0', '0', '0'}, Message: "check constraint violated"}))
	if dump.Driver == nil || dump.Driver.Driver != "mysql" {
		t.Fatalf("expected mysql detail, got %+v", dump.Driver)
	}
	if dump.Driver.SQLState != "HY000" || dump.Driver.Detail != "3819" {
		t.Fatalf("unexpected mysql detail %+v", dump.Driver)
	}
}

func TestDumpFieldsOmitDriverWhenAbsent(t *testing.T) {
	fields := Dump(New(CodeNotFound, "order not found")).Fields()
	if _, ok := fields["db_driver"]; ok {
		t.Fatalf("expected no driver fields, got %v", fields)
	}
	if fields["error_code"] != CodeNotFound {
		t.Fatalf("unexpected error code field %v", fields["error_code"])
	}
	if Dump(nil).TopMessage != "" {
		t.Fatal("expected empty dump for nil error")
	}
}
