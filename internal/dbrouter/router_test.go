// internal/dbrouter/router_test.go
//
// Unit-tests for the credential router using sqlmock.
//
// Run: go test ./internal/dbrouter -v

package dbrouter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veloracloud/tenantctl/internal/tenant"
)

func dupErr(index string) error {
	return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key '" + index + "'"}
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

var testTargets = []Target{
	{Host: "db-01.internal", Port: 3306},
	{Host: "db-02.internal", Port: 3306},
}

func loadRows(counts map[string]int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"host", "port", "n"})
	for host, n := range counts {
		rows.AddRow(host, 3306, n)
	}
	return rows
}

func TestNew_RequiresTargets(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("empty target set should be rejected")
	}
}

func TestAllocate_PicksLeastLoadedTarget(t *testing.T) {
	db, mock := newMockDB(t)
	r, err := New(testTargets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tid := uuid.New()

	mock.ExpectQuery(`SELECT host, port, COUNT\(\*\) AS n`).
		WillReturnRows(loadRows(map[string]int{"db-01.internal": 7, "db-02.internal": 2}))
	mock.ExpectExec(`INSERT INTO db_reservation`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	coords, err := r.Allocate(context.Background(), db, tid, "acme-corp")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if coords.Host != "db-02.internal" {
		t.Errorf("host = %q, want least-loaded db-02.internal", coords.Host)
	}
	if coords.Name != "tenant_acme_corp" {
		t.Errorf("name = %q", coords.Name)
	}
	if !strings.HasPrefix(coords.User, "t_acme_corp_") {
		t.Errorf("user = %q", coords.User)
	}
	if len(coords.User) > 32 {
		t.Errorf("user %q exceeds the 32-char MySQL limit", coords.User)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestAllocate_DuplicateTupleIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	r, _ := New(testTargets[:1])
	tid := uuid.New()

	mock.ExpectQuery(`SELECT host, port, COUNT\(\*\) AS n`).
		WillReturnRows(loadRows(nil))
	mock.ExpectExec(`INSERT INTO db_reservation`).
		WillReturnError(dupErr("uq_reservation_coords"))

	_, err := r.Allocate(context.Background(), db, tid, "acme")
	var ce *tenant.ConflictError
	if !errors.As(err, &ce) || ce.Field != "databaseName" {
		t.Fatalf("want ConflictError on databaseName, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	db, mock := newMockDB(t)
	r, _ := New(testTargets)
	tid := uuid.New()
	coords := Coordinates{Host: "db-01.internal", Port: 3306, Name: "tenant_acme"}

	// Unleased tuple: fine.
	mock.ExpectQuery(`SELECT tenant_id FROM db_reservation`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
	if err := r.Validate(context.Background(), db, coords, tid); err != nil {
		t.Fatalf("free tuple rejected: %v", err)
	}

	// Held by the same tenant: fine.
	mock.ExpectQuery(`SELECT tenant_id FROM db_reservation`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(tid.String()))
	if err := r.Validate(context.Background(), db, coords, tid); err != nil {
		t.Fatalf("own lease rejected: %v", err)
	}

	// Held by another tenant: conflict.
	mock.ExpectQuery(`SELECT tenant_id FROM db_reservation`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(uuid.New().String()))
	var ce *tenant.ConflictError
	if err := r.Validate(context.Background(), db, coords, tid); !errors.As(err, &ce) {
		t.Fatalf("foreign lease: want ConflictError, got %v", err)
	}
}

func TestReclaim_RefusesLiveLease(t *testing.T) {
	db, mock := newMockDB(t)
	tid := uuid.New()

	// The guarded DELETE matches no rows while released_at is NULL.
	mock.ExpectExec(`DELETE FROM db_reservation WHERE tenant_id = \? AND released_at IS NOT NULL`).
		WithArgs(tid).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Reclaim(context.Background(), db, tid); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	coords := Coordinates{Host: "db-01.internal", Port: 3306, Name: "tenant_acme", User: "t_acme_1a2b3c4d"}
	got := DSN(coords, "pw")
	want := "t_acme_1a2b3c4d:pw@tcp(db-01.internal:3306)/tenant_acme?parseTime=true"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"acme":      "acme",
		"acme-corp": "acme_corp",
		"Acme.Co!":  "acmeco",
		"---":       "___",
		"":          "tenant",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestByTenant_ReturnsReleasedLease(t *testing.T) {
	db, mock := newMockDB(t)
	tid := uuid.New()
	released := time.Now().UTC()

	mock.ExpectQuery(`SELECT tenant_id, host, port, db_name, db_user`).
		WithArgs(tid).
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "host", "port", "db_name", "db_user", "reserved_at", "released_at",
		}).AddRow(tid.String(), "db-01.internal", 3306, "tenant_acme", "t_acme_1a2b3c4d",
			released.Add(-time.Hour), released))

	res, err := ByTenant(context.Background(), db, tid)
	if err != nil {
		t.Fatalf("ByTenant: %v", err)
	}
	if res.ReleasedAt == nil {
		t.Fatal("released lease should carry ReleasedAt")
	}
}
