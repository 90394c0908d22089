// internal/tenant/admin/admin_test.go
//
// Unit-tests for admin account management using sqlmock.
//
// Run: go test ./internal/tenant/admin -v

package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/veloracloud/tenantctl/internal/tenant"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

func testTenant() *tenant.Record {
	return &tenant.Record{ID: uuid.New(), Slug: "acme", MaxAdmins: 5}
}

func TestCreate_RejectsBadInputBeforeSQL(t *testing.T) {
	db, mock := newMockDB(t)
	tt := testTenant()
	ctx := context.Background()

	cases := []struct {
		name, email, password string
		role                  Role
		field                 string
	}{
		{"unknown role", "a@b.example", "longenough", Role("root"), "role"},
		{"bad email", "not-an-address", "longenough", RoleAdmin, "email"},
		{"short password", "a@b.example", "short", RoleAdmin, "password"},
	}
	for _, tc := range cases {
		_, err := Create(ctx, db, tt, tc.email, "Name", tc.role, tc.password)
		var ve *tenant.ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Errorf("%s: want ValidationError on %s, got %v", tc.name, tc.field, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected SQL: %v", err)
	}
}

func TestCreate_EnforcesMaxAdmins(t *testing.T) {
	db, mock := newMockDB(t)
	tt := testTenant()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tenant_admin WHERE tenant_id = \?`).
		WithArgs(tt.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	_, err := Create(context.Background(), db, tt, "a@b.example", "Name", RoleAdmin, "longenough")
	var ve *tenant.ValidationError
	if !errors.As(err, &ve) || ve.Field != "maxAdmins" {
		t.Fatalf("want ValidationError on maxAdmins, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestCreate_HashesAndInserts(t *testing.T) {
	db, mock := newMockDB(t)
	tt := testTenant()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tenant_admin`).
		WithArgs(tt.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO tenant_admin`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := Create(context.Background(), db, tt, " Jane@Acme.example ", "Jane", RoleManager, "s3cret-pass")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Email != "jane@acme.example" {
		t.Errorf("email not normalized: %q", rec.Email)
	}
	if rec.PasswordHash == "s3cret-pass" || rec.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("s3cret-pass")) != nil {
		t.Error("stored hash does not verify the original password")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	db, mock := newMockDB(t)
	tid := uuid.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	row := func(active bool) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "tenant_id", "email", "name", "role", "password_hash", "is_active", "created_at",
		}).AddRow(uuid.New().String(), tid.String(), "jane@acme.example", "Jane",
			"admin", string(hash), active, time.Now())
	}

	mock.ExpectQuery(`SELECT (.+) FROM tenant_admin WHERE tenant_id = \? AND email = \?`).
		WillReturnRows(row(true))
	rec, err := Authenticate(context.Background(), db, tid, "jane@acme.example", "s3cret-pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if rec.Role != RoleAdmin {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Wrong password and inactive account are indistinguishable.
	mock.ExpectQuery(`SELECT (.+) FROM tenant_admin`).WillReturnRows(row(true))
	if _, err := Authenticate(context.Background(), db, tid, "jane@acme.example", "wrong"); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("wrong password: want ErrNotFound, got %v", err)
	}
	mock.ExpectQuery(`SELECT (.+) FROM tenant_admin`).WillReturnRows(row(false))
	if _, err := Authenticate(context.Background(), db, tid, "jane@acme.example", "s3cret-pass"); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("inactive account: want ErrNotFound, got %v", err)
	}
}

func TestSetActive_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE tenant_admin SET is_active = \? WHERE id = \?`).
		WithArgs(false, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := SetActive(context.Background(), db, id, false); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
