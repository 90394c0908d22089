// internal/tenant/repository_test.go
//
// Unit-tests for the tenant-table helpers using sqlmock.
//
// Run: go test ./internal/tenant -v

package tenant

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
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

var tenantCols = []string{
	"id", "slug", "company_name", "company_document", "status",
	"database_host", "database_port", "database_name", "database_user",
	"database_password_ref", "subdomain", "custom_domain", "admin_subdomain",
	"max_users", "max_admins", "max_storage_gb", "subscription_plan",
	"subscription_status", "monthly_fee", "total_billed",
	"outstanding_balance", "trial_ends_at", "next_billing_date",
	"last_billing_date", "contact_name", "contact_email", "contact_phone",
	"created_at", "updated_at",
}

func tenantRow(id uuid.UUID, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols).AddRow(
		id.String(), "acme", "Acme Corp", "12345678000190", "trial",
		"db-01.internal", 3306, "tenant_acme", "t_acme_1a2b3c4d",
		"vault:tenants/"+id.String()+"#database_password", "acme", nil, nil,
		100, 5, 10, "BASIC",
		"TRIAL", "0.00", "0.00",
		"0.00", now.Add(14*24*time.Hour), nil,
		nil, "Jane Doe", "jane@acme.example", "",
		now, now,
	)
}

func TestByID(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1`).
		WithArgs(id).
		WillReturnRows(tenantRow(id, now))

	rec, err := ByID(context.Background(), db, id)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if rec.ID != id || rec.Slug != "acme" || rec.Status != StatusTrial {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Subdomain == nil || *rec.Subdomain != "acme" {
		t.Fatalf("subdomain = %v", rec.Subdomain)
	}
	if !rec.MonthlyFee.IsZero() {
		t.Fatalf("monthlyFee = %s", rec.MonthlyFee)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(tenantCols))

	_, err := ByID(context.Background(), db, id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdate_StaleTimestamp(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()
	loaded := time.Now().UTC().Truncate(time.Microsecond)

	rec := &Record{ID: id, Slug: "acme", Status: StatusTrial,
		SubscriptionPlan: PlanBasic, SubscriptionStatus: SubTrial,
		UpdatedAt: loaded.Add(time.Microsecond)}

	// Another writer advanced updated_at, so the guarded UPDATE matches
	// zero rows.
	mock.ExpectExec(`UPDATE tenant SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := Update(context.Background(), db, rec, loaded)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Field != "updatedAt" {
		t.Fatalf("want ConflictError on updatedAt, got %v", err)
	}
}

func TestInsert_DuplicateKeyNamesField(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenant`)).
		WillReturnError(&mysql.MySQLError{
			Number:  1062,
			Message: "Duplicate entry 'acme' for key 'tenant.uq_tenant_slug'",
		})

	rec := &Record{ID: uuid.New(), Slug: "acme", CompanyDocument: "123"}
	err := Insert(context.Background(), db, rec)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	if ce.Field != "slug" || ce.Value != "acme" {
		t.Fatalf("unexpected conflict: %+v", ce)
	}
}

func TestCheckIdentity_NamesCollidingField(t *testing.T) {
	db, mock := newMockDB(t)

	// The probe finds an existing tenant whose document matches but whose
	// slug does not; the error must name companyDocument.
	mock.ExpectQuery(`SELECT slug, company_document, subdomain`).
		WillReturnRows(sqlmock.NewRows([]string{
			"slug", "company_document", "subdomain", "custom_domain", "admin_subdomain",
		}).AddRow("other", "12345678000190", nil, nil, nil))

	id := Identity{Slug: "acme", CompanyDocument: "12345678000190"}
	err := CheckIdentity(context.Background(), db, id, uuid.Nil)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Field != "companyDocument" {
		t.Fatalf("want ConflictError on companyDocument, got %v", err)
	}
}

func TestCheckIdentity_Clean(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT slug, company_document, subdomain`).
		WillReturnRows(sqlmock.NewRows([]string{
			"slug", "company_document", "subdomain", "custom_domain", "admin_subdomain",
		}))

	id := Identity{Slug: "acme", CompanyDocument: "123"}
	if err := CheckIdentity(context.Background(), db, id, uuid.Nil); err != nil {
		t.Fatalf("clean identity rejected: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tenant WHERE id = ?`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Delete(context.Background(), db, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestList_FilterAndPaging(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE 1=1 AND status = \? ORDER BY created_at DESC LIMIT \? OFFSET \?`).
		WithArgs("active", 50, 0).
		WillReturnRows(tenantRow(id, now))

	rows, err := List(context.Background(), db, Filter{Status: StatusActive}, Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
