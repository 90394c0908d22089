// internal/controlplane/service_test.go
//
// Unit-tests for the tenant aggregate root using sqlmock.
//
// Run: go test ./internal/controlplane -v

package controlplane

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
	"go.uber.org/zap"

	"github.com/veloracloud/tenantctl/internal/config"
	"github.com/veloracloud/tenantctl/internal/dbrouter"
	"github.com/veloracloud/tenantctl/internal/tenant"
	"github.com/veloracloud/tenantctl/internal/tenant/entitlement"
)

// fakeSecrets records secret writes and deletions in place of a live Vault
// client.
type fakeSecrets struct {
	puts    map[string]string // path#key → value
	deleted []string
	putErr  error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{puts: make(map[string]string)}
}

func (f *fakeSecrets) PutKV(_ context.Context, secretPath, key, value string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts[secretPath+"#"+key] = value
	return nil
}

func (f *fakeSecrets) DeleteKV(_ context.Context, secretPath string) error {
	f.deleted = append(f.deleted, secretPath)
	return nil
}

var testDefaults = config.TenantDefaults{
	TrialDays:    14,
	MaxUsers:     100,
	MaxAdmins:    5,
	MaxStorageGB: 10,
}

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakeSecrets) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	router, err := dbrouter.New([]dbrouter.Target{{Host: "db-01.internal", Port: 3306}})
	if err != nil {
		t.Fatalf("dbrouter: %v", err)
	}
	secrets := newFakeSecrets()
	svc := New(sqlx.NewDb(db, "mysql"), router, secrets, "tenants", testDefaults, zap.NewNop().Sugar())
	return svc, mock, secrets
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

func tenantRow(id uuid.UUID, status, sub string, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(tenantCols).AddRow(
		id.String(), "acme", "Acme Corp", "12345678000190", status,
		"db-01.internal", 3306, "tenant_acme", "t_acme_1a2b3c4d",
		"vault:tenants/"+id.String()+"#database_password", nil, nil, nil,
		100, 5, 10, "BASIC",
		sub, "0.00", "0.00",
		"0.00", now, nil,
		nil, "", "", "",
		now, now,
	)
}

// identityCols is the result shape of the uniqueness pre-check.
var identityCols = []string{
	"slug", "company_document", "subdomain", "custom_domain", "admin_subdomain",
}

func expectCreateTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT slug, company_document, subdomain`).
		WillReturnRows(sqlmock.NewRows(identityCols))
	mock.ExpectQuery(`SELECT host, port, COUNT\(\*\) AS n`).
		WillReturnRows(sqlmock.NewRows([]string{"host", "port", "n"}))
	mock.ExpectExec(`INSERT INTO db_reservation`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tenant `).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tenant_stats`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tenant_cashback_config`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tenant_withdrawal_config`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	for range entitlement.Defaults() {
		mock.ExpectExec(`INSERT INTO tenant_module`).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()
}

func TestCreateTenant_DefaultsAndSeeding(t *testing.T) {
	svc, mock, secrets := newService(t)
	expectCreateTx(mock)

	before := time.Now().UTC()
	rec, err := svc.CreateTenant(context.Background(), CreateSpec{
		Slug:            "Acme-Corp",
		CompanyName:     "Acme Corp",
		CompanyDocument: "12345678000190",
	})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	if rec.Slug != "acme-corp" {
		t.Errorf("slug not normalized: %q", rec.Slug)
	}
	if rec.Status != tenant.StatusTrial || rec.SubscriptionStatus != tenant.SubTrial {
		t.Errorf("new tenant must land in trial/TRIAL, got %s/%s", rec.Status, rec.SubscriptionStatus)
	}
	if rec.SubscriptionPlan != tenant.PlanBasic {
		t.Errorf("plan = %s, want default BASIC", rec.SubscriptionPlan)
	}
	if rec.MaxUsers != 100 || rec.MaxAdmins != 5 || rec.MaxStorageGB != 10 {
		t.Errorf("capacity defaults not applied: %d/%d/%d", rec.MaxUsers, rec.MaxAdmins, rec.MaxStorageGB)
	}
	if rec.TrialEndsAt == nil {
		t.Fatal("trialEndsAt must be set")
	}
	if days := rec.TrialEndsAt.Sub(before).Hours() / 24; days < 13.9 || days > 14.1 {
		t.Errorf("trial window = %.2f days, want 14", days)
	}
	if !rec.TotalBilled.IsZero() || !rec.OutstandingBalance.IsZero() {
		t.Error("monetary accumulators must start at zero")
	}
	if rec.DatabaseHost != "db-01.internal" || rec.DatabaseName != "tenant_acme_corp" {
		t.Errorf("coordinates = %s/%s", rec.DatabaseHost, rec.DatabaseName)
	}

	// The password reaches the secret store; the row carries only the ref.
	ref := "tenants/" + rec.ID.String() + "#database_password"
	pw, ok := secrets.puts[ref]
	if !ok || pw == "" {
		t.Fatal("database password was not provisioned")
	}
	if !strings.HasPrefix(rec.DatabasePasswordRef, "vault:") ||
		strings.Contains(rec.DatabasePasswordRef, pw) {
		t.Errorf("password ref must be opaque, got %q", rec.DatabasePasswordRef)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestCreateTenant_ConflictCompensatesSecret(t *testing.T) {
	svc, mock, secrets := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT slug, company_document, subdomain`).
		WillReturnRows(sqlmock.NewRows(identityCols).
			AddRow("acme", "other-doc", nil, nil, nil))
	mock.ExpectRollback()

	_, err := svc.CreateTenant(context.Background(), CreateSpec{
		Slug:            "acme",
		CompanyName:     "Acme Corp",
		CompanyDocument: "12345678000190",
	})
	var ce *tenant.ConflictError
	if !errors.As(err, &ce) || ce.Field != "slug" {
		t.Fatalf("want ConflictError on slug, got %v", err)
	}
	if len(secrets.deleted) != 1 {
		t.Fatalf("provisioned secret must be compensated, deleted=%v", secrets.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestUpdateTenant_RejectsImmutableCoordinates(t *testing.T) {
	svc, mock, _ := newService(t)

	host := "db-09.internal"
	_, err := svc.UpdateTenant(context.Background(), uuid.New(), UpdateSpec{DatabaseHost: &host})
	var ie *tenant.ImmutableFieldError
	if !errors.As(err, &ie) || ie.Field != "databaseHost" {
		t.Fatalf("want ImmutableFieldError on databaseHost, got %v", err)
	}
	// Rejected before any storage access.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected SQL: %v", err)
	}
}

func TestUpdateTenant_RejectsIllegalTransition(t *testing.T) {
	svc, mock, _ := newService(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(tenantRow(id, "active", "ACTIVE", now))
	mock.ExpectRollback()

	st := tenant.StatusTrial
	sub := tenant.SubTrial
	_, err := svc.UpdateTenant(context.Background(), id, UpdateSpec{
		Status:             &st,
		SubscriptionStatus: &sub,
	})
	var te *tenant.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("want TransitionError, got %v", err)
	}
}

func TestUpdateTenant_StaleIfUnmodifiedSince(t *testing.T) {
	svc, mock, _ := newService(t)
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(tenantRow(id, "active", "ACTIVE", now))
	mock.ExpectRollback()

	stale := now.Add(-time.Second)
	name := "Acme Holdings"
	_, err := svc.UpdateTenant(context.Background(), id, UpdateSpec{
		CompanyName:       &name,
		IfUnmodifiedSince: &stale,
	})
	var ce *tenant.ConflictError
	if !errors.As(err, &ce) || ce.Field != "updatedAt" {
		t.Fatalf("want ConflictError on updatedAt, got %v", err)
	}
}

func TestWithTx_RetriesTransientThenGivesUp(t *testing.T) {
	svc, mock, _ := newService(t)
	id := uuid.New()

	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
	for i := 0; i <= txRetries; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1 FOR UPDATE`).
			WillReturnError(deadlock)
		mock.ExpectRollback()
	}

	name := "Acme Holdings"
	_, err := svc.UpdateTenant(context.Background(), id, UpdateSpec{CompanyName: &name})
	if !errors.Is(err, tenant.ErrTransient) {
		t.Fatalf("want ErrTransient after retries, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

// A failed key insert must not leave any material in the secret store: the
// Vault write only happens once the row has committed.
func TestIssueAPIKey_InsertFailureWritesNoSecret(t *testing.T) {
	svc, mock, secrets := newService(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(tenantRow(id, "active", "ACTIVE", now))
	mock.ExpectExec(`INSERT INTO tenant_api_key`).
		WillReturnError(errors.New("table full"))
	mock.ExpectRollback()

	if _, _, err := svc.IssueAPIKey(context.Background(), id, "ci", nil); err == nil {
		t.Fatal("failed insert should abort the issue")
	}
	if len(secrets.puts) != 0 {
		t.Fatalf("no secret may survive a failed issue, got %v", secrets.puts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

// The inverse compensation: when the committed row cannot get its material
// into Vault, the row is revoked again.
func TestIssueAPIKey_VaultFailureRevokesRow(t *testing.T) {
	svc, mock, secrets := newService(t)
	id := uuid.New()
	now := time.Now().UTC()
	secrets.putErr = errors.New("vault sealed")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(tenantRow(id, "active", "ACTIVE", now))
	mock.ExpectExec(`INSERT INTO tenant_api_key`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM tenant_api_key WHERE id = \?`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, _, err := svc.IssueAPIKey(context.Background(), id, "ci", nil); err == nil {
		t.Fatal("vault failure should surface an error")
	}
	if len(secrets.puts) != 0 {
		t.Fatalf("secret store should hold nothing, got %v", secrets.puts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestDeleteTenant_CascadesAndReleasesLease(t *testing.T) {
	svc, mock, secrets := newService(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM tenant WHERE id = \? LIMIT 1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(tenantRow(id, "cancelled", "CANCELED", now))
	mock.ExpectExec(`DELETE FROM tenant_branding`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tenant_module`).WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec(`DELETE FROM tenant_admin`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM tenant_api_key`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tenant_cashback_config`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tenant_withdrawal_config`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tenant_stats`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tenant_usage_stats`).WillReturnResult(sqlmock.NewResult(0, 30))
	mock.ExpectExec(`DELETE FROM tenant WHERE id = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE db_reservation`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.DeleteTenant(context.Background(), id); err != nil {
		t.Fatalf("DeleteTenant: %v", err)
	}
	if len(secrets.deleted) != 1 || secrets.deleted[0] != "tenants/"+id.String() {
		t.Fatalf("tenant secrets not cleaned up: %v", secrets.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
