// internal/tenant/repository.go
//
// Tenant-table query helpers.
//
// Context
// -------
// Thin, parameterised access to the **tenant** table in the control-plane
// database.  Helpers accept `sqlx.ExtContext`, so the same code runs inside
// a service-layer transaction or directly against the pool.  Errors are
// mapped here, close to the driver: `sql.ErrNoRows` becomes ErrNotFound,
// and MySQL duplicate-key failures become *ConflictError carrying the field
// named by the violated unique index.
//
// Workflow
// --------
//  1. The service opens a transaction and passes it down as ExtContext.
//  2. Each helper executes exactly one parameterised statement.
//  3. `Update` performs a compare-and-swap on `updated_at`; zero affected
//     rows means a concurrent writer won, surfaced as a conflict.
//
// Notes
// -----
//   - Column list matches the fields in `Record`; update both together.
//   - Oxford commas, two spaces after periods, no m-dash.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veloracloud/tenantctl/internal/database"
)

const tenantColumns = `id, slug, company_name, company_document, status,
           database_host, database_port, database_name, database_user,
           database_password_ref, subdomain, custom_domain, admin_subdomain,
           max_users, max_admins, max_storage_gb, subscription_plan,
           subscription_status, monthly_fee, total_billed,
           outstanding_balance, trial_ends_at, next_billing_date,
           last_billing_date, contact_name, contact_email, contact_phone,
           created_at, updated_at`

// Insert writes a fully-populated record.  Duplicate identifiers surface as
// *ConflictError named after the violated unique index.
func Insert(ctx context.Context, e sqlx.ExtContext, r *Record) error {
	const q = `
        INSERT INTO tenant (` + tenantColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
                ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := e.ExecContext(ctx, q,
		r.ID, r.Slug, r.CompanyName, r.CompanyDocument, r.Status,
		r.DatabaseHost, r.DatabasePort, r.DatabaseName, r.DatabaseUser,
		r.DatabasePasswordRef, r.Subdomain, r.CustomDomain, r.AdminSubdomain,
		r.MaxUsers, r.MaxAdmins, r.MaxStorageGB, r.SubscriptionPlan,
		r.SubscriptionStatus, r.MonthlyFee, r.TotalBilled,
		r.OutstandingBalance, r.TrialEndsAt, r.NextBillingDate,
		r.LastBillingDate, r.ContactName, r.ContactEmail, r.ContactPhone,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if ce := mapDuplicate(err, r); ce != nil {
			return ce
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// ByID fetches a single tenant row.
func ByID(ctx context.Context, e sqlx.ExtContext, id uuid.UUID) (*Record, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenant WHERE id = ? LIMIT 1`
	return getOne(ctx, e, q, id)
}

// ByIDForUpdate fetches a tenant row under a row lock.  Callers must be
// inside a transaction; the lock serialises concurrent writers on the same
// tenant.
func ByIDForUpdate(ctx context.Context, e sqlx.ExtContext, id uuid.UUID) (*Record, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenant WHERE id = ? LIMIT 1 FOR UPDATE`
	return getOne(ctx, e, q, id)
}

// BySlug fetches a single tenant row by its normalized slug.
func BySlug(ctx context.Context, e sqlx.ExtContext, slug string) (*Record, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenant WHERE slug = ? LIMIT 1`
	return getOne(ctx, e, q, strings.ToLower(slug))
}

// BySubdomain fetches a single tenant row by its subdomain routing key.
func BySubdomain(ctx context.Context, e sqlx.ExtContext, sub string) (*Record, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenant WHERE subdomain = ? LIMIT 1`
	return getOne(ctx, e, q, strings.ToLower(sub))
}

func getOne(ctx context.Context, e sqlx.ExtContext, q string, arg any) (*Record, error) {
	var rec Record
	if err := sqlx.GetContext(ctx, e, &rec, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &rec, nil
}

//
// Listing
//

// Filter narrows List results.  Zero values match everything.
type Filter struct {
	Status Status
	Plan   Plan
	Search string // matches slug or company_name, substring
}

// Page bounds List results.  Limit 0 falls back to 50.
type Page struct {
	Limit  int
	Offset int
}

// List returns tenants matching the filter, newest first.
func List(ctx context.Context, e sqlx.ExtContext, f Filter, p Page) ([]Record, error) {
	q := `SELECT ` + tenantColumns + ` FROM tenant WHERE 1=1`
	args := make([]any, 0, 5)

	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Plan != "" {
		q += ` AND subscription_plan = ?`
		args = append(args, f.Plan)
	}
	if f.Search != "" {
		q += ` AND (slug LIKE ? OR company_name LIKE ?)`
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}

	if p.Limit <= 0 {
		p.Limit = 50
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	var rows []Record
	if err := sqlx.SelectContext(ctx, e, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return rows, nil
}

//
// Mutation
//

// Update writes every mutable column of r, guarded by a compare-and-swap on
// `updated_at`.  expected is the updated_at value the caller loaded; when
// another writer has advanced it the update affects zero rows and the
// caller receives *ConflictError on field "updatedAt".
func Update(ctx context.Context, e sqlx.ExtContext, r *Record, expected time.Time) error {
	const q = `
        UPDATE tenant SET
            slug = ?, company_name = ?, company_document = ?, status = ?,
            subdomain = ?, custom_domain = ?, admin_subdomain = ?,
            max_users = ?, max_admins = ?, max_storage_gb = ?,
            subscription_plan = ?, subscription_status = ?,
            monthly_fee = ?, total_billed = ?, outstanding_balance = ?,
            trial_ends_at = ?, next_billing_date = ?, last_billing_date = ?,
            contact_name = ?, contact_email = ?, contact_phone = ?,
            updated_at = ?
        WHERE id = ? AND updated_at = ?`
	res, err := e.ExecContext(ctx, q,
		r.Slug, r.CompanyName, r.CompanyDocument, r.Status,
		r.Subdomain, r.CustomDomain, r.AdminSubdomain,
		r.MaxUsers, r.MaxAdmins, r.MaxStorageGB,
		r.SubscriptionPlan, r.SubscriptionStatus,
		r.MonthlyFee, r.TotalBilled, r.OutstandingBalance,
		r.TrialEndsAt, r.NextBillingDate, r.LastBillingDate,
		r.ContactName, r.ContactEmail, r.ContactPhone,
		r.UpdatedAt,
		r.ID, expected,
	)
	if err != nil {
		if ce := mapDuplicate(err, r); ce != nil {
			return ce
		}
		return fmt.Errorf("update tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if n == 0 {
		return &ConflictError{Field: "updatedAt", Value: expected.Format(time.RFC3339Nano)}
	}
	return nil
}

// Delete removes the tenant row.  Dependent rows fall to the foreign-key
// cascade; the service deletes them explicitly first so the operation is
// observable row by row.
func Delete(ctx context.Context, e sqlx.ExtContext, id uuid.UUID) error {
	const q = `DELETE FROM tenant WHERE id = ?`
	res, err := e.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

//
// Identifier pre-check
//

// CheckIdentity performs the optimistic uniqueness pre-check across the
// five identifier columns.  excludeID skips the tenant being updated; pass
// uuid.Nil on create.  A hit returns *ConflictError naming the first field
// that collided.  The unique indexes remain the authority; this check only
// produces a better error before any write is attempted.
func CheckIdentity(ctx context.Context, e sqlx.ExtContext, id Identity, excludeID uuid.UUID) error {
	const q = `
        SELECT slug, company_document, subdomain, custom_domain, admin_subdomain
        FROM   tenant
        WHERE  id <> ?
          AND (slug = ? OR company_document = ?
               OR (subdomain       IS NOT NULL AND subdomain       = ?)
               OR (custom_domain   IS NOT NULL AND custom_domain   = ?)
               OR (admin_subdomain IS NOT NULL AND admin_subdomain = ?))`

	var rows []struct {
		Slug            string  `db:"slug"`
		CompanyDocument string  `db:"company_document"`
		Subdomain       *string `db:"subdomain"`
		CustomDomain    *string `db:"custom_domain"`
		AdminSubdomain  *string `db:"admin_subdomain"`
	}
	err := sqlx.SelectContext(ctx, e, &rows, q,
		excludeID,
		id.Slug, id.CompanyDocument,
		optArg(id.Subdomain), optArg(id.CustomDomain), optArg(id.AdminSubdomain),
	)
	if err != nil {
		return fmt.Errorf("check identity: %w", err)
	}

	for _, row := range rows {
		switch {
		case row.Slug == id.Slug:
			return &ConflictError{Field: "slug", Value: id.Slug}
		case row.CompanyDocument == id.CompanyDocument:
			return &ConflictError{Field: "companyDocument", Value: id.CompanyDocument}
		case optEq(row.Subdomain, id.Subdomain):
			return &ConflictError{Field: "subdomain", Value: *id.Subdomain}
		case optEq(row.CustomDomain, id.CustomDomain):
			return &ConflictError{Field: "customDomain", Value: *id.CustomDomain}
		case optEq(row.AdminSubdomain, id.AdminSubdomain):
			return &ConflictError{Field: "adminSubdomain", Value: *id.AdminSubdomain}
		}
	}
	return nil
}

// optArg turns a nil optional into an impossible match value so the OR arm
// never fires for absent fields.
func optArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optEq(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

//
// Duplicate-key mapping
//

// dupIndexFields maps unique-index names to the public field they guard.
var dupIndexFields = map[string]string{
	"uq_tenant_slug":             "slug",
	"uq_tenant_company_document": "companyDocument",
	"uq_tenant_subdomain":        "subdomain",
	"uq_tenant_custom_domain":    "customDomain",
	"uq_tenant_admin_subdomain":  "adminSubdomain",
}

// mapDuplicate converts a MySQL 1062 error into *ConflictError by matching
// the index name embedded in the driver message.  Returns nil for any other
// error.
func mapDuplicate(err error, r *Record) *ConflictError {
	if !database.IsDuplicate(err) {
		return nil
	}
	msg := err.Error()
	for idx, field := range dupIndexFields {
		if !strings.Contains(msg, idx) {
			continue
		}
		ce := &ConflictError{Field: field}
		switch field {
		case "slug":
			ce.Value = r.Slug
		case "companyDocument":
			ce.Value = r.CompanyDocument
		case "subdomain":
			if r.Subdomain != nil {
				ce.Value = *r.Subdomain
			}
		case "customDomain":
			if r.CustomDomain != nil {
				ce.Value = *r.CustomDomain
			}
		case "adminSubdomain":
			if r.AdminSubdomain != nil {
				ce.Value = *r.AdminSubdomain
			}
		}
		return ce
	}
	// Unknown index; still a conflict, field unresolved.
	return &ConflictError{Field: "unknown"}
}
