// internal/tenant/model.go
//
// `tenant` table row model.
//
// Context
// -------
// The `Record` struct mirrors one row in the persistent **tenant** table,
// the aggregate root of the control plane.  It is scanned by sqlx and used
// by the service layer, the credential router, and the data-plane pool
// cache.
//
// Schema reference (2026-08)
//
//	CREATE TABLE tenant (
//	    id                    CHAR(36)      PRIMARY KEY,
//	    slug                  VARCHAR(64)   NOT NULL,
//	    company_name          VARCHAR(256)  NOT NULL,
//	    company_document      VARCHAR(32)   NOT NULL,
//	    status                VARCHAR(10)   NOT NULL DEFAULT 'trial',
//	    database_host         VARCHAR(256)  NOT NULL,
//	    database_port         INT           NOT NULL,
//	    database_name         VARCHAR(64)   NOT NULL,
//	    database_user         VARCHAR(32)   NOT NULL,
//	    database_password_ref VARCHAR(256)  NOT NULL,
//	    subdomain             VARCHAR(64)   NULL,
//	    custom_domain         VARCHAR(256)  NULL,
//	    admin_subdomain       VARCHAR(64)   NULL,
//	    max_users             INT           NOT NULL,
//	    max_admins            INT           NOT NULL,
//	    max_storage_gb        INT           NOT NULL,
//	    subscription_plan     VARCHAR(10)   NOT NULL DEFAULT 'BASIC',
//	    subscription_status   VARCHAR(10)   NOT NULL DEFAULT 'TRIAL',
//	    monthly_fee           DECIMAL(12,2) NOT NULL DEFAULT 0,
//	    total_billed          DECIMAL(14,2) NOT NULL DEFAULT 0,
//	    outstanding_balance   DECIMAL(12,2) NOT NULL DEFAULT 0,
//	    trial_ends_at         TIMESTAMP NULL,
//	    next_billing_date     TIMESTAMP NULL,
//	    last_billing_date     TIMESTAMP NULL,
//	    contact_name          VARCHAR(128)  NOT NULL DEFAULT '',
//	    contact_email         VARCHAR(256)  NOT NULL DEFAULT '',
//	    contact_phone         VARCHAR(32)   NOT NULL DEFAULT '',
//	    created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at            TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
//	    UNIQUE KEY uq_tenant_slug             (slug),
//	    UNIQUE KEY uq_tenant_company_document (company_document),
//	    UNIQUE KEY uq_tenant_subdomain        (subdomain),
//	    UNIQUE KEY uq_tenant_custom_domain    (custom_domain),
//	    UNIQUE KEY uq_tenant_admin_subdomain  (admin_subdomain)
//	);
//
// Notes
// -----
// • `database_password_ref` holds an opaque `vault:` reference, never a
//   plaintext password.  Read paths return the reference untouched.
// • The five unique keys are the authority on identifier uniqueness; the
//   application-level check in identity.go is an optimistic pre-check.
// • `updated_at` carries microsecond precision so the compare-and-swap in
//   the repository can distinguish concurrent writers.
// • Nullable timestamps are `*time.Time`; callers must nil-check before use.
// • This struct contains no behaviour beyond State(); pure data for sqlx
//   scans.
package tenant

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record mirrors one row in the `tenant` table.
type Record struct {
	ID              uuid.UUID `db:"id"`
	Slug            string    `db:"slug"`
	CompanyName     string    `db:"company_name"`
	CompanyDocument string    `db:"company_document"`
	Status          Status    `db:"status"`

	DatabaseHost        string `db:"database_host"`
	DatabasePort        int    `db:"database_port"`
	DatabaseName        string `db:"database_name"`
	DatabaseUser        string `db:"database_user"`
	DatabasePasswordRef string `db:"database_password_ref"`

	Subdomain      *string `db:"subdomain"`
	CustomDomain   *string `db:"custom_domain"`
	AdminSubdomain *string `db:"admin_subdomain"`

	MaxUsers     int `db:"max_users"`
	MaxAdmins    int `db:"max_admins"`
	MaxStorageGB int `db:"max_storage_gb"`

	SubscriptionPlan   Plan               `db:"subscription_plan"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status"`

	MonthlyFee         decimal.Decimal `db:"monthly_fee"`
	TotalBilled        decimal.Decimal `db:"total_billed"`
	OutstandingBalance decimal.Decimal `db:"outstanding_balance"`

	TrialEndsAt     *time.Time `db:"trial_ends_at"`
	NextBillingDate *time.Time `db:"next_billing_date"`
	LastBillingDate *time.Time `db:"last_billing_date"`

	ContactName  string `db:"contact_name"`
	ContactEmail string `db:"contact_email"`
	ContactPhone string `db:"contact_phone"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// State projects the two lifecycle enums of a record.
func (r *Record) State() State {
	return State{Status: r.Status, Subscription: r.SubscriptionStatus}
}

// Plan is the commercial subscription tier.
type Plan string

const (
	PlanBasic      Plan = "BASIC"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// Valid reports whether p is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}
