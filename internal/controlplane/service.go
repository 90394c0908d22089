// internal/controlplane/service.go
//
// Tenant aggregate root.
//
// Context
// -------
// Service is the single consistency boundary for a tenant and all of its
// owned dependents: identity, database coordinates, entitlements,
// subscription state, economics configuration, admins, API keys, and the
// seeded statistics rows.  External callers (API layer, billing cron,
// admin console) interact only with this type; every multi-step mutation
// runs inside one storage transaction, and the tenant row lock is the
// serialization point for a given tenant.
//
// Failure semantics
// -----------------
// Any validation failure aborts the whole operation with no partial
// writes.  The only internally retried condition is a transient storage
// conflict (deadlock, lock-wait timeout), retried a small fixed number of
// times with backoff before surfacing ErrTransient.  The Vault write for a
// new tenant's database password happens before the transaction; if the
// transaction fails the secret is deleted again (compensating action).  API
// key material goes to Vault only after its row commits; a failed write
// there revokes the fresh row.
//
// Notes
// -----
// • Errors from the component packages surface unchanged; no silent
//   recovery.
// • Oxford commas, two spaces after periods.
package controlplane

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veloracloud/tenantctl/internal/config"
	"github.com/veloracloud/tenantctl/internal/database"
	"github.com/veloracloud/tenantctl/internal/dbrouter"
	"github.com/veloracloud/tenantctl/internal/metrics"
	"github.com/veloracloud/tenantctl/internal/tenant"
	"github.com/veloracloud/tenantctl/internal/tenant/admin"
	"github.com/veloracloud/tenantctl/internal/tenant/apikey"
	"github.com/veloracloud/tenantctl/internal/tenant/branding"
	"github.com/veloracloud/tenantctl/internal/tenant/economics"
	"github.com/veloracloud/tenantctl/internal/tenant/entitlement"
	"github.com/veloracloud/tenantctl/internal/tenant/stats"
	"github.com/veloracloud/tenantctl/internal/vault"
)

// Transaction retry bounds for transient storage conflicts.
const (
	txRetries = 3
	txBackoff = 100 * time.Millisecond
)

// SecretStore is the slice of the Vault client the service needs.
type SecretStore interface {
	PutKV(ctx context.Context, secretPath, key, value string) error
	DeleteKV(ctx context.Context, secretPath string) error
}

// Service is the aggregate root.  Safe for concurrent use.
type Service struct {
	db         *sqlx.DB
	router     *dbrouter.Router
	secrets    SecretStore
	secretBase string
	defaults   config.TenantDefaults
	log        *zap.SugaredLogger
}

// New wires the aggregate root.
func New(db *sqlx.DB, router *dbrouter.Router, secrets SecretStore, secretBase string, defaults config.TenantDefaults, log *zap.SugaredLogger) *Service {
	return &Service{
		db:         db,
		router:     router,
		secrets:    secrets,
		secretBase: secretBase,
		defaults:   defaults,
		log:        log,
	}
}

//
// Create
//

// CreateSpec is the input to CreateTenant.  Zero capacity limits fall back
// to the platform defaults; a zero plan falls back to BASIC.
type CreateSpec struct {
	Slug            string
	CompanyName     string
	CompanyDocument string
	Subdomain       *string
	CustomDomain    *string
	AdminSubdomain  *string

	Plan       tenant.Plan
	MonthlyFee decimal.Decimal

	MaxUsers     int
	MaxAdmins    int
	MaxStorageGB int

	ContactName  string
	ContactEmail string
	ContactPhone string
}

// CreateTenant reserves identifiers, allocates database coordinates, seeds
// stats, economics, and entitlement defaults, and lands the tenant in
// trial/TRIAL.  One logical transaction; on failure nothing is persisted
// and the provisioned secret is removed again.
func (s *Service) CreateTenant(ctx context.Context, spec CreateSpec) (*tenant.Record, error) {
	identity := tenant.Identity{
		Slug:            spec.Slug,
		CompanyDocument: spec.CompanyDocument,
		Subdomain:       spec.Subdomain,
		CustomDomain:    spec.CustomDomain,
		AdminSubdomain:  spec.AdminSubdomain,
	}
	identity.Normalize()
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	if spec.CompanyName == "" {
		return nil, &tenant.ValidationError{Field: "companyName", Reason: "must be non-empty"}
	}
	plan := spec.Plan
	if plan == "" {
		plan = tenant.PlanBasic
	}
	if !plan.Valid() {
		return nil, &tenant.ValidationError{Field: "subscriptionPlan", Reason: "unknown plan"}
	}
	if spec.MonthlyFee.IsNegative() {
		return nil, &tenant.ValidationError{Field: "monthlyFee", Reason: "must be non-negative"}
	}

	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	trialEnds := now.AddDate(0, 0, s.defaults.TrialDays)

	// Provision the database password before the transaction; compensated
	// on failure below.
	password, err := randomSecret()
	if err != nil {
		return nil, err
	}
	secretPath := s.secretBase + "/" + id.String()
	if err := s.secrets.PutKV(ctx, secretPath, "database_password", password); err != nil {
		return nil, fmt.Errorf("provision database password: %w", err)
	}

	rec := &tenant.Record{
		ID:                  id,
		Slug:                identity.Slug,
		CompanyName:         spec.CompanyName,
		CompanyDocument:     identity.CompanyDocument,
		Status:              tenant.StatusTrial,
		DatabasePasswordRef: vault.Ref(secretPath, "database_password"),
		Subdomain:           identity.Subdomain,
		CustomDomain:        identity.CustomDomain,
		AdminSubdomain:      identity.AdminSubdomain,
		MaxUsers:            orDefault(spec.MaxUsers, s.defaults.MaxUsers),
		MaxAdmins:           orDefault(spec.MaxAdmins, s.defaults.MaxAdmins),
		MaxStorageGB:        orDefault(spec.MaxStorageGB, s.defaults.MaxStorageGB),
		SubscriptionPlan:    plan,
		SubscriptionStatus:  tenant.SubTrial,
		MonthlyFee:          spec.MonthlyFee,
		TotalBilled:         decimal.Zero,
		OutstandingBalance:  decimal.Zero,
		TrialEndsAt:         &trialEnds,
		ContactName:         spec.ContactName,
		ContactEmail:        spec.ContactEmail,
		ContactPhone:        spec.ContactPhone,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tenant.CheckIdentity(ctx, tx, identity, uuid.Nil); err != nil {
			return err
		}
		coords, err := s.router.Allocate(ctx, tx, id, identity.Slug)
		if err != nil {
			return err
		}
		rec.DatabaseHost = coords.Host
		rec.DatabasePort = coords.Port
		rec.DatabaseName = coords.Name
		rec.DatabaseUser = coords.User

		if err := tenant.Insert(ctx, tx, rec); err != nil {
			return err
		}
		if err := stats.SeedTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := economics.UpsertCashback(ctx, tx, economics.DefaultCashback(id)); err != nil {
			return err
		}
		if err := economics.UpsertWithdrawal(ctx, tx, economics.DefaultWithdrawal(id)); err != nil {
			return err
		}
		return entitlement.SeedDefaults(ctx, tx, id)
	})
	if err != nil {
		// Compensate the secret write; the tenant never existed.
		if derr := s.secrets.DeleteKV(ctx, secretPath); derr != nil {
			s.log.Errorw("orphaned tenant secret", "path", secretPath, "err", derr)
		}
		if ce, ok := conflictField(err); ok {
			metrics.ConflictTotal.WithLabelValues(ce).Inc()
		}
		return nil, err
	}

	metrics.TenantCreateTotal.Inc()
	s.log.Infow("tenant created",
		"tenant", rec.ID, "slug", rec.Slug, "plan", rec.SubscriptionPlan,
		"db", fmt.Sprintf("%s:%d/%s", rec.DatabaseHost, rec.DatabasePort, rec.DatabaseName),
	)
	return rec, nil
}

//
// Update
//

// BillingPatch is the billing engine's slice of UpdateTenant.  TotalBilled
// can only grow; AddTotalBilled is the increment of this billing event.
type BillingPatch struct {
	AddTotalBilled     decimal.Decimal
	MonthlyFee         *decimal.Decimal
	OutstandingBalance *decimal.Decimal
	NextBillingDate    *time.Time
	LastBillingDate    *time.Time
}

// UpdateSpec is the patch applied by UpdateTenant.  Nil fields are left
// unchanged.  Presence of any database coordinate rejects the call; those
// fields change only through a dedicated migration operation.
type UpdateSpec struct {
	Slug            *string
	CompanyName     *string
	CompanyDocument *string
	Subdomain       *string
	CustomDomain    *string
	AdminSubdomain  *string

	Status             *tenant.Status
	SubscriptionStatus *tenant.SubscriptionStatus
	Plan               *tenant.Plan

	MaxUsers     *int
	MaxAdmins    *int
	MaxStorageGB *int

	ContactName  *string
	ContactEmail *string
	ContactPhone *string

	Billing *BillingPatch

	// Immutable after creation; any non-nil value is rejected.
	DatabaseHost *string
	DatabasePort *int
	DatabaseName *string
	DatabaseUser *string

	// Optimistic concurrency: when set, the update succeeds only if the
	// row has not changed since this timestamp.
	IfUnmodifiedSince *time.Time
}

// UpdateTenant applies the patch under the tenant row lock.  Lifecycle
// changes go through the transition table, identifier changes through the
// uniqueness pre-check, and billing patches keep the monetary invariants.
func (s *Service) UpdateTenant(ctx context.Context, id uuid.UUID, spec UpdateSpec) (*tenant.Record, error) {
	switch {
	case spec.DatabaseHost != nil:
		return nil, &tenant.ImmutableFieldError{Field: "databaseHost"}
	case spec.DatabasePort != nil:
		return nil, &tenant.ImmutableFieldError{Field: "databasePort"}
	case spec.DatabaseName != nil:
		return nil, &tenant.ImmutableFieldError{Field: "databaseName"}
	case spec.DatabaseUser != nil:
		return nil, &tenant.ImmutableFieldError{Field: "databaseUser"}
	}

	var out *tenant.Record
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		rec, err := tenant.ByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if spec.IfUnmodifiedSince != nil && !rec.UpdatedAt.Equal(*spec.IfUnmodifiedSince) {
			return &tenant.ConflictError{
				Field: "updatedAt",
				Value: spec.IfUnmodifiedSince.Format(time.RFC3339Nano),
			}
		}
		loaded := rec.UpdatedAt

		if err := applyLifecycle(rec, spec); err != nil {
			return err
		}
		if err := s.applyIdentity(ctx, tx, rec, spec); err != nil {
			return err
		}
		if err := applyProfile(rec, spec); err != nil {
			return err
		}
		if err := applyBilling(rec, spec.Billing); err != nil {
			return err
		}

		rec.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		if rec.UpdatedAt.Equal(loaded) {
			rec.UpdatedAt = rec.UpdatedAt.Add(time.Microsecond)
		}
		if err := tenant.Update(ctx, tx, rec, loaded); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		if ce, ok := conflictField(err); ok {
			metrics.ConflictTotal.WithLabelValues(ce).Inc()
		}
		return nil, err
	}

	if spec.Status != nil || spec.SubscriptionStatus != nil {
		metrics.TenantTransitionTotal.WithLabelValues(string(out.Status)).Inc()
		s.log.Infow("tenant transitioned",
			"tenant", out.ID, "status", out.Status, "subscription", out.SubscriptionStatus)
	}
	return out, nil
}

// applyLifecycle routes the status patch through the transition table.
func applyLifecycle(rec *tenant.Record, spec UpdateSpec) error {
	if spec.Status == nil && spec.SubscriptionStatus == nil {
		return nil
	}
	next, err := tenant.Transition(rec.State(), spec.Status, spec.SubscriptionStatus)
	if err != nil {
		return err
	}
	rec.Status = next.Status
	rec.SubscriptionStatus = next.Subscription
	// trialEndsAt is retained historically after leaving trial; it only
	// matters that it is present while in trial.
	if rec.Status == tenant.StatusTrial && rec.TrialEndsAt == nil {
		return &tenant.ValidationError{Field: "trialEndsAt", Reason: "required while status is trial"}
	}
	return nil
}

// applyIdentity re-validates and re-checks uniqueness when any identifier
// field changes.
func (s *Service) applyIdentity(ctx context.Context, tx *sqlx.Tx, rec *tenant.Record, spec UpdateSpec) error {
	if spec.Slug == nil && spec.CompanyDocument == nil && spec.Subdomain == nil &&
		spec.CustomDomain == nil && spec.AdminSubdomain == nil {
		return nil
	}

	identity := tenant.Identity{
		Slug:            rec.Slug,
		CompanyDocument: rec.CompanyDocument,
		Subdomain:       rec.Subdomain,
		CustomDomain:    rec.CustomDomain,
		AdminSubdomain:  rec.AdminSubdomain,
	}
	if spec.Slug != nil {
		identity.Slug = *spec.Slug
	}
	if spec.CompanyDocument != nil {
		identity.CompanyDocument = *spec.CompanyDocument
	}
	if spec.Subdomain != nil {
		identity.Subdomain = spec.Subdomain
	}
	if spec.CustomDomain != nil {
		identity.CustomDomain = spec.CustomDomain
	}
	if spec.AdminSubdomain != nil {
		identity.AdminSubdomain = spec.AdminSubdomain
	}

	identity.Normalize()
	if err := identity.Validate(); err != nil {
		return err
	}
	if err := tenant.CheckIdentity(ctx, tx, identity, rec.ID); err != nil {
		return err
	}

	rec.Slug = identity.Slug
	rec.CompanyDocument = identity.CompanyDocument
	rec.Subdomain = identity.Subdomain
	rec.CustomDomain = identity.CustomDomain
	rec.AdminSubdomain = identity.AdminSubdomain
	return nil
}

// applyProfile covers plan, capacity limits, and contact fields.
func applyProfile(rec *tenant.Record, spec UpdateSpec) error {
	if spec.Plan != nil {
		if !spec.Plan.Valid() {
			return &tenant.ValidationError{Field: "subscriptionPlan", Reason: "unknown plan"}
		}
		rec.SubscriptionPlan = *spec.Plan
	}
	for field, p := range map[string]*int{
		"maxUsers":     spec.MaxUsers,
		"maxAdmins":    spec.MaxAdmins,
		"maxStorageGB": spec.MaxStorageGB,
	} {
		if p == nil {
			continue
		}
		if *p <= 0 {
			return &tenant.ValidationError{Field: field, Reason: "must be positive"}
		}
	}
	if spec.MaxUsers != nil {
		rec.MaxUsers = *spec.MaxUsers
	}
	if spec.MaxAdmins != nil {
		rec.MaxAdmins = *spec.MaxAdmins
	}
	if spec.MaxStorageGB != nil {
		rec.MaxStorageGB = *spec.MaxStorageGB
	}
	if spec.CompanyName != nil {
		if *spec.CompanyName == "" {
			return &tenant.ValidationError{Field: "companyName", Reason: "must be non-empty"}
		}
		rec.CompanyName = *spec.CompanyName
	}
	if spec.ContactName != nil {
		rec.ContactName = *spec.ContactName
	}
	if spec.ContactEmail != nil {
		rec.ContactEmail = *spec.ContactEmail
	}
	if spec.ContactPhone != nil {
		rec.ContactPhone = *spec.ContactPhone
	}
	return nil
}

// applyBilling keeps totalBilled monotonic and outstandingBalance ≥ 0.
func applyBilling(rec *tenant.Record, b *BillingPatch) error {
	if b == nil {
		return nil
	}
	if b.AddTotalBilled.IsNegative() {
		return &tenant.ValidationError{Field: "totalBilled", Reason: "can only increase"}
	}
	if b.OutstandingBalance != nil && b.OutstandingBalance.IsNegative() {
		return &tenant.ValidationError{Field: "outstandingBalance", Reason: "must be non-negative"}
	}
	if b.MonthlyFee != nil && b.MonthlyFee.IsNegative() {
		return &tenant.ValidationError{Field: "monthlyFee", Reason: "must be non-negative"}
	}

	rec.TotalBilled = rec.TotalBilled.Add(b.AddTotalBilled)
	if b.OutstandingBalance != nil {
		rec.OutstandingBalance = *b.OutstandingBalance
	}
	if b.MonthlyFee != nil {
		rec.MonthlyFee = *b.MonthlyFee
	}
	if b.NextBillingDate != nil {
		rec.NextBillingDate = b.NextBillingDate
	}
	if b.LastBillingDate != nil {
		rec.LastBillingDate = b.LastBillingDate
	}
	return nil
}

//
// Delete
//

// DeleteTenant removes the tenant and every owned dependent, releases the
// database-coordinate lease, and deletes the tenant's secrets.  No orphans
// survive the transaction.
func (s *Service) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tenant.ByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		if err := branding.DeleteByTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := entitlement.DeleteByTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := admin.DeleteByTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := apikey.DeleteByTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := economics.DeleteByTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := stats.DeleteByTenant(ctx, tx, id); err != nil {
			return err
		}
		if err := tenant.Delete(ctx, tx, id); err != nil {
			return err
		}
		return dbrouter.Release(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	// The rows are gone; secret cleanup is best effort and logged.
	secretPath := s.secretBase + "/" + id.String()
	if derr := s.secrets.DeleteKV(ctx, secretPath); derr != nil {
		s.log.Errorw("tenant secret cleanup failed", "path", secretPath, "err", derr)
	}

	metrics.TenantDeleteTotal.Inc()
	s.log.Infow("tenant deleted", "tenant", id)
	return nil
}

//
// Reads
//

// GetTenant fetches one tenant by id.
func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Record, error) {
	return tenant.ByID(ctx, s.db, id)
}

// GetTenantBySlug fetches one tenant by its normalized slug.
func (s *Service) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Record, error) {
	return tenant.BySlug(ctx, s.db, slug)
}

// GetTenantBySubdomain fetches one tenant by its subdomain routing key.
func (s *Service) GetTenantBySubdomain(ctx context.Context, sub string) (*tenant.Record, error) {
	return tenant.BySubdomain(ctx, s.db, sub)
}

// ListTenants returns tenants matching the filter, newest first.
func (s *Service) ListTenants(ctx context.Context, f tenant.Filter, p tenant.Page) ([]tenant.Record, error) {
	return tenant.List(ctx, s.db, f, p)
}

//
// Dependent mutations (serialized on the tenant row)
//

// SetModuleState upserts one entitlement row under the tenant row lock.
func (s *Service) SetModuleState(ctx context.Context, id uuid.UUID, state entitlement.SetState) (*entitlement.Record, error) {
	state.TenantID = id
	var out *entitlement.Record
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tenant.ByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		rec, err := entitlement.SetModuleState(ctx, tx, state)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// UpsertCashbackConfig writes the cashback singleton under the tenant lock.
func (s *Service) UpsertCashbackConfig(ctx context.Context, id uuid.UUID, cfg economics.CashbackConfig) error {
	cfg.TenantID = id
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tenant.ByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		return economics.UpsertCashback(ctx, tx, cfg)
	})
}

// UpsertWithdrawalConfig writes the withdrawal singleton under the tenant
// lock.
func (s *Service) UpsertWithdrawalConfig(ctx context.Context, id uuid.UUID, cfg economics.WithdrawalConfig) error {
	cfg.TenantID = id
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tenant.ByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		return economics.UpsertWithdrawal(ctx, tx, cfg)
	})
}

// CreateAdmin adds one tenant admin, enforcing the maxAdmins cap under the
// tenant row lock.
func (s *Service) CreateAdmin(ctx context.Context, id uuid.UUID, email, name string, role admin.Role, plainPassword string) (*admin.Record, error) {
	var out *admin.Record
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		rec, err := tenant.ByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		a, err := admin.Create(ctx, tx, rec, email, name, role, plainPassword)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// IssueAPIKey mints one API key for a tenant.  The plaintext is returned
// exactly once.
func (s *Service) IssueAPIKey(ctx context.Context, id uuid.UUID, label string, expiresAt *time.Time) (*apikey.Record, string, error) {
	var (
		out   *apikey.Record
		plain string
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tenant.ByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		rec, p, err := apikey.Issue(ctx, tx, s.secretBase, id, label, expiresAt)
		if err != nil {
			return err
		}
		out, plain = rec, p
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	// The row is durable; only now does the material go to Vault.  A failed
	// or retried transaction therefore never strands a secret, and a failed
	// Vault write is compensated by revoking the fresh row.
	secretPath, secretKey, _ := vault.ParseRef(out.SecretRef)
	if err := s.secrets.PutKV(ctx, secretPath, secretKey, plain); err != nil {
		if derr := apikey.Revoke(ctx, s.db, out.ID); derr != nil {
			s.log.Errorw("api key row kept without secret material",
				"tenant", id, "key", out.ID, "error", derr)
		}
		return nil, "", fmt.Errorf("store api key secret: %w", err)
	}
	return out, plain, nil
}

// UpsertBranding writes the branding singleton under the tenant lock.
func (s *Service) UpsertBranding(ctx context.Context, id uuid.UUID, b branding.Record) error {
	b.TenantID = id
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tenant.ByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		return branding.Upsert(ctx, tx, b)
	})
}

// ReclaimCoordinates frees the released database coordinates of a deleted,
// cancelled, or expired tenant for reuse.  Explicit and audited; never run
// implicitly.
func (s *Service) ReclaimCoordinates(ctx context.Context, id uuid.UUID) error {
	err := dbrouter.Reclaim(ctx, s.db, id)
	if err == nil {
		s.log.Infow("database coordinates reclaimed", "tenant", id)
	}
	return err
}

//
// Transaction helper
//

// withTx runs fn inside a transaction, retrying transient storage
// conflicts with linear backoff.  Cancellation aborts between attempts and
// rolls back like any other failure.
func (s *Service) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	var last error
	for attempt := 0; attempt <= txRetries; attempt++ {
		if attempt > 0 {
			metrics.TxRetryTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * txBackoff):
			}
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}

		err = fn(tx)
		if err == nil {
			if err = tx.Commit(); err == nil {
				return nil
			}
		}
		_ = tx.Rollback()

		if !database.IsTransient(err) {
			return err
		}
		last = err
	}
	return fmt.Errorf("%w: %v", tenant.ErrTransient, last)
}

//
// Small helpers
//

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// conflictField extracts the field label for the conflict metric.
func conflictField(err error) (string, bool) {
	var ce *tenant.ConflictError
	if errors.As(err, &ce) {
		return ce.Field, true
	}
	return "", false
}

// randomSecret returns 48 hex chars of CSPRNG output.
func randomSecret() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
