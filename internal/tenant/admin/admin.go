// internal/tenant/admin/admin.go
//
// Tenant administrator accounts.
//
// Context
// -------
// Each tenant carries 0..N admin accounts, unique on (tenant_id, email)
// via uq_admin_tenant_email.  Passwords are bcrypt-hashed before they reach
// this package's SQL; the plaintext never leaves Create/Authenticate stack
// frames.  `maxAdmins` on the tenant row is a hard cap enforced here: the
// count check and the insert run in the caller's transaction, with the
// tenant row already locked, so two racing creates cannot both pass the
// cap.
//
// Notes
// -----
// • Roles form a closed set: admin, manager, support.
// • Deactivation is logical (`is_active = FALSE`); the row and its audit
//   trail survive.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/veloracloud/tenantctl/internal/database"
	"github.com/veloracloud/tenantctl/internal/tenant"
)

// Role is the closed admin role set.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleSupport Role = "support"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSupport:
		return true
	}
	return false
}

// Record mirrors one row in `tenant_admin`.  PasswordHash is bcrypt output;
// it is safe to log the struct only through its redacting fields.
type Record struct {
	ID           uuid.UUID `db:"id"`
	TenantID     uuid.UUID `db:"tenant_id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	Role         Role      `db:"role"`
	PasswordHash string    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

const adminColumns = `id, tenant_id, email, name, role, password_hash, is_active, created_at`

// Create hashes the password and inserts the admin, enforcing the tenant's
// maxAdmins cap.  The caller must run this inside the same transaction that
// holds the tenant row lock.
func Create(ctx context.Context, e sqlx.ExtContext, t *tenant.Record, email, name string, role Role, plainPassword string) (*Record, error) {
	if !role.Valid() {
		return nil, &tenant.ValidationError{Field: "role", Reason: "must be admin, manager, or support"}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &tenant.ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	if len(plainPassword) < 8 {
		return nil, &tenant.ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}

	var count int
	const qCount = `SELECT COUNT(*) FROM tenant_admin WHERE tenant_id = ?`
	if err := sqlx.GetContext(ctx, e, &count, qCount, t.ID); err != nil {
		return nil, fmt.Errorf("count admins: %w", err)
	}
	if count >= t.MaxAdmins {
		return nil, &tenant.ValidationError{
			Field:  "maxAdmins",
			Reason: fmt.Sprintf("tenant is capped at %d admins", t.MaxAdmins),
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	rec := &Record{
		ID:           uuid.New(),
		TenantID:     t.ID,
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	const qIns = `
        INSERT INTO tenant_admin (` + adminColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = e.ExecContext(ctx, qIns,
		rec.ID, rec.TenantID, rec.Email, rec.Name, rec.Role,
		rec.PasswordHash, rec.IsActive, rec.CreatedAt,
	)
	if err != nil {
		if database.IsDuplicate(err) {
			return nil, &tenant.ConflictError{Field: "email", Value: email}
		}
		return nil, fmt.Errorf("insert tenant_admin: %w", err)
	}
	return rec, nil
}

// ByEmail fetches one admin for a tenant.
func ByEmail(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID, email string) (*Record, error) {
	const q = `
        SELECT ` + adminColumns + `
        FROM   tenant_admin
        WHERE  tenant_id = ? AND email = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, e, &rec, q, tenantID, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant_admin: %w", err)
	}
	return &rec, nil
}

// Authenticate verifies the password of an active admin.  Failures are
// indistinguishable between unknown email, inactive account, and wrong
// password; all three return ErrNotFound.
func Authenticate(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID, email, plainPassword string) (*Record, error) {
	rec, err := ByEmail(ctx, e, tenantID, email)
	if err != nil {
		return nil, err
	}
	if !rec.IsActive {
		return nil, tenant.ErrNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(plainPassword)) != nil {
		return nil, tenant.ErrNotFound
	}
	return rec, nil
}

// SetActive flips the logical activation flag.
func SetActive(ctx context.Context, e sqlx.ExtContext, id uuid.UUID, active bool) error {
	const q = `UPDATE tenant_admin SET is_active = ? WHERE id = ?`
	res, err := e.ExecContext(ctx, q, active, id)
	if err != nil {
		return fmt.Errorf("update tenant_admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// DeleteByTenant removes every admin row for a tenant.  Used by the cascade
// delete in the aggregate root.
func DeleteByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `DELETE FROM tenant_admin WHERE tenant_id = ?`
	if _, err := e.ExecContext(ctx, q, tenantID); err != nil {
		return fmt.Errorf("delete tenant_admin: %w", err)
	}
	return nil
}
