// internal/tenant/admin/superadmin.go
//
// Platform-level operator accounts.
//
// Context
// -------
// SuperAdmins exist outside any tenant: they administer the platform
// itself.  Email is globally unique; `permissions` is free-form JSON whose
// shape belongs to the admin console, so it is stored raw and validated
// structurally only.
package admin

import (
	"context"
	"database/sql"
	"encoding/json"
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

// SuperAdmin mirrors one row in `super_admin`.
type SuperAdmin struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	Permissions  []byte    `db:"permissions"` // raw JSON
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// CreateSuperAdmin hashes the password and inserts the operator account.
func CreateSuperAdmin(ctx context.Context, e sqlx.ExtContext, email, name, plainPassword string, permissions map[string]any) (*SuperAdmin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &tenant.ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	if len(plainPassword) < 8 {
		return nil, &tenant.ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}

	perms, err := json.Marshal(permissions)
	if err != nil {
		return nil, &tenant.ValidationError{Field: "permissions", Reason: "not representable as JSON"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	rec := &SuperAdmin{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Permissions:  perms,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	const q = `
        INSERT INTO super_admin
            (id, email, name, password_hash, permissions, is_active, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = e.ExecContext(ctx, q,
		rec.ID, rec.Email, rec.Name, rec.PasswordHash, rec.Permissions,
		rec.IsActive, rec.CreatedAt,
	)
	if err != nil {
		if database.IsDuplicate(err) {
			return nil, &tenant.ConflictError{Field: "email", Value: email}
		}
		return nil, fmt.Errorf("insert super_admin: %w", err)
	}
	return rec, nil
}

// SuperAdminByEmail fetches one operator account.
func SuperAdminByEmail(ctx context.Context, e sqlx.ExtContext, email string) (*SuperAdmin, error) {
	const q = `
        SELECT id, email, name, password_hash, permissions, is_active, created_at
        FROM   super_admin
        WHERE  email = ?
        LIMIT  1`
	var rec SuperAdmin
	if err := sqlx.GetContext(ctx, e, &rec, q, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get super_admin: %w", err)
	}
	return &rec, nil
}
