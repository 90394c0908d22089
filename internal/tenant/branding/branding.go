// internal/tenant/branding/branding.go
//
// Cosmetic identity singleton.
//
// Context
// -------
// Each tenant may carry one branding row (app name, colors, logo URL).
// Rendering is out of scope for the control plane; this package only keeps
// the 0..1 invariant (unique key on tenant_id, upsert writes) and deletes
// the row with its tenant.
package branding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veloracloud/tenantctl/internal/tenant"
)

// Record mirrors one row in `tenant_branding`.
type Record struct {
	TenantID       uuid.UUID `db:"tenant_id"`
	AppName        string    `db:"app_name"`
	LogoURL        string    `db:"logo_url"`
	PrimaryColor   string    `db:"primary_color"`
	SecondaryColor string    `db:"secondary_color"`
	FaviconURL     string    `db:"favicon_url"`
}

// Upsert writes the branding singleton.
func Upsert(ctx context.Context, e sqlx.ExtContext, r Record) error {
	const q = `
        INSERT INTO tenant_branding
            (tenant_id, app_name, logo_url, primary_color, secondary_color, favicon_url)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            app_name        = VALUES(app_name),
            logo_url        = VALUES(logo_url),
            primary_color   = VALUES(primary_color),
            secondary_color = VALUES(secondary_color),
            favicon_url     = VALUES(favicon_url)`
	_, err := e.ExecContext(ctx, q,
		r.TenantID, r.AppName, r.LogoURL, r.PrimaryColor,
		r.SecondaryColor, r.FaviconURL,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant_branding: %w", err)
	}
	return nil
}

// ByTenant fetches the branding singleton.
func ByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) (*Record, error) {
	const q = `
        SELECT tenant_id, app_name, logo_url, primary_color, secondary_color, favicon_url
        FROM   tenant_branding
        WHERE  tenant_id = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, e, &rec, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant_branding: %w", err)
	}
	return &rec, nil
}

// DeleteByTenant removes the branding row.  Used by the cascade delete in
// the aggregate root.
func DeleteByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `DELETE FROM tenant_branding WHERE tenant_id = ?`
	if _, err := e.ExecContext(ctx, q, tenantID); err != nil {
		return fmt.Errorf("delete tenant_branding: %w", err)
	}
	return nil
}
