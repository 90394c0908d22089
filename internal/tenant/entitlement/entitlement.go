// internal/tenant/entitlement/entitlement.go
//
// Per-tenant module entitlement rows.
//
// Context
// -------
// Each tenant holds at most one row per module key, enforced by the unique
// index uq_module_tenant_key.  `SetState` uses upsert semantics: a missing
// row is created with `is_enabled_by_default` copied from the catalog, an
// existing row has only its mutable fields touched.  Disabling is logical
// (`is_enabled = FALSE`, row retained), so module configuration survives a
// disable/enable cycle.
//
// Schema reference (2026-08)
//
//	CREATE TABLE tenant_module (
//	    id                    CHAR(36)     PRIMARY KEY,
//	    tenant_id             CHAR(36)     NOT NULL,
//	    module_key            VARCHAR(16)  NOT NULL,
//	    is_enabled            TINYINT(1)   NOT NULL,
//	    is_enabled_by_default TINYINT(1)   NOT NULL,
//	    config                JSON         NULL,
//	    display_name          VARCHAR(64)  NOT NULL,
//	    description           VARCHAR(256) NOT NULL DEFAULT '',
//	    sort_order            INT          NOT NULL DEFAULT 0,
//	    created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    UNIQUE KEY uq_module_tenant_key (tenant_id, module_key),
//	    FOREIGN KEY (tenant_id) REFERENCES tenant (id) ON DELETE CASCADE
//	);
//
// Notes
// -----
// • `tenant_id` and `module_key` are immutable once created; no update
//   statement in this package touches them.
// • `config` is schema-less JSON validated structurally only; semantic
//   validation belongs to each module's consumer.
package entitlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veloracloud/tenantctl/internal/tenant"
)

// Record mirrors one row in `tenant_module`.
type Record struct {
	ID                 uuid.UUID `db:"id"`
	TenantID           uuid.UUID `db:"tenant_id"`
	ModuleKey          Key       `db:"module_key"`
	IsEnabled          bool      `db:"is_enabled"`
	IsEnabledByDefault bool      `db:"is_enabled_by_default"`
	Config             []byte    `db:"config"` // raw JSON, nil when unset
	DisplayName        string    `db:"display_name"`
	Description        string    `db:"description"`
	SortOrder          int       `db:"sort_order"`
}

// SetState is the input to the upsert.  Nil optional fields keep the stored
// value on update and fall back to the catalog default on create.
type SetState struct {
	TenantID    uuid.UUID
	Key         Key
	Enabled     bool
	Config      map[string]any // nil keeps existing config
	Description *string
	SortOrder   *int
}

const moduleColumns = `id, tenant_id, module_key, is_enabled,
           is_enabled_by_default, config, display_name, description, sort_order`

// SetModuleState upserts the entitlement row for (tenant, key) and returns
// the stored state.  Unknown keys are rejected before any SQL runs.
func SetModuleState(ctx context.Context, e sqlx.ExtContext, s SetState) (*Record, error) {
	entry, ok := Lookup(s.Key)
	if !ok {
		return nil, &tenant.UnknownModuleKeyError{Key: string(s.Key)}
	}

	var cfgJSON any // nil → SQL NULL
	if s.Config != nil {
		b, err := json.Marshal(s.Config)
		if err != nil {
			return nil, &tenant.ValidationError{Field: "config", Reason: "not representable as JSON"}
		}
		cfgJSON = b
	}

	// Omitted fields bind as SQL NULL.  On insert they COALESCE to the
	// catalog defaults; on duplicate they COALESCE to the stored value, so
	// a logical disable never loses configuration, description, or order.
	var descArg, orderArg any
	if s.Description != nil {
		descArg = *s.Description
	}
	if s.SortOrder != nil {
		orderArg = *s.SortOrder
	}

	const q = `
        INSERT INTO tenant_module
            (id, tenant_id, module_key, is_enabled, is_enabled_by_default,
             config, display_name, description, sort_order)
        VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, ?), COALESCE(?, ?))
        ON DUPLICATE KEY UPDATE
            is_enabled  = VALUES(is_enabled),
            config      = COALESCE(VALUES(config), config),
            description = COALESCE(?, description),
            sort_order  = COALESCE(?, sort_order),
            updated_at  = CURRENT_TIMESTAMP`
	_, err := e.ExecContext(ctx, q,
		uuid.New(), s.TenantID, s.Key, s.Enabled, entry.EnabledByDefault,
		cfgJSON, entry.DisplayName,
		descArg, entry.Description, orderArg, entry.SortOrder,
		descArg, orderArg,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert tenant_module: %w", err)
	}

	return ByKey(ctx, e, s.TenantID, s.Key)
}

// ByKey fetches the entitlement row for one (tenant, key) pair.
func ByKey(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID, key Key) (*Record, error) {
	const q = `
        SELECT ` + moduleColumns + `
        FROM   tenant_module
        WHERE  tenant_id = ? AND module_key = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, e, &rec, q, tenantID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant_module: %w", err)
	}
	return &rec, nil
}

// ByTenant lists all entitlement rows for a tenant in display order.
func ByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) ([]Record, error) {
	const q = `
        SELECT ` + moduleColumns + `
        FROM   tenant_module
        WHERE  tenant_id = ?
        ORDER  BY sort_order`
	var rows []Record
	if err := sqlx.SelectContext(ctx, e, &rows, q, tenantID); err != nil {
		return nil, fmt.Errorf("list tenant_module: %w", err)
	}
	return rows, nil
}

// SeedDefaults inserts one row per catalog module for a new tenant, each
// with is_enabled mirroring the catalog default.  Called once inside the
// create transaction.
func SeedDefaults(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `
        INSERT INTO tenant_module
            (id, tenant_id, module_key, is_enabled, is_enabled_by_default,
             config, display_name, description, sort_order)
        VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)`
	for _, entry := range Defaults() {
		_, err := e.ExecContext(ctx, q,
			uuid.New(), tenantID, entry.Key, entry.EnabledByDefault,
			entry.EnabledByDefault, entry.DisplayName, entry.Description,
			entry.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("seed tenant_module %s: %w", entry.Key, err)
		}
	}
	return nil
}

// DeleteByTenant removes every entitlement row for a tenant.  Used by the
// cascade delete in the aggregate root.
func DeleteByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `DELETE FROM tenant_module WHERE tenant_id = ?`
	if _, err := e.ExecContext(ctx, q, tenantID); err != nil {
		return fmt.Errorf("delete tenant_module: %w", err)
	}
	return nil
}
