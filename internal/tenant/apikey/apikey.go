// internal/tenant/apikey/apikey.go
//
// Per-tenant API keys.
//
// Context
// -------
// API keys are secrets.  The control-plane row stores only a display
// prefix, a SHA-256 digest (globally unique via uq_apikey_digest), and the
// opaque Vault reference; the key material itself lives in the secret
// store and is returned to the caller exactly once, at issue time.
// Verification hashes the presented key and looks the digest up, so no
// secret resolution happens on the hot path.
//
// Notes
// -----
// • Keys are 32 random bytes, hex-encoded, prefixed "vk_".
// • Issue only writes the row.  The caller persists the material to the
//   secret store once the row has committed, so a rolled-back or retried
//   transaction never leaves an orphaned Vault entry.
// • Revocation deletes the row; the Vault entry is removed with it.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veloracloud/tenantctl/internal/database"
	"github.com/veloracloud/tenantctl/internal/tenant"
	"github.com/veloracloud/tenantctl/internal/vault"
)

// Record mirrors one row in `tenant_api_key`.
type Record struct {
	ID        uuid.UUID  `db:"id"`
	TenantID  uuid.UUID  `db:"tenant_id"`
	Label     string     `db:"label"`
	KeyPrefix string     `db:"key_prefix"`
	KeyDigest string     `db:"key_digest"` // hex SHA-256 of the full key
	SecretRef string     `db:"secret_ref"` // vault: reference
	ExpiresAt *time.Time `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
}

const keyColumns = `id, tenant_id, label, key_prefix, key_digest, secret_ref, expires_at, created_at`

// Issue generates a fresh key and inserts the row, including the Vault
// reference the material will live under.  The plaintext key is returned
// once and never stored in the control plane; writing it to the secret
// store is the caller's job, after the row is durable.
func Issue(ctx context.Context, e sqlx.ExtContext, secretBase string, tenantID uuid.UUID, label string, expiresAt *time.Time) (*Record, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := "vk_" + hex.EncodeToString(raw)
	digest := sha256.Sum256([]byte(plain))

	rec := &Record{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Label:     label,
		KeyPrefix: plain[:11], // "vk_" + 8 hex chars, enough to identify in a UI
		KeyDigest: hex.EncodeToString(digest[:]),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	rec.SecretRef = vault.Ref(secretBase+"/"+tenantID.String(), "api_key_"+rec.ID.String())

	const q = `
        INSERT INTO tenant_api_key (` + keyColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := e.ExecContext(ctx, q,
		rec.ID, rec.TenantID, rec.Label, rec.KeyPrefix, rec.KeyDigest,
		rec.SecretRef, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		if database.IsDuplicate(err) {
			return nil, "", &tenant.ConflictError{Field: "apiKey", Value: rec.KeyPrefix}
		}
		return nil, "", fmt.Errorf("insert tenant_api_key: %w", err)
	}
	return rec, plain, nil
}

// Verify hashes the presented key, looks it up, and checks expiry.  The
// digest comparison is constant-time even though the digest is not itself
// secret.
func Verify(ctx context.Context, e sqlx.ExtContext, presented string) (*Record, error) {
	digest := sha256.Sum256([]byte(presented))
	want := hex.EncodeToString(digest[:])

	const q = `
        SELECT ` + keyColumns + `
        FROM   tenant_api_key
        WHERE  key_digest = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, e, &rec, q, want); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant_api_key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(rec.KeyDigest), []byte(want)) != 1 {
		return nil, tenant.ErrNotFound
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(time.Now()) {
		return nil, tenant.ErrNotFound
	}
	return &rec, nil
}

// ByTenant lists the keys of one tenant, newest first.
func ByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) ([]Record, error) {
	const q = `
        SELECT ` + keyColumns + `
        FROM   tenant_api_key
        WHERE  tenant_id = ?
        ORDER  BY created_at DESC`
	var rows []Record
	if err := sqlx.SelectContext(ctx, e, &rows, q, tenantID); err != nil {
		return nil, fmt.Errorf("list tenant_api_key: %w", err)
	}
	return rows, nil
}

// Revoke deletes one key row.  The Vault entry disappears when the tenant's
// secret path is deleted; individual revocation only needs the digest gone.
func Revoke(ctx context.Context, e sqlx.ExtContext, id uuid.UUID) error {
	const q = `DELETE FROM tenant_api_key WHERE id = ?`
	res, err := e.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("revoke tenant_api_key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// DeleteByTenant removes every key row for a tenant.  Used by the cascade
// delete in the aggregate root.
func DeleteByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `DELETE FROM tenant_api_key WHERE tenant_id = ?`
	if _, err := e.ExecContext(ctx, q, tenantID); err != nil {
		return fmt.Errorf("delete tenant_api_key: %w", err)
	}
	return nil
}
