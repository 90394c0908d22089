// internal/tenant/stats/stats.go
//
// Statistics append/upsert surface.
//
// Context
// -------
// The numbers here are produced by external metering and aggregation jobs;
// the control plane owns only the row shapes, the foreign-key consistency,
// and the write discipline.  These helpers are deliberately separate from
// the aggregate root's mutation path: they never touch the tenant row or
// its lifecycle, so the stats pipeline's eventual consistency cannot leak
// into the control plane's strong consistency.
//
// Write discipline
// ----------------
// • `tenant_stats` is a 0..1 singleton per tenant; lifetime counters are
//   monotonic, enforced with GREATEST() on the upsert arm so a stale
//   aggregator run can never roll a counter backwards.
// • `tenant_usage_stats` is unique on (tenant_id, date); re-runs for the
//   same day overwrite the day's counters.
// • `global_stats` is unique on date and has no tenant foreign key.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/veloracloud/tenantctl/internal/tenant"
)

// TenantStats mirrors the per-tenant rollup singleton.
type TenantStats struct {
	TenantID       uuid.UUID       `db:"tenant_id"`
	TotalUsers     int64           `db:"total_users"`
	TotalPurchases int64           `db:"total_purchases"`
	TotalRevenue   decimal.Decimal `db:"total_revenue"`
	Users30d       int64           `db:"users_30d"`
	Purchases30d   int64           `db:"purchases_30d"`
	Revenue30d     decimal.Decimal `db:"revenue_30d"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// UsageStats mirrors one daily usage row, unique on (tenant_id, date).
type UsageStats struct {
	TenantID     uuid.UUID       `db:"tenant_id"`
	Date         time.Time       `db:"date"`
	ActiveUsers  int64           `db:"active_users"`
	APIRequests  int64           `db:"api_requests"`
	Purchases    int64           `db:"purchases"`
	Revenue      decimal.Decimal `db:"revenue"`
	StorageUsedM int64           `db:"storage_used_mb"`
}

// GlobalStats mirrors one platform-wide daily snapshot, unique on date.
type GlobalStats struct {
	Date          time.Time       `db:"date"`
	TotalTenants  int64           `db:"total_tenants"`
	ActiveTenants int64           `db:"active_tenants"`
	TotalUsers    int64           `db:"total_users"`
	TotalRevenue  decimal.Decimal `db:"total_revenue"`
}

// SeedTenant inserts the zero-valued singleton for a new tenant.  Called
// once inside the create transaction.
func SeedTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `
        INSERT INTO tenant_stats
            (tenant_id, total_users, total_purchases, total_revenue,
             users_30d, purchases_30d, revenue_30d, updated_at)
        VALUES (?, 0, 0, 0, 0, 0, 0, ?)`
	if _, err := e.ExecContext(ctx, q, tenantID, time.Now().UTC()); err != nil {
		return fmt.Errorf("seed tenant_stats: %w", err)
	}
	return nil
}

// UpsertTenant writes an aggregator-produced rollup.  Lifetime counters are
// clamped with GREATEST so they never decrease; 30-day windows replace.
func UpsertTenant(ctx context.Context, e sqlx.ExtContext, s TenantStats) error {
	const q = `
        INSERT INTO tenant_stats
            (tenant_id, total_users, total_purchases, total_revenue,
             users_30d, purchases_30d, revenue_30d, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            total_users     = GREATEST(total_users, VALUES(total_users)),
            total_purchases = GREATEST(total_purchases, VALUES(total_purchases)),
            total_revenue   = GREATEST(total_revenue, VALUES(total_revenue)),
            users_30d       = VALUES(users_30d),
            purchases_30d   = VALUES(purchases_30d),
            revenue_30d     = VALUES(revenue_30d),
            updated_at      = VALUES(updated_at)`
	_, err := e.ExecContext(ctx, q,
		s.TenantID, s.TotalUsers, s.TotalPurchases, s.TotalRevenue,
		s.Users30d, s.Purchases30d, s.Revenue30d, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert tenant_stats: %w", err)
	}
	return nil
}

// TenantByID fetches the rollup singleton.
func TenantByID(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) (*TenantStats, error) {
	const q = `
        SELECT tenant_id, total_users, total_purchases, total_revenue,
               users_30d, purchases_30d, revenue_30d, updated_at
        FROM   tenant_stats
        WHERE  tenant_id = ?
        LIMIT  1`
	var s TenantStats
	if err := sqlx.GetContext(ctx, e, &s, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get tenant_stats: %w", err)
	}
	return &s, nil
}

// UpsertUsage writes one metering row for (tenant, day); a re-run for the
// same day replaces the day's counters.  The (tenant_id, date) unique key
// is the authority against duplicates.
func UpsertUsage(ctx context.Context, e sqlx.ExtContext, u UsageStats) error {
	const q = `
        INSERT INTO tenant_usage_stats
            (tenant_id, date, active_users, api_requests, purchases,
             revenue, storage_used_mb)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            active_users    = VALUES(active_users),
            api_requests    = VALUES(api_requests),
            purchases       = VALUES(purchases),
            revenue         = VALUES(revenue),
            storage_used_mb = VALUES(storage_used_mb)`
	_, err := e.ExecContext(ctx, q,
		u.TenantID, u.Date.Format("2006-01-02"), u.ActiveUsers,
		u.APIRequests, u.Purchases, u.Revenue, u.StorageUsedM,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant_usage_stats: %w", err)
	}
	return nil
}

// UsageRange lists daily usage rows for a tenant between from and to,
// inclusive, oldest first.
func UsageRange(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID, from, to time.Time) ([]UsageStats, error) {
	const q = `
        SELECT tenant_id, date, active_users, api_requests, purchases,
               revenue, storage_used_mb
        FROM   tenant_usage_stats
        WHERE  tenant_id = ? AND date BETWEEN ? AND ?
        ORDER  BY date`
	var rows []UsageStats
	err := sqlx.SelectContext(ctx, e, &rows, q,
		tenantID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list tenant_usage_stats: %w", err)
	}
	return rows, nil
}

// UpsertGlobal writes one platform-wide daily snapshot.
func UpsertGlobal(ctx context.Context, e sqlx.ExtContext, g GlobalStats) error {
	const q = `
        INSERT INTO global_stats
            (date, total_tenants, active_tenants, total_users, total_revenue)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            total_tenants  = VALUES(total_tenants),
            active_tenants = VALUES(active_tenants),
            total_users    = VALUES(total_users),
            total_revenue  = VALUES(total_revenue)`
	_, err := e.ExecContext(ctx, q,
		g.Date.Format("2006-01-02"), g.TotalTenants, g.ActiveTenants,
		g.TotalUsers, g.TotalRevenue,
	)
	if err != nil {
		return fmt.Errorf("upsert global_stats: %w", err)
	}
	return nil
}

// GlobalByDate fetches one daily snapshot.
func GlobalByDate(ctx context.Context, e sqlx.ExtContext, date time.Time) (*GlobalStats, error) {
	const q = `
        SELECT date, total_tenants, active_tenants, total_users, total_revenue
        FROM   global_stats
        WHERE  date = ?
        LIMIT  1`
	var g GlobalStats
	if err := sqlx.GetContext(ctx, e, &g, q, date.Format("2006-01-02")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get global_stats: %w", err)
	}
	return &g, nil
}

// DeleteByTenant removes the rollup singleton and every usage row for a
// tenant.  Used by the cascade delete in the aggregate root.
func DeleteByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	for _, q := range []string{
		`DELETE FROM tenant_stats WHERE tenant_id = ?`,
		`DELETE FROM tenant_usage_stats WHERE tenant_id = ?`,
	} {
		if _, err := e.ExecContext(ctx, q, tenantID); err != nil {
			return fmt.Errorf("delete stats rows: %w", err)
		}
	}
	return nil
}
