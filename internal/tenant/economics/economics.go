// internal/tenant/economics/economics.go
//
// Cashback and withdrawal configuration singletons.
//
// Context
// -------
// Each tenant holds at most one cashback-config row and one
// withdrawal-config row.  The percentages and fees stored here
// parameterise payout calculations performed by external financial
// services; this package only guards their ranges and the one-row-per-
// tenant invariant (unique key on tenant_id, upsert writes).
//
// Validation
// ----------
// • All percentages lie in [0, 100].
// • Fixed fees and minimum amounts are non-negative.
// • The four cashback legs are independent and need not sum to 100, but a
//   sum above 100 usually signals a misconfiguration, so it is logged at
//   warn level and accepted.
//
// Notes
// -----
// • Monetary values are shopspring decimals end to end; floats never touch
//   this package.
package economics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veloracloud/tenantctl/internal/tenant"
)

var (
	hundred = decimal.NewFromInt(100)
)

// CashbackConfig mirrors one row in `tenant_cashback_config`.
type CashbackConfig struct {
	TenantID                uuid.UUID       `db:"tenant_id"`
	ConsumerPercent         decimal.Decimal `db:"consumer_percent"`
	ClubPercent             decimal.Decimal `db:"club_percent"`
	ConsumerReferrerPercent decimal.Decimal `db:"consumer_referrer_percent"`
	MerchantReferrerPercent decimal.Decimal `db:"merchant_referrer_percent"`
}

// WithdrawalConfig mirrors one row in `tenant_withdrawal_config`.
type WithdrawalConfig struct {
	TenantID            uuid.UUID       `db:"tenant_id"`
	FeePercent          decimal.Decimal `db:"fee_percent"`
	FeeFixed            decimal.Decimal `db:"fee_fixed"`
	MinWithdrawalAmount decimal.Decimal `db:"min_withdrawal_amount"`
}

// DefaultCashback returns the platform default seeded at tenant creation:
// every leg zero.
func DefaultCashback(tenantID uuid.UUID) CashbackConfig {
	return CashbackConfig{TenantID: tenantID}
}

// DefaultWithdrawal returns the platform default seeded at tenant creation.
func DefaultWithdrawal(tenantID uuid.UUID) WithdrawalConfig {
	return WithdrawalConfig{TenantID: tenantID}
}

// Validate checks every cashback leg against [0, 100].
func (c *CashbackConfig) Validate() error {
	for field, p := range map[string]decimal.Decimal{
		"consumerPercent":         c.ConsumerPercent,
		"clubPercent":             c.ClubPercent,
		"consumerReferrerPercent": c.ConsumerReferrerPercent,
		"merchantReferrerPercent": c.MerchantReferrerPercent,
	} {
		if err := percentInRange(field, p); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks ranges: fee percent in [0, 100], fee and minimum ≥ 0.
func (c *WithdrawalConfig) Validate() error {
	if err := percentInRange("feePercent", c.FeePercent); err != nil {
		return err
	}
	if c.FeeFixed.IsNegative() {
		return &tenant.ValidationError{Field: "feeFixed", Reason: "must be non-negative"}
	}
	if c.MinWithdrawalAmount.IsNegative() {
		return &tenant.ValidationError{Field: "minWithdrawalAmount", Reason: "must be non-negative"}
	}
	return nil
}

func percentInRange(field string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return &tenant.ValidationError{Field: field, Reason: "must lie in [0, 100]"}
	}
	return nil
}

// UpsertCashback validates and writes the cashback singleton.  A leg sum
// above 100 is accepted but logged at warn level, since it usually means
// the consuming financial engine will over-pay.
func UpsertCashback(ctx context.Context, e sqlx.ExtContext, c CashbackConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if sum := c.ConsumerPercent.Add(c.ClubPercent).
		Add(c.ConsumerReferrerPercent).Add(c.MerchantReferrerPercent); sum.GreaterThan(hundred) {
		zap.S().Warnw("cashback legs sum exceeds 100 percent",
			"tenant", c.TenantID, "sum", sum.String())
	}

	const q = `
        INSERT INTO tenant_cashback_config
            (tenant_id, consumer_percent, club_percent,
             consumer_referrer_percent, merchant_referrer_percent)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            consumer_percent          = VALUES(consumer_percent),
            club_percent              = VALUES(club_percent),
            consumer_referrer_percent = VALUES(consumer_referrer_percent),
            merchant_referrer_percent = VALUES(merchant_referrer_percent)`
	_, err := e.ExecContext(ctx, q,
		c.TenantID, c.ConsumerPercent, c.ClubPercent,
		c.ConsumerReferrerPercent, c.MerchantReferrerPercent,
	)
	if err != nil {
		return fmt.Errorf("upsert cashback config: %w", err)
	}
	return nil
}

// UpsertWithdrawal validates and writes the withdrawal singleton.
func UpsertWithdrawal(ctx context.Context, e sqlx.ExtContext, c WithdrawalConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	const q = `
        INSERT INTO tenant_withdrawal_config
            (tenant_id, fee_percent, fee_fixed, min_withdrawal_amount)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
            fee_percent           = VALUES(fee_percent),
            fee_fixed             = VALUES(fee_fixed),
            min_withdrawal_amount = VALUES(min_withdrawal_amount)`
	_, err := e.ExecContext(ctx, q,
		c.TenantID, c.FeePercent, c.FeeFixed, c.MinWithdrawalAmount,
	)
	if err != nil {
		return fmt.Errorf("upsert withdrawal config: %w", err)
	}
	return nil
}

// CashbackByTenant fetches the cashback singleton.
func CashbackByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) (*CashbackConfig, error) {
	const q = `
        SELECT tenant_id, consumer_percent, club_percent,
               consumer_referrer_percent, merchant_referrer_percent
        FROM   tenant_cashback_config
        WHERE  tenant_id = ?
        LIMIT  1`
	var c CashbackConfig
	if err := sqlx.GetContext(ctx, e, &c, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get cashback config: %w", err)
	}
	return &c, nil
}

// WithdrawalByTenant fetches the withdrawal singleton.
func WithdrawalByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) (*WithdrawalConfig, error) {
	const q = `
        SELECT tenant_id, fee_percent, fee_fixed, min_withdrawal_amount
        FROM   tenant_withdrawal_config
        WHERE  tenant_id = ?
        LIMIT  1`
	var c WithdrawalConfig
	if err := sqlx.GetContext(ctx, e, &c, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get withdrawal config: %w", err)
	}
	return &c, nil
}

// DeleteByTenant removes both singletons for a tenant.  Used by the cascade
// delete in the aggregate root.
func DeleteByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	for _, q := range []string{
		`DELETE FROM tenant_cashback_config WHERE tenant_id = ?`,
		`DELETE FROM tenant_withdrawal_config WHERE tenant_id = ?`,
	} {
		if _, err := e.ExecContext(ctx, q, tenantID); err != nil {
			return fmt.Errorf("delete economics config: %w", err)
		}
	}
	return nil
}
