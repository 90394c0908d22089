// internal/dbrouter/router.go
//
// Database credential router.
//
// Context
// -------
// Every tenant owns a physically separate database.  Treating the
// coordinates (host, port, name) as plain columns invites silent
// double-binding, so allocation is modelled as an explicit lease: a
// `db_reservation` row per tenant, unique on the coordinate tuple, with a
// `released_at` marker instead of deletion when the tenant leaves the
// active set.
//
// Retention policy
// ----------------
// Coordinates of cancelled or expired tenants are RETAINED: the
// reservation row stays, released_at set, and keeps blocking the unique
// tuple.  Reuse requires an explicit, audited `Reclaim`, which removes the
// row.  This favours audit and restore over density.
//
// Schema reference (2026-08)
//
//	CREATE TABLE db_reservation (
//	    tenant_id   CHAR(36)     PRIMARY KEY,
//	    host        VARCHAR(256) NOT NULL,
//	    port        INT          NOT NULL,
//	    db_name     VARCHAR(64)  NOT NULL,
//	    db_user     VARCHAR(32)  NOT NULL,
//	    reserved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    released_at TIMESTAMP NULL,
//	    UNIQUE KEY uq_reservation_coords (host, port, db_name)
//	);
//
// Notes
// -----
// • Passwords never pass through this package; the tenant row carries an
//   opaque Vault reference and the service resolves it where needed.
// • The unique tuple index is the authority; Validate is a pre-check that
//   produces a better error before work is done.
package dbrouter

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
	"github.com/veloracloud/tenantctl/internal/tenant"
)

// Target is one database host the router may place tenants on.
type Target struct {
	Host string
	Port int
}

// Coordinates is the allocation result persisted onto the tenant row.
type Coordinates struct {
	Host string
	Port int
	Name string
	User string
}

// Router places tenant databases across a fixed target set.
type Router struct {
	targets []Target
}

// New constructs a Router.  At least one target is required.
func New(targets []Target) (*Router, error) {
	if len(targets) == 0 {
		return nil, errors.New("dbrouter: at least one target is required")
	}
	return &Router{targets: targets}, nil
}

// Reservation mirrors one row in `db_reservation`.
type Reservation struct {
	TenantID   uuid.UUID  `db:"tenant_id"`
	Host       string     `db:"host"`
	Port       int        `db:"port"`
	DBName     string     `db:"db_name"`
	DBUser     string     `db:"db_user"`
	ReservedAt time.Time  `db:"reserved_at"`
	ReleasedAt *time.Time `db:"released_at"`
}

// Allocate picks the least-loaded target, derives database name and user
// from the slug, and inserts the reservation.  Runs inside the caller's
// create transaction so a failed create leaves no lease behind.
func (r *Router) Allocate(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID, slug string) (Coordinates, error) {
	target, err := r.leastLoaded(ctx, e)
	if err != nil {
		return Coordinates{}, err
	}

	base := sanitize(slug)
	coords := Coordinates{
		Host: target.Host,
		Port: target.Port,
		Name: "tenant_" + base,
		// MySQL caps user names at 32 chars; eight id chars disambiguate
		// slugs that truncate to the same prefix.
		User: "t_" + base[:min(20, len(base))] + "_" + tenantID.String()[:8],
	}

	const q = `
        INSERT INTO db_reservation (tenant_id, host, port, db_name, db_user, reserved_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	_, err = e.ExecContext(ctx, q,
		tenantID, coords.Host, coords.Port, coords.Name, coords.User,
		time.Now().UTC(),
	)
	if err != nil {
		if database.IsDuplicate(err) {
			return Coordinates{}, &tenant.ConflictError{
				Field: "databaseName",
				Value: fmt.Sprintf("%s:%d/%s", coords.Host, coords.Port, coords.Name),
			}
		}
		return Coordinates{}, fmt.Errorf("insert db_reservation: %w", err)
	}
	return coords, nil
}

// Validate checks that coords are not already leased to a different tenant
// that is still in the active set (reservation not released).
func (r *Router) Validate(ctx context.Context, e sqlx.ExtContext, coords Coordinates, tenantID uuid.UUID) error {
	const q = `
        SELECT tenant_id
        FROM   db_reservation
        WHERE  host = ? AND port = ? AND db_name = ?
          AND  released_at IS NULL
        LIMIT  1`
	var holder uuid.UUID
	err := sqlx.GetContext(ctx, e, &holder, q, coords.Host, coords.Port, coords.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("validate coordinates: %w", err)
	}
	if holder != tenantID {
		return &tenant.ConflictError{
			Field: "databaseName",
			Value: fmt.Sprintf("%s:%d/%s", coords.Host, coords.Port, coords.Name),
		}
	}
	return nil
}

// ByTenant fetches the reservation for one tenant, released or not.
func ByTenant(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) (*Reservation, error) {
	const q = `
        SELECT tenant_id, host, port, db_name, db_user, reserved_at, released_at
        FROM   db_reservation
        WHERE  tenant_id = ?
        LIMIT  1`
	var res Reservation
	if err := sqlx.GetContext(ctx, e, &res, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("get db_reservation: %w", err)
	}
	return &res, nil
}

// Release marks the lease released but keeps the row, so the tuple stays
// blocked for audit and restore.  Idempotent.
func Release(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `
        UPDATE db_reservation
        SET    released_at = ?
        WHERE  tenant_id = ? AND released_at IS NULL`
	if _, err := e.ExecContext(ctx, q, time.Now().UTC(), tenantID); err != nil {
		return fmt.Errorf("release db_reservation: %w", err)
	}
	return nil
}

// Reclaim removes a released reservation, making the coordinate tuple
// available again.  Refuses to reclaim a live lease.
func Reclaim(ctx context.Context, e sqlx.ExtContext, tenantID uuid.UUID) error {
	const q = `DELETE FROM db_reservation WHERE tenant_id = ? AND released_at IS NOT NULL`
	res, err := e.ExecContext(ctx, q, tenantID)
	if err != nil {
		return fmt.Errorf("reclaim db_reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// leastLoaded counts live reservations per target and returns the target
// with the fewest.  Targets with no reservations yet win immediately.
func (r *Router) leastLoaded(ctx context.Context, e sqlx.ExtContext) (Target, error) {
	const q = `
        SELECT host, port, COUNT(*) AS n
        FROM   db_reservation
        WHERE  released_at IS NULL
        GROUP  BY host, port`
	var rows []struct {
		Host string `db:"host"`
		Port int    `db:"port"`
		N    int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, e, &rows, q); err != nil {
		return Target{}, fmt.Errorf("count reservations: %w", err)
	}

	load := make(map[Target]int, len(rows))
	for _, row := range rows {
		load[Target{Host: row.Host, Port: row.Port}] = row.N
	}

	best := r.targets[0]
	bestN := load[best]
	for _, t := range r.targets[1:] {
		if n := load[t]; n < bestN {
			best, bestN = t, n
		}
	}
	return best, nil
}

// DSN renders the MySQL connection string for a reservation with the
// resolved password.  Callers obtain the password from the secret store;
// the result must never be logged.
func DSN(coords Coordinates, password string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		coords.User, password, coords.Host, coords.Port, coords.Name)
}

// sanitize keeps the host-name-safe subset and swaps dashes for
// underscores, since MySQL identifiers treat dashes poorly unquoted.
func sanitize(slug string) string {
	s := strings.ToLower(slug)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "tenant"
	}
	return b.String()
}
