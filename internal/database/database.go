// internal/database/database.go
//
// sqlx connection helpers and MySQL error classification.
//
// Context
// -------
// The control plane talks to two kinds of databases: its own control-plane
// schema, and the per-tenant data-plane databases resolved through the
// credential router.  Both are opened here.  The default driver is
// go-sql-driver/mysql, which also works with MariaDB when configured for
// the MySQL wire protocol.
//
// Public entry points:
//
//	Open(ctx, dsn)                – conservative pool sizes, no retry.
//	OpenWithOptions(ctx, dsn, o)  – fine-grained control, bounded retry.
//	IsDuplicate(err)              – unique-index violation (1062).
//	IsTransient(err)              – deadlock or lock-wait timeout (1213, 1205).
//
// Both open helpers Ping the database before returning so callers can fail
// fast during bootstrap.  Callers should Close() the returned *sqlx.DB when
// no longer needed.
//
// Notes
// -----
// • The unique-index numbers feed the conflict mapping in internal/tenant;
//   the storage layer, not the pre-check, is the authority on uniqueness.
// • Oxford commas, two spaces after periods.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Options tunes one connection pool.  Zero values fall back to the defaults
// used by Open.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retries         int           // additional attempts after the first
	RetryBackoff    time.Duration // sleep between attempts
}

func (o *Options) fill() {
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 15
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 5
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.RetryBackoff == 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
}

// Open returns a *sqlx.DB with sane defaults: 15 max open, 5 idle, and a
// 30-minute connection lifetime.  Suitable for the control-plane pool or
// for test setups.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, Options{})
}

// OpenWithOptions lets callers tune the pool per connection target.  The
// data-plane pool cache uses small limits to keep per-tenant resource usage
// low.  Ping failures are retried Options.Retries times with a fixed
// backoff, honouring ctx cancellation between attempts.
func OpenWithOptions(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	opts.fill()

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	for attempt := 0; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if attempt >= opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(opts.RetryBackoff):
		}
	}
	_ = db.Close()
	return nil, err
}

//
// MySQL error classification
//

// MySQL server error numbers this package cares about.
const (
	erDupEntry        = 1062
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// IsDuplicate reports whether err is a unique-index violation.
func IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}

// IsTransient reports whether err is a deadlock or lock-wait timeout that a
// caller may safely retry.
func IsTransient(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == erLockDeadlock || me.Number == erLockWaitTimeout
}
