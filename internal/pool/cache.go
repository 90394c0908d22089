// internal/pool/cache.go
//
// Lazy per-tenant connection-pool cache.
//
// Context
// -------
// Provisioning collaborators occasionally need a live handle to a tenant's
// dedicated database.  Opening a pool per request would be wasteful, and
// keeping every tenant open would not scale, so pools are loaded on first
// use, deduplicated through singleflight, and evicted on idle TTL or LRU
// pressure by the background loop in evictor.go.
//
// Only tenants in a serving status (trial, active) are loadable; the
// password is resolved from its Vault reference at open time and never
// retained beyond the DSN handed to the driver.
//
// Notes
// -----
// • Entries must be treated as read handles; the cache owns Close.
// • Oxford commas, two spaces after periods.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/veloracloud/tenantctl/internal/database"
	"github.com/veloracloud/tenantctl/internal/dbrouter"
	"github.com/veloracloud/tenantctl/internal/metrics"
	"github.com/veloracloud/tenantctl/internal/tenant"
)

// Static defaults.  Override via the pool section of the config.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 100
	EvictInterval = 5 * time.Minute

	passwordTTL = 5 * time.Minute
)

// SecretResolver is the slice of the Vault client the cache needs.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

type entry struct {
	db       *sqlx.DB
	lastSeen int64 // UnixNano
}

// Cache lazily opens per-tenant pools, stores them in a sync.Map, and
// evicts them on idle TTL or LRU pressure.
type Cache struct {
	controlDB   *sqlx.DB
	secrets     SecretResolver
	sfg         singleflight.Group
	m           sync.Map
	evictTicker *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
	idleTTL     time.Duration
	maxEntries  int
	log         *zap.SugaredLogger
}

// New constructs a Cache and starts the background evictor.
func New(controlDB *sqlx.DB, secrets SecretResolver, idleTTL time.Duration, maxEntries int, log *zap.SugaredLogger) *Cache {
	c := &Cache{
		controlDB:  controlDB,
		secrets:    secrets,
		idleTTL:    idleTTL,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
		log:        log,
	}
	c.evictTicker = time.NewTicker(EvictInterval)
	go c.evictLoop()
	return c
}

// Get returns the data-plane pool for tenantID, opening it on demand.
func (c *Cache) Get(ctx context.Context, tenantID uuid.UUID) (*sqlx.DB, error) {
	key := tenantID.String()

	if v, ok := c.m.Load(key); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.db, nil
	}

	v, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := c.m.Load(key); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.db, nil
		}
		db, err := c.open(ctx, tenantID)
		if err != nil {
			metrics.PoolLoadErrorsTotal.Inc()
			return nil, err
		}
		c.m.Store(key, &entry{db: db, lastSeen: time.Now().UnixNano()})
		metrics.PoolLoadTotal.Inc()
		metrics.ActivePools.Inc()
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sqlx.DB), nil
}

// open turns tenantID → *sqlx.DB.  Steps:
//
//  1. Fetch the tenant row from the control plane.
//  2. Reject non-serving statuses.
//  3. Resolve the password reference.
//  4. Open a small pool against the tenant's coordinates.
func (c *Cache) open(ctx context.Context, tenantID uuid.UUID) (*sqlx.DB, error) {
	rec, err := tenant.ByID(ctx, c.controlDB, tenantID)
	if err != nil {
		return nil, err
	}
	if rec.Status != tenant.StatusTrial && rec.Status != tenant.StatusActive {
		return nil, tenant.ErrNotFound
	}

	password, err := c.secrets.Resolve(ctx, rec.DatabasePasswordRef, passwordTTL)
	if err != nil {
		return nil, err
	}

	dsn := dbrouter.DSN(dbrouter.Coordinates{
		Host: rec.DatabaseHost,
		Port: rec.DatabasePort,
		Name: rec.DatabaseName,
		User: rec.DatabaseUser,
	}, password)

	opts := database.Options{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		Retries:         2,
		RetryBackoff:    500 * time.Millisecond,
	}
	return database.OpenWithOptions(ctx, dsn, opts)
}

// Invalidate closes and drops the pool for tenantID, if loaded.  Called
// after a tenant is deleted or leaves the serving set.
func (c *Cache) Invalidate(tenantID uuid.UUID) {
	key := tenantID.String()
	if v, ok := c.m.LoadAndDelete(key); ok {
		ent := v.(*entry)
		_ = ent.db.Close()
		metrics.PoolEvictTotal.Inc()
		metrics.ActivePools.Dec()
		c.log.Infow("tenant pool invalidated", "tenant", key)
	}
}

// Close stops the evictor goroutine and closes every pool.  Safe to call
// more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.evictTicker.Stop()
		close(c.done)
	})
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		_ = ent.db.Close()
		c.m.Delete(key)
		metrics.ActivePools.Dec()
		return true
	})
}
