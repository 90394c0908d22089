// evictor.go houses the eviction loop for Cache.  Every EvictInterval it
// scans the map and removes:
//
//   - pools idle longer than idleTTL
//   - least-recently-used pools when map size exceeds maxEntries
//
// Each eviction event is logged and updates Prometheus counters.  The loop
// exits when the cache is closed.
package pool

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/veloracloud/tenantctl/internal/metrics"
)

func (c *Cache) evictLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.evictTicker.C:
		}
		live := c.evictIdle(time.Now().UnixNano())
		c.evictLRU(live)
	}
}

// evictIdle drops pools idle longer than idleTTL and returns the number of
// entries left.
func (c *Cache) evictIdle(now int64) int {
	var count int
	c.m.Range(func(key, value any) bool {
		count++
		ent := value.(*entry)
		idle := time.Duration(now-atomic.LoadInt64(&ent.lastSeen)) * time.Nanosecond
		if idle > c.idleTTL {
			_ = ent.db.Close()
			c.m.Delete(key)
			count--
			c.log.Infow("tenant pool evicted",
				"tenant", key, "idle", idle.Truncate(time.Second).String())
			metrics.PoolEvictTotal.Inc()
			metrics.ActivePools.Dec()
		}
		return true
	})
	return count
}

// evictLRU drops the least-recently-used pools down to maxEntries.  A cap
// of zero or less disables the pass.
func (c *Cache) evictLRU(count int) {
	if c.maxEntries <= 0 || count <= c.maxEntries {
		return
	}

	type aged struct {
		key      any
		lastSeen int64
	}
	var all []aged
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		all = append(all, aged{key: key, lastSeen: atomic.LoadInt64(&ent.lastSeen)})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].lastSeen < all[j].lastSeen })

	for _, a := range all[:len(all)-c.maxEntries] {
		if v, ok := c.m.LoadAndDelete(a.key); ok {
			_ = v.(*entry).db.Close()
			c.log.Infow("tenant pool evicted (LRU)", "tenant", a.key)
			metrics.PoolEvictTotal.Inc()
			metrics.ActivePools.Dec()
		}
	}
}
