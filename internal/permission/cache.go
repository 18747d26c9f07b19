package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"guild-server/internal/callback"
	"guild-server/internal/models"
)

type cacheKey struct {
	userID, serverID int64
}

type cacheEntry struct {
	perms   *models.RolePermissions
	expires time.Time
}

// Cache keeps recently resolved role unions for a short time. Entries are
// dropped when RolesUpdated fires for their server or UserRoleChanged fires
// for their user, so a committed role change is visible as soon as its
// notification returns. Concurrent misses for the same key share one load.
type Cache struct {
	ttl   time.Duration
	reg   *callback.Registry
	now   func() time.Time
	load  func(ctx context.Context, userID, serverID int64) (*models.RolePermissions, error)
	group singleflight.Group

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	epoch   uint64
	subs    map[cacheWatch]*callback.Subscription
	loading map[cacheWatch]int
	swept   time.Time
}

type cacheWatch struct {
	kind callback.Kind
	id   int64
}

func (k cacheKey) watches() [2]cacheWatch {
	return [2]cacheWatch{
		{callback.RolesUpdated, k.serverID},
		{callback.UserRoleChanged, k.userID},
	}
}

// NewCache returns a cache that invalidates through reg. It returns nil when
// ttl is not positive.
func NewCache(reg *callback.Registry, ttl time.Duration) *Cache {
	if ttl <= 0 {
		return nil
	}
	return &Cache{
		ttl:     ttl,
		reg:     reg,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
		subs:    make(map[cacheWatch]*callback.Subscription),
		loading: make(map[cacheWatch]int),
	}
}

// Get returns the cached union for (userID, serverID), loading it on a miss.
func (c *Cache) Get(ctx context.Context, userID, serverID int64) (*models.RolePermissions, error) {
	k := cacheKey{userID, serverID}

	c.mu.Lock()
	now := c.now()
	c.sweep(now)
	if e, ok := c.entries[k]; ok {
		if now.Before(e.expires) {
			c.mu.Unlock()
			return clonePerms(e.perms), nil
		}
		delete(c.entries, k)
	}
	c.mu.Unlock()

	ch := c.group.DoChan(fmt.Sprintf("%d:%d", userID, serverID), func() (any, error) {
		epoch := c.begin(k)
		defer c.finish(k)

		perms, err := c.load(context.WithoutCancel(ctx), userID, serverID)
		if err != nil {
			return nil, err
		}
		c.store(k, perms, epoch)
		return perms, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clonePerms(res.Val.(*models.RolePermissions)), nil
	}
}

// begin subscribes to k's invalidations before the load reads anything, so a
// change published while loading moves the epoch and the result is discarded.
func (c *Cache) begin(k cacheKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range k.watches() {
		c.watch(w)
		c.loading[w]++
	}
	return c.epoch
}

func (c *Cache) finish(k cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range k.watches() {
		if c.loading[w]--; c.loading[w] <= 0 {
			delete(c.loading, w)
		}
	}
}

func (c *Cache) store(k cacheKey, perms *models.RolePermissions, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// an invalidation ran while loading; the result may be stale
	if epoch != c.epoch {
		return
	}
	c.entries[k] = cacheEntry{perms: perms, expires: c.now().Add(c.ttl)}
}

// watch subscribes once per (kind, id). Caller holds c.mu.
func (c *Cache) watch(w cacheWatch) {
	if _, ok := c.subs[w]; ok {
		return
	}
	c.subs[w] = c.reg.Subscribe(w.kind, callback.DeriveID(w.kind, w.id), func(context.Context) error {
		c.invalidate(w)
		return nil
	})
}

// sweep runs at most once per ttl. It drops expired entries and the
// subscriptions that neither a live entry nor a running load still needs.
// Caller holds c.mu.
func (c *Cache) sweep(now time.Time) {
	if now.Sub(c.swept) < c.ttl {
		return
	}
	c.swept = now

	used := make(map[cacheWatch]struct{}, len(c.subs))
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		for _, w := range k.watches() {
			used[w] = struct{}{}
		}
	}
	for w, sub := range c.subs {
		if _, ok := used[w]; ok || c.loading[w] > 0 {
			continue
		}
		c.reg.Unsubscribe(sub)
		delete(c.subs, w)
	}
}

func (c *Cache) invalidate(w cacheWatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	for k := range c.entries {
		if (w.kind == callback.RolesUpdated && k.serverID == w.id) ||
			(w.kind == callback.UserRoleChanged && k.userID == w.id) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached entries. Expired ones linger until the
// next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) watchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close drops every entry and removes the cache's subscriptions.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w, sub := range c.subs {
		c.reg.Unsubscribe(sub)
		delete(c.subs, w)
	}
	c.entries = make(map[cacheKey]cacheEntry)
	c.epoch++
}

func clonePerms(p *models.RolePermissions) *models.RolePermissions {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
