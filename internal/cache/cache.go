// Package cache implements the two-tier read cache used by every data path:
// a process-local tier and a durable tier backed by a key/value store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/order-tracking/internal/metrics"
	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/schedule"
)

const (
	DefaultSweepInterval  = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
)

type Tier int

const (
	TierMemory Tier = iota
	TierDurable
)

func (t Tier) String() string {
	if t == TierDurable {
		return "durable"
	}
	return "memory"
}

func (t Tier) prefix() string {
	if t == TierDurable {
		return "dur:"
	}
	return "mem:"
}

type Options struct {
	Tier Tier
	// Duration is the time to live; zero or less keeps the entry until invalidated.
	Duration time.Duration
	// UpdateOnAccess refreshes the entry timestamp (not its expiry) on Get.
	UpdateOnAccess bool
	// FreshFor is the age after which GetCachedData treats an entry as stale.
	FreshFor time.Duration
	// Revalidate serves stale entries immediately and refreshes them in the background.
	Revalidate bool
}

type FetchFunc func(ctx context.Context) (any, error)

// Layer is the cache as seen by services.
type Layer interface {
	Set(ctx context.Context, key string, data any, opts Options) error
	Get(ctx context.Context, key string, dst any, opts Options) (bool, error)
	GetCachedData(ctx context.Context, key string, dst any, fetch FetchFunc, opts Options) error
	Invalidate(ctx context.Context, key string, tier Tier) error
	ClearExpired(ctx context.Context) int
}

// Key builds a cache key from a name and optional scope values.
func Key(name string, scope ...string) string {
	if len(scope) == 0 {
		return name
	}
	return name + ":" + strings.Join(scope, ":")
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Expiry    *time.Time      `json:"expiry,omitempty"`
}

func (e entry) expired(now time.Time) bool {
	return e.Expiry != nil && !now.Before(*e.Expiry)
}

type Config struct {
	// Durable is optional; without it durable reads and writes use the memory tier.
	Durable        port.KVStore
	Clock          func() time.Time
	Logger         zerolog.Logger
	SweepInterval  time.Duration
	RefreshTimeout time.Duration
}

type Cache struct {
	mu     sync.RWMutex
	memory map[string]entry

	durable        port.KVStore
	now            func() time.Time
	logger         zerolog.Logger
	sweepInterval  time.Duration
	refreshTimeout time.Duration

	group      singleflight.Group
	refreshing sync.Map
}

func New(cfg Config) *Cache {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	return &Cache{
		memory:         make(map[string]entry),
		durable:        cfg.Durable,
		now:            cfg.Clock,
		logger:         cfg.Logger.With().Str("component", "cache").Logger(),
		sweepInterval:  cfg.SweepInterval,
		refreshTimeout: cfg.RefreshTimeout,
	}
}

func (c *Cache) tier(t Tier) Tier {
	if t == TierDurable && c.durable == nil {
		return TierMemory
	}
	return t
}

func (c *Cache) Set(ctx context.Context, key string, data any, opts Options) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	c.put(ctx, c.tier(opts.Tier), key, c.newEntry(raw, opts.Duration))
	return nil
}

// Get decodes the entry into dst. Expired or undecodable entries are removed
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string, dst any, opts Options) (bool, error) {
	tier := c.tier(opts.Tier)

	e, ok, err := c.load(ctx, tier, key)
	if err != nil || !ok {
		metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "miss").Inc()
		return false, err
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		c.evict(ctx, tier, key)
		metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "miss").Inc()
		return false, nil
	}
	if opts.UpdateOnAccess {
		e.Timestamp = c.now()
		c.put(ctx, tier, key, e)
	}

	metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "hit").Inc()
	return true, nil
}

// GetCachedData fills dst from the cache or, on a miss, from fetch. Concurrent
// misses on one key share a single fetch. Stale entries are either served
// while a background refresh runs (Revalidate) or refetched with the stale
// value as a fallback when the fetch fails.
func (c *Cache) GetCachedData(ctx context.Context, key string, dst any, fetch FetchFunc, opts Options) error {
	tier := c.tier(opts.Tier)

	e, ok, err := c.load(ctx, tier, key)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache read failed, fetching")
	}

	if ok {
		stale := opts.FreshFor > 0 && c.now().Sub(e.Timestamp) >= opts.FreshFor
		switch {
		case !stale:
			if json.Unmarshal(e.Data, dst) == nil {
				metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "hit").Inc()
				return nil
			}
			c.evict(ctx, tier, key)
		case opts.Revalidate:
			if json.Unmarshal(e.Data, dst) == nil {
				metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "stale").Inc()
				c.revalidate(ctx, tier, key, fetch, opts)
				return nil
			}
			c.evict(ctx, tier, key)
		default:
			raw, err := c.fetch(ctx, tier, key, fetch, opts)
			if err == nil {
				return json.Unmarshal(raw, dst)
			}
			if json.Unmarshal(e.Data, dst) == nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("refresh failed, serving stale data")
				metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "stale").Inc()
				return nil
			}
			return err
		}
	}

	metrics.CacheRequestsTotal.WithLabelValues(tier.String(), "miss").Inc()
	raw, err := c.fetch(ctx, tier, key, fetch, opts)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (c *Cache) Invalidate(ctx context.Context, key string, tier Tier) error {
	tier = c.tier(tier)
	if tier == TierMemory {
		c.mu.Lock()
		delete(c.memory, tier.prefix()+key)
		c.mu.Unlock()
		return nil
	}
	if err := c.durable.Delete(ctx, tier.prefix()+key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// ClearExpired removes expired entries from both tiers, plus durable entries
// that no longer decode, and returns how many were removed.
func (c *Cache) ClearExpired(ctx context.Context) int {
	now := c.now()

	removed := 0
	c.mu.Lock()
	for k, e := range c.memory {
		if e.expired(now) {
			delete(c.memory, k)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues(TierMemory.String()).Add(float64(removed))
	}

	if c.durable == nil {
		return removed
	}

	keys, err := c.durable.Keys(ctx, TierDurable.prefix())
	if err != nil {
		c.logger.Warn().Err(err).Msg("list durable keys")
		return removed
	}

	var stale []string
	for _, k := range keys {
		raw, ok, err := c.durable.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var e entry
		if json.Unmarshal([]byte(raw), &e) != nil || e.expired(now) {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return removed
	}
	if err := c.durable.Delete(ctx, stale...); err != nil {
		c.logger.Warn().Err(err).Int("keys", len(stale)).Msg("delete expired durable entries")
		return removed
	}
	metrics.CacheEvictionsTotal.WithLabelValues(TierDurable.String()).Add(float64(len(stale)))
	return removed + len(stale)
}

// StartJanitor sweeps expired entries every SweepInterval until the returned
// task is stopped.
func (c *Cache) StartJanitor(ctx context.Context) *schedule.Task {
	return schedule.Every(ctx, c.sweepInterval, func(ctx context.Context) {
		if n := c.ClearExpired(ctx); n > 0 {
			c.logger.Debug().Int("removed", n).Msg("expired entries cleared")
		}
	})
}

func (c *Cache) newEntry(raw []byte, ttl time.Duration) entry {
	now := c.now()
	e := entry{Data: raw, Timestamp: now}
	if ttl > 0 {
		expiry := now.Add(ttl)
		e.Expiry = &expiry
	}
	return e
}

// fetch runs one load per key for all concurrent callers. The load is shared,
// so it runs on a detached context bounded by the refresh timeout and each
// caller only stops waiting when its own ctx is done.
func (c *Cache) fetch(ctx context.Context, tier Tier, key string, fetch FetchFunc, opts Options) ([]byte, error) {
	ch := c.group.DoChan(tier.prefix()+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		data, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		c.put(fctx, tier, key, c.newEntry(raw, opts.Duration))
		return raw, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cache) revalidate(ctx context.Context, tier Tier, key string, fetch FetchFunc, opts Options) {
	fullKey := tier.prefix() + key
	if _, busy := c.refreshing.LoadOrStore(fullKey, struct{}{}); busy {
		return
	}

	go func() {
		defer c.refreshing.Delete(fullKey)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		if _, err := c.fetch(ctx, tier, key, fetch, opts); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("background refresh failed")
		}
	}()
}

func (c *Cache) load(ctx context.Context, tier Tier, key string) (entry, bool, error) {
	fullKey := tier.prefix() + key
	now := c.now()

	if tier == TierMemory {
		c.mu.RLock()
		e, ok := c.memory[fullKey]
		c.mu.RUnlock()
		if !ok {
			return entry{}, false, nil
		}
		if e.expired(now) {
			c.mu.Lock()
			if cur, ok := c.memory[fullKey]; ok && cur.expired(now) {
				delete(c.memory, fullKey)
				metrics.CacheEvictionsTotal.WithLabelValues(tier.String()).Inc()
			}
			c.mu.Unlock()
			return entry{}, false, nil
		}
		return e, true, nil
	}

	raw, ok, err := c.durable.Get(ctx, fullKey)
	if err != nil {
		return entry{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return entry{}, false, nil
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("corrupt durable entry removed")
		c.evict(ctx, tier, key)
		return entry{}, false, nil
	}
	if e.expired(now) {
		c.evict(ctx, tier, key)
		return entry{}, false, nil
	}
	return e, true, nil
}

// put never fails: a durable write error triggers a sweep and one retry, and
// after that the write is dropped.
func (c *Cache) put(ctx context.Context, tier Tier, key string, e entry) {
	fullKey := tier.prefix() + key

	if tier == TierMemory {
		c.mu.Lock()
		c.memory[fullKey] = e
		c.mu.Unlock()
		return
	}

	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("encode cache entry")
		return
	}
	err = c.durable.Set(ctx, fullKey, string(raw))
	if err == nil {
		return
	}
	c.logger.Warn().Err(err).Str("key", key).Msg("durable write failed, sweeping expired entries")

	c.ClearExpired(ctx)
	if err := c.durable.Set(ctx, fullKey, string(raw)); err != nil {
		metrics.CacheWriteFailuresTotal.WithLabelValues(tier.String()).Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("durable write dropped")
	}
}

func (c *Cache) evict(ctx context.Context, tier Tier, key string) {
	fullKey := tier.prefix() + key
	metrics.CacheEvictionsTotal.WithLabelValues(tier.String()).Inc()

	if tier == TierMemory {
		c.mu.Lock()
		delete(c.memory, fullKey)
		c.mu.Unlock()
		return
	}
	if err := c.durable.Delete(ctx, fullKey); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("evict durable entry")
	}
}
