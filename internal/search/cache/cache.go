// Package cache serves the results of a slow producer function, computing
// each key at most once per expiry cycle.
//
// Reads of a fresh entry take only that entry's read lock. A stale or absent
// key goes through a singleflight group keyed by the cache key, so concurrent
// callers for the same key share one producer call while other keys proceed
// independently. A sweeper removes expired entries on its own schedule; it may
// race with an in-flight refresh, in which case the refresh stores the entry
// again and the next cycle costs one extra computation.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/ridematch/internal/dispatch/domain"
)

// Producer computes the value for a key. It must be safe for concurrent use
// with different keys; calling it twice for the same key must be harmless.
type Producer func(ctx context.Context, key string) ([]string, error)

// Emitter receives refresh and eviction events.
type Emitter interface {
	Emit(ctx context.Context, evt domain.Event)
}

// Config holds construction-time tunables.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type entry struct {
	mu        sync.RWMutex
	value     []string
	expiresAt time.Time
}

// valueIfFresh returns a copy of the value when now is before the expiry.
func (e *entry) valueIfFresh(now time.Time) ([]string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !now.Before(e.expiresAt) {
		return nil, false
	}
	return slices.Clone(e.value), true
}

func (e *entry) expired(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !now.Before(e.expiresAt)
}

func (e *entry) update(value []string, expiresAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
	e.expiresAt = expiresAt
}

func (e *entry) snapshot() ([]string, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.value), e.expiresAt
}

// Cache is a TTL-bounded compute cache.
type Cache struct {
	cfg      Config
	producer Producer
	clock    domain.Clock
	emitter  Emitter
	logger   *zap.Logger
	tracer   trace.Tracer

	items   sync.Map // string -> *entry
	size    atomic.Int64
	flights singleflight.Group
}

// New builds a cache around producer. clock, emitter and logger may be nil.
func New(cfg Config, producer Producer, clock domain.Clock, emitter Emitter, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 3 * time.Second
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:      cfg,
		producer: producer,
		clock:    clock,
		emitter:  emitter,
		logger:   logger,
		tracer:   otel.Tracer("search.cache"),
	}
}

func (c *Cache) load(key string) (*entry, bool) {
	v, ok := c.items.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Get returns the value for key, computing it when absent or expired.
// Producer failures are returned to the callers of that computation and leave
// the cache untouched.
func (c *Cache) Get(ctx context.Context, key string) ([]string, error) {
	if e, ok := c.load(key); ok {
		if value, fresh := e.valueIfFresh(c.clock.Now()); fresh {
			requestsTotal.WithLabelValues("hit").Inc()
			return value, nil
		}
		requestsTotal.WithLabelValues("expired").Inc()
	} else {
		requestsTotal.WithLabelValues("miss").Inc()
	}

	// The flight outlives any single caller so one cancellation does not fail
	// everybody waiting on the same key.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.refresh(flightCtx, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs inside the per-key flight. It re-checks freshness first since
// another flight may have completed between the caller's fast path and now.
func (c *Cache) refresh(ctx context.Context, key string) ([]string, error) {
	existing, found := c.load(key)
	if found {
		if value, fresh := existing.valueIfFresh(c.clock.Now()); fresh {
			return value, nil
		}
	}

	ctx, span := c.tracer.Start(ctx, "cache.compute", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	start := time.Now()
	value, err := c.producer(ctx, key)
	computeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		computesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		c.logger.Warn("compute failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("compute %q: %w", key, err)
	}
	computesTotal.WithLabelValues("ok").Inc()

	value = slices.Clone(value)
	expiresAt := c.clock.Now().Add(c.cfg.TTL)
	if found {
		existing.update(value, expiresAt)
	} else {
		existing = &entry{value: value, expiresAt: expiresAt}
	}
	// Swap even when the entry existed: the sweeper may have dropped it while
	// the producer was running.
	if _, loaded := c.items.Swap(key, existing); !loaded {
		entriesGauge.Set(float64(c.size.Inc()))
	}

	c.logger.Debug("cache refreshed", zap.String("key", key), zap.Time("expires_at", expiresAt))
	c.emit(ctx, domain.Event{Type: domain.EventCacheRefreshed, CacheKey: key, ExpiresAt: &expiresAt, At: c.clock.Now()})
	return slices.Clone(value), nil
}

// Peek returns the stored value and expiry without computing anything.
func (c *Cache) Peek(key string) ([]string, time.Time, bool) {
	e, ok := c.load(key)
	if !ok {
		return nil, time.Time{}, false
	}
	value, expiresAt := e.snapshot()
	return value, expiresAt, true
}

// Invalidate drops key from the store.
func (c *Cache) Invalidate(key string) bool {
	_, ok := c.items.LoadAndDelete(key)
	if ok {
		entriesGauge.Set(float64(c.size.Dec()))
	}
	return ok
}

// Len counts stored entries, expired ones included.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

func (c *Cache) emit(ctx context.Context, evt domain.Event) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(ctx, evt)
}
