package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheTTL = 30 * time.Second

// CacheInvalidator drops cached instance lists for an owner.
type CacheInvalidator interface {
	Invalidate(ownerID string)
}

type InstanceCacheConfig struct {
	TTL     time.Duration
	Clock   clock.Clock
	Metrics observability.Recorder
	Logger  *slog.Logger
}

// InstanceCache is a read-through cache of instances per owner. Concurrent
// misses for the same owner share a single repository read.
type InstanceCache struct {
	repo    domain.InstanceRepository
	ttl     time.Duration
	clock   clock.Clock
	metrics observability.Recorder
	logger  *slog.Logger
	group   singleflight.Group

	mu          sync.Mutex
	entries     map[string]cacheEntry
	generations map[string]uint64
	epoch       uint64
}

type cacheEntry struct {
	instances []domain.Instance
	loadedAt  time.Time
}

func NewInstanceCache(repo domain.InstanceRepository, cfg InstanceCacheConfig) *InstanceCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &InstanceCache{
		repo:        repo,
		ttl:         cfg.TTL,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		entries:     make(map[string]cacheEntry),
		generations: make(map[string]uint64),
	}
}

func (c *InstanceCache) Get(ctx context.Context, ownerID string) ([]domain.Instance, error) {
	if instances, ok := c.fresh(ownerID); ok {
		c.metrics.CacheLookup(observability.CacheHit)
		return instances, nil
	}

	// The shared read outlives any single caller; each caller only stops waiting.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(ownerID, func() (any, error) {
		return c.load(loadCtx, ownerID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.CacheLookup(observability.CacheShared)
		} else {
			c.metrics.CacheLookup(observability.CacheMiss)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneInstances(res.Val.([]domain.Instance)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *InstanceCache) Invalidate(ownerID string) {
	c.mu.Lock()
	delete(c.entries, ownerID)
	c.generations[ownerID]++
	c.mu.Unlock()

	c.group.Forget(ownerID)
	c.logger.Debug("instance cache invalidated", "owner_id", ownerID)
}

func (c *InstanceCache) InvalidateAll() {
	c.mu.Lock()
	owners := make([]string, 0, len(c.entries))
	for ownerID := range c.entries {
		owners = append(owners, ownerID)
	}
	c.entries = make(map[string]cacheEntry)
	c.epoch++
	c.mu.Unlock()

	for _, ownerID := range owners {
		c.group.Forget(ownerID)
	}
}

func (c *InstanceCache) fresh(ownerID string) ([]domain.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ownerID]
	if !ok || c.clock.Now().Sub(entry.loadedAt) >= c.ttl {
		return nil, false
	}
	return cloneInstances(entry.instances), true
}

// load reads from the repository and stores the result unless the owner was
// invalidated while the read was in flight.
func (c *InstanceCache) load(ctx context.Context, ownerID string) ([]domain.Instance, error) {
	c.mu.Lock()
	generation, epoch := c.generations[ownerID], c.epoch
	c.mu.Unlock()

	instances, err := c.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances for owner %s: %w", ownerID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[ownerID] == generation && c.epoch == epoch {
		c.entries[ownerID] = cacheEntry{instances: instances, loadedAt: c.clock.Now()}
	} else {
		c.logger.Debug("discarding stale instance read", "owner_id", ownerID)
	}
	return instances, nil
}

func cloneInstances(src []domain.Instance) []domain.Instance {
	if src == nil {
		return nil
	}
	dst := make([]domain.Instance, len(src))
	for i, inst := range src {
		if inst.PairingExpiresAt != nil {
			expires := *inst.PairingExpiresAt
			inst.PairingExpiresAt = &expires
		}
		dst[i] = inst
	}
	return dst
}
