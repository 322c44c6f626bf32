package controlplane

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/agent"
	"github.com/seu-repo/sigec-swarm/internal/manager"
)

const (
	snapshotCacheKey = "swarm:fleet:snapshots"
	totalsCacheKey   = "swarm:fleet:totals"
)

// SnapshotCache fronts GetSnapshot/GetTotals with a short-TTL Redis cache
// so a multi-process control plane does not walk a large fleet on every
// poll. The registry stays the source of truth; every cache failure
// degrades to a direct read.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewSnapshotCache connects to Redis, returning nil (no cache, callers
// fall through to the manager) when the server is unreachable.
func NewSnapshotCache(url string, ttl time.Duration, log *zap.Logger) *SnapshotCache {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("Redis URL invalid, running without snapshot cache", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis not available, running without snapshot cache", zap.Error(err))
		return nil
	}
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	log.Info("Snapshot cache connected", zap.String("url", url))
	return &SnapshotCache{client: client, ttl: ttl, log: log}
}

func (c *SnapshotCache) Snapshots(ctx context.Context) ([]agent.Snapshot, bool) {
	data, err := c.client.Get(ctx, snapshotCacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var snaps []agent.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, false
	}
	return snaps, true
}

func (c *SnapshotCache) StoreSnapshots(ctx context.Context, snaps []agent.Snapshot) {
	data, err := json.Marshal(snaps)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, snapshotCacheKey, data, c.ttl).Err(); err != nil {
		c.log.Debug("snapshot cache write failed", zap.Error(err))
	}
}

func (c *SnapshotCache) Totals(ctx context.Context) (manager.Totals, bool) {
	data, err := c.client.Get(ctx, totalsCacheKey).Bytes()
	if err != nil {
		return manager.Totals{}, false
	}
	var totals manager.Totals
	if err := json.Unmarshal(data, &totals); err != nil {
		return manager.Totals{}, false
	}
	return totals, true
}

func (c *SnapshotCache) StoreTotals(ctx context.Context, totals manager.Totals) {
	data, err := json.Marshal(totals)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, totalsCacheKey, data, c.ttl).Err(); err != nil {
		c.log.Debug("totals cache write failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
