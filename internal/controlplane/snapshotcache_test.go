package controlplane

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/agent"
	"github.com/seu-repo/sigec-swarm/internal/manager"
)

// TestSnapshotCacheRoundTrip verifies store/fetch and TTL expiry against a
// disposable Redis. Skipped in -short runs; requires Docker.
func TestSnapshotCacheRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("could not start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	cache := NewSnapshotCache(url, 500*time.Millisecond, zap.NewNop())
	if cache == nil {
		t.Fatalf("expected a live cache")
	}
	t.Cleanup(func() { _ = cache.Close() })

	if _, ok := cache.Snapshots(ctx); ok {
		t.Fatalf("expected a cold cache miss")
	}

	snaps := []agent.Snapshot{{ID: "PY-SIM-0001", EnergyKWh: 3.5, Running: true}}
	cache.StoreSnapshots(ctx, snaps)
	got, ok := cache.Snapshots(ctx)
	if !ok || len(got) != 1 || got[0].ID != "PY-SIM-0001" {
		t.Fatalf("unexpected cached snapshots: %v %v", got, ok)
	}

	totals := manager.Totals{TotalEnergyKWh: 3.5, StationCount: 1, RunningCount: 1}
	cache.StoreTotals(ctx, totals)
	gotTotals, ok := cache.Totals(ctx)
	if !ok || gotTotals.TotalEnergyKWh != 3.5 {
		t.Fatalf("unexpected cached totals: %+v %v", gotTotals, ok)
	}

	time.Sleep(700 * time.Millisecond)
	if _, ok := cache.Snapshots(ctx); ok {
		t.Fatalf("expected the snapshot entry to expire")
	}
}

func TestNewSnapshotCacheDegradesWhenUnreachable(t *testing.T) {
	if cache := NewSnapshotCache("redis://127.0.0.1:1", time.Second, zap.NewNop()); cache != nil {
		t.Fatalf("expected nil cache for unreachable redis")
	}
}
