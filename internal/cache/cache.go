package cache

import (
	"context"
	"time"
)

// Snapshot keys.
const (
	KeyInventory = "tallybill:snapshot:inventory"
	KeyBills     = "tallybill:snapshot:bills"
)

// SnapshotCache holds encoded read snapshots between mutations.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
