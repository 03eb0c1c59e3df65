// Package localstore persists the client's inventory, bill history and
// pending-action queue across restarts.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

const (
	KeyInventory = "inventory"
	KeyBills     = "bills"
	KeyQueue     = "offlineQueue"
)

// Store is a string-keyed blob store. Writes overwrite; there is no
// transaction spanning several keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// LoadJSON returns the decoded value for key. A missing entry, a read failure
// and malformed JSON all report ok=false; the last two are logged.
func LoadJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		log.Printf("[localstore] WARN: read %s failed: %v", key, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("[localstore] WARN: discarding malformed %s entry: %v", key, err)
		return zero, false
	}
	return out, true
}

func SaveJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
