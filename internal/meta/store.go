// Package meta implements the short-TTL WebSocket side-channel store (§4.E,
// §6.3): a pluggable key/value interface with get/set/delete/has/keys, a
// JSON-encoded Record type layered on top, and a reaper that sweeps expired
// records.
package meta

import (
	"context"
	"time"
)

// Store is the pluggable key/value interface described in §6.3. Any
// implementation — in-process map, Redis, a remote coordinator — may
// satisfy it so long as get/set/delete/has are linearizable per key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}
