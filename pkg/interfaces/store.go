package interfaces

import (
	"context"
	"time"
)

// Store is the shared-state substrate between server instances: an
// in-memory key/value store with set, list and hash primitives plus TTL
// expiry. Every operation is individually atomic at the store level;
// nothing here is transactional across operations. Callers resolve the
// resulting read-modify-write windows with optimistic versioning, never
// with cross-process locks.
type Store interface {
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes a value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Expire refreshes a key's TTL. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Set primitives back room and registration membership. An empty set
	// is indistinguishable from an absent key.
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetContains(ctx context.Context, key, member string) (bool, error)

	// List primitives back bounded append logs. ListPush prepends and
	// trims to maxLen in one round trip.
	ListPush(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error
	// ListRange returns elements newest-first over [start, stop],
	// inclusive, with -1 meaning the oldest retained element.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ListSetIfEqual performs the in-place edits of append-log entries:
	// it overwrites the element at index (newest-first) only if it still
	// equals expected, atomically at the store. It returns false without
	// writing when the element changed or the index no longer holds it;
	// a ListPush landing between a scan and the write shifts every index,
	// and this guard keeps the write from landing on the wrong entry.
	ListSetIfEqual(ctx context.Context, key string, index int64, expected, value string) (bool, error)

	// Hash primitives back keyed collections rewritten field-at-a-time.
	HashSet(ctx context.Context, key, field, value string) error
	HashGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashDelete(ctx context.Context, key string, fields ...string) error
}

// BusMessage is one cross-process broadcast as received from the bus.
type BusMessage struct {
	Channel string
	Payload []byte
}

// Subscription is a live bus subscription. Messages arrives FIFO per
// subscriber per publisher; no ordering holds across publishers.
type Subscription interface {
	Messages() <-chan BusMessage
	Close() error
}

// Bus is the only cross-process coordination primitive: a broadcast issued
// on one process is fanned out to every subscribed process, each of which
// delivers to its own locally-held connections. Delivery is at-most-once,
// best-effort.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}
