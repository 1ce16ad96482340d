package store

import "errors"

// ErrStoreUnavailable wraps any transport-level failure talking to the
// shared-state store. Handlers degrade to "no broadcast occurs" on this
// error instead of crashing.
var ErrStoreUnavailable = errors.New("shared-state store unavailable")
