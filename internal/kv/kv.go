// Package kv defines the shared key-value store backing sessions and OTP
// records. The store must support conditional writes (compare-and-set on a
// per-key version) and TTL expiry; the session state machine relies on the
// conditional write as its sole serialization point.
package kv

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = eris.New("kv: key not found")

	// ErrVersionMismatch is returned by PutIfMatch when the stored version
	// does not equal the expected one. Callers must re-read, never retry
	// blindly.
	ErrVersionMismatch = eris.New("kv: version mismatch")
)

// Entry is a stored value with its version token.
type Entry struct {
	Data    []byte
	Version int64
}

// Store is the conditional-write key-value contract. Versions start at 1 on
// first write and increase by one per successful write. An expected version
// of 0 in PutIfMatch means the key must not exist.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) (int64, error)
	PutIfMatch(ctx context.Context, key string, data []byte, expect int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
