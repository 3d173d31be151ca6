// Package state keeps small JSON values (session cache, ingestion cursor,
// vectorize checkpoint) that must survive restarts.
package state

import "context"

// Well-known keys.
const (
	KeySession    = "session"
	KeyCursor     = "ingest.cursor"
	KeyCheckpoint = "vectorize.checkpoint"
)

// LockVectorize guards the vectorize checkpoint.
const LockVectorize = "vectorize"

// Store is a key-value store of JSON values. Get reports false when the key
// does not exist; a missing key is never an error.
type Store interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	// Lock takes the named lock without waiting. It returns domain.ErrLocked
	// when another holder has it; every process using the same backend sees
	// the same lock. The returned func releases it.
	Lock(ctx context.Context, name string) (unlock func() error, err error)
}
