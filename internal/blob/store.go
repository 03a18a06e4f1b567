// Package blob persists sealed byte strings under opaque server-issued references.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a reference does not resolve to a stored blob.
var ErrNotFound = errors.New("blob not found")

// Store is implemented by every blob backend. Put either publishes the whole
// blob under a fresh reference or nothing at all.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	// Ping checks that the backend is reachable and writable.
	Ping(ctx context.Context) error
}
