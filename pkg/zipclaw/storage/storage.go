// Package storage defines the artifact persistence capability for ZipClaw.
// A Backend stores finished archives under a (namespace, name) key and
// lists or retrieves them on demand. Implementations (local directory,
// zip container, S3) are interchangeable; callers are written against
// the interface only.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no artifact exists under the
// requested namespace and name.
var ErrNotFound = errors.New("artifact not found")

// Backend is the two-operation artifact store capability.
type Backend interface {
	// Put stores an artifact under namespace/name, overwriting any
	// previous artifact with that key. The write is all-or-nothing:
	// a failed Put never leaves a partially visible artifact.
	Put(ctx context.Context, namespace, name string, r io.Reader) error

	// Get returns the artifact bytes, or ErrNotFound.
	Get(ctx context.Context, namespace, name string) ([]byte, error)

	// List returns the artifact names in a namespace, sorted.
	// An unknown namespace yields an empty list, not an error.
	List(ctx context.Context, namespace string) ([]string, error)
}
