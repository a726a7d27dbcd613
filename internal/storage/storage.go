package storage

import (
	"context"
	"io"
	"time"
)

// Paste is an open handle on stored paste content. The caller must Close it.
type Paste struct {
	io.ReadSeekCloser

	ID      string
	Size    int64
	ModTime time.Time
}

// Slot is a reserved identifier together with a writable handle on its
// backing storage. Exactly one of Close or Abort must be called.
type Slot interface {
	io.Writer
	ID() string
	// Close releases the slot, keeping whatever was written.
	Close() error
	// Abort discards anything written and releases the slot. The
	// identifier goes back to the reservation state.
	Abort() error
}

// Store defines the storage backend contract.
type Store interface {
	// Reserve allocates a free identifier and returns a slot for writing it.
	Reserve(ctx context.Context) (Slot, error)
	// Create stores the full content of src under a new identifier.
	Create(ctx context.Context, src io.Reader) (string, int64, error)
	// Open returns the stored content for id.
	Open(ctx context.Context, id string) (*Paste, error)
	// Reap removes abandoned reservations last touched before the given time.
	Reap(ctx context.Context, before time.Time) (int, error)
	Close() error
}
