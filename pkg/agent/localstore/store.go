// Package localstore persists per-document progress snapshots on the device
// so work survives restarts and network loss. Snapshots are keyed by the
// (workSessionId, documentId) pair and removed only once the server has
// acknowledged the exact stored revision.
package localstore

import (
	"context"

	"github.com/axleworks/worksync/model"
)

// Store is the durable progress snapshot store on a device.
//
// Implementations report missing keys with a NOT_FOUND error envelope and
// backend failures with STORAGE_UNAVAILABLE, so callers can tell "nothing
// saved yet" apart from "storage is broken".
type Store interface {
	// Write inserts or replaces the snapshot for state's key.
	Write(ctx context.Context, state model.ProgressState) error

	// Read returns the snapshot for the key, or NOT_FOUND.
	Read(ctx context.Context, workSessionID, documentID string) (model.ProgressState, error)

	// Delete removes the snapshot only if its stored lastUpdated still
	// equals lastUpdated. Returns false when the row was kept because a
	// newer write landed in the meantime, or when no row exists.
	Delete(ctx context.Context, workSessionID, documentID string, lastUpdated int64) (bool, error)

	// ListAll returns every stored snapshot, oldest first.
	ListAll(ctx context.Context) ([]model.ProgressState, error)

	// Close releases the underlying storage.
	Close() error
}
