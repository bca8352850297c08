// Package session owns the WorkSession/WorkSessionItem lifecycle and the sync
// reconciliation that merges device progress snapshots into the server record.
package session

import (
	"context"
	"time"

	"github.com/axleworks/worksync/model"
)

// SessionStore persists work sessions and their items. The WorkSessionItem
// row is the only shared mutable resource in the system; implementations must
// make ApplyItemProgress and CompleteSession single atomic read-modify-writes
// so concurrent syncs for the same item cannot lose an update.
type SessionStore interface {
	// CreateSession persists a session together with all its items in one
	// transaction.
	CreateSession(ctx context.Context, s model.WorkSession) error

	// GetSession retrieves a session with its items ordered by position.
	// Returns NOT_FOUND if the session doesn't exist.
	GetSession(ctx context.Context, sessionID string) (model.WorkSession, error)

	// GetItem retrieves the unique item for a (session, document) pair.
	// Returns NOT_FOUND if no such item exists.
	GetItem(ctx context.Context, sessionID, documentID string) (model.WorkSessionItem, error)

	// ApplyItemProgress overwrites the item's progress and stamps updatedAt,
	// guarded by last-write-wins: the write is applied only when the item's
	// current updatedAt is not after `at`. A COMPLETED item keeps its status;
	// any other status becomes IN_PROGRESS. Returns the item as stored after
	// the call and whether the write was applied. Returns NOT_FOUND if no
	// such item exists.
	ApplyItemProgress(ctx context.Context, sessionID, documentID string, progress model.Progress, at time.Time) (model.WorkSessionItem, bool, error)

	// CompleteSession transitions an ACTIVE session to COMPLETED, stamps
	// completedAt, and completes the session's remaining items in the same
	// transaction. Returns NOT_FOUND if the session doesn't exist and
	// CONFLICT if it is already COMPLETED.
	CompleteSession(ctx context.Context, sessionID string, at time.Time) (model.WorkSession, error)
}
