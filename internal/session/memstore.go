package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/axleworks/worksync/model"
)

// MemorySessionStore is an in-memory SessionStore for testing and
// single-instance development deployments. The mutex serializes every
// read-modify-write, which gives the same per-item atomicity the Postgres
// store gets from guarded UPDATE statements.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.WorkSession // key: session ID, items inline
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]model.WorkSession),
	}
}

// CreateSession persists a session with its items.
func (s *MemorySessionStore) CreateSession(_ context.Context, sess model.WorkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("work session %q already exists", sess.ID),
		)
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// GetSession retrieves a session with its items.
func (s *MemorySessionStore) GetSession(_ context.Context, sessionID string) (model.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return model.WorkSession{}, model.NewNotFoundError(
			fmt.Sprintf("work session %q not found", sessionID),
		)
	}
	return copySession(sess), nil
}

// GetItem retrieves the unique item for a (session, document) pair.
func (s *MemorySessionStore) GetItem(_ context.Context, sessionID, documentID string) (model.WorkSessionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findItem(sessionID, documentID)
}

// ApplyItemProgress performs the last-write-wins merge under the store lock.
func (s *MemorySessionStore) ApplyItemProgress(_ context.Context, sessionID, documentID string, progress model.Progress, at time.Time) (model.WorkSessionItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return model.WorkSessionItem{}, false, model.NewNotFoundError(
			fmt.Sprintf("no item for session %q document %q", sessionID, documentID),
		)
	}
	for i := range sess.Items {
		item := &sess.Items[i]
		if item.DocumentID != documentID {
			continue
		}
		if item.UpdatedAt.After(at) {
			// Stored record is newer; the stale write is skipped.
			return copyItem(*item), false, nil
		}
		item.Progress = progress.Clone()
		if item.Status != model.ItemStatusCompleted {
			item.Status = model.ItemStatusInProgress
		}
		item.UpdatedAt = at
		s.sessions[sessionID] = sess
		return copyItem(*item), true, nil
	}
	return model.WorkSessionItem{}, false, model.NewNotFoundError(
		fmt.Sprintf("no item for session %q document %q", sessionID, documentID),
	)
}

// CompleteSession transitions ACTIVE → COMPLETED and completes the items.
func (s *MemorySessionStore) CompleteSession(_ context.Context, sessionID string, at time.Time) (model.WorkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return model.WorkSession{}, model.NewNotFoundError(
			fmt.Sprintf("work session %q not found", sessionID),
		)
	}
	if sess.Status != model.SessionStatusActive {
		return model.WorkSession{}, model.NewConflictError(
			fmt.Sprintf("work session %q is already %s", sessionID, sess.Status),
		)
	}

	completedAt := at
	sess.Status = model.SessionStatusCompleted
	sess.CompletedAt = &completedAt
	for i := range sess.Items {
		if sess.Items[i].Status != model.ItemStatusCompleted {
			sess.Items[i].Status = model.ItemStatusCompleted
			sess.Items[i].UpdatedAt = at
		}
	}
	s.sessions[sessionID] = sess
	return copySession(sess), nil
}

// Len returns the total number of sessions. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) findItem(sessionID, documentID string) (model.WorkSessionItem, error) {
	sess, exists := s.sessions[sessionID]
	if exists {
		for _, item := range sess.Items {
			if item.DocumentID == documentID {
				return copyItem(item), nil
			}
		}
	}
	return model.WorkSessionItem{}, model.NewNotFoundError(
		fmt.Sprintf("no item for session %q document %q", sessionID, documentID),
	)
}

func copySession(sess model.WorkSession) model.WorkSession {
	out := sess
	if sess.CompletedAt != nil {
		t := *sess.CompletedAt
		out.CompletedAt = &t
	}
	out.Items = make([]model.WorkSessionItem, len(sess.Items))
	for i, item := range sess.Items {
		out.Items[i] = copyItem(item)
	}
	return out
}

func copyItem(item model.WorkSessionItem) model.WorkSessionItem {
	out := item
	out.Progress = item.Progress.Clone()
	return out
}
