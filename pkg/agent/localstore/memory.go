package localstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/axleworks/worksync/model"
)

// MemoryStore is an in-memory Store. It is the degraded fallback when local
// storage cannot be opened, and the store of choice in tests. Contents do
// not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[model.ProgressKey]model.ProgressState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[model.ProgressKey]model.ProgressState)}
}

// Write inserts or replaces the snapshot for state's key.
func (s *MemoryStore) Write(_ context.Context, state model.ProgressState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Progress = state.Progress.Clone()
	s.states[model.ProgressKey{WorkSessionID: state.WorkSessionID, DocumentID: state.DocumentID}] = state
	return nil
}

// Read returns the snapshot for the key, or NOT_FOUND.
func (s *MemoryStore) Read(_ context.Context, workSessionID, documentID string) (model.ProgressState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[model.ProgressKey{WorkSessionID: workSessionID, DocumentID: documentID}]
	if !ok {
		return model.ProgressState{}, model.NewNotFoundError(
			fmt.Sprintf("no snapshot for session %s document %s", workSessionID, documentID))
	}
	state.Progress = state.Progress.Clone()
	return state, nil
}

// Delete removes the snapshot only when its stored lastUpdated still matches.
func (s *MemoryStore) Delete(_ context.Context, workSessionID, documentID string, lastUpdated int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.ProgressKey{WorkSessionID: workSessionID, DocumentID: documentID}
	state, ok := s.states[key]
	if !ok || state.LastUpdated != lastUpdated {
		return false, nil
	}
	delete(s.states, key)
	return true, nil
}

// ListAll returns every stored snapshot, oldest first.
func (s *MemoryStore) ListAll(_ context.Context) ([]model.ProgressState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]model.ProgressState, 0, len(s.states))
	for _, state := range s.states {
		state.Progress = state.Progress.Clone()
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].LastUpdated < states[j].LastUpdated })
	return states, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored snapshots. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
