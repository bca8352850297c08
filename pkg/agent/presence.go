// Package agent implements the device-side sync runtime: durable offline
// progress, reconciliation sweeps against the server, and a presence feed
// for collaborators.
package agent

import "context"

// ConnectivityWatcher reports whether the server is reachable and signals
// transitions. Implementations must not block on Changes sends; a slow
// consumer sees the latest state via Online.
type ConnectivityWatcher interface {
	// Online reports the current connectivity state.
	Online() bool

	// Changes delivers connectivity transitions, true for online.
	Changes() <-chan bool
}

// Presence is the device's shareable sync status. It is pushed to
// subscribers whenever connectivity or the pending backlog changes, so
// collaborators can see an "offline, 3 unsynced" badge next to a user.
type Presence struct {
	IsOnline         bool `json:"isOnline"`
	PendingSyncCount int  `json:"pendingSyncCount"`
}

// PresenceFunc receives presence updates. Callbacks run on the manager's
// goroutine and must return quickly.
type PresenceFunc func(Presence)

// SubscribePresence registers a presence callback. The callback immediately
// receives the current state.
func (m *Manager) SubscribePresence(ctx context.Context, fn PresenceFunc) {
	m.presenceMu.Lock()
	m.presenceSubs = append(m.presenceSubs, fn)
	m.presenceMu.Unlock()

	fn(m.snapshotPresence(ctx))
}

// snapshotPresence builds the current presence payload.
func (m *Manager) snapshotPresence(ctx context.Context) Presence {
	count, err := m.PendingSyncCount(ctx)
	if err != nil {
		count = 0
	}
	return Presence{
		IsOnline:         m.watcher.Online(),
		PendingSyncCount: count,
	}
}

// publishPresence pushes the current state to all subscribers.
func (m *Manager) publishPresence(ctx context.Context) {
	p := m.snapshotPresence(ctx)

	m.presenceMu.RLock()
	subs := make([]PresenceFunc, len(m.presenceSubs))
	copy(subs, m.presenceSubs)
	m.presenceMu.RUnlock()

	for _, fn := range subs {
		fn(p)
	}
}
