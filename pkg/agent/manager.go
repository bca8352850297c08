package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/model"
	"github.com/axleworks/worksync/pkg/agent/localstore"
)

const defaultSweepInterval = 30 * time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store   localstore.Store
	Client  SyncClient
	Watcher ConnectivityWatcher
	Logger  *zap.Logger
	// SweepInterval is how often the background loop reconciles pending
	// snapshots while online. Defaults to 30s.
	SweepInterval time.Duration
}

// Manager owns a device's offline progress lifecycle: saves go to the local
// store first and are reconciled with the server in background sweeps.
// A snapshot leaves the local store only when the server acknowledges the
// exact revision that was stored; newer local writes always survive a
// concurrent sweep.
type Manager struct {
	store    localstore.Store
	fallback *localstore.MemoryStore
	client   SyncClient
	watcher  ConnectivityWatcher
	logger   *zap.Logger

	sweepInterval time.Duration
	now           func() time.Time
	kick          chan struct{}

	mu        sync.Mutex
	lastStamp map[model.ProgressKey]int64
	parked    map[model.ProgressKey]bool
	degraded  bool

	sweepMu      sync.Mutex
	sweepRunning bool
	sweepQueued  bool

	presenceMu   sync.RWMutex
	presenceSubs []PresenceFunc
}

// NewManager creates a Manager. Store, Client, and Watcher are required.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Manager{
		store:         cfg.Store,
		fallback:      localstore.NewMemoryStore(),
		client:        cfg.Client,
		watcher:       cfg.Watcher,
		logger:        logger,
		sweepInterval: interval,
		now:           func() time.Time { return time.Now().UTC() },
		kick:          make(chan struct{}, 1),
		lastStamp:     make(map[model.ProgressKey]int64),
		parked:        make(map[model.ProgressKey]bool),
	}
}

// SaveProgress records progress for one (session, document) pair in the local
// store and schedules a sync attempt. The snapshot gets a timestamp strictly
// greater than any previous stamp for the same pair, so rapid saves within
// one clock tick still order correctly.
func (m *Manager) SaveProgress(ctx context.Context, workSessionID, documentID string, progress model.Progress) (model.ProgressState, error) {
	if workSessionID == "" || documentID == "" {
		return model.ProgressState{}, model.NewBadRequestError("workSessionId and documentId are required")
	}
	if progress == nil {
		return model.ProgressState{}, model.NewBadRequestError("progress is required")
	}

	key := model.ProgressKey{WorkSessionID: workSessionID, DocumentID: documentID}

	m.mu.Lock()
	ts := m.now().UnixMilli()
	if prev := m.lastStamp[key]; ts <= prev {
		ts = prev + 1
	}
	m.lastStamp[key] = ts
	// Fresh data supersedes an earlier park verdict.
	delete(m.parked, key)
	m.mu.Unlock()

	state := model.ProgressState{
		WorkSessionID: workSessionID,
		DocumentID:    documentID,
		Progress:      progress.Clone(),
		LastUpdated:   ts,
	}

	if err := m.writeState(ctx, state); err != nil {
		return model.ProgressState{}, err
	}

	m.scheduleSync()
	m.publishPresence(ctx)
	return state, nil
}

// LoadProgress returns the locally stored snapshot for the pair. When no
// local snapshot exists (for example after a successful sync removed it),
// the server record is fetched instead; offline, NOT_FOUND is returned.
func (m *Manager) LoadProgress(ctx context.Context, workSessionID, documentID string) (model.ProgressState, error) {
	state, err := m.activeStore().Read(ctx, workSessionID, documentID)
	if err == nil {
		return state, nil
	}
	if !model.IsCode(err, model.ErrNotFound) {
		return model.ProgressState{}, err
	}

	if !m.watcher.Online() {
		return model.ProgressState{}, err
	}

	sess, ferr := m.client.FetchSession(ctx, workSessionID)
	if ferr != nil {
		return model.ProgressState{}, ferr
	}
	item, ok := sess.Item(documentID)
	if !ok {
		return model.ProgressState{}, err
	}
	return model.ProgressState{
		WorkSessionID: workSessionID,
		DocumentID:    documentID,
		Progress:      item.Progress.Clone(),
		LastUpdated:   item.UpdatedAt.UnixMilli(),
	}, nil
}

// Hydrate fetches a session from the server and overlays any local pending
// snapshots on top of it, so a device that recorded progress offline sees
// its own latest intent rather than the server's older record.
func (m *Manager) Hydrate(ctx context.Context, workSessionID string) (model.WorkSession, error) {
	sess, err := m.client.FetchSession(ctx, workSessionID)
	if err != nil {
		return model.WorkSession{}, err
	}

	for i := range sess.Items {
		local, lerr := m.activeStore().Read(ctx, workSessionID, sess.Items[i].DocumentID)
		if lerr != nil {
			continue
		}
		if local.LastUpdated >= sess.Items[i].UpdatedAt.UnixMilli() {
			sess.Items[i].Progress = local.Progress.Clone()
			sess.Items[i].UpdatedAt = time.UnixMilli(local.LastUpdated)
		}
	}
	return sess, nil
}

// PendingSyncCount reports how many snapshots still wait for server
// acknowledgement. Parked snapshots count too: they were never acked, so
// they are still pending even though sweeps skip them until a new save
// replaces the rejected revision.
func (m *Manager) PendingSyncCount(ctx context.Context) (int, error) {
	states, err := m.activeStore().ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(states), nil
}

// ForceSyncAll reconciles every pending snapshot with the server. Concurrent
// calls coalesce: one sweep runs at a time, and at most one follow-up sweep
// is queued to cover writes that land mid-sweep. Returns the first transient
// error, after which the remaining backlog waits for the next attempt.
func (m *Manager) ForceSyncAll(ctx context.Context) error {
	m.sweepMu.Lock()
	if m.sweepRunning {
		m.sweepQueued = true
		m.sweepMu.Unlock()
		return nil
	}
	m.sweepRunning = true
	m.sweepMu.Unlock()

	for {
		err := m.sweep(ctx)

		m.sweepMu.Lock()
		if m.sweepQueued && err == nil && ctx.Err() == nil {
			m.sweepQueued = false
			m.sweepMu.Unlock()
			continue
		}
		m.sweepQueued = false
		m.sweepRunning = false
		m.sweepMu.Unlock()

		m.publishPresence(ctx)
		return err
	}
}

// sweep pushes each pending snapshot once, oldest first. Acknowledged
// snapshots are deleted only if the stored revision is still the one that
// was pushed. Non-retryable rejections park the key; a transient failure
// aborts the sweep so the whole backlog is retried later.
func (m *Manager) sweep(ctx context.Context) error {
	states, err := m.activeStore().ListAll(ctx)
	if err != nil {
		return err
	}

	for _, state := range states {
		key := state.Key()
		m.mu.Lock()
		parked := m.parked[key]
		m.mu.Unlock()
		if parked {
			continue
		}

		if err := m.client.Push(ctx, state); err != nil {
			if model.IsCode(err, model.ErrTransientNetwork) {
				return err
			}
			// The server will never accept this revision. Keep the data
			// but stop retrying until the user records something new.
			m.mu.Lock()
			m.parked[key] = true
			m.mu.Unlock()
			m.logger.Warn("snapshot parked after rejection",
				zap.String("session_id", state.WorkSessionID),
				zap.String("document_id", state.DocumentID),
				zap.String("code", model.CodeOf(err)),
			)
			continue
		}

		deleted, derr := m.activeStore().Delete(ctx, state.WorkSessionID, state.DocumentID, state.LastUpdated)
		if derr != nil {
			return derr
		}
		if !deleted {
			m.logger.Debug("snapshot kept, newer local write pending",
				zap.String("session_id", state.WorkSessionID),
				zap.String("document_id", state.DocumentID),
			)
		}
	}
	return nil
}

// Run drives background syncing until ctx is canceled: periodic sweeps while
// online, plus an immediate flush with backoff on each offline to online
// transition and after each local save.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	changes := m.watcher.Changes()
	wasOnline := m.watcher.Online()
	m.publishPresence(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case online, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if online && !wasOnline {
				m.logger.Info("connectivity restored, flushing pending snapshots")
				m.flushWithBackoff(ctx)
			}
			wasOnline = online
			m.publishPresence(ctx)

		case <-m.kick:
			if m.watcher.Online() {
				m.flushWithBackoff(ctx)
			}

		case <-ticker.C:
			if m.watcher.Online() {
				if err := m.ForceSyncAll(ctx); err != nil {
					m.logger.Debug("periodic sweep failed", zap.Error(err))
				}
			}
		}
	}
}

// flushWithBackoff retries ForceSyncAll on transient failures with
// exponential backoff, bounded so the loop returns to its normal cadence.
func (m *Manager) flushWithBackoff(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(func() error {
		err := m.ForceSyncAll(ctx)
		if err == nil {
			return nil
		}
		if model.IsCode(err, model.ErrTransientNetwork) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		m.logger.Warn("flush abandoned", zap.Error(err))
	}
}

// scheduleSync wakes the Run loop without blocking. A pending wakeup absorbs
// further requests, which keeps save bursts from stacking sweeps.
func (m *Manager) scheduleSync() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// writeState writes to the durable store, falling back to the in-memory
// store when local storage is unavailable. Data written after degrading is
// lost on restart; the alternative is losing it immediately.
func (m *Manager) writeState(ctx context.Context, state model.ProgressState) error {
	st := m.activeStore()
	err := st.Write(ctx, state)
	if err == nil || !model.IsCode(err, model.ErrStorageUnavailable) {
		return err
	}
	if st == localstore.Store(m.fallback) {
		return err
	}

	m.mu.Lock()
	if !m.degraded {
		m.degraded = true
		m.logger.Error("local storage unavailable, degrading to in-memory store", zap.Error(err))
	}
	m.mu.Unlock()

	return m.fallback.Write(ctx, state)
}

// activeStore returns the durable store, or the in-memory fallback after a
// storage failure.
func (m *Manager) activeStore() localstore.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded {
		return m.fallback
	}
	return m.store
}
