package integration

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/axleworks/worksync/model"
	"github.com/axleworks/worksync/pkg/agent"
	"github.com/axleworks/worksync/pkg/agent/localstore"
)

// device bundles one simulated device: a durable local store and a manager
// syncing through the flaky proxy.
type device struct {
	manager *agent.Manager
	store   localstore.Store
	watcher *manualWatcher
	proxy   *flakyProxy
}

func newDevice(t *testing.T, h *TestHarness, token, deviceID string) *device {
	t.Helper()

	proxy := newFlakyProxy(t, h.BaseURL())
	store, err := localstore.NewSQLiteStore(filepath.Join(t.TempDir(), deviceID+".db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := agent.NewHTTPSyncClient(agent.HTTPSyncClientConfig{
		BaseURL:  proxy.URL(),
		Token:    token,
		DeviceID: deviceID,
	})
	watcher := newManualWatcher(true)

	return &device{
		manager: agent.NewManager(agent.ManagerConfig{
			Store:   store,
			Client:  client,
			Watcher: watcher,
		}),
		store:   store,
		watcher: watcher,
		proxy:   proxy,
	}
}

func (d *device) goOffline() {
	d.proxy.setOnline(false)
	d.watcher.set(false)
}

func (d *device) goOnline() {
	d.proxy.setOnline(true)
	d.watcher.set(true)
}

func TestOfflineWorkflowSyncsAfterReconnect(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken("alice")
	sess := h.CreateSession(t, token, "doc-a", "doc-b")

	dev := newDevice(t, h, token, "tablet-1")
	ctx := context.Background()

	// Work happens while disconnected.
	dev.goOffline()
	if _, err := dev.manager.SaveProgress(ctx, sess.ID, "doc-a", model.Progress{"inspect": true}); err != nil {
		t.Fatalf("offline save: %v", err)
	}
	if _, err := dev.manager.SaveProgress(ctx, sess.ID, "doc-b", model.Progress{"inspect": true, "sign": true}); err != nil {
		t.Fatalf("offline save: %v", err)
	}

	count, err := dev.manager.PendingSyncCount(ctx)
	if err != nil {
		t.Fatalf("PendingSyncCount: %v", err)
	}
	assertEqual(t, count, 2, "pending while offline")

	// Syncing against a dead network keeps the backlog.
	if err := dev.manager.ForceSyncAll(ctx); model.CodeOf(err) != model.ErrTransientNetwork {
		t.Fatalf("offline sync err = %v, want transient", err)
	}
	count, _ = dev.manager.PendingSyncCount(ctx)
	assertEqual(t, count, 2, "pending after failed sync")

	// Reconnect and drain.
	dev.goOnline()
	if err := dev.manager.ForceSyncAll(ctx); err != nil {
		t.Fatalf("online sync: %v", err)
	}
	count, _ = dev.manager.PendingSyncCount(ctx)
	assertEqual(t, count, 0, "pending after reconnect sync")

	// The server now holds the offline work.
	got, err := h.Store.GetItem(ctx, sess.ID, "doc-b")
	if err != nil {
		t.Fatalf("server item: %v", err)
	}
	if !got.Progress["sign"] {
		t.Errorf("server progress = %v, offline work missing", got.Progress)
	}
	assertEqual(t, got.Status, model.ItemStatusInProgress, "server item status")
}

func TestTwoDevicesLastWriteWins(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken("alice")
	sess := h.CreateSession(t, token, "doc-a")

	tablet := newDevice(t, h, token, "tablet-1")
	phone := newDevice(t, h, token, "phone-1")
	ctx := context.Background()

	// Both devices record offline; the phone's save is later.
	tablet.goOffline()
	phone.goOffline()
	if _, err := tablet.manager.SaveProgress(ctx, sess.ID, "doc-a", model.Progress{"inspect": true}); err != nil {
		t.Fatalf("tablet save: %v", err)
	}
	if _, err := phone.manager.SaveProgress(ctx, sess.ID, "doc-a", model.Progress{"inspect": true, "sign": true}); err != nil {
		t.Fatalf("phone save: %v", err)
	}

	// The later writer reconnects first; the earlier one arrives after.
	phone.goOnline()
	if err := phone.manager.ForceSyncAll(ctx); err != nil {
		t.Fatalf("phone sync: %v", err)
	}
	tablet.goOnline()
	if err := tablet.manager.ForceSyncAll(ctx); err != nil {
		t.Fatalf("tablet sync: %v", err)
	}

	// Arrival order does not matter: the later timestamp wins, and the
	// stale device still drained its queue.
	got, err := h.Store.GetItem(ctx, sess.ID, "doc-a")
	if err != nil {
		t.Fatalf("server item: %v", err)
	}
	if !got.Progress["sign"] {
		t.Errorf("server progress = %v, later write was lost", got.Progress)
	}
	count, _ := tablet.manager.PendingSyncCount(ctx)
	assertEqual(t, count, 0, "stale device pending")
}

func TestDeletedSessionParksSnapshot(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken("alice")

	dev := newDevice(t, h, token, "tablet-1")
	ctx := context.Background()

	// Progress recorded against a session the server never had.
	dev.goOffline()
	if _, err := dev.manager.SaveProgress(ctx, "ws-ghost", "doc-a", model.Progress{"inspect": true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	dev.goOnline()
	if err := dev.manager.ForceSyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// The rejected snapshot is parked: sweeps stop retrying it, but the
	// data stays on the device and still shows up as pending.
	count, _ := dev.manager.PendingSyncCount(ctx)
	assertEqual(t, count, 1, "pending after park")
	if _, err := dev.store.Read(ctx, "ws-ghost", "doc-a"); err != nil {
		t.Errorf("parked data was deleted: %v", err)
	}
}

func TestLocalStoreSurvivesAgentRestart(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken("alice")
	sess := h.CreateSession(t, token, "doc-a")

	dbPath := filepath.Join(t.TempDir(), "tablet.db")
	proxy := newFlakyProxy(t, h.BaseURL())
	client := agent.NewHTTPSyncClient(agent.HTTPSyncClientConfig{BaseURL: proxy.URL(), Token: token})
	ctx := context.Background()

	// First agent run records offline work and dies.
	store1, err := localstore.NewSQLiteStore(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m1 := agent.NewManager(agent.ManagerConfig{Store: store1, Client: client, Watcher: newManualWatcher(false)})
	proxy.setOnline(false)
	if _, err := m1.SaveProgress(ctx, sess.ID, "doc-a", model.Progress{"inspect": true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Second run reopens the same database and syncs the survivor.
	store2, err := localstore.NewSQLiteStore(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store2.Close()
	m2 := agent.NewManager(agent.ManagerConfig{Store: store2, Client: client, Watcher: newManualWatcher(true)})

	count, _ := m2.PendingSyncCount(ctx)
	assertEqual(t, count, 1, "pending after restart")

	proxy.setOnline(true)
	if err := m2.ForceSyncAll(ctx); err != nil {
		t.Fatalf("sync after restart: %v", err)
	}

	got, err := h.Store.GetItem(ctx, sess.ID, "doc-a")
	if err != nil {
		t.Fatalf("server item: %v", err)
	}
	if !got.Progress["inspect"] {
		t.Error("restart-surviving progress never reached the server")
	}
}
