package agent

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 10 * time.Second

// ProbeWatcher is a ConnectivityWatcher that decides online/offline by
// polling the server's health endpoint. It reports transitions only; steady
// state produces no events.
type ProbeWatcher struct {
	client   SyncClient
	logger   *zap.Logger
	interval time.Duration

	online  atomic.Bool
	changes chan bool
}

// NewProbeWatcher creates a watcher polling through client at the given
// interval (default 10s). The watcher starts offline until the first
// successful probe.
func NewProbeWatcher(client SyncClient, interval time.Duration, logger *zap.Logger) *ProbeWatcher {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProbeWatcher{
		client:   client,
		logger:   logger,
		interval: interval,
		changes:  make(chan bool, 4),
	}
}

// Online reports the last probed connectivity state.
func (w *ProbeWatcher) Online() bool { return w.online.Load() }

// Changes delivers connectivity transitions.
func (w *ProbeWatcher) Changes() <-chan bool { return w.changes }

// Run probes until ctx is canceled. An initial probe runs immediately so
// startup does not wait a full interval to learn it is online.
func (w *ProbeWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *ProbeWatcher) probe(ctx context.Context) {
	healthy := w.client.Healthy(ctx)
	if w.online.Swap(healthy) == healthy {
		return
	}

	w.logger.Info("connectivity changed", zap.Bool("online", healthy))
	select {
	case w.changes <- healthy:
	default:
		// Consumer is behind; it will read the current state via Online.
	}
}
