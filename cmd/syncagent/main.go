// Package main is the entry point for syncagent, the device-side daemon that
// keeps local work session progress reconciled with a worksyncd server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/run"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/pkg/agent"
	"github.com/axleworks/worksync/pkg/agent/localstore"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		serverURL     = flag.String("server", "http://localhost:8080", "worksyncd base URL")
		deviceID      = flag.String("device-id", "", "device identifier sent with every request")
		dbPath        = flag.String("db", defaultDBPath(), "path to the local progress database")
		memoryStore   = flag.Bool("memory-store", false, "use an in-memory store instead of SQLite")
		sweepInterval = flag.Duration("sweep-interval", 30*time.Second, "interval between background sync sweeps")
		probeInterval = flag.Duration("probe-interval", 10*time.Second, "interval between connectivity probes")
		debug         = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logCfg := zap.NewProductionConfig()
	if *debug {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("syncagent starting",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("server", *serverURL),
	)

	var store localstore.Store
	if *memoryStore {
		store = localstore.NewMemoryStore()
	} else {
		sqlStore, err := localstore.NewSQLiteStore(*dbPath, logger)
		if err != nil {
			logger.Error("could not open local store", zap.Error(err))
			return 1
		}
		store = sqlStore
	}
	defer store.Close()

	client := agent.NewHTTPSyncClient(agent.HTTPSyncClientConfig{
		BaseURL:  *serverURL,
		Token:    os.Getenv("WORKSYNC_TOKEN"),
		DeviceID: *deviceID,
	})

	watcher := agent.NewProbeWatcher(client, *probeInterval, logger)
	manager := agent.NewManager(agent.ManagerConfig{
		Store:         store,
		Client:        client,
		Watcher:       watcher,
		Logger:        logger,
		SweepInterval: *sweepInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.SubscribePresence(ctx, func(p agent.Presence) {
		logger.Info("presence",
			zap.Bool("online", p.IsOnline),
			zap.Int("pending", p.PendingSyncCount),
		)
	})

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt))
	g.Add(func() error {
		return watcher.Run(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		return manager.Run(ctx)
	}, func(error) {
		cancel()
	})

	if err := g.Run(); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			logger.Info("shutdown signal received", zap.String("signal", sigErr.Signal.String()))
			return 0
		}
		if ctx.Err() != nil {
			return 0
		}
		logger.Error("agent stopped", zap.Error(err))
		return 1
	}
	return 0
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "worksync.db"
	}
	return filepath.Join(home, ".worksync", "progress.db")
}
