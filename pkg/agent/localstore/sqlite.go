package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/axleworks/worksync/model"
	"github.com/axleworks/worksync/pkg/agent/localstore/migrations"
)

// SQLiteStore is a Store backed by a local SQLite database file. Writes are
// durable across process restarts, which is the whole point: the device must
// not lose progress recorded while offline.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs
// schema migrations.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := migrations.Up(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	logger.Debug("local progress store opened", zap.String("path", dbPath))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Write inserts or replaces the snapshot for state's key.
func (s *SQLiteStore) Write(ctx context.Context, state model.ProgressState) error {
	raw, err := json.Marshal(state.Progress)
	if err != nil {
		return model.NewStorageUnavailableError(fmt.Errorf("encode progress: %w", err))
	}

	query := `
		INSERT INTO progress_states (work_session_id, document_id, progress, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (work_session_id, document_id)
		DO UPDATE SET progress = excluded.progress, last_updated = excluded.last_updated
	`
	_, err = s.db.ExecContext(ctx, query,
		state.WorkSessionID, state.DocumentID, raw, state.LastUpdated)
	if err != nil {
		return model.NewStorageUnavailableError(fmt.Errorf("write snapshot: %w", err))
	}
	return nil
}

// Read returns the snapshot for the key, or NOT_FOUND.
func (s *SQLiteStore) Read(ctx context.Context, workSessionID, documentID string) (model.ProgressState, error) {
	query := `
		SELECT work_session_id, document_id, progress, last_updated
		FROM progress_states
		WHERE work_session_id = ? AND document_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, workSessionID, documentID)

	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ProgressState{}, model.NewNotFoundError(
				fmt.Sprintf("no snapshot for session %s document %s", workSessionID, documentID))
		}
		return model.ProgressState{}, model.NewStorageUnavailableError(fmt.Errorf("read snapshot: %w", err))
	}
	return state, nil
}

// Delete removes the snapshot only when its stored lastUpdated still matches.
// A newer local write keeps the row so un-synced progress is never dropped.
func (s *SQLiteStore) Delete(ctx context.Context, workSessionID, documentID string, lastUpdated int64) (bool, error) {
	query := `
		DELETE FROM progress_states
		WHERE work_session_id = ? AND document_id = ? AND last_updated = ?
	`
	result, err := s.db.ExecContext(ctx, query, workSessionID, documentID, lastUpdated)
	if err != nil {
		return false, model.NewStorageUnavailableError(fmt.Errorf("delete snapshot: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, model.NewStorageUnavailableError(fmt.Errorf("rows affected: %w", err))
	}
	return n > 0, nil
}

// ListAll returns every stored snapshot, oldest first.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]model.ProgressState, error) {
	query := `
		SELECT work_session_id, document_id, progress, last_updated
		FROM progress_states
		ORDER BY last_updated ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.NewStorageUnavailableError(fmt.Errorf("list snapshots: %w", err))
	}
	defer rows.Close()

	var states []model.ProgressState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, model.NewStorageUnavailableError(fmt.Errorf("scan snapshot: %w", err))
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageUnavailableError(fmt.Errorf("iterate snapshots: %w", err))
	}
	return states, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(s scanner) (model.ProgressState, error) {
	var state model.ProgressState
	var raw []byte

	if err := s.Scan(&state.WorkSessionID, &state.DocumentID, &raw, &state.LastUpdated); err != nil {
		return model.ProgressState{}, err
	}
	if err := json.Unmarshal(raw, &state.Progress); err != nil {
		return model.ProgressState{}, fmt.Errorf("decode progress: %w", err)
	}
	return state, nil
}
