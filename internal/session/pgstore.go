package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axleworks/worksync/model"
)

// PgSessionStore is a PostgreSQL-backed SessionStore using pgx/v5.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewPgSessionStore creates a new PostgreSQL session store.
func NewPgSessionStore(pool *pgxpool.Pool) *PgSessionStore {
	return &PgSessionStore{pool: pool}
}

// HealthCheck pings the database. Used by the readiness endpoint.
func (s *PgSessionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession inserts a session and all its items in one transaction.
func (s *PgSessionStore) CreateSession(ctx context.Context, sess model.WorkSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO work_sessions (id, owner_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.OwnerID, sess.Status, sess.CreatedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert work session: %w", err)
	}

	for _, item := range sess.Items {
		progressJSON, err := json.Marshal(item.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO work_session_items (
				id, work_session_id, document_id, position, progress, status, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.WorkSessionID, item.DocumentID, item.Position,
			progressJSON, item.Status, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert work session item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetSession retrieves a session with its items ordered by position.
func (s *PgSessionStore) GetSession(ctx context.Context, sessionID string) (model.WorkSession, error) {
	var sess model.WorkSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, status, created_at, completed_at
		FROM work_sessions
		WHERE id = $1`,
		sessionID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Status, &sess.CreatedAt, &sess.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkSession{}, model.NewNotFoundError(
			fmt.Sprintf("work session %q not found", sessionID),
		)
	}
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("query work session: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, work_session_id, document_id, position, progress, status, updated_at
		FROM work_session_items
		WHERE work_session_id = $1
		ORDER BY position ASC`,
		sessionID,
	)
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("query work session items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return model.WorkSession{}, err
		}
		sess.Items = append(sess.Items, item)
	}
	return sess, rows.Err()
}

// GetItem retrieves the unique item for a (session, document) pair.
func (s *PgSessionStore) GetItem(ctx context.Context, sessionID, documentID string) (model.WorkSessionItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, work_session_id, document_id, position, progress, status, updated_at
		FROM work_session_items
		WHERE work_session_id = $1 AND document_id = $2`,
		sessionID, documentID,
	)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkSessionItem{}, model.NewNotFoundError(
			fmt.Sprintf("no item for session %q document %q", sessionID, documentID),
		)
	}
	if err != nil {
		return model.WorkSessionItem{}, fmt.Errorf("query work session item: %w", err)
	}
	return item, nil
}

// ApplyItemProgress performs the last-write-wins merge as a single guarded
// UPDATE, so concurrent syncs for the same item serialize on the row.
func (s *PgSessionStore) ApplyItemProgress(ctx context.Context, sessionID, documentID string, progress model.Progress, at time.Time) (model.WorkSessionItem, bool, error) {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return model.WorkSessionItem{}, false, fmt.Errorf("marshal progress: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE work_session_items
		SET progress = $1,
		    status = CASE WHEN status = 'COMPLETED' THEN status ELSE 'IN_PROGRESS' END,
		    updated_at = $2
		WHERE work_session_id = $3 AND document_id = $4 AND updated_at <= $2
		RETURNING id, work_session_id, document_id, position, progress, status, updated_at`,
		progressJSON, at, sessionID, documentID,
	)
	item, err := scanItem(row)
	if err == nil {
		return item, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.WorkSessionItem{}, false, fmt.Errorf("apply item progress: %w", err)
	}

	// Either the row is absent or the stored record is newer. Tell the two
	// apart so stale writes can still be acknowledged as success.
	item, err = s.GetItem(ctx, sessionID, documentID)
	if err != nil {
		return model.WorkSessionItem{}, false, err
	}
	return item, false, nil
}

// CompleteSession atomically transitions ACTIVE → COMPLETED and completes the
// session's remaining items.
func (s *PgSessionStore) CompleteSession(ctx context.Context, sessionID string, at time.Time) (model.WorkSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE work_sessions
		SET status = 'COMPLETED', completed_at = $1
		WHERE id = $2 AND status = 'ACTIVE'`,
		at, sessionID,
	)
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("complete work session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM work_sessions WHERE id = $1`, sessionID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkSession{}, model.NewNotFoundError(
				fmt.Sprintf("work session %q not found", sessionID),
			)
		}
		if err != nil {
			return model.WorkSession{}, fmt.Errorf("query work session status: %w", err)
		}
		return model.WorkSession{}, model.NewConflictError(
			fmt.Sprintf("work session %q is already %s", sessionID, status),
		)
	}

	_, err = tx.Exec(ctx, `
		UPDATE work_session_items
		SET status = 'COMPLETED', updated_at = $1
		WHERE work_session_id = $2 AND status <> 'COMPLETED'`,
		at, sessionID,
	)
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("complete work session items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.WorkSession{}, fmt.Errorf("commit: %w", err)
	}

	return s.GetSession(ctx, sessionID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.WorkSessionItem, error) {
	var item model.WorkSessionItem
	var progressJSON []byte
	err := row.Scan(
		&item.ID, &item.WorkSessionID, &item.DocumentID, &item.Position,
		&progressJSON, &item.Status, &item.UpdatedAt,
	)
	if err != nil {
		return model.WorkSessionItem{}, err
	}
	if progressJSON != nil {
		if err := json.Unmarshal(progressJSON, &item.Progress); err != nil {
			return model.WorkSessionItem{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	return item, nil
}
