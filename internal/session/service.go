package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/internal/observability"
	"github.com/axleworks/worksync/model"
)

// Service owns the work session state machine and the sync reconciliation
// policy. All mutations of sessions and items go through it.
type Service struct {
	store  SessionStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a session service backed by the given store.
func NewService(store SessionStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create creates an ACTIVE session with one PENDING item per document, all in
// one transaction. Fails with VALIDATION_ERROR on an empty owner, an empty
// document list, or duplicate document IDs (at most one item per
// (session, document) pair).
func (s *Service) Create(ctx context.Context, ownerID string, documentIDs []string) (model.WorkSession, error) {
	var details []model.FieldError
	if ownerID == "" {
		details = append(details, model.FieldError{
			Field: "ownerId", Code: "required", Message: "ownerId is required",
		})
	}
	if len(documentIDs) == 0 {
		details = append(details, model.FieldError{
			Field: "documentIds", Code: "required", Message: "documentIds must not be empty",
		})
	}
	seen := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		if id == "" {
			details = append(details, model.FieldError{
				Field: "documentIds", Code: "invalid", Message: "document IDs must not be empty",
			})
			break
		}
		if seen[id] {
			details = append(details, model.FieldError{
				Field: "documentIds", Code: "duplicate",
				Message: fmt.Sprintf("document %q listed more than once", id),
			})
			break
		}
		seen[id] = true
	}
	if len(details) > 0 {
		return model.WorkSession{}, model.NewValidationError(details...)
	}

	ctx, span := observability.StartSpan(ctx, "session.Create",
		observability.AttrOwnerID.String(ownerID))
	defer span.End()

	now := s.now()
	sess := model.WorkSession{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    model.SessionStatusActive,
		CreatedAt: now,
	}
	for i, docID := range documentIDs {
		sess.Items = append(sess.Items, model.WorkSessionItem{
			ID:            uuid.New().String(),
			WorkSessionID: sess.ID,
			DocumentID:    docID,
			Position:      i,
			Progress:      model.Progress{},
			Status:        model.ItemStatusPending,
			UpdatedAt:     now,
		})
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return model.WorkSession{}, err
	}

	s.logger.Info("work session created",
		zap.String("session_id", sess.ID),
		zap.String("owner_id", ownerID),
		zap.Int("items", len(sess.Items)),
	)
	return sess, nil
}

// Get returns a session with its items. Used by fresh devices to hydrate when
// no local record exists.
func (s *Service) Get(ctx context.Context, sessionID string) (model.WorkSession, error) {
	if sessionID == "" {
		return model.WorkSession{}, model.NewBadRequestError("sessionId is required")
	}
	return s.store.GetSession(ctx, sessionID)
}

// UpdateItemProgress writes progress for the unique (session, document) item,
// stamped with server time, and moves it to IN_PROGRESS. Fails with NOT_FOUND
// if no such item exists.
func (s *Service) UpdateItemProgress(ctx context.Context, sessionID, documentID string, progress model.Progress) (model.WorkSessionItem, error) {
	if sessionID == "" || documentID == "" {
		return model.WorkSessionItem{}, model.NewBadRequestError("sessionId and documentId are required")
	}

	item, applied, err := s.store.ApplyItemProgress(ctx, sessionID, documentID, progress, s.now())
	if err != nil {
		return model.WorkSessionItem{}, err
	}
	if !applied {
		// Server time moved backwards relative to the stored row; treat as
		// already current rather than failing the caller.
		s.logger.Warn("item progress update skipped, stored record newer",
			zap.String("session_id", sessionID),
			zap.String("document_id", documentID),
		)
	}
	return item, nil
}

// Complete transitions an ACTIVE session to COMPLETED and stamps completedAt.
// Re-completing an already-COMPLETED session is rejected with CONFLICT, not
// treated as idempotent: a second completion means the caller's view of the
// session is stale and it should refetch.
func (s *Service) Complete(ctx context.Context, sessionID string) (model.WorkSession, error) {
	if sessionID == "" {
		return model.WorkSession{}, model.NewBadRequestError("sessionId is required")
	}

	ctx, span := observability.StartSpan(ctx, "session.Complete",
		observability.AttrSessionID.String(sessionID))
	defer span.End()

	sess, err := s.store.CompleteSession(ctx, sessionID, s.now())
	if err != nil {
		return model.WorkSession{}, err
	}

	s.logger.Info("work session completed",
		zap.String("session_id", sessionID),
		zap.String("owner_id", sess.OwnerID),
	)
	return sess, nil
}

// Reconcile merges a device's progress snapshot for one (session, document)
// pair into the server record, last-write-wins by timestamp: the snapshot is
// applied only if clientTime is not older than the item's updatedAt. A stale
// snapshot still reconciles successfully (applied=false): the server is
// already at least as current, and returning success keeps the device's retry
// loop idempotent. Returns NOT_FOUND when no item exists for the pair; the
// device must treat that as non-retryable.
func (s *Service) Reconcile(ctx context.Context, sessionID, documentID string, progress model.Progress, clientTime time.Time) (bool, error) {
	if sessionID == "" || documentID == "" {
		return false, model.NewBadRequestError("workSessionId and documentId are required")
	}
	if progress == nil {
		return false, model.NewBadRequestError("progress is required")
	}
	if clientTime.IsZero() {
		// Devices that predate the timestamp guard send no clientTimestamp;
		// fall back to server time, which reproduces unconditional overwrite.
		clientTime = s.now()
	}

	ctx, span := observability.StartSpan(ctx, "session.Reconcile",
		observability.AttrSessionID.String(sessionID),
		observability.AttrDocumentID.String(documentID))
	defer span.End()

	_, applied, err := s.store.ApplyItemProgress(ctx, sessionID, documentID, progress, clientTime)
	if err != nil {
		return false, err
	}
	span.SetAttributes(observability.AttrApplied.Bool(applied))
	if !applied {
		s.logger.Debug("stale sync snapshot skipped",
			zap.String("session_id", sessionID),
			zap.String("document_id", documentID),
			zap.Time("client_time", clientTime),
		)
	}
	return applied, nil
}
