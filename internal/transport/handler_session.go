package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/internal/observability"
	"github.com/axleworks/worksync/internal/session"
	"github.com/axleworks/worksync/model"
)

// maxBodyBytes caps request body size. Session payloads are small; anything
// beyond this is rejected as a bad request.
const maxBodyBytes = 1 << 20

// SessionHandler serves the work session API endpoints.
type SessionHandler struct {
	Service        *session.Service
	Idempotency    session.IdempotencyStore
	IdempotencyTTL time.Duration
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

type createSessionRequest struct {
	OwnerID     string   `json:"ownerId"`
	DocumentIDs []string `json:"documentIds"`
}

type updateProgressRequest struct {
	SessionID  string         `json:"sessionId"`
	DocumentID string         `json:"documentId"`
	Progress   model.Progress `json:"progress"`
}

type completeSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Create handles POST /sessions. When the client supplies an
// X-Idempotency-Key header, a repeated create with the same key and payload
// returns the previously created session instead of a new one.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	idempKey := r.Header.Get("X-Idempotency-Key")
	inputHash := session.HashCreateInput(req.OwnerID, req.DocumentIDs)

	if idempKey != "" && h.Idempotency != nil {
		key := session.FormatIdempotencyKey(idempKey)
		cached, found, err := h.Idempotency.Check(r.Context(), key, inputHash)
		switch {
		case model.IsCode(err, model.ErrConflict):
			// Same key, different payload. Reject rather than create.
			WriteError(w, err)
			return
		case err != nil:
			h.Logger.Warn("idempotency check failed", zap.Error(err))
		case found:
			WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	sess, err := h.Service.Create(r.Context(), req.OwnerID, req.DocumentIDs)
	if err != nil {
		WriteError(w, err)
		return
	}

	if idempKey != "" && h.Idempotency != nil {
		key := session.FormatIdempotencyKey(idempKey)
		if err := h.Idempotency.Store(r.Context(), key, inputHash, sess, h.IdempotencyTTL); err != nil {
			h.Logger.Warn("idempotency store failed", zap.Error(err))
		}
	}

	if h.Metrics != nil {
		h.Metrics.SessionsCreatedTotal.Inc()
	}
	WriteJSON(w, http.StatusCreated, sess)
}

// Get handles GET /sessions/{sessionId}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	sess, err := h.Service.Get(r.Context(), sessionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// UpdateProgress handles PATCH /sessions. The item's progress is replaced
// with the submitted map and stamped with server time.
func (h *SessionHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	var req updateProgressRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	item, err := h.Service.UpdateItemProgress(r.Context(), req.SessionID, req.DocumentID, req.Progress)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

// Complete handles PUT /sessions. Completing an already completed session
// is a conflict.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	sess, err := h.Service.Complete(r.Context(), req.SessionID)
	if err != nil {
		WriteError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.SessionsCompletedTotal.Inc()
	}
	WriteJSON(w, http.StatusOK, sess)
}

// decodeBody decodes a JSON request body into dst, rejecting empty,
// malformed, and oversized bodies. Unknown fields are tolerated so older
// servers keep accepting payloads from newer agents.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return model.NewBadRequestError("request body is empty")
		case errors.As(err, &maxErr):
			return model.NewBadRequestError("request body too large")
		default:
			return model.NewBadRequestError("malformed JSON body")
		}
	}
	return nil
}
