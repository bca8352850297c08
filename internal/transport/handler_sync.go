package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/axleworks/worksync/internal/observability"
	"github.com/axleworks/worksync/model"
)

type syncRequest struct {
	WorkSessionID string         `json:"workSessionId"`
	DocumentID    string         `json:"documentId"`
	Progress      model.Progress `json:"progress"`
	// LastUpdated is the client-side timestamp of the snapshot in epoch
	// milliseconds. Zero means the client did not record one.
	LastUpdated int64 `json:"lastUpdated"`
}

type syncResponse struct {
	Success bool `json:"success"`
}

// Sync handles POST /sessions/sync: a device pushing an offline progress
// snapshot for reconciliation. The snapshot wins only when its timestamp is
// at least as recent as the server record; a stale snapshot still returns
// success so the device can safely drop it from its queue.
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.recordSyncOutcome(observability.SyncOutcomeError)
		WriteError(w, err)
		return
	}

	var clientTime time.Time
	if req.LastUpdated > 0 {
		clientTime = time.UnixMilli(req.LastUpdated)
	}

	applied, err := h.Service.Reconcile(r.Context(), req.WorkSessionID, req.DocumentID, req.Progress, clientTime)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			h.recordSyncOutcome(observability.SyncOutcomeNotFound)
		} else {
			h.recordSyncOutcome(observability.SyncOutcomeError)
		}
		WriteError(w, err)
		return
	}

	if applied {
		h.recordSyncOutcome(observability.SyncOutcomeApplied)
	} else {
		h.recordSyncOutcome(observability.SyncOutcomeStale)
		h.Logger.Debug("sync snapshot superseded",
			zap.String("session_id", req.WorkSessionID),
			zap.String("document_id", req.DocumentID),
		)
	}

	WriteJSON(w, http.StatusOK, syncResponse{Success: true})
}

func (h *SessionHandler) recordSyncOutcome(outcome string) {
	if h.Metrics != nil {
		h.Metrics.RecordSyncRequest(outcome)
	}
}
