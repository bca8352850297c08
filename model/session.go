// Package model contains the shared domain types for work sessions, checklist
// progress, and the error envelope returned by the API.
package model

import "time"

// WorkSession statuses.
const (
	SessionStatusActive    = "ACTIVE"
	SessionStatusCompleted = "COMPLETED"
)

// WorkSessionItem statuses.
const (
	ItemStatusPending    = "PENDING"
	ItemStatusInProgress = "IN_PROGRESS"
	ItemStatusCompleted  = "COMPLETED"
)

// WorkSession is one user's attempt to work through a set of documents. Its
// status only ever moves ACTIVE → COMPLETED, and CompletedAt is set exactly
// when the status is COMPLETED.
type WorkSession struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerId"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Items       []WorkSessionItem `json:"items,omitempty"`
}

// Item returns the session's item for the given document, if present.
func (s *WorkSession) Item(documentID string) (WorkSessionItem, bool) {
	for _, it := range s.Items {
		if it.DocumentID == documentID {
			return it, true
		}
	}
	return WorkSessionItem{}, false
}

// WorkSessionItem tracks progress on one document within a session. At most
// one item exists per (WorkSessionID, DocumentID) pair; Position preserves
// the document order given at session creation.
type WorkSessionItem struct {
	ID            string    `json:"id"`
	WorkSessionID string    `json:"workSessionId"`
	DocumentID    string    `json:"documentId"`
	Position      int       `json:"position"`
	Progress      Progress  `json:"progress"`
	Status        string    `json:"status"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
