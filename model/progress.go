package model

// Progress is a checklist state: step key → completed. Keys are unique and
// order is irrelevant.
type Progress map[string]bool

// Clone returns an independent copy of the progress map.
func (p Progress) Clone() Progress {
	if p == nil {
		return nil
	}
	out := make(Progress, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Done reports whether the checklist is non-empty and every step is complete.
func (p Progress) Done() bool {
	if len(p) == 0 {
		return false
	}
	for _, v := range p {
		if !v {
			return false
		}
	}
	return true
}

// Equal reports whether two progress maps hold the same steps and values.
func (p Progress) Equal(other Progress) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// ProgressState is the device-local mirror of one WorkSessionItem's progress,
// plus sync bookkeeping. It is a cache of intent, not an authoritative record:
// it is deleted only after the server confirms receipt of the exact
// LastUpdated it described.
type ProgressState struct {
	WorkSessionID string   `json:"workSessionId"`
	DocumentID    string   `json:"documentId"`
	Progress      Progress `json:"progress"`
	// LastUpdated is a client timestamp in epoch milliseconds, monotone
	// non-decreasing per (session, document) pair.
	LastUpdated int64 `json:"lastUpdated"`
}

// Key identifies the (session, document) pair the state belongs to.
func (s ProgressState) Key() ProgressKey {
	return ProgressKey{WorkSessionID: s.WorkSessionID, DocumentID: s.DocumentID}
}

// ProgressKey is the composite key of a device-local progress record.
type ProgressKey struct {
	WorkSessionID string
	DocumentID    string
}
