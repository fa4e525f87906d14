package models

import (
	"encoding/json"
	"time"
)

// HistoryAction names what a history entry records
type HistoryAction string

const (
	HistoryCreated          HistoryAction = "created"
	HistoryEvidenceAttached HistoryAction = "evidence_attached"
	HistoryValidated        HistoryAction = "validated"
	HistoryRejected         HistoryAction = "rejected"
	HistoryReverted         HistoryAction = "reverted"
	HistoryPromoted         HistoryAction = "promoted"
	HistoryMerged           HistoryAction = "merged"
	HistorySuperseded       HistoryAction = "superseded"
	HistoryRelabeled        HistoryAction = "relabeled"
	HistoryFreezeEngaged    HistoryAction = "freeze_engaged"
	HistoryFreezeReleased   HistoryAction = "freeze_released"
	HistoryStableIDAssigned HistoryAction = "repair_stable_id_assigned"
	HistoryIDPointerFilled  HistoryAction = "repair_id_pointer_backfilled"
	HistoryLabelRederived   HistoryAction = "repair_label_pointer_rederived"
)

// HistoryEntry is an append-only audit record.
// StableID is nil for project-level entries such as freeze changes.
type HistoryEntry struct {
	ID         int64           `json:"id" db:"id"`
	ProjectID  string          `json:"project_id" db:"project_id"`
	StableID   *int64          `json:"stable_id,omitempty" db:"stable_id"`
	SubjectIDs []int64         `json:"subject_ids" db:"-"`
	Action     HistoryAction   `json:"action" db:"action"`
	Actor      string          `json:"actor" db:"actor"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Concerns reports whether the entry touches stableID.
func (h *HistoryEntry) Concerns(stableID int64) bool {
	if h.StableID != nil && *h.StableID == stableID {
		return true
	}
	for _, id := range h.SubjectIDs {
		if id == stableID {
			return true
		}
	}
	return false
}

// NewHistoryEntry builds an entry whose payload is the JSON encoding of snapshot.
func NewHistoryEntry(projectID string, stableID *int64, action HistoryAction, actor string, snapshot any, subjects ...int64) (*HistoryEntry, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	if stableID != nil && len(subjects) == 0 {
		subjects = []int64{*stableID}
	}
	return &HistoryEntry{
		ProjectID:  projectID,
		StableID:   stableID,
		SubjectIDs: subjects,
		Action:     action,
		Actor:      actor,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
