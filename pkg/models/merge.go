package models

import "time"

// MergeRequest merges SourceIDs into TargetID
type MergeRequest struct {
	ProjectID      string  `json:"-"`
	SourceIDs      []int64 `json:"source_ids" validate:"required,min=1,dive,gt=0"`
	TargetID       int64   `json:"target_id" validate:"required,gt=0"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required,max=255"`
	Actor          string  `json:"-"`
}

// PointerUpdate records one source's pointers before and after a merge
type PointerUpdate struct {
	StableID              int64      `json:"stable_id"`
	PreviousStatus        CodeStatus `json:"previous_status"`
	PreviousCanonicalID   *int64     `json:"previous_canonical_id,omitempty"`
	CanonicalIDPointer    int64      `json:"canonical_id_pointer"`
	CanonicalLabelPointer string     `json:"canonical_label_pointer"`
}

// MergeResult is stored with the merge operation and returned verbatim on replay
type MergeResult struct {
	ProjectID      string          `json:"project_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	TargetID       int64           `json:"target_id"`
	TargetLabel    string          `json:"target_label"`
	SourceIDs      []int64         `json:"source_ids"`
	MergedCount    int             `json:"merged_count"`
	Updates        []PointerUpdate `json:"updates"`
	Actor          string          `json:"actor"`
	MergedAt       time.Time       `json:"merged_at"`
}

// MergeOperation is the idempotency record of a merge
type MergeOperation struct {
	ID             string      `json:"id" db:"id"`
	ProjectID      string      `json:"project_id" db:"project_id"`
	IdempotencyKey string      `json:"idempotency_key" db:"idempotency_key"`
	SourceIDs      []int64     `json:"source_ids" db:"-"`
	TargetID       int64       `json:"target_id" db:"target_id"`
	Actor          string      `json:"actor" db:"actor"`
	Result         MergeResult `json:"result" db:"-"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// SameRequest reports whether a replayed request matches the stored operation.
func (m *MergeOperation) SameRequest(sourceIDs []int64, targetID int64) bool {
	if m.TargetID != targetID || len(m.SourceIDs) != len(sourceIDs) {
		return false
	}
	for i := range sourceIDs {
		if m.SourceIDs[i] != sourceIDs[i] {
			return false
		}
	}
	return true
}
