package models

// ItemOutcome is the per-item result of a non-atomic batch operation
type ItemOutcome struct {
	StableID int64      `json:"stable_id"`
	OK       bool       `json:"ok"`
	Status   CodeStatus `json:"status,omitempty"`
	Code     string     `json:"error_code,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type BatchResult struct {
	Outcomes  []ItemOutcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

func (b *BatchResult) Add(o ItemOutcome) {
	b.Outcomes = append(b.Outcomes, o)
	if o.OK {
		b.Succeeded++
	} else {
		b.Failed++
	}
}

type BatchValidateRequest struct {
	StableIDs []int64 `json:"stable_ids" validate:"required,min=1,dive,gt=0"`
}

type BatchRejectRequest struct {
	StableIDs []int64 `json:"stable_ids" validate:"required,min=1,dive,gt=0"`
	Memo      string  `json:"memo"`
}

type RejectRequest struct {
	Memo string `json:"memo"`
}

type AttachEvidenceRequest struct {
	EvidenceRefs []string `json:"evidence_refs" validate:"required,min=1,dive,required"`
}

type SupersedeRequest struct {
	ReplacementID int64  `json:"replacement_id" validate:"required,gt=0"`
	Memo          string `json:"memo"`
}

type RelabelRequest struct {
	Label string `json:"label" validate:"required,max=512"`
}
