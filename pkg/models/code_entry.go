package models

import (
	"time"

	"github.com/lib/pq"
)

// CodeStatus is the lifecycle state of a code entry
type CodeStatus string

const (
	CodeStatusPending    CodeStatus = "pending"
	CodeStatusHypothesis CodeStatus = "hypothesis"
	CodeStatusValidated  CodeStatus = "validated"
	CodeStatusRejected   CodeStatus = "rejected"
	CodeStatusMerged     CodeStatus = "merged"
	CodeStatusSuperseded CodeStatus = "superseded"
)

func (s CodeStatus) Valid() bool {
	switch s {
	case CodeStatusPending, CodeStatusHypothesis, CodeStatusValidated,
		CodeStatusRejected, CodeStatusMerged, CodeStatusSuperseded:
		return true
	}
	return false
}

// Absorbed reports whether the status requires a canonical ID pointer.
func (s CodeStatus) Absorbed() bool {
	return s == CodeStatusMerged || s == CodeStatusSuperseded
}

// CodeSource records where a candidate came from
type CodeSource string

const (
	CodeSourceManual             CodeSource = "manual"
	CodeSourceLLM                CodeSource = "llm"
	CodeSourceSemanticSuggestion CodeSource = "semantic-suggestion"
	CodeSourceDiscovery          CodeSource = "discovery"
	CodeSourceLegacy             CodeSource = "legacy"
)

func (s CodeSource) Valid() bool {
	switch s {
	case CodeSourceManual, CodeSourceLLM, CodeSourceSemanticSuggestion, CodeSourceDiscovery, CodeSourceLegacy:
		return true
	}
	return false
}

// CodeEntry is one code in a project's catalog.
// StableID is nil only for legacy rows that predate stable identifiers.
type CodeEntry struct {
	ID                    string         `json:"id" db:"id"`
	ProjectID             string         `json:"project_id" db:"project_id"`
	StableID              *int64         `json:"stable_id,omitempty" db:"stable_id"`
	Label                 string         `json:"label" db:"label"`
	NormalizedLabel       string         `json:"normalized_label" db:"normalized_label"`
	Status                CodeStatus     `json:"status" db:"status"`
	CanonicalLabelPointer *string        `json:"canonical_label_pointer,omitempty" db:"canonical_label_pointer"`
	CanonicalIDPointer    *int64         `json:"canonical_id_pointer,omitempty" db:"canonical_id_pointer"`
	Source                CodeSource     `json:"source" db:"source"`
	EvidenceRefs          pq.StringArray `json:"evidence_refs" db:"evidence_refs"`
	Confidence            *float64       `json:"confidence,omitempty" db:"confidence"`
	Memo                  *string        `json:"memo,omitempty" db:"memo"`
	PromotedAt            *time.Time     `json:"promoted_at,omitempty" db:"promoted_at"`
	Version               int            `json:"version" db:"version"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// SID returns the stable id or 0 for legacy rows.
func (e *CodeEntry) SID() int64 {
	if e.StableID == nil {
		return 0
	}
	return *e.StableID
}

func (e *CodeEntry) HasStableID() bool {
	return e.StableID != nil
}

// IsTerminal reports whether resolution stops at this entry.
func (e *CodeEntry) IsTerminal() bool {
	return e.CanonicalIDPointer == nil || (e.StableID != nil && *e.CanonicalIDPointer == *e.StableID)
}

// HoldsCanonicalSlot reports whether the entry competes for its normalized label's canonical slot.
func (e *CodeEntry) HoldsCanonicalSlot() bool {
	return e.IsTerminal() && e.Status != CodeStatusRejected && !e.Status.Absorbed()
}

func (e *CodeEntry) IsPromoted() bool {
	return e.PromotedAt != nil
}

// Clone returns a deep copy.
func (e *CodeEntry) Clone() *CodeEntry {
	c := *e
	if e.StableID != nil {
		v := *e.StableID
		c.StableID = &v
	}
	if e.CanonicalIDPointer != nil {
		v := *e.CanonicalIDPointer
		c.CanonicalIDPointer = &v
	}
	if e.CanonicalLabelPointer != nil {
		v := *e.CanonicalLabelPointer
		c.CanonicalLabelPointer = &v
	}
	if e.Confidence != nil {
		v := *e.Confidence
		c.Confidence = &v
	}
	if e.Memo != nil {
		v := *e.Memo
		c.Memo = &v
	}
	if e.PromotedAt != nil {
		v := *e.PromotedAt
		c.PromotedAt = &v
	}
	c.EvidenceRefs = append(pq.StringArray(nil), e.EvidenceRefs...)
	return &c
}

// AddEvidence appends refs not already present, keeping order. It returns the number added.
func (e *CodeEntry) AddEvidence(refs ...string) int {
	seen := make(map[string]struct{}, len(e.EvidenceRefs))
	for _, r := range e.EvidenceRefs {
		seen[r] = struct{}{}
	}
	added := 0
	for _, r := range refs {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		e.EvidenceRefs = append(e.EvidenceRefs, r)
		added++
	}
	return added
}

// EntryFilter narrows ListEntries
type EntryFilter struct {
	Statuses []CodeStatus
	Promoted *bool
	Limit    int
	Offset   int
}

// CreateCandidateRequest is the request to register a new code candidate
type CreateCandidateRequest struct {
	ProjectID    string           `json:"-"`
	Label        string           `json:"label" validate:"required,max=512"`
	Source       CodeSource       `json:"source" validate:"omitempty,oneof=manual llm semantic-suggestion discovery legacy"`
	EvidenceRefs []string         `json:"evidence_refs,omitempty" validate:"dive,required"`
	Confidence   *float64         `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Memo         *string          `json:"memo,omitempty"`
	Similarity   []SimilarityHint `json:"similarity,omitempty" validate:"dive"`
	Actor        string           `json:"-"`
}

// SimilarityHint is an externally computed similarity between a new label and an existing code
type SimilarityHint struct {
	StableID int64   `json:"stable_id" validate:"required"`
	Score    float64 `json:"score" validate:"gte=0,lte=1"`
}

// DuplicateClass classifies a candidate against existing codes
type DuplicateClass string

const (
	DuplicateExact DuplicateClass = "exact"
	DuplicateNear  DuplicateClass = "near"
	DuplicateNone  DuplicateClass = "none"
)

// DuplicateAdvice is advisory; it never blocks insertion
type DuplicateAdvice struct {
	Classification DuplicateClass `json:"classification"`
	Score          float64        `json:"score,omitempty"`
	Threshold      float64        `json:"threshold"`
	Match          *CodeEntry     `json:"match,omitempty"`
}

type CreateCandidateResult struct {
	Entry  *CodeEntry       `json:"entry"`
	Advice *DuplicateAdvice `json:"advice"`
}
