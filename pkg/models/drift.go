package models

import "time"

// FindingKind classifies a drift finding
type FindingKind string

const (
	FindingMissingStableID   FindingKind = "missing_stable_id"
	FindingMissingIDPointer  FindingKind = "missing_id_pointer"
	FindingDanglingCanonical FindingKind = "dangling_canonical"
	FindingDivergentPointers FindingKind = "divergent_pointers"
	FindingBrokenIDPointer   FindingKind = "broken_id_pointer"
	FindingCycle             FindingKind = "cycle"
)

// Finding is one inconsistency between the text-keyed and ID-keyed identity views
type Finding struct {
	Kind      FindingKind `json:"kind"`
	EntryID   string      `json:"entry_id"`
	StableID  *int64      `json:"stable_id,omitempty"`
	Label     string      `json:"label"`
	Detail    string      `json:"detail"`
	Path      []int64     `json:"path,omitempty"`
	ByID      *int64      `json:"resolved_by_id,omitempty"`
	ByIDLabel *string     `json:"resolved_by_id_label,omitempty"`
	ByLabel   *string     `json:"resolved_by_label,omitempty"`
}

// DriftReport is the result of a diagnose scan
type DriftReport struct {
	ProjectID       string    `json:"project_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	EntriesScanned  int       `json:"entries_scanned"`
	Findings        []Finding `json:"findings"`
	RecommendFreeze bool      `json:"recommend_freeze"`
}

func (r *DriftReport) Clean() bool {
	return len(r.Findings) == 0
}

// Count returns the number of findings of kind.
func (r *DriftReport) Count(kind FindingKind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

type RepairMode string

const (
	RepairDryRun RepairMode = "dry_run"
	RepairApply  RepairMode = "apply"
)

type RepairActionKind string

const (
	RepairAssignStableID RepairActionKind = "assign_stable_id"
	RepairBackfillID     RepairActionKind = "backfill_id_pointer"
	RepairRederiveLabel  RepairActionKind = "rederive_label_pointer"
)

// RepairAction is one planned or applied fix
type RepairAction struct {
	Kind     RepairActionKind `json:"kind"`
	EntryID  string           `json:"entry_id"`
	StableID *int64           `json:"stable_id,omitempty"`
	TargetID *int64           `json:"target_id,omitempty"`
	Label    string           `json:"label"`
	Before   string           `json:"before"`
	After    string           `json:"after"`
	Applied  bool             `json:"applied"`
	Skipped  bool             `json:"skipped,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// RepairReport lists actions taken (or planned) and findings left for a human
type RepairReport struct {
	ProjectID       string         `json:"project_id"`
	Mode            RepairMode     `json:"mode"`
	Actions         []RepairAction `json:"actions"`
	Unresolved      []Finding      `json:"unresolved"`
	RecommendFreeze bool           `json:"recommend_freeze"`
}

type RepairRequest struct {
	Mode RepairMode `json:"mode" validate:"required,oneof=dry_run apply"`
}
