package events

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// EventType defines the type of event
type EventType string

const (
	EventTypeCodeCreated          EventType = "code.created"
	EventTypeCodeEvidenceAttached EventType = "code.evidence_attached"
	EventTypeCodeValidated        EventType = "code.validated"
	EventTypeCodeRejected         EventType = "code.rejected"
	EventTypeCodeReverted         EventType = "code.reverted"
	EventTypeCodePromoted         EventType = "code.promoted"
	EventTypeCodeSuperseded       EventType = "code.superseded"
	EventTypeCodeRelabeled        EventType = "code.relabeled"
	EventTypeCodeRepaired         EventType = "code.repaired"
	EventTypeCodesMerged          EventType = "codes.merged"

	EventTypeProjectFrozen   EventType = "project.frozen"
	EventTypeProjectUnfrozen EventType = "project.unfrozen"
)
