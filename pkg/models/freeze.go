package models

import "time"

// FreezeRecord is the per-project freeze flag
type FreezeRecord struct {
	ProjectID  string     `json:"project_id" db:"project_id"`
	Active     bool       `json:"active" db:"active"`
	EngagedAt  *time.Time `json:"engaged_at,omitempty" db:"engaged_at"`
	EngagedBy  *string    `json:"engaged_by,omitempty" db:"engaged_by"`
	Reason     *string    `json:"reason,omitempty" db:"reason"`
	ReleasedAt *time.Time `json:"released_at,omitempty" db:"released_at"`
	ReleasedBy *string    `json:"released_by,omitempty" db:"released_by"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

func (f *FreezeRecord) Clone() *FreezeRecord {
	c := *f
	return &c
}

type FreezeRequest struct {
	Reason string `json:"reason" validate:"required,max=1024"`
}

type UnfreezeRequest struct {
	ConfirmationPhrase string `json:"confirmation_phrase" validate:"required"`
}
