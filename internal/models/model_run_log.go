package models

import (
	"time"

	"gorm.io/datatypes"
)

type RunOutcome string

const (
	RunOutcomeOK           RunOutcome = "ok"
	RunOutcomeBusy         RunOutcome = "busy"
	RunOutcomeSourceFailed RunOutcome = "source_failed"
	RunOutcomeError        RunOutcome = "error"
)

// RunCounts is the jsonb summary stored with each completed run.
type RunCounts struct {
	NewMembers        int  `json:"new_members"`
	UpdatedMembers    int  `json:"updated_members"`
	BombsActivated    int  `json:"bombs_activated"`
	BombsDeactivated  int  `json:"bombs_deactivated"`
	FlaggedForRemoval int  `json:"flagged_for_removal"`
	ResetDetected     bool `json:"reset_detected"`
}

// RunLog records one pipeline invocation per row so operators can audit
// scheduled and manual runs without trawling logs.
type RunLog struct {
	ID            string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ClubID        string     `gorm:"column:club_id;type:uuid;not null;index" json:"club_id"`
	EffectiveDate string     `gorm:"column:effective_date;type:date" json:"effective_date"`
	Trigger       string     `gorm:"column:trigger;type:varchar(32);not null" json:"trigger"`
	Outcome       RunOutcome `gorm:"column:outcome;type:varchar(32);not null" json:"outcome"`
	Error         string     `gorm:"column:error;type:text" json:"error"`
	// Counts stores the run summary (for example bombs activated, members touched).
	Counts    datatypes.JSONType[RunCounts] `gorm:"column:counts;type:jsonb" json:"counts"`
	CreatedAt time.Time                     `json:"created_at"`
}

func (RunLog) TableName() string {
	return "run_log"
}
