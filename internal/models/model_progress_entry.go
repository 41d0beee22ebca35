package models

import "time"

// ProgressEntry is one member-day row in the progress ledger: this period's
// cumulative fan count against the expected value. Unique per (member, date);
// reconciliation overwrites in place so re-runs for the same day are
// idempotent. Rows are never deleted individually, only bulk-cleared on a
// period reset.
type ProgressEntry struct {
	ID       string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MemberID string `gorm:"column:member_id;type:uuid;not null;uniqueIndex:idx_member_date,priority:1" json:"member_id"`
	ClubID   string `gorm:"column:club_id;type:uuid;not null;index" json:"club_id"`
	Date     string `gorm:"column:date;type:date;not null;uniqueIndex:idx_member_date,priority:2" json:"date"`
	// CumulativeProgress is the period total as of Date, not lifetime.
	CumulativeProgress int `gorm:"column:cumulative_progress;not null" json:"cumulative_progress"`
	ExpectedProgress   int `gorm:"column:expected_progress;not null" json:"expected_progress"`
	// DeficitSurplus = CumulativeProgress - ExpectedProgress; negative = behind.
	DeficitSurplus        int       `gorm:"column:deficit_surplus;not null" json:"deficit_surplus"`
	ConsecutiveDaysBehind int       `gorm:"column:consecutive_days_behind;not null" json:"consecutive_days_behind"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (ProgressEntry) TableName() string {
	return "progress_entry"
}
