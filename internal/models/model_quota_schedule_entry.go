package models

import "time"

// QuotaScheduleEntry is one append-only (effective_date, daily_quota) pair.
// Entries are immutable; newer entries shadow older ones on date lookup.
// The whole table is period-scoped and cleared on a period reset.
type QuotaScheduleEntry struct {
	ID            string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ClubID        string `gorm:"column:club_id;type:uuid;not null;index" json:"club_id"`
	EffectiveDate string `gorm:"column:effective_date;type:date;not null;index" json:"effective_date"`
	DailyQuota    int    `gorm:"column:daily_quota;not null" json:"daily_quota"`
	// SetBy is an audit string naming who appended the entry.
	SetBy     string    `gorm:"column:set_by;type:varchar(128)" json:"set_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (QuotaScheduleEntry) TableName() string {
	return "quota_schedule_entry"
}
