package models

import "time"

// ScrapeLock is the per-club advisory lock row. At most one row per club;
// rows older than the staleness window are purged before acquisition.
type ScrapeLock struct {
	ClubID   string    `gorm:"column:club_id;type:uuid;primary_key" json:"club_id"`
	LockedAt time.Time `gorm:"column:locked_at;not null" json:"locked_at"`
	LockedBy string    `gorm:"column:locked_by;type:varchar(128);not null" json:"locked_by"`
}

func (ScrapeLock) TableName() string {
	return "scrape_lock"
}
