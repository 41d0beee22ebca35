package models

import "time"

// Club holds per-club configuration: quota defaults, bomb thresholds,
// timezone and scrape schedule, plus routing identifiers for the
// downstream reporting boundary.
type Club struct {
	ID   string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Name string `gorm:"column:name;type:varchar(128);not null;uniqueIndex" json:"name"`
	// SourceRef identifies the club at the upstream data source
	// (circle id for the API backend, file name for the fixture backend).
	SourceRef string `gorm:"column:source_ref;type:varchar(256)" json:"source_ref"`
	// DailyQuota is the fallback fans/day amount when no schedule entry applies.
	DailyQuota int    `gorm:"column:daily_quota;not null" json:"daily_quota"`
	Timezone   string `gorm:"column:timezone;type:varchar(64);not null" json:"timezone"`
	// ScrapeTime is the local HH:MM at which the scheduler runs the daily pass.
	ScrapeTime        string `gorm:"column:scrape_time;type:varchar(5);not null" json:"scrape_time"`
	BombTriggerDays   int    `gorm:"column:bomb_trigger_days;not null" json:"bomb_trigger_days"`
	BombCountdownDays int    `gorm:"column:bomb_countdown_days;not null" json:"bomb_countdown_days"`
	IsActive          bool   `gorm:"column:is_active;not null;default:true" json:"is_active"`
	// Routing identifiers consumed by the reporting boundary; delivery is not
	// this service's concern.
	ReportChannelID *int64 `gorm:"column:report_channel_id" json:"report_channel_id"`
	AlertChannelID  *int64 `gorm:"column:alert_channel_id" json:"alert_channel_id"`
	// CreatedAt is managed by GORM and records the creation time.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is managed by GORM and records the update time.
	UpdatedAt time.Time `json:"updated_at"`
}

func (Club) TableName() string {
	return "club"
}
