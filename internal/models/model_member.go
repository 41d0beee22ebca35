package models

import "time"

// Member is one roster entry in a club. ExternalID is the stable identity
// when the source provides one; display names are mutable and not unique.
type Member struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ClubID string `gorm:"column:club_id;type:uuid;not null;index;uniqueIndex:idx_club_external_id,priority:1" json:"club_id"`
	// ExternalID is nullable; uniqueness per club only applies when present.
	ExternalID  *string `gorm:"column:external_id;type:varchar(64);uniqueIndex:idx_club_external_id,priority:2" json:"external_id"`
	DisplayName string  `gorm:"column:display_name;type:varchar(128);not null" json:"display_name"`
	JoinDate    string  `gorm:"column:join_date;type:date;not null" json:"join_date"`
	IsActive    bool    `gorm:"column:is_active;not null;default:true" json:"is_active"`
	// ManuallyDeactivated distinguishes admin intent from auto-deactivation;
	// reconciliation must never reactivate a manually deactivated member.
	ManuallyDeactivated bool   `gorm:"column:manually_deactivated;not null;default:false" json:"manually_deactivated"`
	LastSeenDate        string `gorm:"column:last_seen_date;type:date" json:"last_seen_date"`
	// CreatedAt is managed by GORM and records the creation time.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is managed by GORM and records the update time.
	UpdatedAt time.Time `json:"updated_at"`
}

func (Member) TableName() string {
	return "member"
}
