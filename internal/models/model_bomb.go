package models

import "time"

// Bomb is an escalating warning for a member who has been behind quota for
// the club's trigger threshold. At most one active bomb per member.
// An expired bomb (DaysRemaining 0, member still behind) stays active and
// is only resolved by human action.
type Bomb struct {
	ID             string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MemberID       string `gorm:"column:member_id;type:uuid;not null;index" json:"member_id"`
	ClubID         string `gorm:"column:club_id;type:uuid;not null;index" json:"club_id"`
	ActivationDate string `gorm:"column:activation_date;type:date;not null" json:"activation_date"`
	DaysRemaining  int    `gorm:"column:days_remaining;not null" json:"days_remaining"`
	IsActive       bool   `gorm:"column:is_active;not null;default:true" json:"is_active"`
	// LastCountdownDate guards the once-per-calendar-day decrement; duplicate
	// passes within the same day are no-ops.
	LastCountdownDate *string   `gorm:"column:last_countdown_date;type:date" json:"last_countdown_date"`
	DeactivationDate  *string   `gorm:"column:deactivation_date;type:date" json:"deactivation_date"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Bomb) TableName() string {
	return "bomb"
}

// Expired reports whether the countdown has run out while still active.
func (b *Bomb) Expired() bool {
	return b != nil && b.IsActive && b.DaysRemaining <= 0
}
