package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/tool"
)

var ErrNotFound = errors.New("member not found")

// Service is the member directory for a club's roster.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx, log: s.log}
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindByExternalID returns nil without error when no match exists, so the
// reconcile loop can fall through to a name lookup.
func (s *Service) FindByExternalID(ctx context.Context, clubID, externalID string) (*models.Member, error) {
	var m models.Member
	err := s.db.WithContext(ctx).
		Where("club_id = ? AND external_id = ?", clubID, externalID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) FindByName(ctx context.Context, clubID, displayName string) (*models.Member, error) {
	var m models.Member
	err := s.db.WithContext(ctx).
		Where("club_id = ? AND display_name = ?", clubID, displayName).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) Create(ctx context.Context, clubID, displayName string, externalID *string, joinDate time.Time) (*models.Member, error) {
	m := &models.Member{
		ID:           tool.GenerateUUIDV7(),
		ClubID:       clubID,
		ExternalID:   externalID,
		DisplayName:  displayName,
		JoinDate:     tool.FormatDate(joinDate),
		IsActive:     true,
		LastSeenDate: tool.FormatDate(joinDate),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return m, nil
}

func (s *Service) ListActive(ctx context.Context, clubID string) ([]*models.Member, error) {
	var members []*models.Member
	if err := s.db.WithContext(ctx).
		Where("club_id = ? AND is_active = ?", clubID, true).
		Order("display_name").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Service) ListAll(ctx context.Context, clubID string) ([]*models.Member, error) {
	var members []*models.Member
	if err := s.db.WithContext(ctx).
		Where("club_id = ?", clubID).
		Order("display_name").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Service) UpdateDisplayName(ctx context.Context, m *models.Member, displayName string) error {
	old := m.DisplayName
	m.DisplayName = displayName
	if err := s.db.WithContext(ctx).Model(m).Update("display_name", displayName).Error; err != nil {
		return err
	}
	s.log.Infow("member renamed", "member_id", m.ID, "from", old, "to", displayName)
	return nil
}

// SetExternalID backfills the upstream identifier on a member first created
// from a name-only source.
func (s *Service) SetExternalID(ctx context.Context, m *models.Member, externalID string) error {
	m.ExternalID = &externalID
	return s.db.WithContext(ctx).Model(m).Update("external_id", externalID).Error
}

func (s *Service) UpdateLastSeen(ctx context.Context, m *models.Member, date time.Time) error {
	m.LastSeenDate = tool.FormatDate(date)
	return s.db.WithContext(ctx).Model(m).Update("last_seen_date", m.LastSeenDate).Error
}

// Deactivate marks a member inactive. manual deactivations are sticky: they
// survive the member reappearing in scraped data and only an explicit
// Reactivate clears them.
func (s *Service) Deactivate(ctx context.Context, m *models.Member, manual bool) error {
	m.IsActive = false
	updates := map[string]interface{}{"is_active": false}
	if manual {
		m.ManuallyDeactivated = true
		updates["manually_deactivated"] = true
	}
	if err := s.db.WithContext(ctx).Model(m).Updates(updates).Error; err != nil {
		return err
	}
	s.log.Infow("member deactivated", "member_id", m.ID, "name", m.DisplayName, "manual", manual)
	return nil
}

// Reactivate restores a member and clears any manual hold.
func (s *Service) Reactivate(ctx context.Context, m *models.Member) error {
	m.IsActive = true
	m.ManuallyDeactivated = false
	if err := s.db.WithContext(ctx).Model(m).
		Updates(map[string]interface{}{"is_active": true, "manually_deactivated": false}).Error; err != nil {
		return err
	}
	s.log.Infow("member reactivated", "member_id", m.ID, "name", m.DisplayName)
	return nil
}

// ReactivateAbsentees lifts every automatic deactivation in a club. Manual
// holds stay. Used when a tracking period rolls over.
func (s *Service) ReactivateAbsentees(ctx context.Context, clubID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("club_id = ? AND is_active = ? AND manually_deactivated = ?", clubID, false, false).
		Update("is_active", true)
	return res.RowsAffected, res.Error
}
