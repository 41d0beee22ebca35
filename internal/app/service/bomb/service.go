package bomb

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/app/service/quota"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/metrics"
	"github.com/clubops/fanquota/pkg/tool"
)

// Service drives the bomb escalation state machine. The four phases must run
// in order within a pass: Activate, Countdown, Deactivate, CheckExpired.
// Deactivation after Countdown gives a recovered member their defused bomb
// the same day; expiry checking last means a bomb that just hit zero still
// gets its final deactivation chance before anyone is flagged.
type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	quota   *quota.Service
	roster  *roster.Service
	metrics *metrics.Set
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, quotaSvc *quota.Service, rosterSvc *roster.Service, set *metrics.Set) *Service {
	return &Service{db: db, log: log, quota: quotaSvc, roster: rosterSvc, metrics: set}
}

// Activated pairs a fresh bomb with its member for reporting.
type Activated struct {
	Bomb   *models.Bomb
	Member *models.Member
}

// Deactivated carries the defused bomb plus the ledger row that cleared it.
type Deactivated struct {
	Bomb   *models.Bomb
	Member *models.Member
	Entry  *models.ProgressEntry
}

// Activate plants a bomb on every active member whose behind streak has
// reached the club threshold and who does not already carry an active bomb.
// Per-member failures are logged and skipped so one bad row cannot stall the
// whole club.
func (s *Service) Activate(ctx context.Context, c *models.Club, effectiveDate time.Time) ([]Activated, error) {
	members, err := s.roster.ListActive(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	var activated []Activated
	for _, m := range members {
		b, err := s.activateFor(ctx, c, m, effectiveDate)
		if err != nil {
			s.log.Errorw("bomb activation failed, skipping member",
				"club", c.Name, "member", m.DisplayName, "error", err)
			continue
		}
		if b != nil {
			activated = append(activated, Activated{Bomb: b, Member: m})
		}
	}
	return activated, nil
}

func (s *Service) activateFor(ctx context.Context, c *models.Club, m *models.Member, effectiveDate time.Time) (*models.Bomb, error) {
	existing, err := s.ActiveForMember(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}
	latest, err := s.quota.LatestEntry(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.DeficitSurplus >= 0 || latest.ConsecutiveDaysBehind < c.BombTriggerDays {
		return nil, nil
	}
	activation := tool.FormatDate(effectiveDate)
	b := &models.Bomb{
		ID:             tool.GenerateUUIDV7(),
		MemberID:       m.ID,
		ClubID:         c.ID,
		ActivationDate: activation,
		// Stamping the countdown date up front keeps a fresh bomb at its
		// full countdown through the Countdown step of the same pass.
		LastCountdownDate: &activation,
		DaysRemaining:     c.BombCountdownDays,
		IsActive:          true,
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	s.log.Warnw("bomb activated",
		"club", c.Name, "member", m.DisplayName,
		"days_behind", latest.ConsecutiveDaysBehind, "countdown", b.DaysRemaining)
	if s.metrics != nil {
		s.metrics.BombsActivated.Inc()
	}
	return b, nil
}

// Countdown decrements every active bomb in the club at most once per
// calendar day, flooring at zero. Re-running a pass for the same date is a
// no-op.
func (s *Service) Countdown(ctx context.Context, c *models.Club, effectiveDate time.Time) error {
	bombs, err := s.listActive(ctx, c.ID)
	if err != nil {
		return err
	}
	today := tool.FormatDate(effectiveDate)
	for _, b := range bombs {
		if b.LastCountdownDate != nil && *b.LastCountdownDate >= today {
			continue
		}
		if b.DaysRemaining > 0 {
			b.DaysRemaining--
		}
		b.LastCountdownDate = &today
		err := s.db.WithContext(ctx).Model(b).
			Updates(map[string]interface{}{
				"days_remaining":      b.DaysRemaining,
				"last_countdown_date": today,
			}).Error
		if err != nil {
			s.log.Errorw("bomb countdown failed, skipping",
				"club", c.Name, "bomb_id", b.ID, "error", err)
			continue
		}
		s.log.Infow("bomb ticked",
			"club", c.Name, "bomb_id", b.ID, "days_remaining", b.DaysRemaining)
	}
	return nil
}

// Deactivate defuses every active bomb whose member's latest ledger row shows
// them back on track.
func (s *Service) Deactivate(ctx context.Context, c *models.Club, effectiveDate time.Time) ([]Deactivated, error) {
	bombs, err := s.listActive(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	var defused []Deactivated
	for _, b := range bombs {
		latest, err := s.quota.LatestEntry(ctx, b.MemberID)
		if err != nil {
			s.log.Errorw("bomb deactivation check failed, skipping",
				"club", c.Name, "bomb_id", b.ID, "error", err)
			continue
		}
		if latest == nil || latest.DeficitSurplus < 0 {
			continue
		}
		today := tool.FormatDate(effectiveDate)
		b.IsActive = false
		b.DeactivationDate = &today
		err = s.db.WithContext(ctx).Model(b).
			Updates(map[string]interface{}{
				"is_active":         false,
				"deactivation_date": today,
			}).Error
		if err != nil {
			s.log.Errorw("bomb deactivation failed, skipping",
				"club", c.Name, "bomb_id", b.ID, "error", err)
			continue
		}
		m, err := s.roster.GetByID(ctx, b.MemberID)
		if err != nil {
			s.log.Errorw("bomb deactivated but member lookup failed",
				"club", c.Name, "bomb_id", b.ID, "error", err)
			continue
		}
		s.log.Infow("bomb defused",
			"club", c.Name, "member", m.DisplayName, "surplus", latest.DeficitSurplus)
		if s.metrics != nil {
			s.metrics.BombsDefused.Inc()
		}
		defused = append(defused, Deactivated{Bomb: b, Member: m, Entry: latest})
	}
	return defused, nil
}

// CheckExpired flags members whose bomb ran out while they are still behind.
// It mutates nothing: the bomb stays active and the member stays on the
// roster until an operator acts.
func (s *Service) CheckExpired(ctx context.Context, c *models.Club) ([]*models.Member, error) {
	bombs, err := s.listActive(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	var flagged []*models.Member
	for _, b := range bombs {
		if b.DaysRemaining > 0 {
			continue
		}
		latest, err := s.quota.LatestEntry(ctx, b.MemberID)
		if err != nil {
			s.log.Errorw("expiry check failed, skipping",
				"club", c.Name, "bomb_id", b.ID, "error", err)
			continue
		}
		if latest == nil || latest.DeficitSurplus >= 0 {
			continue
		}
		m, err := s.roster.GetByID(ctx, b.MemberID)
		if err != nil {
			if errors.Is(err, roster.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !m.IsActive {
			continue
		}
		s.log.Warnw("bomb expired, member flagged for removal",
			"club", c.Name, "member", m.DisplayName, "deficit", latest.DeficitSurplus)
		flagged = append(flagged, m)
	}
	if s.metrics != nil {
		s.metrics.FlaggedMembers.Set(float64(len(flagged)))
	}
	return flagged, nil
}

// ActiveForMember returns the member's active bomb, nil when none.
func (s *Service) ActiveForMember(ctx context.Context, memberID string) (*models.Bomb, error) {
	var b models.Bomb
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND is_active = ?", memberID, true).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Service) listActive(ctx context.Context, clubID string) ([]*models.Bomb, error) {
	var bombs []*models.Bomb
	err := s.db.WithContext(ctx).
		Where("club_id = ? AND is_active = ?", clubID, true).
		Order("days_remaining asc").
		Find(&bombs).Error
	return bombs, err
}

// ListActiveWithMembers returns the club's active bombs joined with their
// members, soonest to explode first.
func (s *Service) ListActiveWithMembers(ctx context.Context, clubID string) ([]Activated, error) {
	bombs, err := s.listActive(ctx, clubID)
	if err != nil {
		return nil, err
	}
	out := make([]Activated, 0, len(bombs))
	for _, b := range bombs {
		m, err := s.roster.GetByID(ctx, b.MemberID)
		if err != nil {
			if errors.Is(err, roster.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, Activated{Bomb: b, Member: m})
	}
	return out, nil
}
