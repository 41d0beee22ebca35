package club

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/models"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
	"github.com/clubops/fanquota/pkg/tool"
)

var (
	ErrNotFound      = errors.New("club not found")
	ErrInvalidConfig = errors.New("invalid club configuration")
)

// Service is the club registry: per-club configuration plus the append-only
// quota schedule.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	defaults cfgpkg.ClubDefaults
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, cfg *cfgpkg.Config) *Service {
	return &Service{db: db, log: log, defaults: cfg.ClubDefaults}
}

type CreateClubRequest struct {
	Name              string `json:"name" binding:"required"`
	SourceRef         string `json:"source_ref"`
	DailyQuota        int    `json:"daily_quota"`
	Timezone          string `json:"timezone"`
	ScrapeTime        string `json:"scrape_time"`
	BombTriggerDays   int    `json:"bomb_trigger_days"`
	BombCountdownDays int    `json:"bomb_countdown_days"`
	ReportChannelID   *int64 `json:"report_channel_id"`
	AlertChannelID    *int64 `json:"alert_channel_id"`
}

func (s *Service) Create(ctx context.Context, req *CreateClubRequest) (*models.Club, error) {
	c := &models.Club{
		ID:                tool.GenerateUUIDV7(),
		Name:              req.Name,
		SourceRef:         req.SourceRef,
		DailyQuota:        req.DailyQuota,
		Timezone:          req.Timezone,
		ScrapeTime:        req.ScrapeTime,
		BombTriggerDays:   req.BombTriggerDays,
		BombCountdownDays: req.BombCountdownDays,
		IsActive:          true,
		ReportChannelID:   req.ReportChannelID,
		AlertChannelID:    req.AlertChannelID,
	}
	if c.DailyQuota <= 0 {
		c.DailyQuota = s.defaults.DailyQuota
	}
	if c.Timezone == "" {
		c.Timezone = s.defaults.Timezone
	}
	if c.ScrapeTime == "" {
		c.ScrapeTime = s.defaults.ScrapeTime
	}
	if c.BombTriggerDays == 0 {
		c.BombTriggerDays = s.defaults.BombTriggerDays
	}
	if c.BombCountdownDays == 0 {
		c.BombCountdownDays = s.defaults.BombCountdownDays
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create club: %w", err)
	}
	s.log.Infow("club created", "club", c.Name, "daily_quota", c.DailyQuota)
	return c, nil
}

func validate(c *models.Club) error {
	if c.BombTriggerDays < 1 || c.BombCountdownDays < 1 {
		return fmt.Errorf("%w: bomb thresholds must be >= 1", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Timezone)
	}
	if _, err := time.Parse("15:04", c.ScrapeTime); err != nil {
		return fmt.Errorf("%w: scrape_time must be HH:MM", ErrInvalidConfig)
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Club, error) {
	var c models.Club
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Service) GetByName(ctx context.Context, name string) (*models.Club, error) {
	var c models.Club
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*models.Club, error) {
	var clubs []*models.Club
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&clubs).Error; err != nil {
		return nil, err
	}
	return clubs, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*models.Club, error) {
	var clubs []*models.Club
	if err := s.db.WithContext(ctx).Order("name").Find(&clubs).Error; err != nil {
		return nil, err
	}
	return clubs, nil
}

type UpdateClubRequest struct {
	SourceRef         *string `json:"source_ref"`
	DailyQuota        *int    `json:"daily_quota"`
	Timezone          *string `json:"timezone"`
	ScrapeTime        *string `json:"scrape_time"`
	BombTriggerDays   *int    `json:"bomb_trigger_days"`
	BombCountdownDays *int    `json:"bomb_countdown_days"`
	ReportChannelID   *int64  `json:"report_channel_id"`
	AlertChannelID    *int64  `json:"alert_channel_id"`
}

func (s *Service) Update(ctx context.Context, id string, req *UpdateClubRequest) (*models.Club, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SourceRef != nil {
		c.SourceRef = *req.SourceRef
	}
	if req.DailyQuota != nil {
		c.DailyQuota = *req.DailyQuota
	}
	if req.Timezone != nil {
		c.Timezone = *req.Timezone
	}
	if req.ScrapeTime != nil {
		c.ScrapeTime = *req.ScrapeTime
	}
	if req.BombTriggerDays != nil {
		c.BombTriggerDays = *req.BombTriggerDays
	}
	if req.BombCountdownDays != nil {
		c.BombCountdownDays = *req.BombCountdownDays
	}
	if req.ReportChannelID != nil {
		c.ReportChannelID = req.ReportChannelID
	}
	if req.AlertChannelID != nil {
		c.AlertChannelID = req.AlertChannelID
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, fmt.Errorf("failed to update club: %w", err)
	}
	s.log.Infow("club settings updated", "club", c.Name)
	return c, nil
}

// SetActive soft-toggles a club; history is preserved either way.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Club{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge irreversibly removes a club and every dependent row.
func (s *Service) Purge(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&models.ProgressEntry{}, &models.Bomb{}, &models.QuotaScheduleEntry{},
			&models.Member{}, &models.ScrapeLock{}, &models.RunLog{},
		} {
			if err := tx.Where("club_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&models.Club{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		s.log.Warnw("club purged", "club_id", id)
		return nil
	})
}

// AppendScheduleEntry appends one immutable quota override. Entries sharing
// an effective date are not an error; the newest one shadows on lookup.
func (s *Service) AppendScheduleEntry(ctx context.Context, clubID string, effectiveDate time.Time, dailyQuota int, setBy string) (*models.QuotaScheduleEntry, error) {
	if dailyQuota < 0 {
		return nil, fmt.Errorf("%w: daily_quota must be >= 0", ErrInvalidConfig)
	}
	e := &models.QuotaScheduleEntry{
		ID:            tool.GenerateUUIDV7(),
		ClubID:        clubID,
		EffectiveDate: tool.FormatDate(effectiveDate),
		DailyQuota:    dailyQuota,
		SetBy:         setBy,
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, fmt.Errorf("failed to append schedule entry: %w", err)
	}
	s.log.Infow("quota schedule entry appended",
		"club_id", clubID, "effective_date", e.EffectiveDate, "daily_quota", dailyQuota, "set_by", setBy)
	return e, nil
}

// ScheduleEntries returns the club's schedule sorted by effective date, then
// creation order, so ResolveDailyQuota's last-match-wins gives newest-entry
// shadowing.
func (s *Service) ScheduleEntries(ctx context.Context, clubID string) ([]models.QuotaScheduleEntry, error) {
	var entries []models.QuotaScheduleEntry
	if err := s.db.WithContext(ctx).
		Where("club_id = ?", clubID).
		Order("effective_date asc, created_at asc").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ResolveDailyQuota resolves the daily amount applicable on day: the most
// recent entry with effective_date <= day, else the club default. Pure so
// callers can resolve a whole month against one fetched slice.
func ResolveDailyQuota(entries []models.QuotaScheduleEntry, defaultQuota int, day time.Time) int {
	d := tool.FormatDate(day)
	quota := defaultQuota
	for _, e := range entries {
		if e.EffectiveDate <= d {
			quota = e.DailyQuota
		} else {
			break
		}
	}
	return quota
}

// QuotaForDate is the single-day convenience used by admin queries.
func (s *Service) QuotaForDate(ctx context.Context, c *models.Club, day time.Time) (int, error) {
	entries, err := s.ScheduleEntries(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	return ResolveDailyQuota(entries, c.DailyQuota, day), nil
}

// ScheduleForMonth lists the entries effective within ref's month, sorted.
func (s *Service) ScheduleForMonth(ctx context.Context, clubID string, ref time.Time) ([]models.QuotaScheduleEntry, error) {
	start := tool.FormatDate(tool.FirstOfMonth(ref))
	end := tool.FormatDate(tool.FirstOfMonth(ref).AddDate(0, 1, 0))
	var entries []models.QuotaScheduleEntry
	if err := s.db.WithContext(ctx).
		Where("club_id = ? AND effective_date >= ? AND effective_date < ?", clubID, start, end).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EffectiveDate < entries[j].EffectiveDate })
	return entries, nil
}
