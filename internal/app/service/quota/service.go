package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/internal/scraper"
	"github.com/clubops/fanquota/pkg/metrics"
	"github.com/clubops/fanquota/pkg/tool"
)

// consecutiveLookback bounds how far back the behind-streak scan walks.
const consecutiveLookback = 10

// Service reconciles scraped period snapshots into the progress ledger.
type Service struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	clubs   *club.Service
	roster  *roster.Service
	metrics *metrics.Set
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, clubs *club.Service, rosterSvc *roster.Service, set *metrics.Set) *Service {
	return &Service{db: db, log: log, clubs: clubs, roster: rosterSvc, metrics: set}
}

// Result summarizes one reconcile pass.
type Result struct {
	NewMembers     int
	UpdatedMembers int
	ResetDetected  bool
}

// Reconcile applies one snapshot to the ledger under effectiveDate. The pass
// is idempotent: re-running the same snapshot for the same date rewrites the
// same rows.
func (s *Service) Reconcile(ctx context.Context, c *models.Club, snap *scraper.PeriodSnapshot, effectiveDate time.Time) (*Result, error) {
	res := &Result{}

	reset, err := s.detectPeriodReset(ctx, c, snap)
	if err != nil {
		return nil, fmt.Errorf("reset detection: %w", err)
	}
	if reset {
		if err := s.purgeForReset(ctx, c); err != nil {
			return nil, fmt.Errorf("period reset purge: %w", err)
		}
		res.ResetDetected = true
		if s.metrics != nil {
			s.metrics.ResetsDetected.Inc()
		}
	}

	if err := s.deactivateAbsent(ctx, c, snap); err != nil {
		return nil, fmt.Errorf("absentee sweep: %w", err)
	}

	entries, err := s.clubs.ScheduleEntries(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	for key, sample := range snap.Members {
		created, err := s.reconcileMember(ctx, c, key, sample, snap.CurrentDayIndex, effectiveDate, entries)
		if err != nil {
			s.log.Errorw("failed to reconcile member, skipping",
				"club", c.Name, "member", sample.DisplayName, "error", err)
			continue
		}
		switch created {
		case memberCreated:
			res.NewMembers++
		case memberUpdated:
			res.UpdatedMembers++
		}
	}

	s.log.Infow("reconcile pass complete",
		"club", c.Name,
		"effective_date", tool.FormatDate(effectiveDate),
		"new_members", res.NewMembers,
		"updated_members", res.UpdatedMembers,
		"reset", res.ResetDetected)
	return res, nil
}

// detectPeriodReset compares each scraped member's latest value against the
// stored cumulative from the last pass. A drop below half of any previous
// value, while still positive, means the source rolled into a new period.
// A drop to exactly zero is indistinguishable from a member who has not
// started yet, so it never triggers.
func (s *Service) detectPeriodReset(ctx context.Context, c *models.Club, snap *scraper.PeriodSnapshot) (bool, error) {
	for _, sample := range snap.Members {
		if len(sample.DailyValues) == 0 {
			continue
		}
		latest := sample.DailyValues[len(sample.DailyValues)-1]
		if latest <= 0 {
			continue
		}
		m, err := s.resolveMember(ctx, c.ID, sample)
		if err != nil {
			return false, err
		}
		if m == nil {
			continue
		}
		prev, err := s.LatestEntry(ctx, m.ID)
		if err != nil {
			return false, err
		}
		if prev == nil || prev.CumulativeProgress <= 0 {
			continue
		}
		if latest*2 < prev.CumulativeProgress {
			s.log.Warnw("period reset detected",
				"club", c.Name, "member", m.DisplayName,
				"previous", prev.CumulativeProgress, "current", latest)
			return true, nil
		}
	}
	return false, nil
}

// purgeForReset clears period-scoped state in one transaction: the ledger,
// all bombs, the quota schedule, and every automatic deactivation. Manual
// deactivations survive the rollover.
func (s *Service) purgeForReset(ctx context.Context, c *models.Club) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("club_id = ?", c.ID).Delete(&models.ProgressEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("club_id = ?", c.ID).Delete(&models.Bomb{}).Error; err != nil {
			return err
		}
		if err := tx.Where("club_id = ?", c.ID).Delete(&models.QuotaScheduleEntry{}).Error; err != nil {
			return err
		}
		reactivated, err := s.roster.WithTx(tx).ReactivateAbsentees(ctx, c.ID)
		if err != nil {
			return err
		}
		s.log.Warnw("period state purged", "club", c.Name, "reactivated_members", reactivated)
		return nil
	})
}

// deactivateAbsent marks every active member missing from the snapshot as
// automatically deactivated.
func (s *Service) deactivateAbsent(ctx context.Context, c *models.Club, snap *scraper.PeriodSnapshot) error {
	active, err := s.roster.ListActive(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, m := range active {
		if memberPresent(m, snap) {
			continue
		}
		if err := s.roster.Deactivate(ctx, m, false); err != nil {
			s.log.Errorw("deactivation failed, skipping member",
				"club", c.Name, "member", m.DisplayName, "error", err)
		}
	}
	return nil
}

func memberPresent(m *models.Member, snap *scraper.PeriodSnapshot) bool {
	if m.ExternalID != nil {
		if _, ok := snap.Members[*m.ExternalID]; ok {
			return true
		}
	}
	_, ok := snap.Members[m.DisplayName]
	return ok
}

func (s *Service) resolveMember(ctx context.Context, clubID string, sample scraper.MemberSample) (*models.Member, error) {
	if sample.ExternalID != "" {
		m, err := s.roster.FindByExternalID(ctx, clubID, sample.ExternalID)
		if err != nil || m != nil {
			return m, err
		}
	}
	return s.roster.FindByName(ctx, clubID, sample.DisplayName)
}

type memberOutcome int

const (
	memberSkipped memberOutcome = iota
	memberCreated
	memberUpdated
)

func (s *Service) reconcileMember(ctx context.Context, c *models.Club, key string, sample scraper.MemberSample, currentDay int, effectiveDate time.Time, entries []models.QuotaScheduleEntry) (memberOutcome, error) {
	if len(sample.DailyValues) == 0 {
		s.log.Warnw("member sample has no daily values, skipping",
			"club", c.Name, "member", sample.DisplayName)
		return memberSkipped, nil
	}

	idx := currentDay - 1
	if idx < 0 {
		s.log.Warnw("current day index below range, clamping",
			"club", c.Name, "member", sample.DisplayName, "current_day", currentDay)
		idx = 0
	}
	if idx >= len(sample.DailyValues) {
		s.log.Warnw("current day index beyond sample range, clamping",
			"club", c.Name, "member", sample.DisplayName,
			"current_day", currentDay, "values", len(sample.DailyValues))
		idx = len(sample.DailyValues) - 1
	}
	cumulative := sample.DailyValues[idx]
	if cumulative < 0 {
		cumulative = 0
	}

	m, err := s.resolveMember(ctx, c.ID, sample)
	if err != nil {
		return memberSkipped, err
	}

	outcome := memberUpdated
	if m == nil {
		joinDate := inferJoinDate(sample.JoinDayIndex, effectiveDate)
		var extID *string
		if sample.ExternalID != "" {
			id := sample.ExternalID
			extID = &id
		}
		m, err = s.roster.Create(ctx, c.ID, sample.DisplayName, extID, joinDate)
		if err != nil {
			return memberSkipped, err
		}
		s.log.Infow("new member joined",
			"club", c.Name, "member", m.DisplayName, "join_date", m.JoinDate)
		outcome = memberCreated
	} else {
		if m.ManuallyDeactivated {
			return memberSkipped, nil
		}
		if m.DisplayName != sample.DisplayName {
			if err := s.roster.UpdateDisplayName(ctx, m, sample.DisplayName); err != nil {
				return memberSkipped, err
			}
		}
		if m.ExternalID == nil && sample.ExternalID != "" {
			if err := s.roster.SetExternalID(ctx, m, sample.ExternalID); err != nil {
				return memberSkipped, err
			}
		}
		if !m.IsActive {
			if err := s.roster.Reactivate(ctx, m); err != nil {
				return memberSkipped, err
			}
		}
	}

	if err := s.roster.UpdateLastSeen(ctx, m, effectiveDate); err != nil {
		return memberSkipped, err
	}

	expected := s.expectedProgress(c, m, effectiveDate, entries)
	deficit := cumulative - expected

	consecutive := 0
	if deficit < 0 {
		consecutive, err = s.behindStreak(ctx, m.ID, effectiveDate)
		if err != nil {
			return memberSkipped, err
		}
	}

	entry := &models.ProgressEntry{
		ID:                    tool.GenerateUUIDV7(),
		MemberID:              m.ID,
		ClubID:                c.ID,
		Date:                  tool.FormatDate(effectiveDate),
		CumulativeProgress:    cumulative,
		ExpectedProgress:      expected,
		DeficitSurplus:        deficit,
		ConsecutiveDaysBehind: consecutive,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "member_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cumulative_progress", "expected_progress", "deficit_surplus", "consecutive_days_behind",
		}),
	}).Create(entry).Error
	if err != nil {
		return memberSkipped, fmt.Errorf("ledger upsert: %w", err)
	}

	if s.metrics != nil {
		kind := "existing"
		if outcome == memberCreated {
			kind = "new"
		}
		s.metrics.MembersUpserted.WithLabelValues(kind).Inc()
	}
	return outcome, nil
}

// inferJoinDate maps a 1-based day-of-period index onto a calendar date. An
// index past today's day number can only belong to the previous month.
func inferJoinDate(joinDay int, effectiveDate time.Time) time.Time {
	if joinDay < 1 {
		joinDay = 1
	}
	base := tool.FirstOfMonth(effectiveDate)
	if joinDay > effectiveDate.Day() {
		base = base.AddDate(0, -1, 0)
	}
	if max := tool.DaysInMonth(base); joinDay > max {
		joinDay = max
	}
	return base.AddDate(0, 0, joinDay-1)
}

// expectedProgress sums the schedule-resolved daily quota for every counted
// day: from the member's join date when they joined this period, else from
// the first of the period, through the effective date inclusive.
func (s *Service) expectedProgress(c *models.Club, m *models.Member, effectiveDate time.Time, entries []models.QuotaScheduleEntry) int {
	start := tool.FirstOfMonth(effectiveDate)
	if join, err := tool.ParseDate(m.JoinDate); err == nil && tool.SameMonth(join, effectiveDate) {
		start = join
	}
	total := 0
	for day := start; !day.After(effectiveDate); day = day.AddDate(0, 0, 1) {
		total += club.ResolveDailyQuota(entries, c.DailyQuota, day)
	}
	return total
}

// behindStreak counts today plus the unbroken run of behind days directly
// before effectiveDate, scanning at most consecutiveLookback stored rows.
func (s *Service) behindStreak(ctx context.Context, memberID string, effectiveDate time.Time) (int, error) {
	var prior []models.ProgressEntry
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND date < ?", memberID, tool.FormatDate(effectiveDate)).
		Order("date desc").
		Limit(consecutiveLookback).
		Find(&prior).Error
	if err != nil {
		return 0, err
	}
	streak := 1
	for _, e := range prior {
		if e.DeficitSurplus >= 0 {
			break
		}
		streak++
	}
	return streak, nil
}

// LatestEntry returns the member's newest ledger row, nil when none exists.
func (s *Service) LatestEntry(ctx context.Context, memberID string) (*models.ProgressEntry, error) {
	var e models.ProgressEntry
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("date desc").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RecentEntries returns up to n newest ledger rows for a member, newest first.
func (s *Service) RecentEntries(ctx context.Context, memberID string, n int) ([]models.ProgressEntry, error) {
	var entries []models.ProgressEntry
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("date desc").
		Limit(n).
		Find(&entries).Error
	return entries, err
}

// EntriesForDate returns the club-wide ledger rows written for one date.
func (s *Service) EntriesForDate(ctx context.Context, clubID string, date time.Time) ([]models.ProgressEntry, error) {
	var entries []models.ProgressEntry
	err := s.db.WithContext(ctx).
		Where("club_id = ? AND date = ?", clubID, tool.FormatDate(date)).
		Find(&entries).Error
	return entries, err
}
