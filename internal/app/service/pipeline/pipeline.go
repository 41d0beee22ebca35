package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/app/service/bomb"
	"github.com/clubops/fanquota/internal/app/service/quota"
	"github.com/clubops/fanquota/internal/app/service/scrapelock"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/internal/scraper"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
	"github.com/clubops/fanquota/pkg/metrics"
	"github.com/clubops/fanquota/pkg/tool"
)

var (
	// ErrAlreadyRunning means another holder has the club's scrape lock.
	ErrAlreadyRunning = errors.New("a run is already in progress for this club")
	// ErrSourceUnavailable wraps upstream fetch failures that exhausted the
	// retry budget.
	ErrSourceUnavailable = errors.New("progress source unavailable")
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// RunSummary is the outcome of one full pipeline run handed to the Reporter.
type RunSummary struct {
	Club                     *models.Club
	EffectiveDate            time.Time
	Trigger                  string
	NewMemberCount           int
	UpdatedMemberCount       int
	ResetDetected            bool
	NewlyActivatedBombs      []bomb.Activated
	DeactivatedBombs         []bomb.Deactivated
	MembersFlaggedForRemoval []*models.Member
}

// Reporter receives the summary of every successful run. Publish failures
// must not fail the run; implementations log and swallow.
type Reporter interface {
	Publish(ctx context.Context, summary *RunSummary)
}

// Service orchestrates one club's reconciliation end to end: lock, fetch,
// reconcile, bomb pass, report. The scrape lock is held for the whole run
// and released on every exit path.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	clk      clock.Clock
	locks    *scrapelock.Manager
	sources  scraper.Factory
	quota    *quota.Service
	bombs    *bomb.Service
	reporter Reporter
	metrics  *metrics.Set
	retry    RetryPolicy
}

func NewService(
	db *gorm.DB,
	log *zap.SugaredLogger,
	clk clock.Clock,
	locks *scrapelock.Manager,
	sources scraper.Factory,
	quotaSvc *quota.Service,
	bombSvc *bomb.Service,
	reporter Reporter,
	set *metrics.Set,
	cfg *cfgpkg.Config,
) *Service {
	return &Service{
		db:       db,
		log:      log,
		clk:      clk,
		locks:    locks,
		sources:  sources,
		quota:    quotaSvc,
		bombs:    bombSvc,
		reporter: reporter,
		metrics:  set,
		retry: RetryPolicy{
			MaxAttempts: cfg.Pipeline.FetchAttempts,
			BaseDelay:   time.Duration(cfg.Pipeline.FetchBackoffSeconds) * time.Second,
			Multiplier:  2,
		},
	}
}

// Run executes one reconciliation for the club. It returns ErrAlreadyRunning
// on lock contention and ErrSourceUnavailable when the upstream fetch
// exhausted its retries; any other error is a processing failure after the
// data was fetched.
func (s *Service) Run(ctx context.Context, c *models.Club, trigger string) (*RunSummary, error) {
	started := s.clk.Now()
	owner := fmt.Sprintf("%s-%s", trigger, tool.GenerateUUIDV7())

	ok, err := s.locks.Acquire(ctx, c.ID, owner)
	if err != nil {
		return nil, fmt.Errorf("lock acquire: %w", err)
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.LockContention.Inc()
		}
		s.recordRun(ctx, c, trigger, time.Time{}, models.RunOutcomeBusy, nil, ErrAlreadyRunning)
		s.log.Infow("run skipped, club is locked", "club", c.Name, "trigger", trigger)
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), c.ID); err != nil {
			s.log.Errorw("failed to release scrape lock", "club", c.Name, "error", err)
		}
	}()

	source, err := s.sources(c)
	if err != nil {
		s.recordRun(ctx, c, trigger, time.Time{}, models.RunOutcomeError, nil, err)
		return nil, err
	}

	var snap *scraper.PeriodSnapshot
	err = s.retry.Do(ctx, s.log, "fetch "+c.Name, func() error {
		var ferr error
		snap, ferr = source.Fetch(ctx)
		return ferr
	})
	if err != nil {
		s.observeRun(trigger, models.RunOutcomeSourceFailed, started)
		s.recordRun(ctx, c, trigger, time.Time{}, models.RunOutcomeSourceFailed, nil, err)
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	effectiveDate, err := s.resolveEffectiveDate(c, snap)
	if err != nil {
		s.recordRun(ctx, c, trigger, time.Time{}, models.RunOutcomeError, nil, err)
		return nil, err
	}

	res, err := s.quota.Reconcile(ctx, c, snap, effectiveDate)
	if err != nil {
		s.observeRun(trigger, models.RunOutcomeError, started)
		s.recordRun(ctx, c, trigger, effectiveDate, models.RunOutcomeError, nil, err)
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	summary := &RunSummary{
		Club:               c,
		EffectiveDate:      effectiveDate,
		Trigger:            trigger,
		NewMemberCount:     res.NewMembers,
		UpdatedMemberCount: res.UpdatedMembers,
		ResetDetected:      res.ResetDetected,
	}

	// Bomb phase order matters; a failed phase is logged and the pass moves
	// on so one bad table state cannot block reporting.
	if activated, err := s.bombs.Activate(ctx, c, effectiveDate); err != nil {
		s.log.Errorw("bomb activation pass failed", "club", c.Name, "error", err)
	} else {
		summary.NewlyActivatedBombs = activated
	}
	if err := s.bombs.Countdown(ctx, c, effectiveDate); err != nil {
		s.log.Errorw("bomb countdown pass failed", "club", c.Name, "error", err)
	}
	if defused, err := s.bombs.Deactivate(ctx, c, effectiveDate); err != nil {
		s.log.Errorw("bomb deactivation pass failed", "club", c.Name, "error", err)
	} else {
		summary.DeactivatedBombs = defused
	}
	if flagged, err := s.bombs.CheckExpired(ctx, c); err != nil {
		s.log.Errorw("bomb expiry pass failed", "club", c.Name, "error", err)
	} else {
		summary.MembersFlaggedForRemoval = flagged
	}

	s.observeRun(trigger, models.RunOutcomeOK, started)
	s.recordRun(ctx, c, trigger, effectiveDate, models.RunOutcomeOK, summary, nil)
	s.reporter.Publish(ctx, summary)

	s.log.Infow("run complete",
		"club", c.Name,
		"trigger", trigger,
		"effective_date", tool.FormatDate(effectiveDate),
		"duration", s.clk.Now().Sub(started))
	return summary, nil
}

// resolveEffectiveDate prefers the date asserted by the source (previous
// period fallback), else today in the club's timezone.
func (s *Service) resolveEffectiveDate(c *models.Club, snap *scraper.PeriodSnapshot) (time.Time, error) {
	if snap.EffectiveDate != nil {
		return tool.DateOf(*snap.EffectiveDate), nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("club timezone: %w", err)
	}
	return tool.DateOf(s.clk.Now().In(loc)), nil
}

func (s *Service) observeRun(trigger string, outcome models.RunOutcome, started time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RunsTotal.WithLabelValues(trigger, string(outcome)).Inc()
	s.metrics.RunDuration.WithLabelValues(trigger).
		Observe(float64(s.clk.Now().Sub(started).Milliseconds()))
}

func (s *Service) recordRun(ctx context.Context, c *models.Club, trigger string, effectiveDate time.Time, outcome models.RunOutcome, summary *RunSummary, runErr error) {
	row := &models.RunLog{
		ID:        tool.GenerateUUIDV7(),
		ClubID:    c.ID,
		Trigger:   trigger,
		Outcome:   outcome,
		CreatedAt: s.clk.Now().UTC(),
	}
	if !effectiveDate.IsZero() {
		row.EffectiveDate = tool.FormatDate(effectiveDate)
	}
	if runErr != nil {
		row.Error = runErr.Error()
	}
	if summary != nil {
		row.Counts = datatypes.NewJSONType(models.RunCounts{
			NewMembers:        summary.NewMemberCount,
			UpdatedMembers:    summary.UpdatedMemberCount,
			BombsActivated:    len(summary.NewlyActivatedBombs),
			BombsDeactivated:  len(summary.DeactivatedBombs),
			FlaggedForRemoval: len(summary.MembersFlaggedForRemoval),
			ResetDetected:     summary.ResetDetected,
		})
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		s.log.Errorw("failed to persist run log", "club", c.Name, "error", err)
	}
}

// CompletedSince reports whether a run with the given trigger finished
// successfully at or after since. The scheduler uses it for durable
// once-per-day dedup instead of in-process state.
func (s *Service) CompletedSince(ctx context.Context, clubID string, since time.Time, trigger string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.RunLog{}).
		Where(`club_id = ? AND "trigger" = ? AND outcome = ? AND created_at >= ?`,
			clubID, trigger, models.RunOutcomeOK, since).
		Count(&n).Error
	return n > 0, err
}

// RunHistory returns the club's most recent run log rows, newest first.
func (s *Service) RunHistory(ctx context.Context, clubID string, limit int) ([]models.RunLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []models.RunLog
	err := s.db.WithContext(ctx).
		Where("club_id = ?", clubID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
