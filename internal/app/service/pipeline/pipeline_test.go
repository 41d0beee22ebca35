package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/app/service/bomb"
	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/quota"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/internal/app/service/scrapelock"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/internal/scraper"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

type stubSource struct {
	snaps []*scraper.PeriodSnapshot
	errs  []error
	calls int
}

func (s *stubSource) Fetch(ctx context.Context) (*scraper.PeriodSnapshot, error) {
	i := s.calls
	s.calls++
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	if s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.snaps[i], nil
}

type captureReporter struct {
	summaries []*RunSummary
}

func (r *captureReporter) Publish(_ context.Context, s *RunSummary) {
	r.summaries = append(r.summaries, s)
}

type env struct {
	db       *gorm.DB
	svc      *Service
	locks    *scrapelock.Manager
	roster   *roster.Service
	quota    *quota.Service
	reporter *captureReporter
	source   *stubSource
	club     *models.Club
	clk      *clock.FakeClock
}

func newEnv(t *testing.T, source *stubSource) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Club{}, &models.Member{}, &models.QuotaScheduleEntry{},
		&models.ProgressEntry{}, &models.Bomb{}, &models.ScrapeLock{}, &models.RunLog{},
	))
	log := zap.NewNop().Sugar()
	cfg := &cfgpkg.Config{
		Pipeline: cfgpkg.PipelineConfig{
			FetchAttempts:       3,
			FetchBackoffSeconds: 0,
			LockTimeoutMinutes:  30,
		},
		ClubDefaults: cfgpkg.ClubDefaults{
			DailyQuota:        1_000_000,
			BombTriggerDays:   3,
			BombCountdownDays: 7,
			Timezone:          "UTC",
			ScrapeTime:        "16:00",
		},
	}
	clk := clock.NewFakeClock(time.Date(2026, time.March, 3, 16, 5, 0, 0, time.UTC))
	clubs := club.NewService(db, log, cfg)
	rosterSvc := roster.NewService(db, log)
	quotaSvc := quota.NewService(db, log, clubs, rosterSvc, nil)
	bombSvc := bomb.NewService(db, log, quotaSvc, rosterSvc, nil)
	locks := scrapelock.NewManager(db, log, clk, cfg)
	reporter := &captureReporter{}
	factory := scraper.Factory(func(c *models.Club) (scraper.Source, error) {
		return source, nil
	})
	c, err := clubs.Create(context.Background(), &club.CreateClubRequest{Name: "aurora", SourceRef: "10001"})
	require.NoError(t, err)
	return &env{
		db:       db,
		svc:      NewService(db, log, clk, locks, factory, quotaSvc, bombSvc, reporter, nil, cfg),
		locks:    locks,
		roster:   rosterSvc,
		quota:    quotaSvc,
		reporter: reporter,
		source:   source,
		club:     c,
		clk:      clk,
	}
}

func snapOf(day int, members map[string]scraper.MemberSample) *scraper.PeriodSnapshot {
	return &scraper.PeriodSnapshot{CurrentDayIndex: day, Members: members}
}

func growth(day, total int) []int {
	vals := make([]int, day)
	for i := range vals {
		vals[i] = total * (i + 1) / day
	}
	return vals
}

func TestRunHappyPath(t *testing.T) {
	snap := snapOf(3, map[string]scraper.MemberSample{
		"101": {DisplayName: "haru", ExternalID: "101", DailyValues: growth(3, 4_000_000), JoinDayIndex: 1},
	})
	e := newEnv(t, &stubSource{snaps: []*scraper.PeriodSnapshot{snap}, errs: []error{nil}})
	ctx := context.Background()

	summary, err := e.svc.Run(ctx, e.club, TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.NewMemberCount)
	require.Equal(t, 0, summary.UpdatedMemberCount)
	require.Equal(t, "2026-03-03", summary.EffectiveDate.Format("2006-01-02"))
	require.Len(t, e.reporter.summaries, 1)

	// Lock must be free again.
	ok, err := e.locks.Acquire(ctx, e.club.ID, "probe")
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := e.svc.RunHistory(ctx, e.club.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.RunOutcomeOK, rows[0].Outcome)
	require.Equal(t, 1, rows[0].Counts.Data().NewMembers)
}

func TestRunBusyWhenLocked(t *testing.T) {
	snap := snapOf(1, map[string]scraper.MemberSample{})
	e := newEnv(t, &stubSource{snaps: []*scraper.PeriodSnapshot{snap}, errs: []error{nil}})
	ctx := context.Background()

	ok, err := e.locks.Acquire(ctx, e.club.ID, "other-run")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.svc.Run(ctx, e.club, TriggerScheduled)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Zero(t, e.source.calls)

	rows, err := e.svc.RunHistory(ctx, e.club.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.RunOutcomeBusy, rows[0].Outcome)
}

func TestRunRetriesThenFails(t *testing.T) {
	boom := errors.New("upstream down")
	e := newEnv(t, &stubSource{
		snaps: []*scraper.PeriodSnapshot{nil, nil, nil},
		errs:  []error{boom, boom, boom},
	})
	ctx := context.Background()

	_, err := e.svc.Run(ctx, e.club, TriggerScheduled)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.Equal(t, 3, e.source.calls)

	// Failure paths release the lock too.
	ok, err := e.locks.Acquire(ctx, e.club.ID, "probe")
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := e.svc.RunHistory(ctx, e.club.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.RunOutcomeSourceFailed, rows[0].Outcome)
}

func TestRunRecoversWithinRetryBudget(t *testing.T) {
	snap := snapOf(1, map[string]scraper.MemberSample{
		"101": {DisplayName: "haru", ExternalID: "101", DailyValues: growth(1, 1_200_000), JoinDayIndex: 1},
	})
	boom := errors.New("flaky")
	e := newEnv(t, &stubSource{
		snaps: []*scraper.PeriodSnapshot{nil, nil, snap},
		errs:  []error{boom, boom, nil},
	})

	summary, err := e.svc.Run(context.Background(), e.club, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 3, e.source.calls)
	require.Equal(t, 1, summary.NewMemberCount)
}

func TestRunHonorsSourceEffectiveDate(t *testing.T) {
	// Source fell back to the previous period: last day of February.
	fallback := time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC)
	snap := &scraper.PeriodSnapshot{
		CurrentDayIndex: 28,
		EffectiveDate:   &fallback,
		Members: map[string]scraper.MemberSample{
			"101": {DisplayName: "haru", ExternalID: "101", DailyValues: growth(28, 30_000_000), JoinDayIndex: 1},
		},
	}
	e := newEnv(t, &stubSource{snaps: []*scraper.PeriodSnapshot{snap}, errs: []error{nil}})
	ctx := context.Background()

	summary, err := e.svc.Run(ctx, e.club, TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, "2026-02-28", summary.EffectiveDate.Format("2006-01-02"))

	m, err := e.roster.FindByExternalID(ctx, e.club.ID, "101")
	require.NoError(t, err)
	entry, err := e.quota.LatestEntry(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "2026-02-28", entry.Date)
}

func TestRunReportsBombLifecycle(t *testing.T) {
	e := newEnv(t, &stubSource{snaps: []*scraper.PeriodSnapshot{nil}, errs: []error{nil}})
	ctx := context.Background()

	// Three behind days via direct reconciles, then a run on day 3 that
	// should activate the bomb and include it in the summary.
	for day := 1; day <= 2; day++ {
		snap := snapOf(day, map[string]scraper.MemberSample{
			"101": {DisplayName: "haru", ExternalID: "101", DailyValues: growth(day, day*500_000), JoinDayIndex: 1},
		})
		_, err := e.quota.Reconcile(ctx, e.club, snap, time.Date(2026, time.March, day, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}
	e.source.snaps = []*scraper.PeriodSnapshot{snapOf(3, map[string]scraper.MemberSample{
		"101": {DisplayName: "haru", ExternalID: "101", DailyValues: growth(3, 1_500_000), JoinDayIndex: 1},
	})}

	summary, err := e.svc.Run(ctx, e.club, TriggerScheduled)
	require.NoError(t, err)
	require.Len(t, summary.NewlyActivatedBombs, 1)
	require.Equal(t, "haru", summary.NewlyActivatedBombs[0].Member.DisplayName)
	// The same pass's countdown must leave the fresh bomb at its full
	// countdown, in the summary and in storage.
	require.Equal(t, 7, summary.NewlyActivatedBombs[0].Bomb.DaysRemaining)

	var stored models.Bomb
	require.NoError(t, e.db.Where("club_id = ? AND is_active = ?", e.club.ID, true).First(&stored).Error)
	require.Equal(t, 7, stored.DaysRemaining)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	err := p.Do(context.Background(), zap.NewNop().Sugar(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("nope")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = p.Do(context.Background(), zap.NewNop().Sugar(), "op", func() error {
		calls++
		return errors.New("always")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}
