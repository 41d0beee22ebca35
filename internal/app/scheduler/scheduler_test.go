package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/app/service/bomb"
	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/pipeline"
	"github.com/clubops/fanquota/internal/app/service/quota"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/internal/app/service/scrapelock"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/internal/scraper"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

type fixedSource struct {
	snap  *scraper.PeriodSnapshot
	calls int
}

func (s *fixedSource) Fetch(ctx context.Context) (*scraper.PeriodSnapshot, error) {
	s.calls++
	return s.snap, nil
}

func newScheduler(t *testing.T, clk *clock.FakeClock, source *fixedSource) (*Scheduler, *club.Service, *pipeline.Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Club{}, &models.Member{}, &models.QuotaScheduleEntry{},
		&models.ProgressEntry{}, &models.Bomb{}, &models.ScrapeLock{}, &models.RunLog{},
	))
	log := zap.NewNop().Sugar()
	cfg := &cfgpkg.Config{
		Pipeline:  cfgpkg.PipelineConfig{FetchAttempts: 1, FetchBackoffSeconds: 0, LockTimeoutMinutes: 30},
		Scheduler: cfgpkg.SchedulerConfig{Enabled: true, TickMinutes: 60},
		ClubDefaults: cfgpkg.ClubDefaults{
			DailyQuota:        1_000_000,
			BombTriggerDays:   3,
			BombCountdownDays: 7,
			Timezone:          "UTC",
			ScrapeTime:        "16:00",
		},
	}
	clubs := club.NewService(db, log, cfg)
	rosterSvc := roster.NewService(db, log)
	quotaSvc := quota.NewService(db, log, clubs, rosterSvc, nil)
	bombSvc := bomb.NewService(db, log, quotaSvc, rosterSvc, nil)
	locks := scrapelock.NewManager(db, log, clk, cfg)
	factory := scraper.Factory(func(c *models.Club) (scraper.Source, error) { return source, nil })
	pipe := pipeline.NewService(db, log, clk, locks, factory, quotaSvc, bombSvc, pipeline.NewLogReporter(log), nil, cfg)
	return New(log, clk, clubs, pipe, cfg), clubs, pipe
}

func TestTickRunsOncePerLocalDay(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.March, 3, 15, 0, 0, 0, time.UTC))
	source := &fixedSource{snap: &scraper.PeriodSnapshot{
		CurrentDayIndex: 3,
		Members: map[string]scraper.MemberSample{
			"101": {DisplayName: "haru", ExternalID: "101", DailyValues: []int{1_000_000, 2_000_000, 3_500_000}, JoinDayIndex: 1},
		},
	}}
	sched, clubs, pipe := newScheduler(t, clk, source)
	ctx := context.Background()

	_, err := clubs.Create(ctx, &club.CreateClubRequest{Name: "aurora", SourceRef: "10001"})
	require.NoError(t, err)

	// Before the club's scrape time: nothing runs.
	sched.Tick(ctx)
	require.Zero(t, source.calls)

	// Past 16:00 local: one run.
	clk.Advance(90 * time.Minute)
	sched.Tick(ctx)
	require.Equal(t, 1, source.calls)

	// Later ticks the same day are deduped through the run log.
	clk.Advance(time.Hour)
	sched.Tick(ctx)
	require.Equal(t, 1, source.calls)

	// Next day it runs again.
	clk.Advance(24 * time.Hour)
	sched.Tick(ctx)
	require.Equal(t, 2, source.calls)

	c, err := clubs.GetByName(ctx, "aurora")
	require.NoError(t, err)
	rows, err := pipe.RunHistory(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestTickSkipsInactiveClubs(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.March, 3, 17, 0, 0, 0, time.UTC))
	source := &fixedSource{snap: &scraper.PeriodSnapshot{CurrentDayIndex: 3, Members: map[string]scraper.MemberSample{}}}
	sched, clubs, _ := newScheduler(t, clk, source)
	ctx := context.Background()

	c, err := clubs.Create(ctx, &club.CreateClubRequest{Name: "aurora", SourceRef: "10001"})
	require.NoError(t, err)
	require.NoError(t, clubs.SetActive(ctx, c.ID, false))

	sched.Tick(ctx)
	require.Zero(t, source.calls)
}
