package club

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/models"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
	"github.com/clubops/fanquota/pkg/tool"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Club{}, &models.Member{}, &models.QuotaScheduleEntry{},
		&models.ProgressEntry{}, &models.Bomb{}, &models.ScrapeLock{}, &models.RunLog{},
	))
	cfg := &cfgpkg.Config{ClubDefaults: cfgpkg.ClubDefaults{
		DailyQuota:        1_000_000,
		BombTriggerDays:   3,
		BombCountdownDays: 7,
		Timezone:          "Europe/Amsterdam",
		ScrapeTime:        "16:00",
	}}
	return NewService(db, zap.NewNop().Sugar(), cfg), db
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, _ := newService(t)
	c, err := svc.Create(context.Background(), &CreateClubRequest{Name: "aurora", SourceRef: "10001"})
	require.NoError(t, err)
	require.Equal(t, 1_000_000, c.DailyQuota)
	require.Equal(t, 3, c.BombTriggerDays)
	require.Equal(t, 7, c.BombCountdownDays)
	require.Equal(t, "Europe/Amsterdam", c.Timezone)
	require.Equal(t, "16:00", c.ScrapeTime)
	require.True(t, c.IsActive)
}

func TestCreateRejectsBadSettings(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &CreateClubRequest{Name: "x", Timezone: "Mars/Olympus"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = svc.Create(ctx, &CreateClubRequest{Name: "x", ScrapeTime: "25:99"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = svc.Create(ctx, &CreateClubRequest{Name: "x", BombTriggerDays: -1})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestScheduleResolution(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, &CreateClubRequest{Name: "aurora"})
	require.NoError(t, err)

	mar := func(d int) time.Time { return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC) }
	_, err = svc.AppendScheduleEntry(ctx, c.ID, mar(10), 2_000_000, "ops")
	require.NoError(t, err)
	_, err = svc.AppendScheduleEntry(ctx, c.ID, mar(20), 500_000, "ops")
	require.NoError(t, err)

	for _, tc := range []struct {
		day  int
		want int
	}{
		{1, 1_000_000}, {9, 1_000_000}, {10, 2_000_000}, {19, 2_000_000}, {20, 500_000}, {31, 500_000},
	} {
		got, err := svc.QuotaForDate(ctx, c, mar(tc.day))
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "day %d", tc.day)
	}
}

func TestNewestEntryShadowsSameDate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, &CreateClubRequest{Name: "aurora"})
	require.NoError(t, err)

	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	_, err = svc.AppendScheduleEntry(ctx, c.ID, day, 2_000_000, "ops")
	require.NoError(t, err)
	_, err = svc.AppendScheduleEntry(ctx, c.ID, day, 3_000_000, "ops")
	require.NoError(t, err)

	got, err := svc.QuotaForDate(ctx, c, day)
	require.NoError(t, err)
	require.Equal(t, 3_000_000, got)
}

func TestPurgeCascades(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, &CreateClubRequest{Name: "aurora"})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Member{
		ID: tool.GenerateUUIDV7(), ClubID: c.ID, DisplayName: "haru",
		JoinDate: "2026-03-01", IsActive: true, LastSeenDate: "2026-03-01",
	}).Error)
	_, err = svc.AppendScheduleEntry(ctx, c.ID, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), 2_000_000, "ops")
	require.NoError(t, err)

	require.NoError(t, svc.Purge(ctx, c.ID))

	_, err = svc.GetByID(ctx, c.ID)
	require.ErrorIs(t, err, ErrNotFound)
	var members, entries int64
	require.NoError(t, db.Model(&models.Member{}).Where("club_id = ?", c.ID).Count(&members).Error)
	require.NoError(t, db.Model(&models.QuotaScheduleEntry{}).Where("club_id = ?", c.ID).Count(&entries).Error)
	require.Zero(t, members)
	require.Zero(t, entries)
}

func TestSetActiveUnknownClub(t *testing.T) {
	svc, _ := newService(t)
	err := svc.SetActive(context.Background(), tool.GenerateUUIDV7(), false)
	require.ErrorIs(t, err, ErrNotFound)
}
