package scrapelock

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
	"github.com/clubops/fanquota/pkg/tool"
)

func newManager(t *testing.T) (*Manager, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScrapeLock{}))
	clk := clock.NewFakeClock(time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC))
	cfg := &cfgpkg.Config{Pipeline: cfgpkg.PipelineConfig{LockTimeoutMinutes: 30}}
	return NewManager(db, zap.NewNop().Sugar(), clk, cfg), clk
}

func TestAcquireIsExclusive(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	clubID := tool.GenerateUUIDV7()

	ok, err := m.Acquire(ctx, clubID, "scheduled-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, clubID, "manual-b")
	require.NoError(t, err)
	require.False(t, ok)

	holder, err := m.Holder(ctx, clubID)
	require.NoError(t, err)
	require.NotNil(t, holder)
	require.Equal(t, "scheduled-a", holder.LockedBy)
}

func TestLocksAreIndependentPerClub(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, tool.GenerateUUIDV7(), "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, tool.GenerateUUIDV7(), "b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseThenReacquire(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	clubID := tool.GenerateUUIDV7()

	ok, err := m.Acquire(ctx, clubID, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.Release(ctx, clubID))

	ok, err = m.Acquire(ctx, clubID, "b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseWithoutLockIsNoop(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Release(context.Background(), tool.GenerateUUIDV7()))
}

func TestStaleLockIsTakenOver(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()
	clubID := tool.GenerateUUIDV7()

	ok, err := m.Acquire(ctx, clubID, "crashed-run")
	require.NoError(t, err)
	require.True(t, ok)

	// Within the timeout the lock still holds.
	clk.Advance(29 * time.Minute)
	ok, err = m.Acquire(ctx, clubID, "too-early")
	require.NoError(t, err)
	require.False(t, ok)

	locked, err := m.IsLocked(ctx, clubID)
	require.NoError(t, err)
	require.True(t, locked)

	// Past the timeout the stale row is purged and the lock moves on.
	clk.Advance(2 * time.Minute)
	ok, err = m.Acquire(ctx, clubID, "fresh-run")
	require.NoError(t, err)
	require.True(t, ok)

	holder, err := m.Holder(ctx, clubID)
	require.NoError(t, err)
	require.Equal(t, "fresh-run", holder.LockedBy)
}

// newWaitManager runs on the system clock with a tight poll so waiting
// paths finish in milliseconds.
func newWaitManager(t *testing.T) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ScrapeLock{}))
	cfg := &cfgpkg.Config{Pipeline: cfgpkg.PipelineConfig{LockTimeoutMinutes: 30}}
	m := NewManager(db, zap.NewNop().Sugar(), clock.System(), cfg)
	m.poll = 5 * time.Millisecond
	return m
}

func TestAcquireWaitTakesFreeLockImmediately(t *testing.T) {
	m := newWaitManager(t)
	ctx := context.Background()

	ok, err := m.AcquireWait(ctx, tool.GenerateUUIDV7(), "manual", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAcquireWaitOutlastsContention(t *testing.T) {
	m := newWaitManager(t)
	ctx := context.Background()
	clubID := tool.GenerateUUIDV7()

	ok, err := m.Acquire(ctx, clubID, "scheduled")
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.Release(context.Background(), clubID)
	}()

	ok, err = m.AcquireWait(ctx, clubID, "manual", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	holder, err := m.Holder(ctx, clubID)
	require.NoError(t, err)
	require.Equal(t, "manual", holder.LockedBy)
}

func TestAcquireWaitGivesUpAfterBudget(t *testing.T) {
	m := newWaitManager(t)
	ctx := context.Background()
	clubID := tool.GenerateUUIDV7()

	ok, err := m.Acquire(ctx, clubID, "scheduled")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.AcquireWait(ctx, clubID, "manual", 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	holder, err := m.Holder(ctx, clubID)
	require.NoError(t, err)
	require.Equal(t, "scheduled", holder.LockedBy)
}

func TestReleaseAll(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Acquire(ctx, tool.GenerateUUIDV7(), "x")
		require.NoError(t, err)
		require.True(t, ok)
	}
	n, err := m.ReleaseAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}
