package scrapelock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

const defaultPollInterval = 2 * time.Second

// Manager serializes pipeline runs per club through a database lock table.
// Acquisition is a single insert-on-conflict, so it is race-free across
// processes sharing the database. Contention is an expected answer, not an
// error.
type Manager struct {
	db      *gorm.DB
	log     *zap.SugaredLogger
	clk     clock.Clock
	timeout time.Duration
	poll    time.Duration
}

func NewManager(db *gorm.DB, log *zap.SugaredLogger, clk clock.Clock, cfg *cfgpkg.Config) *Manager {
	return &Manager{
		db:      db,
		log:     log,
		clk:     clk,
		timeout: time.Duration(cfg.Pipeline.LockTimeoutMinutes) * time.Minute,
		poll:    defaultPollInterval,
	}
}

// Acquire attempts to take the club's lock. false means another holder has
// it. Stale rows left by crashed holders are purged first.
func (m *Manager) Acquire(ctx context.Context, clubID, owner string) (bool, error) {
	if err := m.purgeStale(ctx); err != nil {
		return false, err
	}
	lock := &models.ScrapeLock{
		ClubID:   clubID,
		LockedAt: m.clk.Now().UTC(),
		LockedBy: owner,
	}
	res := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(lock)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	m.log.Debugw("scrape lock acquired", "club_id", clubID, "owner", owner)
	return true, nil
}

// AcquireWait polls for the lock until it is acquired, maxWait elapses, or
// ctx is done. Used by manual triggers that would rather queue briefly than
// report busy.
func (m *Manager) AcquireWait(ctx context.Context, clubID, owner string, maxWait time.Duration) (bool, error) {
	deadline := m.clk.Now().Add(maxWait)
	for {
		ok, err := m.Acquire(ctx, clubID, owner)
		if err != nil || ok {
			return ok, err
		}
		if m.clk.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Release drops the club's lock unconditionally. Releasing an absent lock is
// a no-op.
func (m *Manager) Release(ctx context.Context, clubID string) error {
	err := m.db.WithContext(ctx).
		Where("club_id = ?", clubID).
		Delete(&models.ScrapeLock{}).Error
	if err != nil {
		return err
	}
	m.log.Debugw("scrape lock released", "club_id", clubID)
	return nil
}

// Holder returns the current lock row, nil when the club is unlocked.
func (m *Manager) Holder(ctx context.Context, clubID string) (*models.ScrapeLock, error) {
	var lock models.ScrapeLock
	err := m.db.WithContext(ctx).Where("club_id = ?", clubID).First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// IsLocked reports whether a non-stale lock exists for the club.
func (m *Manager) IsLocked(ctx context.Context, clubID string) (bool, error) {
	lock, err := m.Holder(ctx, clubID)
	if err != nil {
		return false, err
	}
	if lock == nil {
		return false, nil
	}
	return m.clk.Now().UTC().Sub(lock.LockedAt) < m.timeout, nil
}

// ReleaseAll clears every lock. Operator escape hatch after a bad deploy.
func (m *Manager) ReleaseAll(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).Where("1 = 1").Delete(&models.ScrapeLock{})
	if res.RowsAffected > 0 {
		m.log.Warnw("all scrape locks force-released", "count", res.RowsAffected)
	}
	return res.RowsAffected, res.Error
}

func (m *Manager) purgeStale(ctx context.Context) error {
	cutoff := m.clk.Now().UTC().Add(-m.timeout)
	res := m.db.WithContext(ctx).
		Where("locked_at < ?", cutoff).
		Delete(&models.ScrapeLock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.log.Warnw("purged stale scrape locks", "count", res.RowsAffected)
	}
	return nil
}
