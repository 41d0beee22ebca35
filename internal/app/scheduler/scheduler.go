package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/pipeline"
	"github.com/clubops/fanquota/internal/models"
	"github.com/clubops/fanquota/pkg/clock"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

// Scheduler triggers the pipeline for each active club once its local scrape
// time has passed. It keeps no run state of its own: the scrape lock plus a
// durable run-log check make ticks safe to repeat and safe across restarts.
type Scheduler struct {
	log      *zap.SugaredLogger
	clk      clock.Clock
	clubs    *club.Service
	pipeline *pipeline.Service
	tick     time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(log *zap.SugaredLogger, clk clock.Clock, clubs *club.Service, pipelineSvc *pipeline.Service, cfg *cfgpkg.Config) *Scheduler {
	return &Scheduler{
		log:      log,
		clk:      clk,
		clubs:    clubs,
		pipeline: pipelineSvc,
		tick:     time.Duration(cfg.Scheduler.TickMinutes) * time.Minute,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.log.Infow("scheduler started", "tick", s.tick)
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one scheduling sweep over every active club.
func (s *Scheduler) Tick(ctx context.Context) {
	clubs, err := s.clubs.ListActive(ctx)
	if err != nil {
		s.log.Errorw("scheduler could not list clubs", "error", err)
		return
	}
	for _, c := range clubs {
		due, err := s.isDue(ctx, c)
		if err != nil {
			s.log.Errorw("schedule check failed", "club", c.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		if _, err := s.pipeline.Run(ctx, c, pipeline.TriggerScheduled); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				s.log.Debugw("scheduled run skipped, already in progress", "club", c.Name)
				continue
			}
			s.log.Errorw("scheduled run failed", "club", c.Name, "error", err)
		}
	}
}

// isDue reports whether the club's local scrape time has passed today and no
// scheduled run has completed yet since local midnight.
func (s *Scheduler) isDue(ctx context.Context, c *models.Club) (bool, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return false, err
	}
	at, err := time.Parse("15:04", c.ScrapeTime)
	if err != nil {
		return false, err
	}
	now := s.clk.Now().In(loc)
	target := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, loc)
	if now.Before(target) {
		return false, nil
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	ran, err := s.pipeline.CompletedSince(ctx, c.ID, midnight.UTC(), pipeline.TriggerScheduled)
	if err != nil {
		return false, err
	}
	return !ran, nil
}

// Module starts the scheduler with the application when enabled.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, s *Scheduler, cfg *cfgpkg.Config, log *zap.SugaredLogger) {
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(s.stop)
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
