package app

import (
	"go.uber.org/fx"

	"github.com/clubops/fanquota/internal/app/api/server"
	"github.com/clubops/fanquota/internal/app/scheduler"
	"github.com/clubops/fanquota/internal/app/service/bomb"
	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/pipeline"
	"github.com/clubops/fanquota/internal/app/service/quota"
	"github.com/clubops/fanquota/internal/app/service/report"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/internal/app/service/scrapelock"
	"github.com/clubops/fanquota/internal/platform/db"
	"github.com/clubops/fanquota/internal/scraper"
	"github.com/clubops/fanquota/pkg/clock"
	"github.com/clubops/fanquota/pkg/config"
	"github.com/clubops/fanquota/pkg/logger"
	"github.com/clubops/fanquota/pkg/metrics"
)

// Module wires the whole application: platform, services, the HTTP API and
// the scheduler.
var Module = fx.Options(
	config.Module,
	logger.Module,
	db.Module,
	metrics.Module,
	scraper.Module,

	fx.Provide(
		func() clock.Clock { return clock.System() },
		club.NewService,
		roster.NewService,
		quota.NewService,
		bomb.NewService,
		scrapelock.NewManager,
		report.NewService,
		pipeline.NewService,
		fx.Annotate(pipeline.NewLogReporter, fx.As(new(pipeline.Reporter))),
	),

	server.Module,
	scheduler.Module,
)
