package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/api/handlers"
	"github.com/clubops/fanquota/internal/app/api/middleware"
	cfgpkg "github.com/clubops/fanquota/pkg/config"
)

type Handlers struct {
	fx.In

	Health *handlers.HealthHandler
	Clubs  *handlers.ClubHandler
	Member *handlers.MemberHandler
	Runs   *handlers.RunHandler
}

func NewEngine(cfg *cfgpkg.Config, log *zap.SugaredLogger, h Handlers) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Trace(log))
	engine.Use(middleware.AccessLog(log))

	engine.GET("/healthz", h.Health.Healthz)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/clubs", h.Clubs.Create)
		v1.GET("/clubs", h.Clubs.List)
		v1.GET("/clubs/:id", h.Clubs.Get)
		v1.PATCH("/clubs/:id", h.Clubs.Update)
		v1.DELETE("/clubs/:id", h.Clubs.Purge)
		v1.POST("/clubs/:id/deactivate", h.Clubs.Deactivate)
		v1.POST("/clubs/:id/reactivate", h.Clubs.Reactivate)
		v1.POST("/clubs/:id/schedule", h.Clubs.AppendSchedule)
		v1.GET("/clubs/:id/schedule", h.Clubs.Timeline)
		v1.GET("/clubs/:id/status", h.Clubs.Status)
		v1.GET("/clubs/:id/bombs", h.Clubs.Bombs)
		v1.GET("/clubs/:id/members", h.Member.List)
		v1.POST("/clubs/:id/members", h.Member.Create)
		v1.POST("/clubs/:id/runs", h.Runs.Trigger)
		v1.GET("/clubs/:id/runs", h.Runs.History)
		v1.GET("/clubs/:id/lock", h.Runs.Lock)
		v1.DELETE("/clubs/:id/lock", h.Runs.ReleaseLock)
		v1.DELETE("/locks", h.Runs.ReleaseAllLocks)
		v1.POST("/members/:id/deactivate", h.Member.Deactivate)
		v1.POST("/members/:id/reactivate", h.Member.Reactivate)
		v1.GET("/members/:id/history", h.Member.History)
	}
	return engine
}

func runServer(lc fx.Lifecycle, engine *gin.Engine, cfg *cfgpkg.Config, log *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("http server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(
		handlers.NewHealthHandler,
		handlers.NewClubHandler,
		handlers.NewMemberHandler,
		handlers.NewRunHandler,
		NewEngine,
	),
	fx.Invoke(runServer),
)
