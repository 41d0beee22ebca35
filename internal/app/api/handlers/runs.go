package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/pipeline"
	"github.com/clubops/fanquota/internal/app/service/scrapelock"
	"github.com/clubops/fanquota/pkg/logctx"
	"github.com/clubops/fanquota/pkg/response"
)

type RunHandler struct {
	log      *zap.SugaredLogger
	clubs    *club.Service
	pipeline *pipeline.Service
	locks    *scrapelock.Manager
}

func NewRunHandler(log *zap.SugaredLogger, clubs *club.Service, pipelineSvc *pipeline.Service, locks *scrapelock.Manager) *RunHandler {
	return &RunHandler{log: log, clubs: clubs, pipeline: pipelineSvc, locks: locks}
}

// Trigger starts a manual run synchronously and maps the pipeline's outcome
// taxonomy onto HTTP: contention is 409, an unreachable source is 502.
func (h *RunHandler) Trigger(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	summary, err := h.pipeline.Run(c.Request.Context(), found, pipeline.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, response.ErrorT(response.APIResponseCodeBusy, "a run is already in progress"))
		case errors.Is(err, pipeline.ErrSourceUnavailable):
			c.JSON(http.StatusBadGateway, response.ErrorT(response.APIResponseCodeUpstream, err.Error()))
		default:
			logctx.FromGin(c, h.log).Errorw("manual run failed", "club", found.Name, "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		}
		return
	}
	c.JSON(http.StatusOK, response.OKT(runSummaryView(summary)))
}

func (h *RunHandler) History(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	rows, err := h.pipeline.RunHistory(c.Request.Context(), found.ID, limit)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to load run history", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(rows))
}

func (h *RunHandler) Lock(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	holder, err := h.locks.Holder(c.Request.Context(), found.ID)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to read lock", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	// A stale row no longer counts as locked even before it is purged.
	locked, err := h.locks.IsLocked(c.Request.Context(), found.ID)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to read lock", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"locked": locked, "holder": holder}))
}

func (h *RunHandler) ReleaseLock(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	if err := h.locks.Release(c.Request.Context(), found.ID); err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to release lock", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"released": true}))
}

// ReleaseAllLocks force-clears every club's lock, for recovery after a bad
// deploy leaves holders behind.
func (h *RunHandler) ReleaseAllLocks(c *gin.Context) {
	released, err := h.locks.ReleaseAll(c.Request.Context())
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to release locks", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"released": released}))
}

func (h *RunHandler) writeClubError(c *gin.Context, err error) {
	if errors.Is(err, club.ErrNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorT(response.APIResponseCodeNotFound, "club not found"))
		return
	}
	logctx.FromGin(c, h.log).Errorw("club lookup failed", "error", err)
	c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
}

// runSummaryView flattens the summary for JSON so callers get names instead
// of nested model trees.
func runSummaryView(s *pipeline.RunSummary) gin.H {
	activated := make([]gin.H, 0, len(s.NewlyActivatedBombs))
	for _, a := range s.NewlyActivatedBombs {
		activated = append(activated, gin.H{
			"member":         a.Member.DisplayName,
			"days_remaining": a.Bomb.DaysRemaining,
		})
	}
	deactivated := make([]gin.H, 0, len(s.DeactivatedBombs))
	for _, d := range s.DeactivatedBombs {
		deactivated = append(deactivated, gin.H{
			"member":  d.Member.DisplayName,
			"surplus": d.Entry.DeficitSurplus,
		})
	}
	flagged := make([]string, 0, len(s.MembersFlaggedForRemoval))
	for _, m := range s.MembersFlaggedForRemoval {
		flagged = append(flagged, m.DisplayName)
	}
	return gin.H{
		"club":                s.Club.Name,
		"effective_date":      s.EffectiveDate.Format("2006-01-02"),
		"trigger":             s.Trigger,
		"new_members":         s.NewMemberCount,
		"updated_members":     s.UpdatedMemberCount,
		"reset_detected":      s.ResetDetected,
		"bombs_activated":     activated,
		"bombs_deactivated":   deactivated,
		"flagged_for_removal": flagged,
	}
}
