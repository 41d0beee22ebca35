package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/report"
	"github.com/clubops/fanquota/pkg/logctx"
	"github.com/clubops/fanquota/pkg/response"
	"github.com/clubops/fanquota/pkg/tool"
)

type ClubHandler struct {
	log    *zap.SugaredLogger
	clubs  *club.Service
	report *report.Service
}

func NewClubHandler(log *zap.SugaredLogger, clubs *club.Service, reportSvc *report.Service) *ClubHandler {
	return &ClubHandler{log: log, clubs: clubs, report: reportSvc}
}

func (h *ClubHandler) Create(c *gin.Context) {
	var req club.CreateClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	created, err := h.clubs.Create(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, club.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		logctx.FromGin(c, h.log).Errorw("failed to create club", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(created))
}

func (h *ClubHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		clubs interface{}
		err   error
	)
	if c.Query("active") == "true" {
		clubs, err = h.clubs.ListActive(ctx)
	} else {
		clubs, err = h.clubs.ListAll(ctx)
	}
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to list clubs", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(clubs))
}

func (h *ClubHandler) Get(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(found))
}

func (h *ClubHandler) Update(c *gin.Context) {
	var req club.UpdateClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	updated, err := h.clubs.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, club.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		h.writeClubError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(updated))
}

func (h *ClubHandler) Deactivate(c *gin.Context) {
	if err := h.clubs.SetActive(c.Request.Context(), c.Param("id"), false); err != nil {
		h.writeClubError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"deactivated": true}))
}

func (h *ClubHandler) Reactivate(c *gin.Context) {
	if err := h.clubs.SetActive(c.Request.Context(), c.Param("id"), true); err != nil {
		h.writeClubError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"reactivated": true}))
}

func (h *ClubHandler) Purge(c *gin.Context) {
	if err := h.clubs.Purge(c.Request.Context(), c.Param("id")); err != nil {
		h.writeClubError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"purged": true}))
}

type appendScheduleRequest struct {
	EffectiveDate string `json:"effective_date" binding:"required"`
	DailyQuota    int    `json:"daily_quota" binding:"min=0"`
	SetBy         string `json:"set_by"`
}

func (h *ClubHandler) AppendSchedule(c *gin.Context) {
	var req appendScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	date, err := tool.ParseDate(req.EffectiveDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, "effective_date must be YYYY-MM-DD"))
		return
	}
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	entry, err := h.clubs.AppendScheduleEntry(c.Request.Context(), found.ID, date, req.DailyQuota, req.SetBy)
	if err != nil {
		if errors.Is(err, club.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		logctx.FromGin(c, h.log).Errorw("failed to append schedule entry", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(entry))
}

func (h *ClubHandler) Timeline(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	ref := time.Now().UTC()
	if month := c.Query("month"); month != "" {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, "month must be YYYY-MM"))
			return
		}
		ref = parsed
	}
	spans, err := h.report.QuotaTimeline(c.Request.Context(), found, ref)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to build quota timeline", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(spans))
}

func (h *ClubHandler) Status(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	summary, err := h.report.ClubStatus(c.Request.Context(), found)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to build club status", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(summary))
}

func (h *ClubHandler) Bombs(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeClubError(c, err)
		return
	}
	bombs, err := h.report.BombStatus(c.Request.Context(), found)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to list bombs", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(bombs))
}

func (h *ClubHandler) writeClubError(c *gin.Context, err error) {
	if errors.Is(err, club.ErrNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorT(response.APIResponseCodeNotFound, "club not found"))
		return
	}
	logctx.FromGin(c, h.log).Errorw("club operation failed", "error", err)
	c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
}
