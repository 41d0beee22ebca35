package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/internal/app/service/club"
	"github.com/clubops/fanquota/internal/app/service/report"
	"github.com/clubops/fanquota/internal/app/service/roster"
	"github.com/clubops/fanquota/pkg/logctx"
	"github.com/clubops/fanquota/pkg/response"
	"github.com/clubops/fanquota/pkg/tool"
)

type MemberHandler struct {
	log    *zap.SugaredLogger
	clubs  *club.Service
	roster *roster.Service
	report *report.Service
}

func NewMemberHandler(log *zap.SugaredLogger, clubs *club.Service, rosterSvc *roster.Service, reportSvc *report.Service) *MemberHandler {
	return &MemberHandler{log: log, clubs: clubs, roster: rosterSvc, report: reportSvc}
}

func (h *MemberHandler) List(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, club.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT(response.APIResponseCodeNotFound, "club not found"))
			return
		}
		logctx.FromGin(c, h.log).Errorw("failed to load club", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	var members interface{}
	if c.Query("active") == "true" {
		members, err = h.roster.ListActive(c.Request.Context(), found.ID)
	} else {
		members, err = h.roster.ListAll(c.Request.Context(), found.ID)
	}
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to list members", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(members))
}

type createMemberRequest struct {
	DisplayName string  `json:"display_name" binding:"required"`
	ExternalID  *string `json:"external_id"`
	JoinDate    string  `json:"join_date"`
}

// Create adds a member ahead of their first scraped appearance, for example
// to backfill a join date.
func (h *MemberHandler) Create(c *gin.Context) {
	found, err := h.clubs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, club.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorT(response.APIResponseCodeNotFound, "club not found"))
			return
		}
		logctx.FromGin(c, h.log).Errorw("failed to load club", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	joined := time.Now().UTC()
	if req.JoinDate != "" {
		d, err := tool.ParseDate(req.JoinDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, "join_date must be YYYY-MM-DD"))
			return
		}
		joined = d
	}
	m, err := h.roster.Create(c.Request.Context(), found.ID, req.DisplayName, req.ExternalID, joined)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to create member", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(m))
}

type deactivateMemberRequest struct {
	Manual bool `json:"manual"`
}

func (h *MemberHandler) Deactivate(c *gin.Context) {
	m, err := h.roster.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeMemberError(c, err)
		return
	}
	// Body is optional; no body means an automatic-style deactivation.
	var req deactivateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	if err := h.roster.Deactivate(c.Request.Context(), m, req.Manual); err != nil {
		h.writeMemberError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(m))
}

func (h *MemberHandler) Reactivate(c *gin.Context) {
	m, err := h.roster.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeMemberError(c, err)
		return
	}
	if err := h.roster.Reactivate(c.Request.Context(), m); err != nil {
		h.writeMemberError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(m))
}

func (h *MemberHandler) History(c *gin.Context) {
	m, err := h.roster.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeMemberError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "31"))
	entries, err := h.report.MemberHistory(c.Request.Context(), m.ID, limit)
	if err != nil {
		logctx.FromGin(c, h.log).Errorw("failed to load member history", "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(gin.H{"member": m, "entries": entries}))
}

func (h *MemberHandler) writeMemberError(c *gin.Context, err error) {
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorT(response.APIResponseCodeNotFound, "member not found"))
		return
	}
	logctx.FromGin(c, h.log).Errorw("member operation failed", "error", err)
	c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
}
