package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clubops/fanquota/pkg/response"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, response.OKT(gin.H{"status": "up"}))
}
