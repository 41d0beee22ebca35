package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubops/fanquota/pkg/tool"
)

const traceHeader = "X-Trace-ID"

// Trace assigns every request a trace id, honoring one supplied by the
// caller, and stores a request-scoped logger under the "logger" key.
func Trace(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tid := c.GetHeader(traceHeader)
		if tid == "" {
			tid = tool.GenerateUUIDV7()
		}
		ctx := context.WithValue(c.Request.Context(), "traceID", tid)
		c.Request = c.Request.WithContext(ctx)
		c.Set("logger", base.With("trace_id", tid))
		c.Header(traceHeader, tid)
		c.Next()
	}
}
