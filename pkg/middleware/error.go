package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smallbiznis-rewardclaim/pkg/errutil"
)

// ErrorExtrasKey holds a gin.H merged into the error body, e.g. the audit
// record of a failed claim.
const ErrorExtrasKey = "error.extras"

// Error renders the last error attached with c.Error once the handler chain
// returns, unless a response was already written.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		be := errutil.FromError(err)
		if be.Code == errutil.StatusInternal {
			zap.L().Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.String("request_id", RequestIDFromContext(c.Request.Context())),
				zap.Error(err),
			)
		}

		body := be.JSON()
		if extras, ok := c.Get(ErrorExtrasKey); ok {
			if h, ok := extras.(gin.H); ok {
				for k, v := range h {
					body[k] = v
				}
			}
		}
		c.AbortWithStatusJSON(be.Code.HTTPStatus(), body)
	}
}
