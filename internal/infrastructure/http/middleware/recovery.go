package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Recovery turns a handler panic into a 500. Event streams that already sent
// headers are cut short instead, since a JSON body can no longer be written.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			slog.ErrorContext(c.Request.Context(), "panic recovered",
				"error", rec,
				"request_id", c.GetString(ContextKeyRequestID),
				"owner_id", OwnerID(c),
				"route", c.FullPath(),
				"method", c.Request.Method,
				"stack", string(debug.Stack()),
			)
			_ = c.Error(fmt.Errorf("panic: %v", rec))

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "internal_error",
				Message: "internal server error",
			})
		}()
		c.Next()
	}
}
