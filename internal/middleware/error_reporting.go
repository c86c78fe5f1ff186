package middleware

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/pkg/logger"
	"github.com/noah-isme/archivia-api/pkg/middleware/requestid"
)

// ErrorReporting sends panics and server errors recorded with c.Error to
// Sentry. It is a no-op when the Sentry client was never initialised.
func ErrorReporting() gin.HandlerFunc {
	return func(c *gin.Context) {
		hub := sentry.CurrentHub().Clone()
		if hub.Client() == nil {
			c.Next()
			return
		}
		hub.Scope().SetRequest(c.Request)
		if requestID := requestid.Value(c); requestID != "" {
			hub.Scope().SetTag("request_id", requestID)
		}

		defer func() {
			if rec := recover(); rec != nil {
				hub.RecoverWithContext(c.Request.Context(), rec)
				hub.Flush(2 * time.Second)
				panic(rec)
			}
		}()

		c.Next()

		if c.Writer.Status() < http.StatusInternalServerError {
			return
		}
		if userID := c.GetString(logger.ContextUserIDKey); userID != "" {
			hub.Scope().SetUser(sentry.User{ID: userID})
		}
		hub.Scope().SetTag("route", c.FullPath())
		for _, ginErr := range c.Errors {
			hub.CaptureException(ginErr.Err)
		}
	}
}
