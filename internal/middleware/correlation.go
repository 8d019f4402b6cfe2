// Package middleware contains Gin middleware for the application.
package middleware

import (
	"context"

	"github.com/robotsession/core/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID adds a correlation ID to the request context, and, for
// routes addressing a single session (/sessions/:id and its sub-routes),
// stashes the session id too so log lines emitted while handling that
// request carry it without every handler threading it through by hand.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Set in header for response
		c.Header(HeaderXCorrelationID, correlationID)

		// Set in context for logger
		c.Set(string(logging.CorrelationIDKey), correlationID)
		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		if sessionID := c.Param("id"); sessionID != "" {
			c.Set(string(logging.SessionIDKey), sessionID)
			ctx = context.WithValue(ctx, logging.SessionIDKey, sessionID)
		}
		c.Request = c.Request.WithContext(ctx)

		// Pass to next handlers
		c.Next()
	}
}
