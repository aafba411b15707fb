package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/tradehawk/internal/broker"
	"github.com/ajitpratap0/tradehawk/internal/db"
	"github.com/ajitpratap0/tradehawk/internal/hunter"
	"github.com/ajitpratap0/tradehawk/internal/orchestrator"
)

// respondError maps a service error onto a status code and a JSON body
// of the form {"error": "..."}. Unknown errors are a 500 and also land
// on the gin error list so the logger middleware records them.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound),
		errors.Is(err, broker.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrNotConfigured),
		errors.Is(err, broker.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, db.ErrRecommendationExpired),
		errors.Is(err, db.ErrNotPending):
		return http.StatusBadRequest
	case errors.Is(err, hunter.ErrCycleRunning),
		errors.Is(err, orchestrator.ErrExecutionRunning):
		return http.StatusConflict
	}

	var venueErr *broker.VenueError
	if errors.As(err, &venueErr) {
		switch venueErr.Kind {
		case broker.KindConnectivity, broker.KindTimeout, broker.KindAuth:
			return http.StatusServiceUnavailable
		case broker.KindRejection:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// badRequest rejects malformed input before it reaches the services.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// notFound answers with a caller-facing message for missing resources.
func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}

// unavailable marks a venue dependency that is not configured or not
// reachable right now.
func unavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg})
}
