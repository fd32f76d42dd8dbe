package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/genz-social/pulse/pkg/config"
)

// UserConnectionCounter reports how many live websocket connections a
// user currently holds.
type UserConnectionCounter func(userID string) int

// UserConnectionCycler closes the user's oldest connection to make room
// for a new one.
type UserConnectionCycler func(userID string)

// ConnectionLimiter bounds simultaneous websocket connections per user.
// In "cycle" mode a new connection evicts the oldest one; in "reject"
// mode the new connection is refused. It must run after the upgrade
// path has authenticated the user.
func ConnectionLimiter(logger *slog.Logger, counter UserConnectionCounter, cycler UserConnectionCycler, cfg config.ConnectionLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.MaxPerUser <= 0 {
			c.Next()
			return
		}

		userID := MustUserID(c)
		count := counter(userID)
		if count < cfg.MaxPerUser {
			c.Next()
			return
		}

		logger.Warn("user connection limit reached", slog.String("userID", userID), slog.Int("count", count))
		switch cfg.Mode {
		case "reject":
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many active connections"})
		case "cycle":
			cycler(userID)
			c.Next()
		default:
			logger.Error("invalid connection limit mode configured", slog.String("mode", cfg.Mode))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
	}
}
