package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
)

// EnsureUser runs after Auth. A signed JWT can outlive its user row, so the
// subject is resolved against the users table before any handler touches
// user-owned data. Stale tokens read as plain 401s.
func EnsureUser(users repository.UserRepository, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if _, err := users.FindByID(c.Request.Context(), userID); err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
				return
			}
			logger.ErrorContext(c.Request.Context(), "ensure user lookup", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "Internal server error"})
			return
		}
		c.Next()
	}
}
