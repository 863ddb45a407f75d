package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/cauldronio/poolsched/internal/repository"
	"github.com/cauldronio/poolsched/internal/transport/http/handler"
	"github.com/cauldronio/poolsched/internal/transport/http/middleware"
)

// NewRouter wires every API surface. Auth issues JWTs; everything past
// /auth runs behind bearer-token auth plus a user-existence check.
func NewRouter(
	logger *slog.Logger,
	authHandler *handler.AuthHandler,
	analyzeHandler *handler.AnalyzeHandler,
	tokenHandler *handler.TokenHandler,
	intentionHandler *handler.IntentionHandler,
	scheduledHandler *handler.ScheduledHandler,
	userRepo repository.UserRepository,
	jwtKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.POST("/auth/magic-link", authHandler.Start)
	r.GET("/auth/verify", authHandler.Verify)

	authMW := middleware.Auth(jwtKey)
	ensureUser := middleware.EnsureUser(userRepo, logger)

	analyze := r.Group("/analyze", authMW, ensureUser)
	analyze.POST("/git", analyzeHandler.Git)
	analyze.POST("/github", analyzeHandler.GitHub)
	analyze.POST("/gitlab", analyzeHandler.GitLab)
	analyze.POST("/meetup", analyzeHandler.Meetup)

	tokens := r.Group("/tokens", authMW, ensureUser)
	tokens.POST("", tokenHandler.Register)
	tokens.GET("", tokenHandler.List)
	tokens.DELETE("/:id", tokenHandler.Delete)

	intentions := r.Group("/intentions", authMW, ensureUser)
	intentions.GET("", intentionHandler.ListPending)
	intentions.GET("/archived", intentionHandler.ListArchived)

	scheduled := r.Group("/scheduled", authMW, ensureUser)
	scheduled.POST("", scheduledHandler.Create)
	scheduled.GET("", scheduledHandler.List)
	scheduled.DELETE("/:id", scheduledHandler.Delete)

	return r
}
