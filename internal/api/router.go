package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/internal/cache"
	"github.com/boxingbuddies/engagement/internal/engagement"
	"github.com/boxingbuddies/engagement/internal/ranking"
	"github.com/boxingbuddies/engagement/pkg/config"
	"github.com/boxingbuddies/engagement/pkg/logging"
)

// Router wires the engagement services into HTTP routes.
type Router struct {
	likes    *engagement.LikeService
	counters *engagement.CounterService
	rank     *ranking.Engine
	bus      cache.Bus
	cfg      *config.ServerConfig
	auth     *config.AuthConfig
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(
	likes *engagement.LikeService,
	counters *engagement.CounterService,
	rank *ranking.Engine,
	bus cache.Bus,
	cfg *config.ServerConfig,
	auth *config.AuthConfig,
) *Router {
	return &Router{
		likes:    likes,
		counters: counters,
		rank:     rank,
		bus:      bus,
		cfg:      cfg,
		auth:     auth,
		logger:   logging.GetLogger().With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)

	api := engine.Group("/api")

	// Read paths: anonymous allowed, identity used when present.
	read := api.Group("", OptionalUser(r.auth.JWTSecret))
	read.GET("/posts/hot", r.getHot)
	read.GET("/posts/:id/like", r.getPostLike)
	read.GET("/comments/:id/like", r.getCommentLike)
	read.POST("/posts/:id/view", r.recordView)

	// Mutations require a resolved user.
	write := api.Group("", RequireUser(r.auth.JWTSecret))
	write.POST("/posts/:id/like", r.togglePostLike)
	write.POST("/comments/:id/like", r.toggleCommentLike)
	write.POST("/comments", r.createComment)
	write.DELETE("/comments/:id", r.deleteComment)

	// Operator purge endpoint; guarded by its own secret, not a user.
	api.POST("/revalidate", r.revalidate)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "OK",
		"service": "engagement-api",
	})
}
