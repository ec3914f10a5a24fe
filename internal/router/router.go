package router

import (
	"net/http"

	"castfeed/internal/db"
	"castfeed/internal/handlers"
	"castfeed/internal/middleware"
	"castfeed/internal/services"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部路由，公共前缀与 /v1 各挂一份
func RegisterRoutes(r *gin.Engine, feed *services.FeedService, resolver *services.Resolver, query *services.FeedQueryService) {
	// Handlers
	castHandler := handlers.NewCastHandler(feed)
	userHandler := handlers.NewUserHandler(resolver, query)
	channelHandler := handlers.NewChannelHandler(resolver)
	feedHandler := handlers.NewFeedHandler(feed)

	r.Use(middleware.LoadViewer())

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	register := func(g *gin.RouterGroup) {
		g.GET("/casts/:hash", castHandler.Get)
		g.GET("/casts/:hash/conversation", castHandler.Conversation)
		g.POST("/casts", castHandler.Batch)

		g.GET("/users/:fidOrUsername", userHandler.Get)
		g.POST("/users", userHandler.Batch)
		g.GET("/users/:fidOrUsername/followers", userHandler.Followers)
		g.GET("/users/:fidOrUsername/following", userHandler.Following)
		g.GET("/users/:fidOrUsername/mutuals", userHandler.Mutuals)
		g.GET("/users/:fidOrUsername/mutuals-preview", userHandler.MutualsPreview)

		g.GET("/channels", channelHandler.List)
		g.POST("/channels", channelHandler.Batch)
		g.GET("/channels/:id", channelHandler.GetByID)
		g.GET("/channels/by-url/*url", channelHandler.GetByURL)

		g.POST("/feed/casts", feedHandler.Casts)
	}

	register(r.Group("/"))
	register(r.Group("/v1"))
}
