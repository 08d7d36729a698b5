package handlers

import (
	"net/http"
	"time"

	"forum/internal/middleware"
	"forum/internal/svc"
	"forum/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface of the forum.
func NewRouter(sc *svc.ServiceContext) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.LoggerMiddleware(), middleware.TracingMiddleware())

	r.GET("/healthz", func(c *gin.Context) { utils.Success(c, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	topics := NewTopicHandler(sc)
	comments := NewCommentHandler(sc)
	reactions := NewReactionHandler(sc)
	threads := NewThreadHandler(sc)

	cfg := sc.Config
	limiter := sc.Limiter()

	// reads are public; a token only personalizes them
	public := r.Group("/topics", middleware.OptionalAuth(cfg))
	{
		public.GET("", topics.ListTopics)
		public.GET("/:id", topics.GetTopic)
		public.GET("/:id/thread", threads.GetThread)
		public.GET("/:id/thread/ws", threads.StreamThread)
	}

	auth := r.Group("/topics", middleware.JWTAuthMiddleware(cfg))
	{
		auth.POST("", middleware.RateLimitMiddleware(limiter, "topic", 10, time.Minute), topics.CreateTopic)
		auth.PUT("/:id", topics.UpdateTopic)
		auth.DELETE("/:id", topics.DeleteTopic)
		auth.POST("/:id/recount", topics.Recount)

		auth.POST("/:id/comments", middleware.RateLimitMiddleware(limiter, "comment", 30, time.Minute), comments.CreateComment)
		auth.PUT("/:id/comments/:commentId", comments.UpdateComment)
		auth.DELETE("/:id/comments/:commentId", comments.DeleteComment)

		react := middleware.RateLimitMiddleware(limiter, "react", 120, time.Minute)
		auth.POST("/:id/reactions", react, reactions.ReactToTopic)
		auth.POST("/:id/comments/:commentId/reactions", react, reactions.ReactToComment)
	}

	r.NoRoute(func(c *gin.Context) { utils.Error(c, http.StatusNotFound, "no such route") })
	return r
}
