package routes

import (
	"time"

	_ "lexidraft-realtime/docs"
	"lexidraft-realtime/internal/api/handlers"
	"lexidraft-realtime/internal/api/middleware"
	"lexidraft-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Dependencies are the services the HTTP surface is built on. Limiter and
// Uploader may be nil: rate limiting is skipped and attachments answer 503.
type Dependencies struct {
	Hub            *websocket.Hub
	Verifier       middleware.TokenVerifier
	Limiter        middleware.RateLimiter
	Notifications  handlers.NotificationService
	Chat           handlers.ChatService
	Uploader       handlers.AttachmentUploader
	AllowedOrigins []string
}

type Router struct {
	engine              *gin.Engine
	wsHandler           *handlers.WSHandler
	notificationHandler *handlers.NotificationHandler
	chatHandler         *handlers.ChatHandler
	attachmentHandler   *handlers.AttachmentHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

func NewRouter(deps Dependencies) *Router {
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(deps.AllowedOrigins))
	engine.Use(middleware.LogApi())

	var rateLimitMW *middleware.RateLimitMiddleware
	if deps.Limiter != nil {
		rateLimitMW = middleware.NewRateLimitMiddleware(deps.Limiter)
	}

	return &Router{
		engine:              engine,
		wsHandler:           handlers.NewWSHandler(deps.Hub),
		notificationHandler: handlers.NewNotificationHandler(deps.Notifications),
		chatHandler:         handlers.NewChatHandler(deps.Chat),
		attachmentHandler:   handlers.NewAttachmentHandler(deps.Uploader),
		rateLimitMW:         rateLimitMW,
		authMW:              middleware.NewAuthMiddleware(deps.Verifier),
	}
}

func (r *Router) SetupRoutes() {
	// Swagger documentation
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.engine.GET("/healthz", r.wsHandler.Health)

	api := r.engine.Group("/api/v1")

	// Authentication happens in-band on the socket.
	api.GET("/ws",
		r.rateLimitIP(30, time.Minute), // 30 connections per minute
		r.wsHandler.HandleWebSocket,
	)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		auth.GET("/ws/stats", r.authMW.RequireRole("admin"), r.wsHandler.Stats)

		// Producer routes
		auth.POST("/notifications",
			r.authMW.RequireRole("admin", "service"),
			r.rateLimit(600, time.Minute),
			r.notificationHandler.Notify,
		)
		auth.POST("/rooms/:id/participants",
			r.authMW.RequireRole("admin", "service"),
			r.rateLimit(600, time.Minute),
			r.chatHandler.GrantRoomAccess,
		)
		auth.POST("/broadcast",
			r.authMW.RequireRole("admin"),
			r.rateLimit(10, time.Minute),
			r.notificationHandler.Broadcast,
		)

		// Inbox routes
		notifications := auth.Group("/notifications")
		notifications.Use(r.rateLimit(100, time.Minute)) // 100 requests per minute
		{
			notifications.GET("", r.notificationHandler.Inbox)
			notifications.PUT("/:id/read", r.notificationHandler.MarkRead)
		}

		// Message routes
		messages := auth.Group("/")
		messages.Use(r.rateLimit(200, time.Minute)) // 200 requests per minute
		{
			messages.GET("/messages/:peer", r.chatHandler.GetConversation)
			messages.GET("/rooms/:id/messages", r.chatHandler.GetRoomMessages)
		}

		auth.POST("/attachments", r.rateLimit(20, time.Minute), r.attachmentHandler.Upload)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) rateLimit(requests int, window time.Duration) gin.HandlerFunc {
	if r.rateLimitMW == nil {
		return passThrough
	}
	return r.rateLimitMW.RateLimit(requests, window)
}

func (r *Router) rateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	if r.rateLimitMW == nil {
		return passThrough
	}
	return r.rateLimitMW.RateLimitIP(requests, window)
}

func passThrough(c *gin.Context) {
	c.Next()
}
