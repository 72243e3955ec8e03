package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lexidraft-realtime/internal/adapters/kafka"
	"lexidraft-realtime/internal/adapters/storage"
	"lexidraft-realtime/internal/api/handlers"
	"lexidraft-realtime/internal/api/middleware"
	"lexidraft-realtime/internal/api/routes"
	"lexidraft-realtime/internal/auth"
	"lexidraft-realtime/internal/chat"
	"lexidraft-realtime/internal/config"
	"lexidraft-realtime/internal/database"
	"lexidraft-realtime/internal/notification"
	"lexidraft-realtime/internal/services"
	"lexidraft-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App owns every long-lived resource of the realtime service.
type App struct {
	cfg        *config.Config
	db         *gorm.DB
	redis      *database.RedisClient
	hub        *websocket.Hub
	producer   *kafka.Producer
	consumer   *kafka.Consumer
	httpServer *http.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{cfg: cfg}
	if err := app.init(ctx); err != nil {
		app.closeResources()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	// Initialize PostgreSQL connection
	db, err := database.NewPostgresConnection(cfg.Database.DSN(), &notification.Notification{}, &chat.Message{})
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	a.db = db

	// Redis backs presence, rooms and rate limiting when enabled
	memoryRooms := chat.NewMemoryRoomStore()
	var (
		presence   websocket.PresenceTracker
		rooms      chat.RoomStore  = memoryRooms
		roomAccess chat.RoomAccess = memoryRooms
		limiter    middleware.RateLimiter
	)
	if cfg.Redis.Enabled() {
		redisClient, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to Redis: %w", err)
		}
		a.redis = redisClient

		redisService := services.NewRedisService(redisClient)
		// Presence left behind by a previous run is stale.
		if err := redisService.ClearPresence(ctx); err != nil {
			slog.Warn("Failed to clear stale presence", "error", err)
		}
		presence, rooms, roomAccess, limiter = redisService, redisService, redisService, redisService
	} else {
		slog.Warn("Redis disabled: presence and rate limiting are off, rooms are node-local")
	}

	verifier := auth.NewVerifier(cfg.JWT.Secret)
	a.hub = websocket.NewHub(verifier, hubOptions(cfg), presence)

	var (
		publisher  chat.EventPublisher
		deadLetter kafka.DeadLetter
	)
	if cfg.Kafka.Enabled() {
		sp, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("init Kafka producer: %w", err)
		}
		a.producer = kafka.NewProducer(sp, cfg.Kafka.ChatTopic)
		publisher = a.producer
		if cfg.Kafka.DeadLetterTopic != "" {
			// Shares the sync producer; closing a.producer closes both.
			deadLetter = kafka.NewProducer(sp, cfg.Kafka.DeadLetterTopic)
		}
	}

	chatService := chat.NewService(chat.NewRepository(db), rooms, roomAccess, a.hub.Router(), publisher)
	chat.NewHandler(chatService).Register(a.hub)

	notificationService := notification.NewService(notification.NewRepository(db), a.hub.Router())
	if cfg.Kafka.Enabled() {
		group, err := kafka.InitConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return fmt.Errorf("init Kafka consumer group: %w", err)
		}
		a.consumer = kafka.NewConsumer(group, []string{cfg.Kafka.NotificationTopic}, notificationService.HandleEvent, deadLetter)
	}

	var uploader handlers.AttachmentUploader
	if cfg.MinIO.Enabled() {
		minioClient, err := storage.NewMinIOClient(ctx, cfg.MinIO)
		if err != nil {
			return fmt.Errorf("init MinIO: %w", err)
		}
		uploader = minioClient
	}

	gin.SetMode(gin.ReleaseMode)
	router := routes.NewRouter(routes.Dependencies{
		Hub:            a.hub,
		Verifier:       verifier,
		Limiter:        limiter,
		Notifications:  notificationService,
		Chat:           chatService,
		Uploader:       uploader,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	router.SetupRoutes()

	a.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return nil
}

func hubOptions(cfg *config.Config) websocket.Options {
	ws := cfg.WebSocket
	return websocket.Options{
		AuthGracePeriod: ws.AuthGracePeriod,
		MaxAuthAttempts: ws.MaxAuthAttempts,
		SendBufferSize:  ws.SendBufferSize,
		MaxMessageSize:  ws.MaxMessageSize,
		WriteWait:       ws.WriteWait,
		PongWait:        ws.PongWait,
		PingPeriod:      ws.PingPeriod,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan struct{})
	if a.consumer != nil {
		go func() {
			defer close(consumerDone)
			slog.Info("Kafka consumer starting", "topic", a.cfg.Kafka.NotificationTopic)
			if err := a.consumer.Run(consumerCtx); err != nil {
				slog.Error("Kafka consumer stopped", "error", err)
			}
		}()
	} else {
		close(consumerDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Server shutting down...")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Stop Kafka consumer
	stopConsumer()
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			slog.Error("Failed to close Kafka consumer", "error", err)
		}
	}
	<-consumerDone

	// Close websocket connections and flush presence
	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("WebSocket hub shutdown incomplete", "error", err)
	}

	a.closeResources()
	slog.Info("Server stopped")
	return runErr
}

func (a *App) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			slog.Error("Failed to close Kafka producer", "error", err)
		}
	}
	if a.db != nil {
		if err := database.ClosePostgres(a.db); err != nil {
			slog.Error("Failed to close PostgreSQL", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("Failed to close Redis", "error", err)
		}
	}
}
