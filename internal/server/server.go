// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/cache"
	"github.com/mstfsonmez/ghostly-backend/internal/config"
	"github.com/mstfsonmez/ghostly-backend/internal/database"
	"github.com/mstfsonmez/ghostly-backend/internal/featureflags"
	"github.com/mstfsonmez/ghostly-backend/internal/lifecycle"
	"github.com/mstfsonmez/ghostly-backend/internal/middleware"
	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"
	"github.com/mstfsonmez/ghostly-backend/internal/repository"
	"github.com/mstfsonmez/ghostly-backend/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	roomRepo    repository.RoomRepository
	messageRepo repository.MessageRepository
	hub         *notifications.Hub
	registry    *notifications.Registry
	scheduler   *lifecycle.Scheduler
	roomService *service.RoomService
	messaging   *service.MessagingService
	flags       *featureflags.Manager
	wsLog       *observability.WSLogger
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil: presence mirroring and rate limits are then skipped.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server requires a config and a database")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("ghostly-api"),
		roomRepo:       repository.NewRoomRepository(db),
		messageRepo:    repository.NewMessageRepository(db),
		hub:            notifications.NewHub(),
		flags:          featureflags.NewManager(cfg.FeatureFlags),
		wsLog:          observability.NewWSLogger("events"),
	}

	s.registry = notifications.NewRegistry(s.hub, notifications.NewPresenceMirror(redisClient))
	s.scheduler = lifecycle.NewScheduler(s.roomRepo, s.messageRepo, s.registry, lifecycle.Config{
		RoomTTL:       cfg.RoomTTL,
		Interval:      cfg.SchedulerInterval,
		PruneInterval: cfg.PruneInterval,
		Retention:     cfg.MessageRetention,
	})
	s.roomService = service.NewRoomService(s.roomRepo, s.messageRepo, s.registry, s.scheduler, service.RoomServiceConfig{
		RoomTTL:      cfg.RoomTTL,
		BanDuration:  cfg.BanDuration,
		PasswordCost: cfg.RoomPasswordCost,
	})
	s.messaging = service.NewMessagingService(s.registry, redisClient, nil)

	return s, nil
}

// App returns the Fiber app, building it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName: "Ghostly API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.HeaderUserID + ", " + middleware.HeaderNickname +
			", Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		MaxAge: 86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Path() == "/ws"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Identity is asserted on the socket itself with bind_identity.
	app.Get("/ws", s.WebSocketUpgrade, s.WebSocketHandler())

	api := app.Group("/api", middleware.IdentityRequired())

	rooms := api.Group("/rooms")
	rooms.Post("/", middleware.RateLimit(s.redis, 5, time.Minute, "create_room"), s.CreateRoom)
	rooms.Get("/", s.ListRooms)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	rooms.Post("/:id/join", middleware.RateLimit(s.redis, 20, time.Minute, "join_room"), s.JoinRoom)
	rooms.Post("/:id/leave", s.LeaveRoom)
	rooms.Post("/:id/kick", s.KickUser)
	rooms.Post("/:id/transfer-admin", s.TransferAdmin)
	rooms.Get("/:id/messages", s.GetRoomMessages)
	rooms.Post("/:id/messages", middleware.RateLimit(s.redis, 30, time.Minute, "room_message"), s.PostRoomMessage)
	rooms.Get("/:id", s.GetRoom)
	rooms.Delete("/:id", s.DeleteRoom)

	users := api.Group("/users")
	users.Get("/me/channels", s.GetMyChannels)

	api.Get("/presence/online", s.GetOnlineUsers)
	api.Get("/features", s.GetFeatures)
}

// LivenessCheck handles liveness checks
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness checks. Redis is optional, so a
// missing or failing Redis only degrades the report.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case dbStatus == "unhealthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus == "unhealthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"connections": s.hub.Count(),
		"time":        time.Now().UTC(),
	})
}

// Start reconciles room timers, starts the background loops and serves
// HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	// Mirrored sessions from a previous process are stale.
	notifications.NewPresenceMirror(s.redis).Clear(ctx)

	if err := s.scheduler.Reconcile(ctx); err != nil {
		middleware.Logger.Error("startup reconcile failed", slog.String("error", err.Error()))
	}
	s.scheduler.Start(ctx)
	go s.registry.RefreshMirror(ctx, cache.PresenceSessionTTL/3)

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	s.scheduler.Stop()

	s.registry.Shutdown(ctx)
	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub", slog.String("error", err.Error()))
	}

	if err := database.Close(s.db); err != nil {
		middleware.Logger.Error("error closing sql DB", slog.String("error", err.Error()))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
