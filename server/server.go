package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Breeze1203/shophub-support/config"
	"github.com/Breeze1203/shophub-support/handlers"
	"github.com/Breeze1203/shophub-support/kafka"
	"github.com/Breeze1203/shophub-support/limiter"
	"github.com/Breeze1203/shophub-support/logger"
	custommiddleware "github.com/Breeze1203/shophub-support/middleware"
	"github.com/Breeze1203/shophub-support/models"
	"github.com/Breeze1203/shophub-support/realtime"
	"github.com/Breeze1203/shophub-support/redis"
	"github.com/Breeze1203/shophub-support/services"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Echo    *echo.Echo
	DB      *gorm.DB
	Config  *config.Config
	Log     *logger.Logger
	Redis   *redis.RedisClient
	Bus     realtime.Bus
	Hub     *realtime.Hub
	Limiter *limiter.Manager

	AuthService            *services.AuthService
	RoomHandler            *handlers.RoomHandler
	CustomerServiceHandler *handlers.CustomerServiceHandler
	SupportHandler         *handlers.SupportHandler
	ChatWebSocketHandler   *handlers.ChatWebSocketHandler
}

func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	s := &Server{
		DB:     db,
		Config: cfg,
		Log:    log,
		Hub:    realtime.NewHub(log),
	}

	if needsRedis(cfg) {
		if cfg.Redis.Addr == "" {
			s.Close()
			return nil, errors.New("redis.addr is required for the configured bus, locker or rate limit")
		}
		s.Redis, err = redis.NewRedisClient(&cfg.Redis)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	bus, err := s.newBus()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Bus = bus
	locker, err := s.newLocker()
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Chat.RateLimit.Enabled {
		strategy, err := limiter.NewStrategy(cfg.Chat.RateLimit.Strategy)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Limiter = limiter.NewManager(s.Redis.Client, strategy, cfg.Chat.RateLimit.Limit, cfg.Chat.RateLimit.Window())
	}

	var presence realtime.Presence = realtime.NewLocalPresence()
	if s.Redis != nil {
		presence = redis.NewPresence(s.Redis.Client)
	}

	var replier services.ReplyGenerator
	if cfg.Chat.ReplyServiceURL != "" {
		replier = services.NewHTTPReplier(cfg.Chat.ReplyServiceURL, cfg.Chat.ReplyTimeout())
	}

	store := services.NewGormStore(db)
	roomService := services.NewRoomService(store, locker, s.Bus, log)
	queueService := services.NewQueueService(roomService)
	chatService := services.NewChatService(roomService, replier, cfg.Chat.MaxMessageRunes)
	sessionService := services.NewSessionService(roomService)
	s.AuthService = services.NewAuthService(&cfg.Auth)

	s.RoomHandler = handlers.NewRoomHandler(sessionService, chatService, roomService)
	s.CustomerServiceHandler = handlers.NewCustomerServiceHandler(sessionService, chatService, roomService)
	s.SupportHandler = handlers.NewSupportHandler(queueService, chatService, roomService, presence)
	s.ChatWebSocketHandler = handlers.NewChatWebSocketHandler(s.Hub, chatService, roomService, presence, log)

	// 初始化 Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewCustomValidator()
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(custommiddleware.RequestLogger(log))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, custommiddleware.GuestSessionHeader},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))
	s.Echo = e

	// --- 设置路由 ---
	s.SetupRoutes(custommiddleware.AuthMiddleware(s.AuthService), custommiddleware.AgentMiddleware(), s.sendLimiter())
	return s, nil
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, err
		}
		// sqlite 单连接，内存库也能在多个请求间共享
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Redis.Addr != "" ||
		cfg.Chat.Bus == "redis" ||
		cfg.Chat.Locker == "redis" ||
		cfg.Chat.RateLimit.Enabled
}

func (s *Server) newBus() (realtime.Bus, error) {
	switch s.Config.Chat.Bus {
	case "local":
		return realtime.NewLocalBus(), nil
	case "redis":
		bus, err := redis.NewBus(s.Redis.Client, s.Config.Redis.Channel, s.Log)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "kafka":
		bus, err := kafka.NewBus(s.Config.Kafka, s.Log)
		if err != nil {
			return nil, err
		}
		return bus, nil
	}
	return nil, fmt.Errorf("unsupported chat bus %q", s.Config.Chat.Bus)
}

func (s *Server) newLocker() (services.RoomLocker, error) {
	switch s.Config.Chat.Locker {
	case "local":
		return services.NewLocalLocker(), nil
	case "redis":
		return redis.NewLocker(s.Redis.Client, s.Config.Chat.LockTTL()), nil
	}
	return nil, fmt.Errorf("unsupported chat locker %q", s.Config.Chat.Locker)
}

// health 数据库和 Redis 任一不可用返回 503
func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err == nil && s.Redis != nil {
		err = s.Redis.Ping(ctx)
	}
	if err != nil {
		s.Log.Warn("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// sendLimiter 未开启限流时直接放行
func (s *Server) sendLimiter() echo.MiddlewareFunc {
	if s.Limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return custommiddleware.NewRateLimitMiddleware(s.Limiter, custommiddleware.RateLimitConfig{Prefix: "chat:send"}, s.Log)
}

// Start 启动事件总线和 HTTP 服务，ctx 结束后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	if err := s.Bus.Start(ctx, s.ChatWebSocketHandler.Deliver); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("http server listening", "addr", s.Config.Server.Addr, "bus", s.Config.Chat.Bus)
		if err := s.Echo.Start(s.Config.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Echo.Shutdown(shutdownCtx)
	return errors.Join(err, s.Close())
}

// Close 释放总线、Redis 和数据库连接
func (s *Server) Close() error {
	var errs []error
	if s.Bus != nil {
		errs = append(errs, s.Bus.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
