package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"counselconnect-backend/internal/domain"
	callHandler "counselconnect-backend/internal/handler/http/call"
	chatHandler "counselconnect-backend/internal/handler/http/chat"
	presenceHandler "counselconnect-backend/internal/handler/http/presence"
	pushHandler "counselconnect-backend/internal/handler/http/push"
	storageHandler "counselconnect-backend/internal/handler/http/storage"
	"counselconnect-backend/internal/handler/ws"
	"counselconnect-backend/internal/middleware"
	"counselconnect-backend/internal/registry"
	"counselconnect-backend/internal/repository/cassandra"
	"counselconnect-backend/internal/repository/cockroach"
	"counselconnect-backend/internal/repository/memory"
	redisRepo "counselconnect-backend/internal/repository/redis"
	callService "counselconnect-backend/internal/service/call"
	chatService "counselconnect-backend/internal/service/chat"
	signalService "counselconnect-backend/internal/service/signal"
	storageService "counselconnect-backend/internal/service/storage"
	"counselconnect-backend/pkg/config"
	"counselconnect-backend/pkg/constants"
	"counselconnect-backend/pkg/database"
	"counselconnect-backend/pkg/jwt"
	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/metrics"
	"counselconnect-backend/pkg/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// CockroachDB holds call records. Connect with exponential backoff; if
	// it never comes up, run in limited mode with in-memory call records so
	// live signaling keeps working.
	db := connectCockroachWithRetry(ctx, cfg)
	var callRepo callService.Repository
	var directory domain.Directory
	if db != nil {
		defer db.Close()
		callRepo = cockroach.NewCallRepository(db.Pool)
	} else {
		logger.Warn("Running in limited mode: call records are in-memory only")
		callRepo = memory.NewCallRepository()
	}

	// Cassandra holds chat history.
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.Cassandra.Hosts,
		Keyspace: cfg.Cassandra.Keyspace,
		Username: cfg.Cassandra.Username,
		Password: cfg.Cassandra.Password,
		Timeout:  cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	// Redis holds presence, push tokens and the token blacklist.
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis")
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	if db != nil {
		directory = cockroach.NewDirectoryRepository(db.Pool, redisDB.Client)
	}

	// Repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// Push provider: FCM in production, mock otherwise.
	var provider push.Provider = &push.MockProvider{}
	if cfg.Push.Provider == "fcm" {
		fcm, err := push.NewFCMProvider(&push.FCMConfig{
			ProjectID:       cfg.Push.FirebaseProjectID,
			CredentialsPath: cfg.Push.CredentialsPath,
		})
		if err != nil {
			logger.Warn("FCM unavailable, falling back to mock push", zap.Error(err))
		} else {
			provider = fcm
			logger.Info("FCM push provider initialized")
		}
	}
	pushSvc := push.NewService(provider, pushTokenRepo)

	// Services
	reg := registry.NewInMemory()
	callSvc := callService.NewService(callRepo)
	chatSvc := chatService.NewService(messageRepo, reg, pushSvc, directory)
	coordinator := signalService.NewCoordinator(reg, callSvc, pushSvc, directory)

	storageSvc, err := storageService.NewService(
		cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey,
		cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
	if err != nil {
		logger.Fatal("Failed to initialize attachment storage", zap.Error(err))
	}

	gateway := ws.NewGateway(reg, chatSvc, coordinator, presenceRepo, cfg.Server.AllowedOrigins)

	// Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	chatHdlr := chatHandler.NewHandler(chatSvc)
	presenceHdlr := presenceHandler.NewHandler(presenceRepo)
	storageHdlr := storageHandler.NewHandler(storageSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		v1.POST("/calls", callHdlr.Create)
		v1.PUT("/calls/:id/status", callHdlr.UpdateStatus)
		v1.GET("/calls/history", callHdlr.History)
		v1.GET("/calls/:id", callHdlr.Get)

		v1.GET("/messages/history/:userId", chatHdlr.History)
		v1.GET("/presence", presenceHdlr.List)
		v1.GET("/presence/:userId", presenceHdlr.Get)

		v1.POST("/attachments", storageHdlr.GrantUpload)
		v1.GET("/attachments/url", storageHdlr.GrantDownload)

		v1.POST("/push/tokens", pushHdlr.RegisterToken)

		v1.GET("/ws", gateway.ServeWS)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

// connectCockroachWithRetry attempts the call-record database with
// exponential backoff. Returns nil when every attempt failed.
func connectCockroachWithRetry(ctx context.Context, cfg *config.Config) *database.CockroachDB {
	dbConfig := &database.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}

	const maxRetries = 5
	baseDelay := time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewCockroachDB(ctx, dbConfig)
	if err == nil {
		logger.Info("Connected to CockroachDB")
		return db
	}

	for attempt := 2; attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)

		db, err = database.NewCockroachDB(ctx, dbConfig)
		if err == nil {
			logger.Info("Connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}
	}

	logger.Error("Failed to connect to CockroachDB, continuing without it", zap.Error(err))
	return nil
}
