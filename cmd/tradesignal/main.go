package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"tradesignal/internal/broadcast"
	"tradesignal/internal/config"
	cronrunner "tradesignal/internal/cron"
	"tradesignal/internal/db"
	"tradesignal/internal/handler"
	"tradesignal/internal/logger"
	gormrepository "tradesignal/internal/repository/gorm"
	"tradesignal/internal/service"
	"tradesignal/internal/taskq"

	_ "tradesignal/docs"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfgPath := os.Getenv("TS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}
	store := gormrepository.New(dbConn.Gorm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		queue       taskq.Queue
		bus         broadcast.Bus
		redisClient *redis.Client
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Queue.Backend)) {
	case "memory":
		memQueue := taskq.NewMemoryQueue(cfg.Queue.Buffer)
		defer memQueue.Close()
		queue = memQueue
		bus = broadcast.NewHub(0, logger)
		logger.Warn("using in-memory queue; pending tasks are lost on restart")
	default:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		redisQueue := taskq.NewRedisQueue(redisClient, cfg.Queue.Name, cfg.Queue.PollTimeout)
		if n, err := redisQueue.RecoverInflight(ctx); err != nil {
			logger.Warn("recover inflight tasks failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("recovered inflight tasks", zap.Int("count", n))
		}
		queue = redisQueue
		bus = broadcast.NewRedisBroadcaster(redisClient, cfg.Queue.Name, logger)
	}

	pool := &taskq.Pool{
		Queue:      queue,
		Retry:      taskq.RetryPolicyFromConfig(cfg.Retry),
		DeadLetter: &taskq.StoreDeadLetter{Store: store, Logger: logger},
		Workers:    cfg.Queue.Workers,
		Logger:     logger,
	}
	processor := &service.SignalProcessor{Repo: store, Queue: queue, Logger: logger}
	lifecycle := service.NewOrderLifecycle(store, queue, cfg.Lifecycle, logger)
	service.RegisterTasks(pool, processor, lifecycle, bus)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Redis: redisClient}
	healthHandler.Register(engine)
	webhookHandler := &handler.SignalWebhookHandler{Repo: store, Queue: queue, Logger: logger}
	webhookHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Repo: store}
	orderHandler.Register(engine)
	gatewayHandler := &handler.GatewayHandler{
		Repo:           store,
		Subscriber:     bus,
		Logger:         logger,
		OriginPatterns: cfg.Server.WSOriginPatterns,
		WriteTimeout:   cfg.Server.WSWriteTimeout,
	}
	gatewayHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("task pool stopped", zap.Error(err))
		}
	}()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Sweeper.Enabled {
		sweeper := &service.Sweeper{
			Repo:       store,
			Queue:      queue,
			Logger:     logger,
			StaleAfter: cfg.Sweeper.StaleAfter,
			BatchSize:  cfg.Sweeper.BatchSize,
			MaxSweeps:  cfg.Sweeper.MaxSweeps,
		}
		if _, err := cronRunner.Add("stale-work-sweeper", cfg.Sweeper.Spec, sweeper.Run); err != nil {
			logger.Warn("cron register sweeper failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr), zap.String("queue", cfg.Queue.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("task pool did not stop before shutdown deadline")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-KEY")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
