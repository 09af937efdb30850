package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"aitrader/internal/auth"
	"aitrader/internal/cache"
	"aitrader/internal/config"
	cronrunner "aitrader/internal/cron"
	"aitrader/internal/db"
	"aitrader/internal/handler"
	"aitrader/internal/logger"
	"aitrader/internal/manager"
	"aitrader/internal/metrics"
	gormrepository "aitrader/internal/repository/gorm"

	_ "aitrader/docs"
)

func serve(cfg config.Config) {
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

	var (
		cacheStore cache.Store = cache.NewMemoryStore()
		cachePing  handler.Pinger
	)
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rs := cache.NewRedisStore(cfg.Redis)
		defer rs.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable; reads fall back to the ledger", zap.Error(err))
		}
		cancel()
		cacheStore, cachePing = rs, rs
	}
	cached := cache.NewRepository(store, cacheStore, cfg.Redis.TTL, logger)

	deps := newWorkerDeps(cfg, store, logger)
	if !deps.notifier.Configured() {
		logger.Info("notifications disabled or no channel configured; deliveries are recorded as skipped")
	}

	var spawner manager.Spawner = manager.ProcessSpawner{Binary: cfg.Manager.WorkerBinary}
	if cfg.Manager.InProcess {
		logger.Warn("workers run in-process; a crashing worker takes the server down")
		spawner = manager.PipeSpawner{Run: deps.inProcess(logger)}
	}
	mgr := manager.New(cached, spawner, cfg.Manager, logger)
	mgr.Cache = cached
	mgr.Notifier = deps.notifier

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := mgr.Reconcile(ctx); err != nil {
		logger.Error("reconcile failed", zap.Error(err))
	} else if n > 0 {
		logger.Warn("reconciled orphaned simulations", zap.Int("count", n))
	}

	var cronRunner *cronrunner.Runner
	if cfg.Cron.Enabled {
		cronRunner = cronrunner.New(logger, ctx)
		err := cronrunner.Register(cronRunner, cfg.Cron, cronrunner.Jobs{
			Simulations: store,
			Summaries:   deps.notifier,
			Retries:     deps.notifier,
			Heartbeats:  mgr,
		})
		if err != nil {
			logger.Fatal("cron register failed", zap.Error(err))
		}
		cronRunner.Start()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	if cfg.Metrics.Enabled {
		engine.Use(metrics.Middleware())
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	engine.Use(auth.Middleware(auth.FromConfig(cfg.Auth), logger))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Cache: cachePing, Active: mgr.Active}
	healthHandler.Register(engine)
	simHandler := &handler.SimulationHandler{Repo: cached, Manager: mgr, Logger: logger}
	simHandler.Register(engine)
	streamHandler := &handler.StreamHandler{Hub: mgr.Hub, Logger: logger}
	streamHandler.Register(engine)
	notifyHandler := &handler.NotificationHandler{Repo: store, Service: deps.notifier, Logger: logger}
	notifyHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if cronRunner != nil {
		cronRunner.Stop()
	}

	workersCtx, cancelWorkers := context.WithTimeout(context.Background(), cfg.Manager.StopGrace+5*time.Second)
	defer cancelWorkers()
	mgr.Shutdown(workersCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
