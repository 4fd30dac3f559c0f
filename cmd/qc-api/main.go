package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/qc-validator-api/api/swagger"
	"github.com/noah-isme/qc-validator-api/internal/handler"
	"github.com/noah-isme/qc-validator-api/internal/repository"
	"github.com/noah-isme/qc-validator-api/internal/service"
	"github.com/noah-isme/qc-validator-api/migrations"
	"github.com/noah-isme/qc-validator-api/pkg/cache"
	"github.com/noah-isme/qc-validator-api/pkg/config"
	"github.com/noah-isme/qc-validator-api/pkg/database"
	"github.com/noah-isme/qc-validator-api/pkg/export"
	"github.com/noah-isme/qc-validator-api/pkg/jobs"
	"github.com/noah-isme/qc-validator-api/pkg/logger"
	"github.com/noah-isme/qc-validator-api/pkg/realtime"
	"github.com/noah-isme/qc-validator-api/pkg/storage"
)

// @title QC Validator API
// @version 1.0.0
// @description Inspection checklists, two-party agreements, marketplace listings and disputes
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server exited with error", zap.Error(err))
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	swagger.SwaggerInfo.BasePath = cfg.APIPrefix

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, db, logr); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, running without cache and cross-instance events", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	users := repository.NewUserRepository(db)
	checklistRepo := repository.NewChecklistRepository(db)
	listingRepo := repository.NewListingRepository(db)
	disputeRepo := repository.NewDisputeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "qc", logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Marketplace.CacheTTL, logr, redisClient != nil)

	hub := realtime.NewHub(64)
	var publisher realtime.Publisher = hub
	var bridge *realtime.RedisBridge
	if redisClient != nil && cfg.Realtime.Enabled {
		bridge = realtime.NewRedisBridge(redisClient, cfg.Realtime.RedisChannel, hub, logr)
		publisher = bridge
	}

	files, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		return fmt.Errorf("init document storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)
	pdf := export.NewPDFExporter()

	shared := []service.WorkflowOption{
		service.WithAuditLogger(users),
		service.WithPublisher(publisher),
		service.WithCache(cacheSvc),
		service.WithMetrics(metrics),
	}

	notifications := service.NewNotificationService(notificationRepo, logr, shared...)
	notificationQueue := jobs.NewQueue("notifications", notifications.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.WorkerConcurrency,
		MaxRetries: cfg.Notifications.WorkerRetries,
		Logger:     logr,
		OnOutcome:  metrics.RecordJobOutcome,
	})
	notifications.UseQueue(notificationQueue)

	documents := service.NewDocumentService(checklistRepo, files, signer, pdf,
		service.DocumentConfig{APIPrefix: cfg.APIPrefix}, logr, shared...)
	documentQueue := jobs.NewQueue("documents", documents.Handle, jobs.QueueConfig{
		Workers:    cfg.Documents.WorkerConcurrency,
		MaxRetries: cfg.Documents.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnOutcome:  metrics.RecordJobOutcome,
	})
	documents.UseQueue(documentQueue)

	workflowOpts := append(shared,
		service.WithNotifier(notifications),
		service.WithDocumentScheduler(documents),
	)
	checklists := service.NewChecklistService(checklistRepo, validate, logr, workflowOpts...)
	listings := service.NewListingService(listingRepo, checklistRepo, validate, cfg.Marketplace.CacheTTL, logr, workflowOpts...)
	disputes := service.NewDisputeService(disputeRepo, checklistRepo, validate, logr, workflowOpts...)
	exports := service.NewExportService(checklistRepo, logr, export.NewCSVExporter(), pdf)

	auth := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "qc-validator-api",
	})

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := newRouter(cfg, logr, auth, metrics, routeHandlers{
		auth:          handler.NewAuthHandler(auth),
		checklists:    handler.NewChecklistHandler(checklists, exports, documents),
		listings:      handler.NewListingHandler(listings),
		disputes:      handler.NewDisputeHandler(disputes),
		notifications: handler.NewNotificationHandler(notifications),
		documents:     handler.NewDocumentHandler(documents),
		events:        handler.NewEventsHandler(hub, metrics, cfg.Realtime.Keepalive),
		metrics:       handler.NewMetricsHandler(metrics, checks),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	notificationQueue.Start(gctx)
	documentQueue.Start(gctx)
	defer notificationQueue.Stop()
	defer documentQueue.Stop()

	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}

	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logr.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
