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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/theftclaim-api/api/swagger"
	"github.com/noah-isme/theftclaim-api/internal/handler"
	"github.com/noah-isme/theftclaim-api/internal/ingest"
	"github.com/noah-isme/theftclaim-api/internal/middleware"
	"github.com/noah-isme/theftclaim-api/internal/models"
	"github.com/noah-isme/theftclaim-api/internal/repository"
	"github.com/noah-isme/theftclaim-api/internal/service"
	"github.com/noah-isme/theftclaim-api/pkg/cache"
	"github.com/noah-isme/theftclaim-api/pkg/config"
	"github.com/noah-isme/theftclaim-api/pkg/database"
	"github.com/noah-isme/theftclaim-api/pkg/jobs"
	"github.com/noah-isme/theftclaim-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/theftclaim-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/theftclaim-api/pkg/middleware/requestid"
	"github.com/noah-isme/theftclaim-api/pkg/storage"
)

// @title Theft Claim Evidence API
// @version 1.0.0
// @description Stolen item records, evidence storage and bulk evidence ingestion.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			logr.Sugar().Fatalw("failed to migrate database", "error", err)
		}
	}

	metricsSvc := service.NewMetricsService()

	// A nil cache service is a valid no-op cache.
	var cacheSvc *service.CacheService
	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, batch summaries will not outlive their batch", "error", err)
	} else {
		defer redisClient.Close() //nolint:errcheck
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, "theftclaim", logr), metricsSvc, cfg.Evidence.SummaryCacheTTL, logr, true)
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	objectStore, err := newObjectStore(ctx, cfg)
	if err != nil {
		logr.Sugar().Fatalw("failed to init evidence storage", "backend", cfg.Evidence.StorageBackend, "error", err)
	}
	staging, err := storage.NewLocalStorage(cfg.Evidence.StagingDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init evidence staging", "dir", cfg.Evidence.StagingDir, "error", err)
	}

	validate := validator.New()
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	itemRepo := repository.NewItemRepository(db)
	evidenceRepo := repository.NewEvidenceRepository(db)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "theftclaim-api",
	})
	itemSvc := service.NewItemService(itemRepo, validate, auditRepo, logr)
	evidenceSvc := service.NewEvidenceService(
		evidenceRepo,
		itemRepo,
		objectStore,
		storage.NewSignedURLSigner(cfg.Evidence.SignedURLSecret, cfg.Evidence.SignedURLTTL),
		auditRepo,
		logr,
		service.EvidenceServiceConfig{APIPrefix: cfg.APIPrefix, SignedURLTTL: cfg.Evidence.SignedURLTTL},
	)

	registry := service.NewBatchRegistry()
	worker := service.NewBatchWorker(registry, itemSvc, evidenceSvc, cacheSvc, metricsSvc, auditRepo, logr, service.BatchWorkerConfig{
		Pipeline: ingest.Config{
			Parallelism:      cfg.Evidence.Parallelism,
			TransferTimeout:  cfg.Evidence.TransferTimeout,
			ProgressInterval: cfg.Evidence.ProgressInterval,
		},
		SummaryCacheTTL: cfg.Evidence.SummaryCacheTTL,
	})
	queue := jobs.NewQueue("evidence-batches", worker.Handle, jobs.QueueConfig{
		Workers: cfg.Evidence.Workers,
		Logger:  logr,
	})
	queue.Start(ctx)
	metricsSvc.TrackQueueDepth("evidence-batches", queue.Pending)

	batchSvc := service.NewBatchService(registry, queue, staging, cacheSvc, metricsSvc, validate, logr, service.BatchServiceConfig{
		MaxFilesPerBatch: cfg.Evidence.MaxFilesPerBatch,
		BatchTTL:         cfg.Evidence.BatchTTL,
		CleanupInterval:  cfg.Evidence.CleanupInterval,
		SummaryCacheTTL:  cfg.Evidence.SummaryCacheTTL,
		PreviewMaxBytes:  cfg.Evidence.PreviewMaxBytes,
	})
	batchSvc.StartCleanup(ctx)

	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:     authSvc,
		audit:    auditRepo,
		metrics:  metricsHandler,
		auths:    handler.NewAuthHandler(authSvc),
		items:    handler.NewItemHandler(itemSvc),
		evidence: handler.NewEvidenceHandler(evidenceSvc),
		batches:  handler.NewBatchHandler(batchSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http server shutdown failed", zap.Error(err))
	}
	batchSvc.Shutdown(shutdownCtx)
	queue.Stop()
	logr.Info("server stopped")
}

type routeDeps struct {
	auth     middleware.TokenValidator
	audit    middleware.AuditWriter
	metrics  *handler.MetricsHandler
	auths    *handler.AuthHandler
	items    *handler.ItemHandler
	evidence *handler.EvidenceHandler
	batches  *handler.BatchHandler
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	api.POST("/auth/login", deps.auths.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.GET("/auth/me", deps.auths.Me)

	secured.POST("/items", deps.items.Create)
	secured.GET("/items", deps.items.List)
	secured.GET("/items/:id", deps.items.Get)
	secured.GET("/items/:id/evidence", deps.evidence.ListByItem)

	secured.POST("/evidence", deps.evidence.Upload)
	secured.GET("/evidence/:id", deps.evidence.Get)
	secured.GET("/evidence/:id/download", deps.evidence.Download)
	secured.DELETE("/evidence/:id", deps.evidence.Delete)

	batches := secured.Group("/evidence-batches")
	batches.POST("", deps.batches.Submit)
	batches.GET("/:id", deps.batches.Status)
	batches.PUT("/:id/assignments", deps.batches.Assign)
	batches.POST("/:id/run", deps.batches.Run)
	batches.POST("/:id/retry", deps.batches.Retry)
	batches.POST("/:id/tickets/:ticketId/retry", deps.batches.RetryTicket)
	batches.DELETE("/:id", middleware.Audit(deps.audit, models.AuditActionBatchDelete, "evidence_batch"), deps.batches.Delete)
	batches.GET("/:id/export", deps.batches.Export)

	system := secured.Group("/system")
	system.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	system.GET("/metrics", deps.metrics.Summary)
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Evidence.StorageBackend == config.StorageBackendS3 {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	}
	return storage.NewLocalStorage(cfg.Evidence.StorageDir)
}
