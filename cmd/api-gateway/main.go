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

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/archivia-api/api/swagger"
	"github.com/noah-isme/archivia-api/internal/handler"
	"github.com/noah-isme/archivia-api/internal/middleware"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/repository"
	"github.com/noah-isme/archivia-api/internal/service"
	"github.com/noah-isme/archivia-api/pkg/analyzer"
	"github.com/noah-isme/archivia-api/pkg/cache"
	"github.com/noah-isme/archivia-api/pkg/config"
	"github.com/noah-isme/archivia-api/pkg/database"
	"github.com/noah-isme/archivia-api/pkg/jobs"
	"github.com/noah-isme/archivia-api/pkg/logger"
	"github.com/noah-isme/archivia-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/archivia-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/archivia-api/pkg/middleware/requestid"
	"github.com/noah-isme/archivia-api/pkg/preview"
	"github.com/noah-isme/archivia-api/pkg/storage"
)

// @title Archivia API
// @version 1.0.0
// @description Academic document repository: submissions, moderation and search
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

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Env}); err != nil {
			logr.Warn("sentry disabled", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	checks := map[string]handler.Pinger{"postgres": db}

	var cacheSvc *service.CacheService
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, analytics caching disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheSvc = service.NewCacheService(repository.NewCacheRepository(client, "archivia", logr), metrics, cfg.Analytics.CacheTTL, logr)
			checks["redis"] = handler.PingFunc(cache.Probe(client))
		}
	}

	store, err := storage.New(ctx, cfg.Storage, cfg.PublicURL, logr)
	if err != nil {
		logr.Fatal("failed to init object storage", zap.Error(err))
	}
	renderer, err := preview.New(cfg.Preview, logr)
	if err != nil {
		logr.Warn("previews disabled", zap.Error(err))
		renderer = preview.Noop{}
	}

	userRepo := repository.NewUserRepository(db)
	otpRepo := repository.NewOTPRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	validate := service.NewValidator()
	notifications := service.NewNotificationService(mailer.New(cfg.Mail, logr), userRepo, metrics, cfg.AppURL, logr)
	cleaner := service.NewStorageCleaner(store, metrics, logr)
	otps := service.NewOTPService(otpRepo, cfg.OTP.TTL, logr)
	analytics := service.NewAnalyticsService(analyticsRepo, documentRepo, cacheSvc, metrics, cfg.Analytics.TrendsLimit, logr)

	authSvc := service.NewAuthService(userRepo, otps, notifications, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		ResetTokenTTL:     cfg.OTP.ResetTokenTTL,
		AppURL:            cfg.AppURL,
	})
	userSvc := service.NewUserService(userRepo, otps, notifications, validate, logr)
	documentSvc := service.NewDocumentService(documentRepo, store, cleaner, userRepo, userRepo, notifications, logr,
		service.WithSearchRecorder(analytics),
		service.WithStatsInvalidator(analytics),
		service.WithDocumentMetrics(metrics),
	)
	submissionSvc := service.NewSubmissionService(documentRepo, store, analyzer.NewGeminiAnalyzer(cfg.Analyzer), renderer,
		cleaner, notifications, userRepo, analytics, metrics, logr, service.SubmissionConfig{
			MaxFileSize:  cfg.Uploads.MaxFileSizeBytes,
			AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
		})
	settingsSvc := service.NewSettingsService(settingsRepo, userRepo, validate, logr)

	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		OnFailure: func(job jobs.Job, err error) {
			logr.Error("background job abandoned", zap.String("type", job.Type), zap.String("job_id", job.ID), zap.Error(err))
		},
	}
	notifyQueue := jobs.NewQueue("notifications", notifications.Handle, queueCfg)

	mux := jobs.NewMux()
	mux.Handle(service.JobTypeSearchRecorded, analytics.Handle)
	mux.Handle(service.JobTypeStorageCleanup, cleaner.Handle)
	backgroundQueue := jobs.NewQueue("background", mux.Process, queueCfg)

	notifications.UseQueue(notifyQueue)
	analytics.UseQueue(backgroundQueue)
	cleaner.UseQueue(backgroundQueue)
	notifyQueue.Start(ctx)
	backgroundQueue.Start(ctx)
	go purgeExpiredChallenges(ctx, otpRepo, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(middleware.ErrorReporting())
	r.Use(middleware.ResponseMeta())

	handler.RegisterProbes(r, handler.NewMetricsHandler(metrics, checks))

	var files handler.FileOpener
	if local, ok := store.(*storage.LocalStorage); ok {
		files = local
	}
	documents := handler.NewDocumentHandler(documentSvc, submissionSvc, files, cfg.Uploads.MaxFileSizeBytes)

	api := r.Group(cfg.APIPrefix)
	api.GET("/files/:token", documents.Download)
	handler.RegisterRoutes(api, handler.Handlers{
		Auth:      handler.NewAuthHandler(authSvc, userSvc),
		Users:     handler.NewUserHandler(userSvc),
		Documents: documents,
		Analytics: handler.NewAnalyticsHandler(analytics),
		Settings:  handler.NewSettingsHandler(settingsSvc),
	}, handler.Guards{
		Auth:         middleware.JWT(authSvc, userRepo),
		OptionalAuth: middleware.OptionalJWT(authSvc, userRepo),
		ExportAudit:  middleware.Audit(userRepo, logr, models.AuditActionAnalyticsExport, "analytics"),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

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
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	notifyQueue.Stop(10 * time.Second)
	backgroundQueue.Stop(10 * time.Second)
}

type challengePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func purgeExpiredChallenges(ctx context.Context, store challengePurger, logr *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				logr.Warn("failed to purge expired challenges", zap.Error(err))
				continue
			}
			if n > 0 {
				logr.Debug("purged expired challenges", zap.Int64("count", n))
			}
		}
	}
}
