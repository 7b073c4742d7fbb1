package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hostel-allocation-api/api/swagger"
	"github.com/noah-isme/hostel-allocation-api/internal/handler"
	"github.com/noah-isme/hostel-allocation-api/internal/middleware"
	"github.com/noah-isme/hostel-allocation-api/internal/models"
	"github.com/noah-isme/hostel-allocation-api/internal/repository"
	"github.com/noah-isme/hostel-allocation-api/internal/service"
	"github.com/noah-isme/hostel-allocation-api/migrations"
	"github.com/noah-isme/hostel-allocation-api/pkg/cache"
	"github.com/noah-isme/hostel-allocation-api/pkg/config"
	"github.com/noah-isme/hostel-allocation-api/pkg/database"
	"github.com/noah-isme/hostel-allocation-api/pkg/jobs"
	"github.com/noah-isme/hostel-allocation-api/pkg/logger"
	"github.com/noah-isme/hostel-allocation-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/hostel-allocation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hostel-allocation-api/pkg/middleware/requestid"
	"github.com/noah-isme/hostel-allocation-api/pkg/scheduler"
)

// @title Hostel Allocation API
// @version 1.0.0
// @description Bed allocation engine for university hostels.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const (
	shutdownTimeout  = 15 * time.Second
	runJobTimeout    = time.Hour
	runRetryDelay    = 30 * time.Second
	notifyRetryDelay = 10 * time.Second
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, migrations.FS, logr); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, logr),
		metrics,
		cfg.Allocation.StatsTTL,
		logr,
		redisClient != nil,
	)

	applicationRepo := repository.NewApplicationRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var sender mailer.Sender
	if cfg.Notifications.SMTPEnabled() {
		sender = mailer.NewSMTPSender(cfg.Notifications)
	} else {
		sender = mailer.NewLogSender(logr)
	}
	notifier := service.NewNotificationService(sender, nil, metrics, logr)
	notifyQueue := jobs.NewQueue("notifications", notifier.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: retries(cfg.Notifications.Retries),
		RetryDelay: notifyRetryDelay,
		Logger:     logr,
	})
	notifier.SetQueue(notifyQueue)

	validate := validator.New()
	allocationSvc := service.NewAllocationService(
		allocationRepo,
		applicationRepo,
		auditRepo,
		notifier,
		metrics,
		validate,
		logr,
		service.AllocationServiceConfig{
			CandidateLimit: cfg.Allocation.CandidateLimit,
			TxTimeout:      cfg.Allocation.TxTimeout,
		},
	)
	waitlistSvc := service.NewWaitlistService(waitlistRepo, auditRepo, notifier, logr)
	batchSvc := service.NewBatchAllocationService(
		applicationRepo,
		allocationSvc,
		waitlistSvc,
		auditRepo,
		cacheSvc,
		metrics,
		logr,
		service.BatchAllocationConfig{
			SystemActor: cfg.Allocation.SystemActor,
			StatsTTL:    cfg.Allocation.StatsTTL,
		},
	)
	runQueue := jobs.NewQueue("allocation-runs", batchSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Allocation.QueueWorkers,
		MaxRetries: retries(cfg.Allocation.QueueRetries),
		RetryDelay: runRetryDelay,
		Logger:     logr,
	})
	batchSvc.SetQueue(runQueue)
	metrics.ObserveQueueDepth("notifications", notifyQueue.Len)
	metrics.ObserveQueueDepth("allocation-runs", runQueue.Len)

	notifyQueue.Start(ctx)
	runQueue.Start(ctx)

	sched, err := scheduler.New(logr)
	if err != nil {
		logr.Fatal("failed to init scheduler", zap.Error(err))
	}
	if cfg.Allocation.Cron != "" {
		if err := sched.AddCron(scheduler.JobOptions{
			Name:           "allocation-run",
			Cron:           cfg.Allocation.Cron,
			Timeout:        runJobTimeout,
			RunImmediately: cfg.Allocation.RunOnStart,
		}, batchSvc.RunScheduled); err != nil {
			logr.Fatal("failed to schedule allocation run", zap.Error(err))
		}
	} else if cfg.Allocation.RunOnStart {
		if runID, err := batchSvc.Trigger(batchSvc.SystemActor()); err != nil {
			logr.Warn("failed to queue startup allocation run", zap.Error(err))
		} else {
			logr.Info("startup allocation run queued", zap.String("run_id", runID))
		}
	}
	sched.Start()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	allocationHandler := handler.NewAllocationHandler(batchSvc, allocationSvc)
	waitlistHandler := handler.NewWaitlistHandler(waitlistSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})))

	admin := api.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.POST("/allocations/runs", allocationHandler.TriggerRun)
	admin.GET("/allocations/runs/latest", allocationHandler.LatestRun)
	admin.POST("/applications/:id/assign", allocationHandler.AssignBed)

	staff := api.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleWarden))
	staff.GET("/waitlist", waitlistHandler.List)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logr.Warn("scheduler shutdown", zap.Error(err))
	}
	runQueue.Stop()
	notifyQueue.Stop()
}

// retries maps a configured retry count onto the queue convention where a
// negative value disables retries.
func retries(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
