package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/arkacitra/bimbel-portal-api/api/swagger"
	"github.com/arkacitra/bimbel-portal-api/internal/handler"
	"github.com/arkacitra/bimbel-portal-api/internal/middleware"
	"github.com/arkacitra/bimbel-portal-api/internal/models"
	"github.com/arkacitra/bimbel-portal-api/internal/repository"
	"github.com/arkacitra/bimbel-portal-api/internal/service"
	"github.com/arkacitra/bimbel-portal-api/pkg/cache"
	"github.com/arkacitra/bimbel-portal-api/pkg/config"
	"github.com/arkacitra/bimbel-portal-api/pkg/database"
	"github.com/arkacitra/bimbel-portal-api/pkg/logger"
	corsmiddleware "github.com/arkacitra/bimbel-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/arkacitra/bimbel-portal-api/pkg/middleware/requestid"
	"github.com/arkacitra/bimbel-portal-api/pkg/storage"
)

// @title Bimbel Portal API
// @version 1.0.0
// @description Enrollment eligibility and installment payment engine for the tutoring-center portal
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	proofs, err := storage.NewLocalStorage(cfg.Proofs.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare proof storage", "error", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	programRepo := repository.NewProgramRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	catalogCache := repository.NewCacheRepository(redisClient, logr)
	catalogSvc := service.NewCatalogService(programRepo, catalogCache, metrics, cfg.Catalog.CacheTTL, logr)
	eligibilitySvc := service.NewEligibilityService(catalogSvc, enrollmentRepo, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, eligibilitySvc, catalogSvc, cfg.Payments, validate, metrics, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, validate, metrics, logr)

	programHandler := handler.NewProgramHandler(catalogSvc, enrollmentSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, paymentSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, proofs, cfg.Proofs.MaxFileSizeBytes, cfg.Proofs.AllowedMIMEs)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/programs", programHandler.List)
		api.GET("/programs/:id", programHandler.Get)
		api.GET("/programs/:id/quote", programHandler.Quote)

		api.POST("/enrollments/eligibility", enrollmentHandler.CheckEligibility)
		api.POST("/enrollments", enrollmentHandler.Create)
		api.GET("/enrollments", enrollmentHandler.List)
		api.GET("/enrollments/:id/payments", enrollmentHandler.ListPayments)

		api.POST("/payments/:id/submit", paymentHandler.Submit)
		api.POST("/payments/:id/resubmit", paymentHandler.Resubmit)
		api.GET("/payments/:id/history", paymentHandler.History)

		admin := api.Group("", middleware.JWT(cfg.JWT.Secret), middleware.RequireRoles(models.RoleAdmin, models.RoleStaff))
		{
			admin.POST("/payments/:id/validate", paymentHandler.Validate)
			admin.POST("/payments/:id/reject", paymentHandler.Reject)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
