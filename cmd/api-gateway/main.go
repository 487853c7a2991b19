package main

import (
	"context"
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

	_ "github.com/noah-isme/lms-core-api/api/swagger"
	"github.com/noah-isme/lms-core-api/internal/handler"
	"github.com/noah-isme/lms-core-api/internal/middleware"
	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/repository"
	"github.com/noah-isme/lms-core-api/internal/service"
	"github.com/noah-isme/lms-core-api/pkg/cache"
	"github.com/noah-isme/lms-core-api/pkg/config"
	"github.com/noah-isme/lms-core-api/pkg/database"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
	"github.com/noah-isme/lms-core-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-core-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-core-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-core-api/pkg/response"
)

// @title LMS Core API
// @version 0.1.0
// @description Entitlement and access-control engine for the course platform
// @BasePath /
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
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, descriptor cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled && redisClient != nil)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lms-core-api",
	})

	tokenStore := service.NewStreamTokenStore(service.StreamTokenStoreConfig{
		TokenTTL:      cfg.Stream.TokenTTL,
		SweepInterval: cfg.Stream.SweepInterval,
		MaxEntries:    cfg.Stream.MaxEntries,
	}, logr)
	tokenStore.Start()
	defer tokenStore.Stop()

	accessSvc := service.NewAccessService(courseRepo, userRepo, tokenStore, cacheSvc, metrics, logr)

	var gateway service.PaymentGateway
	if cfg.Payments.GatewayEnabled {
		gateway = service.NewMockPaymentGateway(logr)
	}
	paymentSvc := service.NewPaymentService(paymentRepo, courseRepo, progressRepo, gateway, cacheSvc, metrics, validate, logr, cfg.Payments.Currency)

	authHandler := handler.NewAuthHandler(authSvc)
	accessHandler := handler.NewAccessHandler(accessSvc, authSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusServiceUnavailable, "database unavailable"))
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
		auth := api.Group("/auth")
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)

		// Access checks accept anonymous callers: preview resources are open.
		api.GET("/resources/:id/access", middleware.OptionalJWT(authSvc), accessHandler.CanAccess)
		api.POST("/resources/:id/stream-token", middleware.OptionalJWT(authSvc), accessHandler.IssueStreamToken)
		// Stream validation carries no session; the token is the credential.
		api.GET("/stream/validate", accessHandler.ValidateStreamToken)

		payments := api.Group("/payments", middleware.JWT(authSvc))
		payments.POST("", middleware.RequireRoles(models.RoleStudent), paymentHandler.Submit)
		payments.GET("", middleware.RequireRoles(models.RoleAdmin), paymentHandler.List)
		payments.POST("/:id/verify", middleware.RequireRoles(models.RoleAdmin), paymentHandler.Verify)
		payments.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin), paymentHandler.Reject)

		api.POST("/courses/:id/enroll", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleStudent), paymentHandler.EnrollFree)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
