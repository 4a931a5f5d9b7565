package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"analytics-service/internal/config"
	"analytics-service/internal/events"
	"analytics-service/internal/handlers"
	localMiddleware "analytics-service/internal/middleware"
	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"analytics-service/internal/repository"
	"analytics-service/internal/services"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/Tesseract-Nexus/go-shared/rbac"
	"github.com/Tesseract-Nexus/go-shared/tracing"
)

// @title Store Analytics API
// @version 1.0.0
// @description Period-filtered store leaderboards, top-store rankings and points analytics with multi-tenant support
// @contact.name Analytics API Support
// @contact.url http://www.tesseract-hub.com/support
// @contact.email support@tesseract-hub.com
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

var log *logrus.Logger

func main() {
	log = logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	if len(os.Args) > 1 && os.Args[1] == "health" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get("http://localhost:" + port + "/health")
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil {
		log.Warn("Warning: .env file not found, using system environment variables")
	}

	cfg := config.Load()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}

	if err := runMigrations(db, cfg); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	// Redis is optional; without it scope lookups hit the database and rate limiting stays in memory
	redisClient := initRedis(cfg)

	factRepo := repository.NewFactRepository(db)
	storeRepo := repository.NewStoreRepository(db, redisClient, cfg.ScopeCacheTTL, log)

	location, err := cfg.LoadLocation()
	if err != nil {
		log.WithError(err).Warn("Falling back to UTC for reporting periods")
	}
	clock := period.SystemClock{Location: location}
	engine := services.NewAggregationEngine(factRepo, storeRepo, clock, log)
	log.WithField("timezone", location.String()).Info("✓ Aggregation engine initialized")

	ctx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()

	var subscriber *events.PointSubscriber
	if cfg.IngestEnabled {
		subscriber, err = events.NewPointSubscriber(cfg.NATSURL, cfg.ConsumerPrefix, factRepo, storeRepo, log)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize point subscriber (facts won't be ingested)")
		} else if err := subscriber.Start(ctx); err != nil {
			log.WithError(err).Warn("Failed to start point subscriber")
		} else {
			log.Info("✓ Point fact subscriber started")
		}
	}

	var tracerProvider *tracing.TracerProvider
	if cfg.Environment == "production" {
		tracerProvider, err = tracing.InitTracer(tracing.ProductionConfig("analytics-service"))
	} else {
		tracerProvider, err = tracing.InitTracer(tracing.DefaultConfig("analytics-service"))
	}
	if err != nil {
		log.WithError(err).Warn("Failed to initialize tracing (continuing without tracing)")
	} else {
		log.Info("✓ OpenTelemetry tracing initialized")
	}

	metrics := gosharedmw.InitGlobalMetrics("tesseract", "analytics_service")
	log.Info("✓ Prometheus metrics initialized")

	rbacMiddleware := rbac.NewMiddlewareWithURL(cfg.StaffServiceURL, nil)
	log.Info("✓ RBAC middleware initialized")

	limits := handlers.Limits{
		LeaderboardDefault: cfg.LeaderboardLimit,
		LeaderboardMax:     cfg.LeaderboardMax,
		TopDefault:         cfg.TopLimit,
		TopMax:             cfg.TopMax,
	}
	exportLimiter := rate.NewLimiter(rate.Limit(cfg.ExportRatePerSec), cfg.ExportBurst)

	leaderboardHandler := handlers.NewLeaderboardHandler(engine, limits, exportLimiter, log)
	analyticsHandler := handlers.NewAnalyticsHandler(engine, limits, log)
	healthHandler := handlers.NewHealthHandler(factRepo)

	router := setupRouter(cfg, redisClient, metrics.Middleware(), rbacMiddleware, leaderboardHandler, analyticsHandler, healthHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.Environment,
			"db_host":     cfg.DBHost,
			"db_name":     cfg.DBName,
		}).Info("🚀 Analytics Service starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down analytics-service...")

	stopIngest()
	if subscriber != nil {
		subscriber.Close()
		log.Info("✓ Point subscriber drained")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Error shutting down tracer provider")
		}
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info("Analytics service stopped")
}

func initRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not configured, caching disabled")
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("Failed to parse Redis URL, continuing without Redis caching")
		return nil
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Failed to connect to Redis, continuing without Redis caching")
		_ = client.Close()
		return nil
	}

	log.Info("✓ Connected to Redis for caching")
	return client
}

// runMigrations creates the fact table. Store tables belong to other services
// and are only migrated outside production so local databases work.
func runMigrations(db *gorm.DB, cfg *config.Config) error {
	log.Info("🔄 Running database migrations...")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		log.WithError(err).Warn("Could not ensure pgcrypto extension")
	}

	toMigrate := []interface{}{&models.PointFact{}}
	if cfg.Environment != "production" {
		toMigrate = append(toMigrate,
			&models.Store{},
			&models.StoreOrder{},
			&models.StoreFollower{},
			&models.Product{},
		)
	}

	if err := db.AutoMigrate(toMigrate...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("✅ Database migrations completed successfully")
	return nil
}

func setupRouter(
	cfg *config.Config,
	redisClient *redis.Client,
	metricsMiddleware gin.HandlerFunc,
	rbacMiddleware *rbac.Middleware,
	leaderboardHandler *handlers.LeaderboardHandler,
	analyticsHandler *handlers.AnalyticsHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(gosharedmw.SecurityHeaders())

	if redisClient != nil {
		router.Use(gosharedmw.RedisRateLimitMiddlewareWithProfile(redisClient, "standard"))
		log.Info("✓ Redis-based rate limiting enabled")
	} else {
		router.Use(gosharedmw.RateLimit())
		log.Info("✓ In-memory rate limiting enabled (Redis unavailable)")
	}

	router.Use(metricsMiddleware)
	router.Use(tracing.GinMiddleware("analytics-service"))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Tenant-ID", "X-Vendor-ID", "X-User-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/metrics", gosharedmw.Handler())
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api/v1")

	// Istio validates the JWT and injects x-jwt-claim-* headers in production
	if cfg.Environment == "production" {
		api.Use(gosharedmw.IstioAuth(gosharedmw.IstioAuthConfig{
			RequireAuth:        true,
			AllowLegacyHeaders: false,
			SkipPaths:          []string{"/health", "/ready", "/metrics", "/swagger"},
		}))
		log.Info("✓ Using Istio auth middleware (production mode)")
	} else {
		api.Use(localMiddleware.DevelopmentAuthMiddleware())
		log.Info("✓ Using development auth middleware")
	}
	api.Use(localMiddleware.TenantMiddleware())

	leaderboard := api.Group("/leaderboard")
	{
		leaderboard.GET("", rbacMiddleware.RequirePermission(rbac.PermissionVendorsRead), leaderboardHandler.GetLeaderboard)
		leaderboard.GET("/export", rbacMiddleware.RequirePermission(rbac.PermissionVendorsRead), leaderboardHandler.ExportLeaderboard)
		leaderboard.GET("/stores/:id", rbacMiddleware.RequirePermission(rbac.PermissionVendorsRead), leaderboardHandler.GetStoreStanding)
	}

	analytics := api.Group("/analytics")
	{
		analytics.GET("/top-stores", rbacMiddleware.RequirePermission(rbac.PermissionVendorsRead), analyticsHandler.GetTopStores)
		analytics.GET("/points", rbacMiddleware.RequirePermission(rbac.PermissionMarketingLoyaltyView), analyticsHandler.GetPoints)
		analytics.GET("/points/summary", rbacMiddleware.RequirePermission(rbac.PermissionMarketingLoyaltyView), analyticsHandler.GetPointsSummary)
		analytics.GET("/periods", analyticsHandler.ListPeriods)
	}

	return router
}
