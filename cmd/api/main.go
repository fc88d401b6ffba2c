package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/docskit/tenant-api/internal/config"
	"github.com/docskit/tenant-api/internal/email"
	"github.com/docskit/tenant-api/internal/handler"
	apikeyHandler "github.com/docskit/tenant-api/internal/handler/apikey"
	authHandler "github.com/docskit/tenant-api/internal/handler/auth"
	billingHandler "github.com/docskit/tenant-api/internal/handler/billing"
	organizationHandler "github.com/docskit/tenant-api/internal/handler/organization"
	"github.com/docskit/tenant-api/internal/middleware"
	"github.com/docskit/tenant-api/internal/repository/postgres"
	"github.com/docskit/tenant-api/internal/router"
	apikeyService "github.com/docskit/tenant-api/internal/service/apikey"
	authService "github.com/docskit/tenant-api/internal/service/auth"
	billingService "github.com/docskit/tenant-api/internal/service/billing"
	"github.com/docskit/tenant-api/internal/tenant"
	"github.com/docskit/tenant-api/pkg/auth"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
	"github.com/docskit/tenant-api/pkg/security"
	"github.com/docskit/tenant-api/pkg/task"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("docskit", "api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Repositories
	base := postgres.NewBaseRepository(db)
	userRepo := postgres.NewUserRepository(base)
	orgRepo := postgres.NewOrganizationRepository(base)
	membershipRepo := postgres.NewMembershipRepository(base)
	tokenRepo := postgres.NewTokenRepository(base)
	applicationRepo := postgres.NewApplicationRepository(base)
	apiKeyRepo := postgres.NewAPIKeyRepository(base)
	billingRepo := postgres.NewBillingRepository(base)

	// Background task runner for work that must not block requests
	queueSize := cfg.Tasks.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Tasks.Workers
	if workers <= 0 {
		workers = 4
	}
	tasks := task.NewRunner(task.RunnerConfig{
		QueueSize:   queueSize,
		Workers:     workers,
		TaskTimeout: cfg.Tasks.Timeout(),
	}, appLogger, appMetrics)

	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	go tasks.Start(runnerCtx)

	// Services
	jwtSvc := auth.NewJWTService(auth.Config{
		Secret:        cfg.JWT.Secret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Expiry:        time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
		RefreshExpiry: time.Duration(cfg.JWT.RefreshExpiryHours) * time.Hour,
	})
	hasher := security.NewBcryptHasher(bcrypt.DefaultCost)
	emailSvc := email.NewSMTPService(cfg.SMTP, appLogger)

	authSvc := authService.NewService(userRepo, orgRepo, membershipRepo, tokenRepo,
		hasher, jwtSvc, emailSvc, tasks, appLogger, cfg.Worker.PendingTTL())
	apiKeySvc := apikeyService.NewService(apiKeyRepo, applicationRepo, orgRepo,
		tasks, appLogger, appMetrics)
	checkout := billingService.NewCheckoutClient(cfg.Billing)
	reconciler := billingService.NewReconciler(billingRepo, orgRepo, membershipRepo,
		userRepo, emailSvc, tasks, appLogger, appMetrics,
		cfg.Billing.WebhookSecret, cfg.Billing.Tolerance())
	billingSvc := billingService.NewService(orgRepo, membershipRepo, checkout)

	// Middleware
	resolver := tenant.NewResolver(cfg.Tenant.RootDomain)
	authMW := middleware.NewAuthMiddleware(jwtSvc)
	tenantMW := middleware.NewTenantMiddleware(resolver, orgRepo, cfg.Tenant.CacheTTL(), appLogger)
	apiKeyMW := middleware.NewAPIKeyMiddleware(apiKeySvc, appLogger)
	gate := middleware.NewBillingGate(membershipRepo, appLogger, appMetrics)

	// The Redis limiter is optional; a single instance runs fine on the
	// in-process limiter alone.
	var redisLimiter *middleware.RedisRateLimiter
	if cfg.Redis.Addr != "" && cfg.RateLimit.PerIPLimit > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisLimiter = middleware.NewRedisRateLimiter(client,
			cfg.RateLimit.PerIPLimit, cfg.RateLimit.Window(), appLogger)
	}

	// Handlers
	h := handler.NewHandler(db)
	authH := authHandler.NewHandler(authSvc)
	orgH := organizationHandler.NewHandler()
	apiKeyH := apikeyHandler.NewHandler(apiKeySvc)
	billingH := billingHandler.NewHandler(reconciler, billingSvc, appLogger)

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 50
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 100
	}

	r := router.NewRouter(authMW, tenantMW, apiKeyMW, gate, redisLimiter,
		authH, orgH, apiKeyH, billingH, h, router.Config{
			RateLimit:  rate.Limit(rps),
			RateBurst:  burst,
			CORSConfig: middleware.DefaultCORSConfig(),
			Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		})
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	stopRunner()

	log.Info().Msg("server exited properly")
}
