package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/docskit/tenant-api/internal/handler"
	"github.com/docskit/tenant-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// WebhookHandler additionally mounts provider-facing routes that bypass
// session authentication.
type WebhookHandler interface {
	Handler
	RegisterWebhookRoutes(*gin.RouterGroup)
}

// DataHandler additionally mounts API-key-authenticated routes.
type DataHandler interface {
	Handler
	RegisterDataRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit  rate.Limit
	RateBurst  int
	CORSConfig middleware.CORSConfig
	Timeout    time.Duration
}

type Router struct {
	engine       *gin.Engine
	auth         *middleware.AuthMiddleware
	tenant       *middleware.TenantMiddleware
	apiKey       *middleware.APIKeyMiddleware
	gate         *middleware.BillingGate
	redisLimiter *middleware.RedisRateLimiter
	authH        Handler
	orgH         Handler
	apiKeyH      DataHandler
	billingH     WebhookHandler
	h            *handler.Handler
	metrics      *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	tenant *middleware.TenantMiddleware,
	apiKey *middleware.APIKeyMiddleware,
	gate *middleware.BillingGate,
	redisLimiter *middleware.RedisRateLimiter,
	authH Handler,
	orgH Handler,
	apiKeyH DataHandler,
	billingH WebhookHandler,
	h *handler.Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	r := &Router{
		engine:       engine,
		auth:         auth,
		tenant:       tenant,
		apiKey:       apiKey,
		gate:         gate,
		redisLimiter: redisLimiter,
		authH:        authH,
		orgH:         orgH,
		apiKeyH:      apiKeyH,
		billingH:     billingH,
		h:            h,
		metrics:      initRouterMetrics(),
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: timeout}),
	)

	engine.Use(middleware.CORS(config.CORSConfig))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	if redisLimiter != nil {
		engine.Use(redisLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)

	// Public: signup/login and the provider webhook. The webhook carries
	// its own authentication (the signature).
	r.authH.RegisterRoutes(api)
	r.billingH.RegisterWebhookRoutes(api)

	// Dashboard: tenant-resolved, session-authenticated, billing-gated.
	tenantAPI := api.Group("")
	tenantAPI.Use(
		r.tenant.Resolve(),
		r.auth.Authenticate(),
		r.gate.Enforce(),
	)
	r.orgH.RegisterRoutes(tenantAPI)
	r.billingH.RegisterRoutes(tenantAPI)
	r.apiKeyH.RegisterRoutes(tenantAPI)

	// Data plane: API key authenticated, no session.
	dataAPI := api.Group("/data")
	dataAPI.Use(r.apiKey.Authenticate())
	r.apiKeyH.RegisterDataRoutes(dataAPI)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
		health.GET("/metrics", r.h.MetricsHandler)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics() *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docskit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		requestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docskit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path, and status",
		}, []string{"method", "path", "status"}),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// FullPath keeps route templates, avoiding per-id label blowup.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path,
			strconv.Itoa(c.Writer.Status())).Inc()
	}
}
