package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/apascualco/pairgate/internal/application"
	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/apascualco/pairgate/internal/infrastructure/config"
	"github.com/apascualco/pairgate/internal/infrastructure/gateway"
	"github.com/apascualco/pairgate/internal/infrastructure/http/handler"
	"github.com/apascualco/pairgate/internal/infrastructure/http/middleware"
	"github.com/apascualco/pairgate/internal/infrastructure/jwt"
	"github.com/apascualco/pairgate/internal/infrastructure/memory"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
	"github.com/apascualco/pairgate/internal/infrastructure/postgres"
	"github.com/apascualco/pairgate/internal/infrastructure/ratelimit"
	"github.com/apascualco/pairgate/internal/infrastructure/redis"
	"github.com/apascualco/pairgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	httpServer *http.Server
	startTime  time.Time

	pool        *pgxpool.Pool
	redisClient *redis.Client
	exporter    tracing.SpanExporter
	metrics     *prometheus.Registry
	reconciler  *application.StatusReconciler
	instances   *handler.InstanceHandler
	auth        *middleware.AuthMiddleware
	rateLimiter ratelimit.RateLimiter
	readyChecks []handler.ReadinessCheck
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{
		config:    cfg,
		startTime: time.Now(),
		exporter:  tracing.NewExporter(cfg),
		metrics:   prometheus.NewRegistry(),
	}
	s.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clk := clock.Real()
	recorder := observability.NewPrometheus(s.metrics)

	repo, err := s.setupRepository(ctx, clk)
	if err != nil {
		return nil, err
	}

	tracker, err := s.setupRedis(ctx, clk)
	if err != nil {
		_ = s.closeStores()
		return nil, err
	}

	if err := s.setupAuth(); err != nil {
		_ = s.closeStores()
		return nil, err
	}

	slog.Debug("new gateway client",
		slog.String("url", cfg.GatewayURL),
		slog.Duration("timeout", cfg.GatewayTimeout),
	)
	gatewayClient := gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey,
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithMetrics(recorder),
		gateway.WithSpanExporter(s.exporter),
	)

	cache := application.NewInstanceCache(repo, application.InstanceCacheConfig{
		TTL:     cfg.CacheTTL,
		Clock:   clk,
		Metrics: recorder,
	})

	s.reconciler = application.NewStatusReconciler(gatewayClient, repo, cache, tracker, application.ReconcilerConfig{
		Interval: cfg.ReconcileInterval,
		Clock:    clk,
		Metrics:  recorder,
	})

	orchestrator := application.NewOrchestrator(gatewayClient, repo, cache, tracker, application.OrchestratorConfig{
		LogoutSettleDelay:   cfg.LogoutSettleDelay,
		RestartSettleDelay:  cfg.RestartSettleDelay,
		ConnectPollAttempts: cfg.ConnectPollAttempts,
		ConnectPollDelay:    cfg.ConnectPollDelay,
		Guard:               s.reconciler,
		Clock:               clk,
		Metrics:             recorder,
	})

	s.instances = handler.NewInstanceHandler(handler.InstanceHandlerConfig{
		Orchestrator: orchestrator,
		Instances:    cache,
		Repository:   repo,
		Tracker:      tracker,
		Watcher:      s.reconciler,
		Clock:        clk,
	})

	s.setupRouter()
	return s, nil
}

func (s *Server) setupRepository(ctx context.Context, clk clock.Clock) (domain.InstanceRepository, error) {
	if s.config.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not configured, instances are kept in memory")
		return memory.NewInstanceRepository(clk), nil
	}

	pool, err := postgres.NewPool(ctx, s.config.DatabaseURL, s.config.DatabaseMaxConns)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool

	repo := postgres.NewInstanceRepository(pool, clk, slog.Default())
	s.readyChecks = append(s.readyChecks, handler.ReadinessCheck{Name: "postgres", Ping: repo.Ping})
	slog.Info("instance store enabled with Postgres", slog.Int("max_conns", int(s.config.DatabaseMaxConns)))
	return repo, nil
}

func (s *Server) setupRedis(ctx context.Context, clk clock.Clock) (application.PairingTracker, error) {
	if s.config.RedisURL == "" {
		if s.config.PairingRateLimitEnabled {
			s.rateLimiter = ratelimit.NewInMemoryLimiter(clk)
			slog.Warn("pairing rate limit enabled with in-memory limiter (not recommended for production)")
		}
		return application.NewMemoryPairingTracker(clk), nil
	}

	client, err := redis.NewClient(ctx, s.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	s.redisClient = client
	s.readyChecks = append(s.readyChecks, handler.ReadinessCheck{Name: "redis", Ping: client.Ping})

	if s.config.PairingRateLimitEnabled {
		s.rateLimiter = ratelimit.NewLimiter(client.Client, clk)
		slog.Info("pairing rate limit enabled with Redis", slog.Int("per_minute", s.config.PairingAttemptsPerMinute))
	} else {
		slog.Debug("pairing rate limit disabled")
	}

	return redis.NewPairingStore(client, clk), nil
}

func (s *Server) setupAuth() error {
	if s.config.JWTPublicKey == "" {
		s.auth = middleware.NewAuthMiddleware(nil)
		return nil
	}

	jwtService, err := jwt.NewService(s.config)
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w", err)
	}
	s.auth = middleware.NewAuthMiddleware(jwtService)
	slog.Info("jwt authentication enabled", slog.Any("allowed_issuers", s.config.JWTAllowedIssuers))
	return nil
}

func (s *Server) setupRouter() {
	if s.config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.TraceMiddleware(middleware.NewW3CTraceProvider(), s.exporter))
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: s.config.CORSAllowedOrigins,
		AllowedMethods: s.config.CORSAllowedMethods,
		AllowedHeaders: s.config.CORSAllowedHeaders,
	}))

	s.router.GET("/health", handler.HealthHandler(s.startTime, s.config.Version))
	s.router.GET("/ready", handler.ReadyHandler(s.readyChecks...))
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))

	s.setupInstanceRoutes()
}

func (s *Server) setupInstanceRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(s.auth.Authenticate())

	instances := api.Group("/instances")
	{
		instances.POST("/connect", s.rateLimited(s.instances.Connect)...)
		instances.POST("/:name/regenerate", s.rateLimited(s.instances.Regenerate)...)
		instances.GET("", s.instances.List)
		instances.GET("/:name", s.instances.Get)
		instances.GET("/:name/events", s.instances.Events)
		instances.PUT("/:name/pause", s.instances.Pause)
		instances.DELETE("/:name/pause", s.instances.Resume)
	}
}

// rateLimited prepends the per-owner pairing limit when it is enabled.
func (s *Server) rateLimited(h gin.HandlerFunc) []gin.HandlerFunc {
	if s.rateLimiter == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{middleware.PairingRateLimit(s.rateLimiter, s.config.PairingAttemptsPerMinute), h}
}

func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// closes every watch channel so open event streams return
	s.reconciler.Stop()

	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	errs = append(errs, s.exporter.Shutdown(ctx))
	errs = append(errs, s.closeStores())

	return errors.Join(errs...)
}

func (s *Server) closeStores() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}
