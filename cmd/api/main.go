// Package main is the entry point for the PromptArena API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/promptarena/promptarena/internal/api"
	"github.com/promptarena/promptarena/internal/auth"
	"github.com/promptarena/promptarena/internal/config"
	"github.com/promptarena/promptarena/internal/db"
	"github.com/promptarena/promptarena/internal/health"
	"github.com/promptarena/promptarena/internal/idempotency"
	"github.com/promptarena/promptarena/internal/jobs"
	"github.com/promptarena/promptarena/internal/leaderboard"
	"github.com/promptarena/promptarena/internal/middleware"
	"github.com/promptarena/promptarena/internal/prompt"
	"github.com/promptarena/promptarena/internal/promptset"
	"github.com/promptarena/promptarena/internal/ranking"
	"github.com/promptarena/promptarena/internal/tracing"
)

const serviceName = "promptarena-api"

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("PromptArena API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)

	env := "development"
	if cfg != nil {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      otlpEndpoint != "",
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: otlpEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracer provider", "error", err)
		}
	}()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelConnect()

	conn, err := db.Open(connectCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(connectCtx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// Metrics registry with all collectors registered up front.
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	rankingMetrics := ranking.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for name, reg := range map[string]interface {
		Register(prometheus.Registerer) error
	}{
		"http":    httpMetrics,
		"ranking": rankingMetrics,
		"jobs":    jobMetrics,
	} {
		if err := reg.Register(registry); err != nil {
			logger.Error("failed to register metrics", "collector", name, "error", err)
			os.Exit(1)
		}
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Repositories and domain services.
	promptRepo := prompt.NewPostgresRepository(conn, logger)
	setRepo := promptset.NewPostgresRepository(conn, logger)
	queryService := prompt.NewQueryService(promptRepo, setRepo, logger)
	assignService := prompt.NewAssignmentService(promptRepo, setRepo, queryService, logger)

	rankingStore := ranking.NewPostgresStore(conn, logger)
	rankingReader := ranking.NewReader(rankingStore)

	var calibration *ranking.Calibration
	if cfg.CalibrationPath != "" {
		calibration, err = ranking.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			logger.Error("failed to load ranking calibration", "path", cfg.CalibrationPath, "error", err)
			os.Exit(1)
		}
		logger.Info("ranking calibration loaded", "path", cfg.CalibrationPath)
	}

	recomputeJob := ranking.NewRecomputeJob(ranking.RecomputeJobConfig{
		Interval:    time.Duration(cfg.RecomputeIntervalSec) * time.Second,
		Timeout:     time.Duration(cfg.RecomputeTimeoutSec) * time.Second,
		Logger:      logger,
		Metrics:     rankingMetrics,
		JobMetrics:  jobMetrics,
		Calibration: calibration,
	}, promptRepo, rankingStore)
	if err := recomputeJob.Start(context.Background()); err != nil {
		logger.Error("failed to start recompute job", "error", err)
		os.Exit(1)
	}
	defer recomputeJob.Stop()

	var lbCache *leaderboard.Cache
	if redisClient != nil {
		ttl := time.Duration(cfg.LeaderboardCacheTTLSec) * time.Second
		lbCache = leaderboard.NewCache(redisClient, ttl, logger)
	}
	var trustProvider leaderboard.TrustProvider
	if cfg.TrustWeightingEnabled {
		trustProvider = rankingReader
	}
	lbService := leaderboard.NewService(promptRepo, queryService, trustProvider, lbCache, logger)

	// HTTP handlers.
	promptHandlers := api.NewPromptHandlers(queryService, assignService)
	setHandlers := api.NewPromptSetHandlers(setRepo, queryService)
	lbHandlers := api.NewLeaderboardHandlers(lbService)
	rankingHandlers := api.NewRankingHandlers(rankingReader)
	authHandlers := api.NewAuthHandlers(jwtService)

	healthConfig := api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(conn),
		MetricsEnabled: true,
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}

	// Stricter per-route limits on top of the global one: token minting
	// and the score-aggregating read endpoints.
	authLimit := middleware.RateLimiter(rateLimitStore, middleware.DefaultAuthLimit(), middleware.IPKeyFunc())
	leaderboardLimit := middleware.RateLimiter(rateLimitStore, middleware.DefaultLeaderboardLimit(), middleware.UserKeyFunc())

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"promptarena-api"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.Handle("/auth/token", authLimit(http.HandlerFunc(authHandlers.Token)))

	mux.HandleFunc("/prompts", promptHandlers.ListPrompts)
	mux.HandleFunc("/prompts/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/status") {
			promptHandlers.UpdateStatus(w, r)
			return
		}
		promptHandlers.GetPrompt(w, r)
	})

	mux.HandleFunc("/prompt-sets", setHandlers.Collection)
	mux.HandleFunc("/prompt-sets/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/include") {
			promptHandlers.BulkInclude(w, r)
			return
		}
		setHandlers.Item(w, r)
	})

	mux.Handle("/leaderboard", leaderboardLimit(http.HandlerFunc(lbHandlers.GetLeaderboard)))

	// Scoring calibration experiment: a share of traffic sees a candidate
	// weighting config, with automatic halt on elevated candidate errors.
	experimentCfg := middleware.ExperimentConfig{
		Enabled:        os.Getenv("SCORING_EXPERIMENT_ENABLED") == "true",
		Label:          os.Getenv("SCORING_EXPERIMENT_LABEL"),
		SharePercent:   5,
		ErrorThreshold: 10,
		AutoHalt:       true,
	}
	if v := os.Getenv("SCORING_EXPERIMENT_PERCENT"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil && pct >= 0 && pct <= 100 {
			experimentCfg.SharePercent = pct
		}
	}
	experimentRouter := middleware.NewExperimentRouter(experimentCfg, logger)
	experimentRouter.SetMetrics(httpMetrics)
	if path := os.Getenv("SCORING_EXPERIMENT_CALIBRATION"); path != "" && experimentCfg.Enabled {
		candidateCal, err := ranking.LoadCalibration(path)
		if err != nil {
			logger.Error("failed to load candidate calibration", "path", path, "error", err)
			os.Exit(1)
		}
		lbHandlers.SetCandidateWeighting(&candidateCal.Weighting)
	}
	experimentHandlers := api.NewExperimentHandlers(experimentRouter, logger)
	mux.HandleFunc("/experiment/status", experimentHandlers.GetStatus)
	mux.HandleFunc("/experiment/halt", experimentHandlers.Halt)
	mux.HandleFunc("/experiment/reset", experimentHandlers.ResetWindow)

	rankingRoutes := map[string]http.HandlerFunc{
		"/rankings/current":            rankingHandlers.GetCurrent,
		"/rankings/reviewer-trust":     rankingHandlers.GetReviewerTrust,
		"/rankings/prompt-quality":     rankingHandlers.GetPromptQuality,
		"/rankings/benchmark-quality":  rankingHandlers.GetBenchmarkQuality,
		"/rankings/model-performance":  rankingHandlers.GetModelPerformance,
		"/rankings/model-elo":          rankingHandlers.GetModelElo,
		"/rankings/contributor-scores": rankingHandlers.GetContributorScores,
	}
	for route, handlerFunc := range rankingRoutes {
		mux.Handle(route, leaderboardLimit(handlerFunc))
	}

	idempotentRoutes := map[string]bool{
		"/prompt-sets/{id}/include": true,
	}

	corsConfig := middleware.CORSConfig{}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		corsConfig.AllowedOrigins = strings.Split(origins, ",")
		corsConfig.AllowCredentials = true
	}

	// Middleware chain, outermost first: RequestID -> Tracing -> Metrics ->
	// Logging -> CORS -> Experiment -> Profiling -> Auth -> RateLimiter ->
	// Idempotency -> mux.
	var handler http.Handler = mux
	replayStore := idempotency.NewMemoryStore()
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go idempotency.NewJanitor(replayStore, time.Hour, idempotency.DefaultMaxAge, logger).Run(janitorCtx)

	handler = middleware.IdempotencyMiddleware(replayStore, idempotentRoutes)(handler)
	handler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.UserKeyFunc())(handler)
	handler = api.AuthMiddleware(jwtService)(handler)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     os.Getenv("ENABLE_PPROF") == "true",
		Environment: cfg.Env,
	})(handler)
	handler = experimentRouter.Middleware(handler)
	handler = middleware.CORS(corsConfig)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
