package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/api/handlers"
	redisCache "github.com/funnel-agent/backend/internal/cache/redis"
	"github.com/funnel-agent/backend/internal/jobs"
	"github.com/funnel-agent/backend/internal/llm"
	"github.com/funnel-agent/backend/internal/metrics"
	"github.com/funnel-agent/backend/internal/middleware/ratelimit"
	"github.com/funnel-agent/backend/internal/middleware/security"
	"github.com/funnel-agent/backend/internal/middleware/validation"
	"github.com/funnel-agent/backend/internal/predefined"
	"github.com/funnel-agent/backend/internal/query"
	"github.com/funnel-agent/backend/internal/storage/postgres"
	"github.com/funnel-agent/backend/internal/storage/sqlite"
	"github.com/funnel-agent/backend/internal/timerange"
	"github.com/funnel-agent/backend/internal/tools"
	"github.com/funnel-agent/backend/pkg/config"
	appLogger "github.com/funnel-agent/backend/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting funnel agent API server", zap.String("version", version))
	metrics.Init()

	trCfg := timerange.Config{
		Timezone:  cfg.TimeRange.Timezone,
		Fiscal:    timerange.FiscalConfig{FiscalYearStartMonth: cfg.TimeRange.FiscalYearStartMonth},
		WeekStart: timerange.WeekStart(cfg.TimeRange.WeekStart),
	}.Merge()
	loc := timerange.LoadLocation(trCfg.Timezone)

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	checks := map[string]handlers.Check{
		"sqlite": func(context.Context) error { return sqliteClient.Ping() },
	}

	var cache *redisCache.Client
	if cfg.Redis.Enabled {
		cache, err = redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, tool results will not be cached", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			checks["redis"] = cache.Ping
		}
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	executor, err := postgres.NewExecutor(startupCtx, postgres.Config{
		URL:              cfg.Postgres.URL,
		MaxConnections:   cfg.Postgres.MaxConnections,
		StatementTimeout: time.Duration(cfg.Postgres.StatementTimeoutSec) * time.Second,
		MaxRows:          cfg.Postgres.MaxRows,
	})
	cancelStartup()
	if err != nil {
		appLogger.Warn("Sales database unavailable, funnel tools will return SQL only", zap.Error(err))
		executor = nil
	} else {
		defer executor.Close()
		checks["postgres"] = executor.Ping
	}

	catalog := newCatalog(cfg.Catalog)

	deps := tools.Deps{TimeRange: trCfg, Catalog: catalog}
	if executor != nil {
		deps.Executor = executor
		if catalog != nil {
			deps.Runner = predefined.NewRunner(catalog, executor)
		}
	}

	var registry *tools.Registry
	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	if cache != nil {
		registry = tools.NewRegistry(cache, cacheTTL, loc)
	} else {
		registry = tools.NewRegistry(nil, cacheTTL, loc)
	}
	tools.RegisterBuiltins(registry, deps)

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	queryEngine := query.NewEngine(sqliteClient, llmClient, registry, query.Config{
		TimeRange:         trCfg,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		HistoryLimit:      cfg.Agent.HistoryLimit,
	})

	scheduler := jobs.NewScheduler(loc, 5*time.Minute)
	if catalog != nil {
		if err := scheduler.Add(jobs.CatalogRefresh, cfg.Catalog.RefreshCron, jobs.RefreshCatalog(catalog)); err != nil {
			appLogger.Fatal("Failed to schedule catalog refresh", zap.Error(err))
		}
		if err := scheduler.RunNow(jobs.CatalogRefresh); err != nil {
			appLogger.Warn("Initial catalog load failed", zap.Error(err))
		}
	}
	retention := time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour
	if retention > 0 {
		if err := scheduler.Add(jobs.SessionPrune, cfg.Sessions.PruneCron, jobs.PruneSessions(sqliteClient, retention, nil)); err != nil {
			appLogger.Fatal("Failed to schedule session pruning", zap.Error(err))
		}
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment:   cfg.Logging.Level == "debug",
		NoStorePrefixes: []string{"/api/"},
	}))

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			SkipPrefixes:      []string{"/metrics", "/api/v1/health", "/api/v1/ready"},
			Logger:            appLogger.Named("ratelimit"),
		})
		defer limiter.Stop()
		app.Use(limiter.Middleware())
	}

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.Named("validation"),
	}))

	var toolCache handlers.ToolCacheInvalidator
	if cache != nil {
		toolCache = cache
	}

	registerRoutes(app, routeHandlers{
		query:     handlers.NewQueryHandler(queryEngine, sqliteClient),
		websocket: handlers.NewWebSocketHandler(queryEngine),
		sessions:  handlers.NewSessionHandler(sqliteClient),
		feedback:  handlers.NewFeedbackHandler(sqliteClient),
		analytics: handlers.NewAnalyticsHandler(registry),
		catalog:   newCatalogHandler(catalog, toolCache),
		health:    handlers.NewHealthHandler(version, checks),
	})

	if cfg.MCP.Enabled {
		mcpHTTP := tools.NewMCPHTTPServer(tools.NewMCPServer(registry, version))
		app.All(cfg.MCP.Path, adaptor.HTTPHandler(mcpHTTP))
		appLogger.Info("MCP endpoint enabled", zap.String("path", cfg.MCP.Path))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	appLogger.Info("Server stopped")
}

// newCatalog builds the predefined-query catalog from the published sheet,
// falling back to the CSV export. It returns nil when neither is configured.
func newCatalog(cfg config.CatalogConfig) *predefined.Catalog {
	var loaders predefined.FallbackLoader
	if cfg.SheetURL != "" {
		loaders = append(loaders, predefined.NewSheetLoader(cfg.SheetURL))
	}
	if cfg.CSVPath != "" {
		if _, err := os.Stat(cfg.CSVPath); err == nil {
			loaders = append(loaders, predefined.CSVLoader{Path: cfg.CSVPath})
		} else {
			appLogger.Warn("Catalog CSV not found", zap.String("path", cfg.CSVPath))
		}
	}
	if len(loaders) == 0 {
		appLogger.Warn("No predefined query source configured")
		return nil
	}
	return predefined.NewCatalog(loaders, time.Duration(cfg.TTLMinutes)*time.Minute)
}

func newCatalogHandler(catalog *predefined.Catalog, cache handlers.ToolCacheInvalidator) *handlers.CatalogHandler {
	if catalog == nil {
		return nil
	}
	return handlers.NewCatalogHandler(catalog, cache)
}

type routeHandlers struct {
	query     *handlers.QueryHandler
	websocket *handlers.WebSocketHandler
	sessions  *handlers.SessionHandler
	feedback  *handlers.FeedbackHandler
	analytics *handlers.AnalyticsHandler
	catalog   *handlers.CatalogHandler
	health    *handlers.HealthHandler
}

func registerRoutes(app *fiber.App, h routeHandlers) {
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/query", h.query.HandleQuery)
	api.Get("/query/history", h.query.GetQueryHistory)

	api.Get("/sessions", h.sessions.ListSessions)
	api.Post("/sessions", h.sessions.CreateSession)
	api.Get("/sessions/:id", h.sessions.GetSession)
	api.Delete("/sessions/:id", h.sessions.DeleteSession)
	api.Get("/sessions/:id/messages", h.sessions.GetMessages)

	api.Post("/feedback", h.feedback.SubmitFeedback)
	api.Get("/feedback/stats", h.feedback.GetStats)

	api.Post("/nlq/resolve", h.analytics.ResolvePlan)
	api.Post("/timerange/resolve", h.analytics.ResolveTimeRange)
	api.Get("/funnel", h.analytics.SalesFunnel)
	api.Get("/funnel/chapter", h.analytics.ChapterFunnel)
	api.Get("/catalog", h.analytics.ListCatalog)
	api.Post("/catalog/run", h.analytics.RunCatalogQuery)
	if h.catalog != nil {
		api.Post("/catalog/invalidate", h.catalog.Invalidate)
	}

	api.Get("/health", h.health.Health)
	api.Get("/ready", h.health.Ready)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(h.websocket.HandleConnection))
}
