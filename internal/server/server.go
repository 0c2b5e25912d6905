package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"paperdesk/config"
	"paperdesk/internal/agent"
	"paperdesk/internal/ingest"
	"paperdesk/internal/papers/arxiv"
	"paperdesk/internal/papers/semanticscholar"
	"paperdesk/internal/retrieval"
	"paperdesk/internal/runtime"
	"paperdesk/internal/session"
	"paperdesk/internal/store"
	"paperdesk/provider"
)

// Run wires the service and serves HTTP until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	llm, err := provider.NewProvider(cfg.Providers)
	if err != nil {
		return err
	}

	index := arxiv.New(cfg.Papers.ArxivEndpoint, "", cfg.Papers.RequestTimeout)
	refs := semanticscholar.New(cfg.Papers.SemanticScholarEndpoint, cfg.Papers.RequestTimeout)

	// Per-paper ingestion locks: distributed when Redis is configured,
	// in-process otherwise.
	var locker ingest.Locker = ingest.NewMemoryLocker()
	if cfg.Databases.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Databases.Redis.Host, cfg.Databases.Redis.Port),
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Databases.Redis.Host, cfg.Databases.Redis.Port, err)
		}
		locker = ingest.NewRedisLocker(rdb)
	}

	pipeline := ingest.NewPipeline(index, refs, llm, st, locker)
	pipeline.DownloadDir = cfg.Papers.DownloadDir
	pipeline.ChunkSize = cfg.Papers.ChunkSize
	pipeline.ChunkOverlap = cfg.Papers.ChunkOverlap
	pipeline.PendingGrace = cfg.Papers.PendingGrace

	engine := retrieval.NewEngine(st, llm, llm, cfg.Retrieval.TopK)

	tools := &agent.Toolset{
		Search:      index,
		Retriever:   engine,
		Ingestor:    pipeline,
		Refs:        refs,
		SearchLimit: cfg.Papers.SearchLimit,
	}
	ag := agent.New(llm, tools)
	sessions := session.NewInMemoryStore(cfg.Session.TTL)

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	ch := &ChatHandler{Agent: ag, Sessions: sessions}
	ch.Register(api.Group("/chat"), secret)

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":10020"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
