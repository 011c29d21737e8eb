package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/config"
	dbRedis "github.com/wayfinder/Wayfinder-Server-sub021/internal/db/redis"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/match/sorting"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	logpkg "github.com/wayfinder/Wayfinder-Server-sub021/internal/logger"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/metrics"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/repository/answercache"
	topregionrepo "github.com/wayfinder/Wayfinder-Server-sub021/internal/repository/topregion"
	chiTransport "github.com/wayfinder/Wayfinder-Server-sub021/internal/transport/chi"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/transport/shardhttp"
	healthuc "github.com/wayfinder/Wayfinder-Server-sub021/internal/usecase/health"
	searchuc "github.com/wayfinder/Wayfinder-Server-sub021/internal/usecase/search"
	topregionuc "github.com/wayfinder/Wayfinder-Server-sub021/internal/usecase/topregion"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting search orchestrator",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("search_url", cfg.Shards.SearchURL),
		zap.String("map_url", cfg.Shards.MapURL),
	)

	// Valkey without modules has no JSON.* commands; redis-stack has them.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Database.Addrs,
		Password:   cfg.Database.Password,
		NativeJSON: cfg.Database.Driver == "redis",
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterHTTPMetrics()
	metrics.RegisterSearchMetrics()

	// Top region catalog
	key := cfg.Cache.TopRegionKey
	if key == "" {
		key = topregionrepo.DefaultKey
	}
	catalogSvc := topregionuc.New(
		topregionrepo.New(store, key),
		time.Duration(cfg.Cache.CatalogRefreshSec)*time.Second,
	)

	// Shard transport
	overrides := make(map[shard.ID]string, len(cfg.Shards.Overrides))
	for k, u := range cfg.Shards.Overrides {
		id, _ := shard.Parse(k) // validated by config.Load
		overrides[id] = u
	}
	dispatcher := shardhttp.NewDispatcher(&shardhttp.Config{
		SearchURL: cfg.Shards.SearchURL,
		MapURL:    cfg.Shards.MapURL,
		Overrides: overrides,
		RateLimit: cfg.Shards.RateLimit,
		Burst:     cfg.Shards.Burst,
		Timeout:   time.Duration(cfg.Shards.HTTPTimeoutMs) * time.Millisecond,
		Logger:    logger,
	})

	// Search chain: orchestrator -> answer cache
	searchSvc := searchuc.New(dispatcher, catalogSvc, logger).
		WithLimits(cfg.Search.DispatchConcurrency, time.Duration(cfg.Search.RequestTimeoutMs)*time.Millisecond)
	searcher := answercache.New(
		searchSvc, store, time.Duration(cfg.Cache.AnswerTTLSec)*time.Second, metrics.AnswerCacheTotal, logger,
	)

	healthSvc := healthuc.New(store, catalogSvc)

	defaultSorting, _ := sorting.ParsePolicy(cfg.Search.DefaultSorting) // validated by config.Load
	server := chiTransport.NewServer(searcher, catalogSvc, healthSvc, chiTransport.Defaults{
		Sorting:       defaultSorting,
		Hits:          cfg.Search.DefaultHits,
		NbrSortedHits: cfg.Search.NbrSortedHits,
		UniqueOrFull:  cfg.Search.UniqueOrFull,
	}, logger).WithAllowedShards(cfg.Auth.ShardAllowList())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
