package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/poyrazK/zonewatch/internal/adapters/api"
	"github.com/poyrazK/zonewatch/internal/adapters/cache"
	"github.com/poyrazK/zonewatch/internal/adapters/czds"
	"github.com/poyrazK/zonewatch/internal/adapters/repository"
	"github.com/poyrazK/zonewatch/internal/adapters/whois"
	"github.com/poyrazK/zonewatch/internal/config"
	"github.com/poyrazK/zonewatch/internal/core/ports"
	"github.com/poyrazK/zonewatch/internal/core/services"
	"github.com/poyrazK/zonewatch/internal/infrastructure/metrics"
)

func main() {
	cfg := config.FromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Warn("could not ping database", "error", err)
	}

	repo := repository.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Unable to apply schema: %v", err)
	}

	go trackDBConnections(db)

	var statsCache ports.StatsCache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, running without stats cache", "error", err)
		} else {
			statsCache = redisCache
		}
	}

	zoneClient := czds.NewClient(cfg.CZDSAuthURL, cfg.CZDSAPIURL, cfg.CZDSUsername, cfg.CZDSPassword, cfg.DownloadDir, logger)
	if cfg.CZDSUsername == "" || cfg.CZDSPassword == "" {
		logger.Warn("CZDS credentials not configured, syncs will fail until set")
	}

	syncSvc := services.NewSyncService(repo, zoneClient, statsCache, logger, cfg.MaxConcurrent, cfg.ChunkSize)

	scheduler := services.NewScheduler(syncSvc, cfg.SyncHours, cfg.Timezone, logger)
	scheduler.Start()
	defer scheduler.Stop()

	limiter := api.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst)
	go func() {
		for range time.Tick(5 * time.Minute) {
			limiter.Cleanup()
		}
	}()

	handler := api.NewAPIHandler(syncSvc, repo, zoneClient, statsCache, scheduler)
	if cfg.WhoisEnabled {
		whoisClient := whois.NewClient()
		whoisClient.Server = cfg.WhoisServer
		handler.WithWhois(whoisClient)
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           limiter.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("zonewatch listening", "addr", cfg.Addr, "next_sync", scheduler.NextRun())

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
}

func trackDBConnections(db *sql.DB) {
	for range time.Tick(15 * time.Second) {
		metrics.DBConnectionsActive.Set(float64(db.Stats().OpenConnections))
	}
}
