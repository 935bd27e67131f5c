package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"visitmap/internal/app"
	"visitmap/internal/cache"
	"visitmap/internal/config"
	"visitmap/internal/logging"
	"visitmap/internal/metrics"
	"visitmap/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.Pool{
		MaxOpenConns: cfg.DBMaxOpen,
		MaxIdleConns: cfg.DBMaxIdle,
	})
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServer(registry)

	dataStore := store.NewPostgresStore(db)
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		progressCache, err := cache.NewProgressCache(cfg.RedisURL, cache.Options{
			TTL:    cfg.ProgressTTL,
			Logger: logger.Named("cache"),
		})
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer progressCache.Close()
		logger.Info("caching progress in redis", zap.Duration("ttl", cfg.ProgressTTL))
		service = app.NewWithCache(cfg, dataStore, progressCache, logger, serverMetrics)
	} else {
		logger.Info("progress cache disabled; reading progress from postgres")
		service = app.New(cfg, dataStore, logger, serverMetrics)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http")).Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("visit store listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
