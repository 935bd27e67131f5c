package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"visitmap/internal/config"
	"visitmap/internal/dataset"
	"visitmap/internal/engine"
	"visitmap/internal/feedback"
	"visitmap/internal/gateway"
	"visitmap/internal/logging"
	"visitmap/internal/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
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

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	source, err := dataset.NewSource(cfg.Dataset, client)
	if err != nil {
		logger.Fatal("dataset source", zap.Error(err))
	}

	out := &syncWriter{w: os.Stdout}
	e := engine.New(engine.Config{
		Credentials: gateway.Credentials{BaseURL: cfg.APIBaseURL, Token: cfg.Token},
		InitialZoom: cfg.InitialZoom,
		Files: dataset.Files{
			World:     cfg.Dataset.World,
			States:    cfg.Dataset.States,
			Districts: cfg.Dataset.Districts,
		},
	}, engine.Deps{
		Source:     source,
		HTTPClient: client,
		Logger:     logger,
		Metrics:    metrics.NewEngine(prometheus.NewRegistry()),
		Sinks:      []feedback.Sink{toastPrinter{out: out}},
	})
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		logger.Warn("engine started degraded", zap.Error(err))
	}
	if !e.SignedIn() {
		fmt.Fprintln(out, "not signed in: showing an empty map, set VISITMAP_TOKEN to sync")
	}

	if err := newREPL(e, out).Run(ctx, os.Stdin); err != nil {
		logger.Error("command loop stopped", zap.Error(err))
	}
}
