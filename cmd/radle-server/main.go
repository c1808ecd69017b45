// Command radle-server runs the Radle HTTP API: Reddit comment mirroring,
// OAuth connection management, publish helpers, and rate-limit monitoring.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	radle "github.com/radle-project/radle-go"
	"github.com/radle-project/radle-go/internal/api"
	"github.com/radle-project/radle-go/internal/config"
	"github.com/radle-project/radle-go/internal/metrics"
	"github.com/radle-project/radle-go/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "radle-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	sqlite, err := store.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlite.Close()

	cache, err := store.NewBadgerCache(cfg.Storage.CachePath, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer cache.Close()

	svc, err := radle.NewService(&radle.Config{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		RedirectURI:  cfg.Reddit.RedirectURI,
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
		AuthURL:      cfg.Reddit.AuthURL,
		Logger:       logger,

		Options: sqlite,
		Cache:   cache,
		Samples: sqlite,

		MaxDepth:         cfg.Comments.MaxDepth,
		MaxSiblings:      cfg.Comments.MaxSiblings,
		ApprovedOnly:     cfg.Comments.ApprovedOnly,
		DefaultAvatar:    cfg.Comments.DefaultAvatar,
		ResponseCacheTTL: cfg.Comments.ResponseCacheTTL,

		DisableMonitoring: cfg.Monitor.Disabled,
		BreachThreshold:   cfg.Monitor.BreachThreshold,
		WindowGapSeconds:  cfg.Monitor.WindowGapSeconds,

		RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
		Burst:             cfg.Reddit.Burst,
	})
	if err != nil {
		return err
	}

	svc.SetRefreshObserver(metrics.RecordTokenRefresh)
	svc.SetRecordObserver(func(endpoint string, isFailure, breach bool) {
		metrics.RecordRedditCall(endpoint, isFailure)
		if breach {
			metrics.RedditRateLimitBreaches.Inc()
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(svc, logger),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
