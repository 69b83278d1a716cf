// Package app assembles the service from its parts. Kept separate from
// main so tests can build a fully wired instance.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lectorlabs/lector/internal/chat"
	"github.com/lectorlabs/lector/internal/config"
	"github.com/lectorlabs/lector/internal/history"
	"github.com/lectorlabs/lector/internal/httpapi"
	"github.com/lectorlabs/lector/internal/observability"
	"github.com/lectorlabs/lector/internal/synth"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Store   history.Store
	Chat    *chat.Service
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	llm := chat.NewSSEClient(chat.SSEClientOptions{
		BaseURL:         cfg.LLMBaseURL,
		Model:           cfg.LLMModel,
		APIKey:          cfg.LLMAPIKey,
		MaxDialAttempts: cfg.LLMDialAttempts,
	})
	synthesizer := synth.NewHTTPClient(synth.HTTPClientOptions{
		BaseURL: cfg.TTSBaseURL,
		Model:   cfg.TTSModel,
		APIKey:  cfg.TTSAPIKey,
	})

	chatSvc := chat.NewService(chat.ServiceConfig{
		SystemPrompt: cfg.SystemPrompt,
		ContextLimit: cfg.ContextLimit,
	}, llm, store, logger)

	api := httpapi.New(cfg, store, chatSvc, synthesizer, metrics, logger)

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Store:   store,
		Chat:    chatSvc,
		Metrics: metrics,
		Logger:  logger,
		Cleanup: store.Close,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
