package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antoniostano/voicechat/internal/audio"
	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/config"
	"github.com/antoniostano/voicechat/internal/httpapi"
	"github.com/antoniostano/voicechat/internal/observability"
	"github.com/antoniostano/voicechat/internal/reliability"
	"github.com/antoniostano/voicechat/internal/voice"
)

type ProviderInfo struct {
	Speech     string
	Completion string
	Store      string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *voice.Orchestrator
	Store        chat.Store
	Metrics      *observability.Metrics
	Providers    ProviderInfo

	// Cleanup releases the store connection. Call it after the HTTP server has drained.
	Cleanup func() error
}

const (
	storeConnectAttempts = 5
	storeBackoffBase     = 250 * time.Millisecond
	storeBackoffCap      = 4 * time.Second
)

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sp, err := resolveSpeechProvider(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	cp, err := resolveCompleter(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("chat store init failed: %w", err)
	}

	normalizer := audio.NewNormalizer(
		audio.NewFFmpeg(cfg.FFmpegPath, cfg.TranscodeTimeout),
		logger.With(slog.String("component", "normalizer")),
	).WithObserver(metrics)

	policy := voice.PersistContinue
	if cfg.AbortOnPersistFailure() {
		policy = voice.PersistAbort
	}
	orchestrator := voice.NewOrchestrator(
		normalizer,
		sp.provider,
		cp.completer,
		store,
		metrics,
		logger.With(slog.String("component", "orchestrator")),
		voice.Config{
			DefaultLanguage: cfg.DefaultLanguage,
			HistoryLimit:    cfg.ChatHistoryLimit,
			PersistPolicy:   policy,
			STTTimeout:      cfg.SarvamTimeout,
			CompleteTimeout: cfg.OpenAITimeout,
			TTSTimeout:      cfg.SarvamTimeout,
			StoreTimeout:    cfg.StoreTimeout,
		},
	)

	api := httpapi.New(cfg, orchestrator, store, metrics, logger.With(slog.String("component", "http")))

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Store:        store,
		Metrics:      metrics,
		Providers: ProviderInfo{
			Speech:     sp.resolved,
			Completion: cp.resolved,
			Store:      chat.Backend(cfg.DatabaseURL),
		},
		Cleanup: store.Close,
	}, nil
}

// openStore connects to the configured backend, retrying with capped
// exponential backoff so the server can start alongside its database.
func openStore(ctx context.Context, databaseURL string, logger *slog.Logger) (chat.Store, error) {
	var errs []string
	for attempt := 0; attempt < storeConnectAttempts; attempt++ {
		store, err := chat.NewStore(ctx, databaseURL)
		if err == nil {
			return store, nil
		}
		errs = append(errs, err.Error())
		if chat.Backend(databaseURL) == "unknown" {
			break
		}
		wait := reliability.ExponentialBackoff(attempt, storeBackoffBase, storeBackoffCap)
		logger.Warn("chat store unavailable, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
}
