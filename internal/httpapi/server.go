package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/config"
	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/observability"
	"github.com/antoniostano/voicechat/internal/policy"
	"github.com/antoniostano/voicechat/internal/voice"
)

// Orchestrator runs a single voice turn.
type Orchestrator interface {
	Run(ctx context.Context, req voice.Request) (voice.TurnResult, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	store        chat.Store
	metrics      *observability.Metrics
	logger       *slog.Logger
}

func New(cfg config.Config, orchestrator Orchestrator, store chat.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		metrics:      metrics,
		logger:       logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleHome)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/process-voice", s.handleProcessVoice)

	r.Route("/chats", func(r chi.Router) {
		r.Post("/", s.handleCreateChat)
		r.Get("/", s.handleListChats)
		r.Get("/{id}", s.handleGetChat)
		r.Delete("/{id}", s.handleDeleteChat)
		r.Post("/{id}/messages", s.handleAddMessage)
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<h1>Backend is running</h1><p>Use /process-voice endpoint for voice interactions</p>"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": chat.Backend(s.cfg.DatabaseURL),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout())
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", slog.String("error", err.Error()))
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":     "unavailable",
			"store_mode": chat.Backend(s.cfg.DatabaseURL),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": chat.Backend(s.cfg.DatabaseURL),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reset") == "true" {
		s.metrics.ResetLatency()
	}
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

func (s *Server) storeTimeout() time.Duration {
	if s.cfg.StoreTimeout > 0 {
		return s.cfg.StoreTimeout
	}
	return 5 * time.Second
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, kind failure.Kind, message string) {
	respondJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
}

// respondFailure writes err as the structured error payload. Internal
// failures never expose their cause.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := failure.As(err)
	detail, _ := policy.RedactSecrets(f.Detail)
	body := errorResponse{
		Error:     f.Message,
		Kind:      string(f.Kind),
		Stage:     f.Stage,
		Detail:    detail,
		Retryable: f.Retryable,
	}
	if f.Kind == failure.KindInternal {
		s.logger.Error("internal error",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", policy.Redact(f.Error())),
		)
		body = errorResponse{Error: "internal server error", Kind: string(f.Kind)}
	}
	respondJSON(w, failure.HTTPStatus(f.Kind), body)
}
