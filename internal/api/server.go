package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/api/middleware"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/api/response"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/cache"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/metrics"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/orchestrator"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
)

// Server exposes the fetch pipeline over HTTP.
type Server struct {
	httpServer   *http.Server
	logger       *zap.Logger
	mux          *http.ServeMux
	orchestrator *orchestrator.Orchestrator
	registry     *provider.Registry
	store        *cache.Store
	metrics      *metrics.Registry
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, orch *orchestrator.Orchestrator, reg *provider.Registry, store *cache.Store, m *metrics.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:       logger,
		mux:          mux,
		orchestrator: orch,
		registry:     reg,
		store:        store,
		metrics:      m,
	}

	s.setupRoutes(cfg)

	var handler http.Handler = mux
	handler = middleware.APIKeyAuth(cfg.APIKey)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = metrics.HTTPMiddleware(m)(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config) {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/fetch", s.handleFetch)
	s.mux.HandleFunc("/api/cache/status", s.handleCacheStatus)
	s.mux.HandleFunc("/api/cache", s.handleCacheClear)
	s.mux.HandleFunc("/api/breakers/", s.handleBreakerClose)

	if s.metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle(path, promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// providerHealth is one provider's row in the health report.
type providerHealth struct {
	Provider          string          `json:"provider"`
	Categories        []core.Category `json:"categories"`
	State             string          `json:"breaker_state"`
	Failures          int             `json:"consecutive_failures"`
	CooldownRemaining string          `json:"cooldown_remaining,omitempty"`
	RateTokens        float64         `json:"rate_tokens"`
	RateCapacity      int             `json:"rate_capacity"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	providers := make([]providerHealth, 0)
	for _, d := range s.registry.All() {
		snap := d.Breaker.Snapshot()
		row := providerHealth{
			Provider:     d.Name(),
			Categories:   d.Provider.Capabilities(),
			State:        snap.StateName,
			Failures:     snap.Failures,
			RateTokens:   d.Limiter.Tokens(),
			RateCapacity: d.Limiter.Capacity(),
		}
		if snap.CooldownRemaining > 0 {
			row.CooldownRemaining = snap.CooldownRemaining.Round(time.Second).String()
		}
		providers = append(providers, row)
	}

	stats, err := s.store.Stats()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, core.WrapError(core.ErrCacheFailed, err))
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": providers,
		"cache":     stats,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	category, err := core.ParseCategory(q.Get("category"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	req := core.FetchRequest{
		Symbol:   strings.ToUpper(strings.TrimSpace(q.Get("symbol"))),
		Category: category,
	}
	if fields := q.Get("fields"); fields != "" {
		req.Fields = strings.Split(fields, ",")
	}

	res, err := s.orchestrator.Fetch(r.Context(), req)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.store.Stats()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, core.WrapError(core.ErrCacheFailed, err))
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))

	var category core.Category
	if raw := q.Get("category"); raw != "" {
		parsed, err := core.ParseCategory(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
			return
		}
		category = parsed
	}

	removed, err := s.store.Clear(symbol, category)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, core.WrapError(core.ErrCacheFailed, err))
		return
	}

	s.logger.Info("cache cleared",
		zap.String("symbol", symbol),
		zap.String("category", string(category)),
		zap.Int64("removed", removed))

	response.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleBreakerClose handles POST /api/breakers/{name}/close.
func (s *Server) handleBreakerClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/breakers/")
	name, action, found := strings.Cut(rest, "/")
	if !found || action != "close" || name == "" {
		http.NotFound(w, r)
		return
	}

	d, ok := s.registry.Get(name)
	if !ok {
		response.Error(w, http.StatusNotFound,
			core.WrapError(core.ErrNotFound, fmt.Errorf("unknown provider %q", name)))
		return
	}

	d.Breaker.ForceClose()
	s.logger.Info("breaker force closed", zap.String("provider", name))

	response.JSON(w, http.StatusOK, map[string]any{
		"provider": name,
		"breaker":  d.Breaker.Snapshot(),
	})
}
