// Package server exposes the engine over HTTP: execution, one-shot
// selection, feedback, execution history, provider health, and analytics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/tidegate/cascade/internal/fallback"
	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/history"
	"github.com/tidegate/cascade/internal/provider"
	"github.com/tidegate/cascade/internal/registry"
	"github.com/tidegate/cascade/internal/selection"
)

// Server is the HTTP front end of the fallback engine.
type Server struct {
	router          chi.Router
	orch            *fallback.Orchestrator
	tracker         *health.Tracker
	reg             *registry.Registry
	store           *history.Store // optional: history endpoints 404 without it
	addr            string
	defaultStrategy selection.StrategyName
	server          *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultStrategy sets the strategy used when a select request names
// none. Unset, requests without a strategy fall through to hybrid.
func WithDefaultStrategy(name selection.StrategyName) Option {
	return func(s *Server) { s.defaultStrategy = name }
}

// New creates a Server wired to the given engine components and listen
// address.
func New(orch *fallback.Orchestrator, tracker *health.Tracker, reg *registry.Registry, store *history.Store, addr string, opts ...Option) *Server {
	s := &Server{
		orch:    orch,
		tracker: tracker,
		reg:     reg,
		store:   store,
		addr:    addr,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)

	r.Post("/v1/execute", s.handleExecute)
	r.Post("/v1/select", s.handleSelect)
	r.Post("/v1/feedback", s.handleFeedback)
	r.Get("/v1/executions", s.handleListExecutions)
	r.Get("/v1/executions/{id}", s.handleGetExecution)
	r.Get("/v1/health", s.handleProviderHealth)
	r.Get("/v1/providers", s.handleProviders)
	r.Get("/v1/analytics", s.handleAnalytics)
	r.Get("/healthz", s.handleHealthz)

	s.router = r
	return s
}

// Router returns the underlying handler, exported for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // executions may walk several tiers
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// executeRequest is the body of POST /v1/execute.
type executeRequest struct {
	Messages         []provider.Message `json:"messages"`
	MaxTokens        int                `json:"max_tokens,omitempty"`
	Temperature      float64            `json:"temperature,omitempty"`
	SessionID        string             `json:"session_id,omitempty"`
	OriginalProvider string             `json:"original_provider,omitempty"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	Hints            selection.Hints    `json:"hints,omitempty"`
}

// handleExecute runs the full fallback sequence for the request and returns
// the execution record. Exhaustion is still HTTP 200: the record carries
// the outcome.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages are required"})
		return
	}

	rec := s.orch.Execute(r.Context(), fallback.ExecuteParams{
		OriginalProviderID: req.OriginalProvider,
		Request: provider.Request{
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		},
		SessionID:     req.SessionID,
		FailureReason: req.FailureReason,
		Hints:         req.Hints,
	})

	writeJSON(w, http.StatusOK, rec)
}

// selectRequest is the body of POST /v1/select.
type selectRequest struct {
	Messages  []provider.Message `json:"messages"`
	SessionID string             `json:"session_id,omitempty"`
	Strategy  string             `json:"strategy,omitempty"`
	Hints     selection.Hints    `json:"hints,omitempty"`
}

// handleSelect returns a selection decision without executing anything.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages are required"})
		return
	}

	strategy := selection.StrategyName(req.Strategy)
	if strategy == "" {
		strategy = s.defaultStrategy
	}

	res, err := s.orch.Select(
		provider.Request{Messages: req.Messages},
		req.SessionID,
		req.Hints,
		strategy,
	)
	if err != nil {
		if errors.Is(err, selection.ErrNoCandidates) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no usable providers"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// feedbackRequest is the body of POST /v1/feedback.
type feedbackRequest struct {
	ExecutionID string  `json:"execution_id"`
	Rating      float64 `json:"rating"` // 0-1
}

// handleFeedback folds a satisfaction rating back into health tracking and
// the adaptive strategy.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ExecutionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "execution_id is required"})
		return
	}
	if req.Rating < 0 || req.Rating > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating must be between 0 and 1"})
		return
	}

	if err := s.orch.ReportFeedback(req.ExecutionID, req.Rating); err != nil {
		if errors.Is(err, fallback.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "execution not found"})
			return
		}
		log.Error().Err(err).Str("execution_id", req.ExecutionID).Msg("feedback failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleListExecutions returns a paginated execution history.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history not configured"})
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	executions, err := s.store.List(limit, (page-1)*limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list executions")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}
	if executions == nil {
		executions = []*fallback.ExecutionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":       page,
		"limit":      limit,
		"executions": executions,
	})
}

// handleGetExecution returns one execution with its full attempt trace.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history not configured"})
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, fallback.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "execution not found"})
			return
		}
		log.Error().Err(err).Str("id", id).Msg("failed to get execution")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleProviderHealth returns the live health snapshot of every tracked
// provider.
func (s *Server) handleProviderHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

// handleProviders returns the tier catalog in escalation order. Key
// references are omitted from the serialized providers.
func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	type providerInfo struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Model       string   `json:"model"`
		Specialties []string `json:"specialties,omitempty"`
		Free        bool     `json:"free"`
		Status      string   `json:"status"`
	}
	type tierInfo struct {
		Rank             int            `json:"rank"`
		Name             string         `json:"name"`
		QualityThreshold float64        `json:"quality_threshold"`
		MaxRetries       int            `json:"max_retries"`
		Providers        []providerInfo `json:"providers"`
	}

	tiers := make([]tierInfo, 0, s.reg.TierCount())
	for _, tier := range s.reg.Tiers() {
		ti := tierInfo{
			Rank:             tier.Rank,
			Name:             tier.Name,
			QualityThreshold: tier.QualityThreshold,
			MaxRetries:       tier.MaxRetries,
		}
		for _, p := range tier.Providers {
			status := "unknown"
			if rec, ok := s.tracker.Get(p.ID); ok {
				status = string(rec.Status)
			}
			ti.Providers = append(ti.Providers, providerInfo{
				ID:          p.ID,
				Name:        p.Name,
				Model:       p.Model,
				Specialties: p.Specialties,
				Free:        p.IsFree(),
				Status:      status,
			})
		}
		tiers = append(tiers, ti)
	}

	writeJSON(w, http.StatusOK, tiers)
}

// handleAnalytics combines live counters, health, and daily trends.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"stats":  s.orch.Collector().Stats(),
		"health": s.tracker.Snapshot(),
	}

	if s.store != nil {
		days := queryInt(r, "days", 7)
		if days < 1 || days > 90 {
			days = 7
		}
		trends, err := s.store.DailyTrends(days)
		if err != nil {
			log.Error().Err(err).Msg("failed to query daily trends")
		} else {
			if trends == nil {
				trends = []history.DailyTrend{}
			}
			resp["daily_trends"] = trends
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "history store unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

// decodeBody reads and unmarshals a JSON body, writing the error response
// itself. It reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return false
	}
	return true
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
