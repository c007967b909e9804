// Package httpapi serves the analysis operations over plain HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meridianhq/meridian/internal/gateway"
)

const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	ListenAddr string
	Gateway    *gateway.Service

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.Gateway == nil {
		return errors.New("gateway is required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

// Server is the HTTP/JSON adapter over the gateway. Validation failures are
// 400s; pipeline failures keep their payload under a 500 so callers see the
// explanation either way.
type Server struct {
	log  *slog.Logger
	cfg  Config
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		log: cfg.Logger.With("component", "httpapi"),
		cfg: cfg,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /ai/analyze", s.metricsMiddleware(http.HandlerFunc(s.handleAnalyze)))
	mux.Handle("POST /ai/query", s.metricsMiddleware(http.HandlerFunc(s.handleQuery)))
	mux.Handle("POST /ai/insights", s.metricsMiddleware(http.HandlerFunc(s.handleInsights)))
	mux.Handle("GET /ai/status", s.metricsMiddleware(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /healthz", s.metricsMiddleware(http.HandlerFunc(s.handleHealthz)))
	mux.Handle("GET /readyz", s.metricsMiddleware(http.HandlerFunc(s.handleHealthz)))

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("HTTP API listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("HTTP API stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

type analyzeRequest struct {
	Question string `json:"question"`
	Depth    string `json:"depth"`
}

type queryRequest struct {
	Request        string `json:"request"`
	DatasetContext string `json:"dataset_context"`
}

// requestMeta is attached to every analysis response.
type requestMeta struct {
	Timestamp  string `json:"timestamp"`
	RemoteAddr string `json:"remote_addr"`
}

type analyzeResponse struct {
	gateway.PublicResult
	Meta requestMeta `json:"metadata"`
}

type queryResponse struct {
	gateway.QueryGenResult
	Meta requestMeta `json:"metadata"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result := s.cfg.Gateway.RunIntelligentAnalysis(r.Context(), req.Question, req.Depth)
	s.writeResult(w, result.Success, analyzeResponse{PublicResult: result, Meta: s.meta(r)})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result := s.cfg.Gateway.RunBusinessInsights(r.Context(), req.Question, req.Depth)
	s.writeResult(w, result.Success, analyzeResponse{PublicResult: result, Meta: s.meta(r)})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		s.writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	result := s.cfg.Gateway.RunSmartQueryGeneration(r.Context(), req.Request, req.DatasetContext)
	s.writeResult(w, result.Success, queryResponse{QueryGenResult: result, Meta: s.meta(r)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Gateway.Status())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write health response", "error", err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) meta(r *http.Request) requestMeta {
	return requestMeta{
		Timestamp:  s.cfg.Clock.Now().UTC().Format(time.RFC3339),
		RemoteAddr: r.RemoteAddr,
	}
}

func (s *Server) writeResult(w http.ResponseWriter, success bool, payload any) {
	status := http.StatusOK
	if !success {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to write JSON response", "error", err)
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", wrapped.statusCode)).Inc()
		HTTPRequestDuration.Observe(time.Since(startTime).Seconds())
	})
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
