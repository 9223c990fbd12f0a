// Package server exposes capability resolution and plan execution over a
// JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/audit"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// History reads recorded executions. *audit.Recorder satisfies it.
type History interface {
	List(ctx context.Context, limit int) ([]*audit.Execution, error)
	Get(ctx context.Context, planID string) (*audit.Execution, error)
}

// Config holds the listen address
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Validate checks the listen address
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server serves the HTTP API
type Server struct {
	router  *mux.Router
	engine  *engine.Engine
	history History
	config  Config
	server  *http.Server
}

// New creates a Server. history may be nil when auditing is disabled.
func New(config Config, eng *engine.Engine, history History) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	s := &Server{
		router:  mux.NewRouter(),
		engine:  eng,
		history: history,
		config:  config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/resolve", s.handleResolve).Methods(http.MethodPost)
	api.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/capabilities", s.handleListCapabilities).Methods(http.MethodGet)
	api.HandleFunc("/capabilities/{id}", s.handleGetCapability).Methods(http.MethodGet)
	api.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router.Use(s.loggingMiddleware)
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Serving capability API on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.statusCode,
			"duration": time.Since(start),
		}).Info("HTTP request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error      string                      `json:"error"`
	Status     int                         `json:"status"`
	Validation capability.ValidationErrors `json:"validation_errors,omitempty"`
	FailedStep *int                        `json:"failed_step,omitempty"`
	Results    []capability.Result         `json:"results,omitempty"`
}

// writeError maps err onto a status code and writes it
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Status: http.StatusInternalServerError}

	var (
		verrs   capability.ValidationErrors
		failure *capability.ExecutionFailure
	)
	switch {
	case errors.As(err, &verrs):
		resp.Status = http.StatusUnprocessableEntity
		resp.Validation = verrs
	case errors.As(err, &failure):
		resp.Status = http.StatusBadGateway
		step := failure.StepIndex
		resp.FailedStep = &step
		resp.Results = failure.Partial
	case errors.Is(err, engine.ErrNoMatch), errors.Is(err, capability.ErrNotFound), errors.Is(err, audit.ErrNotFound):
		resp.Status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotLoaded):
		resp.Status = http.StatusServiceUnavailable
	}

	if resp.Status >= http.StatusInternalServerError {
		logger.G(ctx).WithError(err).Error("request failed")
	}
	writeJSON(ctx, w, resp.Status, resp)
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, msg string) {
	writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: msg, Status: http.StatusBadRequest})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}
