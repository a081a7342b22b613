// Package api assembles the backend's HTTP surface: the server functions,
// topic creation, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"propchain/pkg/functions"
	"propchain/pkg/hcs"
	"propchain/pkg/logging"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string `mapstructure:"address" validate:"required"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout bounds the graceful shutdown in Stop callers.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// EnablePprof mounts the Go profiling endpoints at /debug/pprof/
	EnablePprof bool `mapstructure:"enable_pprof"`
}

// DefaultServerConfig returns a default configuration. The write timeout
// leaves room for a ledger transaction and its receipt.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:         ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    45 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server routes requests to the backend handlers.
type Server struct {
	router  *mux.Router
	server  *http.Server
	config  ServerConfig
	logger  *logging.Logger
	started time.Time

	functions   *functions.Handler
	topics      http.Handler
	gatherer    prometheus.Gatherer
	metricsPath string
	httpMetrics *httpMetrics
}

type Option func(*Server)

// WithFunctions mounts the server functions, row access and session routes.
func WithFunctions(h *functions.Handler) Option {
	return func(s *Server) { s.functions = h }
}

// WithTopics mounts topic creation. Without it the route answers 500 with
// hcs.ErrNotConfigured.
func WithTopics(h http.Handler) Option {
	return func(s *Server) { s.topics = h }
}

// WithPrometheus serves gatherer at path and records per-route HTTP metrics
// into registerer.
func WithPrometheus(registerer prometheus.Registerer, gatherer prometheus.Gatherer, namespace, path string) Option {
	return func(s *Server) {
		s.gatherer = gatherer
		s.metricsPath = path
		s.httpMetrics = newHTTPMetrics(namespace)
		if err := s.httpMetrics.register(registerer); err != nil {
			s.logger.Warn("http metrics not registered", zap.Error(err))
			s.httpMetrics = nil
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrGlobal(l).Named("api") }
}

// NewServer creates the backend HTTP server.
func NewServer(config ServerConfig, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		config:  config,
		logger:  logging.Global().Named("api"),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := s.router
	if s.httpMetrics != nil {
		r.Use(s.httpMetrics.middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.gatherer != nil {
		path := s.metricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Topic creation answers every method itself, so it is matched before the
	// POST-only function route.
	var topics http.Handler = http.HandlerFunc(s.handleTopicsUnavailable)
	if s.topics != nil {
		topics = s.topics
	}
	if s.functions != nil {
		topics = s.functions.RequireAPIKey(topics)
	}
	r.Handle("/functions/v1/"+hcs.FunctionName, postOnly(topics))

	if s.functions != nil {
		s.functions.Register(r)
	}

	if config.EnablePprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a goroutine. Errors other than a clean shutdown are sent
// on the returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", zap.Error(err))
			errs <- err
		}
		close(errs)
	}()
	return errs
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"functions": s.functions != nil,
		"topics":    s.topics != nil,
	})
}

func (s *Server) handleTopicsUnavailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusInternalServerError, hcs.Response{Error: hcs.ErrNotConfigured.Error()})
}

// postOnly answers 405 to every method but POST before the API key is checked.
func postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, hcs.Response{Error: "Method not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
