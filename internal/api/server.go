// Package api serves the simulation engine over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/backtester"
	"github.com/quantfold/crashsim/internal/config"
	"github.com/quantfold/crashsim/internal/data"
	"github.com/quantfold/crashsim/internal/features"
	"github.com/quantfold/crashsim/internal/intensity"
	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/internal/strategy"
	"github.com/quantfold/crashsim/internal/workers"
)

// Dependencies are the wired engine components the server exposes.
type Dependencies struct {
	Store             *data.Store
	Engineer          *features.Engineer
	Detector          *regime.Detector
	Strategy          *strategy.Strategy
	IntensityStrategy *intensity.Strategy
	Pool              *workers.Pool
	Backtest          config.BacktestConfig
	MonteCarlo        config.MonteCarloConfig
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     config.ServerConfig
	deps       Dependencies
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	metrics    *serverMetrics
	registry   *prometheus.Registry
	jobs       map[string]*job
}

// NewServer creates the server and wires its routes.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, deps Dependencies) *Server {
	registry := prometheus.NewRegistry()
	metrics := newServerMetrics(registry)

	s := &Server{
		logger:   logger,
		config:   cfg,
		deps:     deps,
		router:   mux.NewRouter(),
		metrics:  metrics,
		registry: registry,
		jobs:     make(map[string]*job),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.hub = NewHub(logger, metrics)

	s.setupRoutes()
	return s
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router { return s.router }

// Hub exposes the event hub.
func (s *Server) EventHub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.instrument("health", s.handleHealth)).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.instrument("symbols", s.handleSymbols)).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.instrument("history", s.handleHistory)).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.instrument("backtest_run", s.handleRunBacktest)).Methods("POST")
	s.router.HandleFunc("/api/v1/montecarlo/run", s.instrument("montecarlo_run", s.handleRunMonteCarlo)).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/{id}", s.instrument("job_get", s.handleGetJob)).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// instrument wraps a handler with the request counter.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.metrics.requestsTotal.WithLabelValues(route, http.StatusText(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start runs the HTTP server until it is stopped.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", s.config.Addr()))
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbols":  s.deps.Store.Symbols(),
		"metadata": s.deps.Store.Metadata(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var start, end time.Time
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start date")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end date")
			return
		}
		end = t
	}

	bars, err := s.deps.Store.GetRange(symbol, start, end)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
	})
}

// backtesterFor builds a backtester honoring per-request overrides on top
// of the configured defaults.
func (s *Server) backtesterFor(initialCapital, slippage float64) *backtester.Backtester {
	cfg := backtester.DefaultConfig()
	cfg.InitialCapital = decimalFrom(s.deps.Backtest.InitialCapital)
	cfg.SlippagePct = decimalFrom(s.deps.Backtest.SlippagePct)
	cfg.CommissionPct = decimalFrom(s.deps.Backtest.CommissionPct)
	if initialCapital > 0 {
		cfg.InitialCapital = decimalFrom(initialCapital)
	}
	if slippage >= 0 {
		cfg.SlippagePct = decimalFrom(slippage)
	}
	return backtester.New(s.logger, cfg)
}
