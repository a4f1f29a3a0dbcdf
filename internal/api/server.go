// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quantdesk/rotation-backend/internal/backtester"
	"github.com/quantdesk/rotation-backend/internal/data"
	"github.com/quantdesk/rotation-backend/internal/optimization"
	"github.com/quantdesk/rotation-backend/internal/strategy"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	store    *data.Store
	registry *strategy.Registry

	backtests     map[string]*BacktestState
	optimizations map[string]*OptimizationState
}

// Client represents a WebSocket client.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// BacktestState tracks one backtest run.
type BacktestState struct {
	ID      string
	Engine  *backtester.Engine
	Status  string
	Started time.Time
	Result  *types.BacktestResult
	Error   string
}

// OptimizationState tracks one parameter search run.
type OptimizationState struct {
	ID      string
	Status  string
	Started time.Time
	Cancel  context.CancelFunc
	Result  *optimization.Result
	Error   string
}

// Message represents a WebSocket message.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer creates a new API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, store *data.Store, registry *strategy.Registry) *Server {
	server := &Server{
		logger:        logger,
		config:        config,
		router:        mux.NewRouter(),
		clients:       make(map[string]*Client),
		store:         store,
		registry:      registry,
		backtests:     make(map[string]*BacktestState),
		optimizations: make(map[string]*OptimizationState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/strategies", s.handleListStrategies).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies/{name}/indicators/{symbol}", s.handleGetIndicators).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")

	s.router.HandleFunc("/api/v1/optimize/run", s.handleRunOptimization).Methods("POST")
	s.router.HandleFunc("/api/v1/optimize/{id}", s.handleGetOptimization).Methods("GET")
	s.router.HandleFunc("/api/v1/optimize/{id}/cancel", s.handleCancelOptimization).Methods("POST")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbols":  s.store.Symbols(),
		"metadata": s.store.Metadata(),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	series, ok := s.store.Get(symbol)
	if !ok {
		http.Error(w, "Symbol not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"style":  series.Style,
		"bars":   series.Bars,
		"count":  series.Len(),
	})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"strategies": s.registry.List(),
	})
}

// handleGetIndicators computes one strategy's indicator values for one
// instrument at the last bar.
func (s *Server) handleGetIndicators(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	symbol := vars["symbol"]

	series, ok := s.store.Get(symbol)
	if !ok {
		http.Error(w, "Symbol not found", http.StatusNotFound)
		return
	}

	config := types.DefaultStrategyConfig()
	config.Name = name
	strat, err := s.registry.Create(name, s.logger, config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := strat.Initialize(s.store.Dataset(), s.store.Benchmark()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	indicators, err := strat.CalculateIndicators(symbol, series.Len()-1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"strategy":   name,
		"symbol":     symbol,
		"indicators": indicators,
	})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	config := types.DefaultStrategyConfig()
	if err := json.NewDecoder(r.Body).Decode(config); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state := s.startBacktest(config)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	})
}

// startBacktest launches a replay in the background and streams its progress
// to connected clients.
func (s *Server) startBacktest(config *types.StrategyConfig) *BacktestState {
	engine := backtester.NewEngine(s.logger, s.registry)
	state := &BacktestState{
		ID:      uuid.New().String(),
		Engine:  engine,
		Status:  "running",
		Started: time.Now(),
	}

	s.mu.Lock()
	s.backtests[state.ID] = state
	s.mu.Unlock()

	backtestsStarted.Inc()

	done := make(chan struct{})
	go s.forwardProgress(engine, done)

	go func() {
		result, err := engine.Run(context.Background(), config, s.store.Dataset(), s.benchmarkFor(config))
		close(done)

		s.mu.Lock()
		if err != nil {
			state.Status = "failed"
			state.Error = err.Error()
			backtestsFailed.Inc()
			s.logger.Error("Backtest failed", zap.String("id", state.ID), zap.Error(err))
		} else {
			state.Status = "completed"
			state.Result = result
			backtestsCompleted.Inc()
			backtestDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
		}
		s.mu.Unlock()

		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "backtest:complete",
			Payload:   map[string]interface{}{"id": state.ID, "status": state.Status},
			Timestamp: time.Now().UnixMilli(),
		})
	}()

	return state
}

// forwardProgress mirrors engine progress events to connected clients. The
// engine never closes its progress channel, so the forwarder exits on done
// instead of ranging the channel.
func (s *Server) forwardProgress(engine *backtester.Engine, done <-chan struct{}) {
	for {
		select {
		case progress := <-engine.ProgressChan():
			s.broadcast(&Message{
				ID:        uuid.New().String(),
				Type:      "event",
				Method:    "backtest:progress",
				Payload:   progress,
				Timestamp: time.Now().UnixMilli(),
			})
		case <-done:
			return
		}
	}
}

// benchmarkFor resolves the benchmark series: the configured symbol if it is
// loaded, otherwise whatever the store has installed.
func (s *Server) benchmarkFor(config *types.StrategyConfig) *types.PriceSeries {
	if config.BenchmarkSymbol != "" {
		if series, ok := s.store.Get(config.BenchmarkSymbol); ok {
			return series
		}
	}
	return s.store.Benchmark()
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Result != nil {
		response["result"] = state.Result
	}
	if state.Error != "" {
		response["error"] = state.Error
	}
	if state.Status == "running" {
		response["progress"] = state.Engine.GetProgress()
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}
	if state.Result == nil {
		http.Error(w, "Backtest not complete", http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"trades": state.Result.Trades,
		"count":  len(state.Result.Trades),
	})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}
	if state.Status != "running" {
		http.Error(w, "Backtest not running", http.StatusBadRequest)
		return
	}

	state.Engine.Cancel()

	s.mu.Lock()
	state.Status = "cancelled"
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"status": "cancelled",
	})
}
