package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/quantdesk/rotation-backend/internal/backtester"
	"github.com/quantdesk/rotation-backend/internal/optimization"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"go.uber.org/zap"
)

// OptimizationRequest starts one parameter search: a base strategy config,
// the space to explore, the search settings, and the metric to optimize.
type OptimizationRequest struct {
	Config *types.StrategyConfig        `json:"config"`
	Space  *optimization.ParameterSpace `json:"space"`
	Search *optimization.SearchConfig   `json:"search"`
	Metric string                       `json:"metric"`
	SaveTo string                       `json:"saveTo,omitempty"` // optional result file path
}

func (s *Server) handleRunOptimization(w http.ResponseWriter, r *http.Request) {
	var req OptimizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Space == nil {
		http.Error(w, "Missing parameter space", http.StatusBadRequest)
		return
	}
	if err := req.Space.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Config == nil {
		req.Config = types.DefaultStrategyConfig()
	}
	if req.Search == nil {
		req.Search = optimization.DefaultSearchConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &OptimizationState{
		ID:      uuid.New().String(),
		Status:  "running",
		Started: time.Now(),
		Cancel:  cancel,
	}

	s.mu.Lock()
	s.optimizations[state.ID] = state
	s.mu.Unlock()

	optimizationsStarted.Inc()

	go s.runOptimization(ctx, state, &req)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	})
}

func (s *Server) runOptimization(ctx context.Context, state *OptimizationState, req *OptimizationRequest) {
	defer state.Cancel()

	objective := backtester.NewObjective(
		s.logger, s.registry, req.Config,
		s.store.Dataset(), s.benchmarkFor(req.Config), req.Metric,
	)
	optimizer := optimization.NewOptimizer(s.logger, req.Search)

	result, err := optimizer.Optimize(ctx, req.Space, optimization.Objective(objective))

	s.mu.Lock()
	switch {
	case err != nil:
		state.Status = "failed"
		state.Error = err.Error()
		s.logger.Error("Optimization failed", zap.String("id", state.ID), zap.Error(err))
	case !result.Completed:
		state.Status = "cancelled"
		state.Result = result
	default:
		state.Status = "completed"
		state.Result = result
	}
	if result != nil {
		searchTrials.Add(float64(len(result.Trials)))
	}
	s.mu.Unlock()

	if result != nil && req.SaveTo != "" {
		if err := optimization.SaveResult(req.SaveTo, result); err != nil {
			s.logger.Warn("Failed to persist search result",
				zap.String("id", state.ID),
				zap.Error(err),
			)
		}
	}

	s.broadcast(&Message{
		ID:        uuid.New().String(),
		Type:      "event",
		Method:    "optimize:complete",
		Payload:   map[string]interface{}{"id": state.ID, "status": state.Status},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetOptimization(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.optimizations[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Optimization not found", http.StatusNotFound)
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

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleCancelOptimization(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.optimizations[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Optimization not found", http.StatusNotFound)
		return
	}
	if state.Status != "running" {
		http.Error(w, "Optimization not running", http.StatusBadRequest)
		return
	}

	state.Cancel()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"status": "cancelling",
	})
}
