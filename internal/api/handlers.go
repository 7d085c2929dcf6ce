package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/keeper"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/utils/logger"
)

const defaultLogLimit = 50

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Orchestrator: keeper.DisabledStatus("orchestrator not configured"),
		Endpoints:    []rpc.EndpointStatus{},
		Economics:    []economics.PoolReport{},
		Time:         time.Now().UTC(),
	}
	if s.sources.Status != nil {
		resp.Orchestrator = s.sources.Status.Status()
	}
	if s.sources.Endpoints != nil {
		resp.Endpoints = s.sources.Endpoints.Snapshot()
	}
	if s.sources.Events != nil {
		stats := s.sources.Events.Stats()
		resp.Events = &stats
	}
	if s.sources.Economics != nil {
		resp.Economics = s.sources.Economics.Reports()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePool handles GET /api/v1/pools/{id}
func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if s.sources.Pools == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "mirror not available"})
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid pool id"})
		return
	}

	ctx := r.Context()
	pool, err := s.sources.Pools.GetPool(ctx, uint(id))
	if errors.Is(err, storage.ErrPoolNotFound) {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	costs, err := s.sources.Pools.ListEconomics(ctx, pool.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	allocations, err := s.sources.Pools.ListRewardAllocations(ctx, pool.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PoolResponse{Pool: pool, Economics: costs, Allocations: allocations})
}

// handleLogs handles GET /api/v1/logs?limit=N
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.sources.Logs == nil {
		s.writeJSON(w, http.StatusOK, LogsResponse{Entries: []logger.LogEntry{}})
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, LogsResponse{Entries: s.sources.Logs.Recent(limit)})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("Status request failed", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}
