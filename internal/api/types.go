package api

import (
	"time"

	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/keeper"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
	"github.com/rovshanmuradov/lottery-keeper/internal/utils/logger"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Orchestrator keeper.Status          `json:"orchestrator"`
	Endpoints    []rpc.EndpointStatus   `json:"endpoints"`
	Events       *events.BusStats       `json:"events,omitempty"`
	Economics    []economics.PoolReport `json:"economics"`
	Time         time.Time              `json:"time"`
}

// PoolResponse is the body of GET /api/v1/pools/{id}.
type PoolResponse struct {
	Pool        *models.Pool              `json:"pool"`
	Economics   []models.PoolEconomics    `json:"economics"`
	Allocations []models.RewardAllocation `json:"allocations"`
}

// LogsResponse is the body of GET /api/v1/logs.
type LogsResponse struct {
	Entries []logger.LogEntry `json:"entries"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
