package api

import (
	"context"

	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/keeper"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
	"github.com/rovshanmuradov/lottery-keeper/internal/utils/logger"
)

// StatusSource reports the orchestrator state.
type StatusSource interface {
	Status() keeper.Status
}

// EndpointSource reports RPC endpoint health.
type EndpointSource interface {
	Snapshot() []rpc.EndpointStatus
}

// EventSource reports event bus counters.
type EventSource interface {
	Stats() events.BusStats
}

// EconomicsSource reports in-flight pool economics.
type EconomicsSource interface {
	Reports() []economics.PoolReport
}

// PoolSource reads the persistence mirror.
type PoolSource interface {
	GetPool(ctx context.Context, id uint) (*models.Pool, error)
	ListEconomics(ctx context.Context, poolID uint) ([]models.PoolEconomics, error)
	ListRewardAllocations(ctx context.Context, poolID uint) ([]models.RewardAllocation, error)
}

// LogSource keeps recent warnings and errors.
type LogSource interface {
	Recent(limit int) []logger.LogEntry
}

// StaticStatus serves a fixed status, e.g. when the orchestrator is disabled.
type StaticStatus keeper.Status

func (s StaticStatus) Status() keeper.Status { return keeper.Status(s) }
