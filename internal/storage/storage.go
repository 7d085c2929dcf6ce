// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

// ErrPoolNotFound возвращается, когда пула нет в зеркале.
var ErrPoolNotFound = errors.New("pool not found")

// PoolCompletion holds the terminal fields written when a pool ends.
type PoolCompletion struct {
	Winner     string
	TotalPot   uint64
	Randomness string
	EndedAt    time.Time
}

// Storage определяет интерфейс зеркала пулов
type Storage interface {
	// Пулы
	CreatePool(ctx context.Context, pool *models.Pool) error
	GetPool(ctx context.Context, id uint) (*models.Pool, error)
	GetPoolByAddress(ctx context.Context, address string) (*models.Pool, error)
	// ListActivePools returns pools whose status is neither Ended nor Cancelled.
	ListActivePools(ctx context.Context) ([]*models.Pool, error)
	// UpdatePoolStatus overwrites status; lockStart is written only when non-nil.
	UpdatePoolStatus(ctx context.Context, id uint, status string, lockStart *int64) error
	// CompletePool marks the pool Ended with its outcome. It reports false when
	// the pool was already Ended, so callers can emit completion side effects once.
	CompletePool(ctx context.Context, id uint, completion PoolCompletion) (bool, error)
	// ListEndedPools returns Ended pools with ended_at in [from, to]. Zero bounds are open.
	ListEndedPools(ctx context.Context, from, to time.Time) ([]*models.Pool, error)

	// Экономика и награды
	SaveEconomics(ctx context.Context, poolID uint, costs []models.PoolEconomics) error
	ListEconomics(ctx context.Context, poolID uint) ([]models.PoolEconomics, error)
	SaveRewardAllocations(ctx context.Context, allocations []models.RewardAllocation) error
	ListRewardAllocations(ctx context.Context, poolID uint) ([]models.RewardAllocation, error)

	RunMigrations() error
	Close() error
}
