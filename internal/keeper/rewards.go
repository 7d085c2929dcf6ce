// internal/keeper/rewards.go
package keeper

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

// Виды начислений.
const (
	RewardKindWinner     = "winner"
	RewardKindTreasury   = "treasury"
	RewardKindOperator   = "operator"
	RewardKindRewardPool = "reward-pool"
)

// PotShareAllocator records how a finished pool's pot was shared, using the
// fee schedule, as reward allocation rows in the mirror.
type PotShareAllocator struct {
	mirror     storage.Storage
	schedule   lottery.FeeSchedule
	operator   solana.PublicKey
	treasury   solana.PublicKey
	rewardPool solana.PublicKey
	logger     *zap.Logger
}

// NewPotShareAllocator создает распределитель. Пустой rewardPool означает казначейство.
func NewPotShareAllocator(mirror storage.Storage, schedule lottery.FeeSchedule, operator, treasury, rewardPool solana.PublicKey, logger *zap.Logger) *PotShareAllocator {
	if rewardPool.IsZero() {
		rewardPool = treasury
	}
	return &PotShareAllocator{
		mirror:     mirror,
		schedule:   schedule,
		operator:   operator,
		treasury:   treasury,
		rewardPool: rewardPool,
		logger:     logger.Named("rewards"),
	}
}

// Allocate writes one row per non-zero share. Re-running for the same pool
// does not duplicate rows.
func (a *PotShareAllocator) Allocate(ctx context.Context, pool *models.Pool, state *lottery.PoolState) error {
	if state.Winner == nil {
		return fmt.Errorf("pool %s has no winner", pool.Address)
	}
	d := a.schedule.Split(state.TotalPot)

	shares := []struct {
		recipient solana.PublicKey
		kind      string
		amount    uint64
	}{
		{*state.Winner, RewardKindWinner, d.Winner},
		{a.treasury, RewardKindTreasury, d.Treasury},
		{a.operator, RewardKindOperator, d.Operator},
		{a.rewardPool, RewardKindRewardPool, d.RewardPool},
	}

	rows := make([]models.RewardAllocation, 0, len(shares))
	for _, s := range shares {
		if s.amount == 0 || s.recipient.IsZero() {
			continue
		}
		rows = append(rows, models.RewardAllocation{
			PoolID:    pool.ID,
			Recipient: s.recipient.String(),
			Kind:      s.kind,
			Amount:    s.amount,
		})
	}
	if err := a.mirror.SaveRewardAllocations(ctx, rows); err != nil {
		return err
	}

	a.logger.Info("Pot shares allocated",
		zap.Uint("pool_id", pool.ID),
		zap.Uint64("winner", d.Winner),
		zap.Uint64("treasury", d.Treasury),
		zap.Uint64("operator", d.Operator),
		zap.Uint64("reward_pool", d.RewardPool))
	return nil
}
