package keeper

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/gormstore"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

func newAllocatorFixture(t *testing.T, rewardPool solana.PublicKey) (*PotShareAllocator, *gormstore.Store, *models.Pool) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := gormstore.Open(gormstore.DriverSQLite, gormstore.InMemorySQLiteDSN, logger)
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	t.Cleanup(func() { _ = store.Close() })

	pool := &models.Pool{Address: solana.NewWallet().PublicKey().String(), Status: models.StatusEnded}
	require.NoError(t, store.CreatePool(context.Background(), pool))

	a := NewPotShareAllocator(store, lottery.DefaultFeeSchedule,
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), rewardPool, logger)
	return a, store, pool
}

func TestPotShareAllocator_SharesMatchSchedule(t *testing.T) {
	rewardPool := solana.NewWallet().PublicKey()
	a, store, pool := newAllocatorFixture(t, rewardPool)
	winner := solana.NewWallet().PublicKey()

	state := &lottery.PoolState{Winner: &winner, TotalPot: 2_000_000_000}
	require.NoError(t, a.Allocate(context.Background(), pool, state))

	rows, err := store.ListRewardAllocations(context.Background(), pool.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	byKind := make(map[string]models.RewardAllocation)
	var sum uint64
	for _, r := range rows {
		byKind[r.Kind] = r
		sum += r.Amount
	}
	assert.Equal(t, uint64(2_000_000_000), sum, "shares add up to the pot")
	assert.Equal(t, winner.String(), byKind[RewardKindWinner].Recipient)
	assert.Equal(t, uint64(180_000_000), byKind[RewardKindTreasury].Amount)
	assert.Equal(t, uint64(70_000_000), byKind[RewardKindOperator].Amount)
	assert.Equal(t, uint64(30_000_000), byKind[RewardKindRewardPool].Amount)
	assert.Equal(t, rewardPool.String(), byKind[RewardKindRewardPool].Recipient)
}

func TestPotShareAllocator_Idempotent(t *testing.T) {
	a, store, pool := newAllocatorFixture(t, solana.PublicKey{})
	winner := solana.NewWallet().PublicKey()
	state := &lottery.PoolState{Winner: &winner, TotalPot: 1_000_000_000}

	require.NoError(t, a.Allocate(context.Background(), pool, state))
	require.NoError(t, a.Allocate(context.Background(), pool, state))

	rows, err := store.ListRewardAllocations(context.Background(), pool.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, rows[1].Recipient, rows[3].Recipient, "reward pool falls back to the treasury")
}

func TestPotShareAllocator_SkipsZeroShares(t *testing.T) {
	a, store, pool := newAllocatorFixture(t, solana.PublicKey{})
	winner := solana.NewWallet().PublicKey()

	require.NoError(t, a.Allocate(context.Background(), pool, &lottery.PoolState{Winner: &winner, TotalPot: 10}))

	rows, err := store.ListRewardAllocations(context.Background(), pool.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, RewardKindWinner, rows[0].Kind)
	assert.Equal(t, uint64(10), rows[0].Amount)
}

func TestPotShareAllocator_RequiresWinner(t *testing.T) {
	a, _, pool := newAllocatorFixture(t, solana.PublicKey{})
	err := a.Allocate(context.Background(), pool, &lottery.PoolState{TotalPot: 1_000})
	assert.ErrorContains(t, err, "has no winner")
}
