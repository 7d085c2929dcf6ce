package keeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

func TestStart_RequiresLedgerAndMirror(t *testing.T) {
	o := New(Deps{}, Config{})
	assert.ErrorIs(t, o.Start(context.Background()), ErrNotInitialized)
	assert.False(t, o.Status().Running)
}

func TestOpenPool_NoAction(t *testing.T) {
	h := newHarness(t, nil)
	pool, _ := h.addPool(lottery.StatusOpen, "Open")

	h.tick()

	for _, a := range []lottery.Action{lottery.ActionUnlock, lottery.ActionRequestRandomness, lottery.ActionPayout} {
		assert.Zero(t, h.ledger.callCount(a))
	}
	assert.Equal(t, "Open", h.mirrored(pool.ID).Status)
}

func TestReconcile_MirrorCorrectedFromLedger(t *testing.T) {
	h := newHarness(t, nil)
	pool, state := h.addPool(lottery.StatusLocked, "Open")
	require.NoError(t, h.store.UpdatePoolStatus(context.Background(), pool.ID, "Open", new(int64)))

	h.tick()

	got := h.mirrored(pool.ID)
	assert.Equal(t, "Locked", got.Status)
	assert.Equal(t, state.LockStartTime, got.LockStartTime)
	assert.Zero(t, h.ledger.callCount(lottery.ActionUnlock), "lock period has not elapsed")
}

// Scenario A: Locked pool unlocks at exactly lockStart+lockDuration, once.
func TestScenarioA_UnlockAtDeadlineExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	pool, state := h.addPool(lottery.StatusLocked, "Locked")
	start := time.Unix(state.LockStartTime, 0)

	h.clock.Set(start.Add(299 * time.Second))
	h.tick()
	assert.Zero(t, h.ledger.callCount(lottery.ActionUnlock))

	h.clock.Set(start.Add(300 * time.Second))
	gate := h.ledger.gate(lottery.ActionUnlock)
	h.orch.Tick(context.Background())
	require.Eventually(t, func() bool { return h.ledger.callCount(lottery.ActionUnlock) == 1 },
		time.Second, 5*time.Millisecond)

	// Ledger has not confirmed yet; further ticks must not submit again.
	for i := 0; i < 3; i++ {
		h.orch.Tick(context.Background())
	}
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionUnlock))
	assert.True(t, h.orch.Registry().Processing(pool.ID))

	close(gate)
	h.orch.inflight.Wait()

	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionUnlock))
	assert.Equal(t, lottery.StatusUnlocked, h.ledger.status(state.Address))
	assert.Equal(t, "Unlocked", h.mirrored(pool.ID).Status)
	assert.Equal(t, 1, h.events.count(events.PoolUnlocked))
	assert.False(t, h.orch.Registry().Processing(pool.ID))
}

func TestUnlocked_RequestsRandomness(t *testing.T) {
	h := newHarness(t, nil)
	pool, state := h.addPool(lottery.StatusUnlocked, "Unlocked")

	h.tick()

	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionRequestRandomness))
	assert.Zero(t, h.ledger.callCount(lottery.ActionRevealRandomness), "reveal waits for the next tick")
	assert.Equal(t, lottery.StatusRandomnessCommitted, h.ledger.status(state.Address))
	assert.Equal(t, "RandomnessCommitted", h.mirrored(pool.ID).Status)
	assert.Equal(t, 1, h.events.count(events.RandomnessRequested))
}

func TestRandomnessCommitted_RevealThenSelectSameTick(t *testing.T) {
	h := newHarness(t, nil)
	pool, state := h.addPool(lottery.StatusRandomnessCommitted, "RandomnessCommitted")

	h.tick()

	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionRevealRandomness))
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionSelectWinner))
	assert.Equal(t, lottery.StatusWinnerSelected, h.ledger.status(state.Address))
	assert.Equal(t, "WinnerSelected", h.mirrored(pool.ID).Status)
	assert.Equal(t, 1, h.events.count(events.RandomnessRevealed))
	assert.Equal(t, 1, h.events.count(events.WinnerSelected))
}

func TestRevealFailure_NoSelect(t *testing.T) {
	h := newHarness(t, nil)
	pool, _ := h.addPool(lottery.StatusRandomnessCommitted, "RandomnessCommitted")
	h.ledger.failNext(lottery.ActionRevealRandomness, lottery.ErrRandomnessUnavailable)

	h.tick()

	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionRevealRandomness))
	assert.Zero(t, h.ledger.callCount(lottery.ActionSelectWinner))
	assert.Equal(t, 1, h.orch.Registry().Retries(pool.ID, "reveal-randomness"))
}

// Scenario B: reveal succeeds, select fails; the next tick only selects.
func TestScenarioB_SelectRetriedWithoutReveal(t *testing.T) {
	h := newHarness(t, nil)
	pool, state := h.addPool(lottery.StatusRandomnessCommitted, "RandomnessCommitted")
	h.ledger.failNext(lottery.ActionSelectWinner, errTransient)

	h.tick()
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionRevealRandomness))
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionSelectWinner))
	assert.Equal(t, lottery.StatusRandomnessRevealed, h.ledger.status(state.Address))
	assert.Equal(t, 1, h.orch.Registry().Retries(pool.ID, "select-winner"))
	assert.Equal(t, "RandomnessRevealed", h.mirrored(pool.ID).Status)

	h.tick()
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionRevealRandomness), "reveal must not run again")
	assert.Equal(t, 2, h.ledger.callCount(lottery.ActionSelectWinner))
	assert.Equal(t, lottery.StatusWinnerSelected, h.ledger.status(state.Address))
	assert.Zero(t, h.orch.Registry().Retries(pool.ID, "select-winner"), "success clears the counter")
}

// Scenario C: payout ends the pool, the mirror is completed, WIN fires once.
func TestScenarioC_PayoutFinalizesOnce(t *testing.T) {
	h := newHarness(t, nil)
	pool, state := h.addPool(lottery.StatusRandomnessRevealed, "RandomnessRevealed")

	h.tick() // select winner
	h.tick() // payout
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionPayout))
	assert.Equal(t, lottery.StatusEnded, h.ledger.status(state.Address))

	got := h.mirrored(pool.ID)
	assert.Equal(t, models.StatusEnded, got.Status)
	assert.Equal(t, h.ledger.winner.String(), got.Winner)
	assert.Equal(t, uint64(1_000_000_000), got.TotalPot)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, 1, h.events.count(events.PoolWon))

	costs, err := h.store.ListEconomics(context.Background(), pool.ID)
	require.NoError(t, err)
	require.Len(t, costs, 2)
	assert.Equal(t, "payout", costs[0].Action)
	assert.Equal(t, int64(5_000), costs[0].Lamports)
	assert.Equal(t, "select-winner", costs[1].Action)
	_, tracked := h.tracker.Report(state.Address)
	assert.False(t, tracked, "economics discarded after finalization")

	rewards, err := h.store.ListRewardAllocations(context.Background(), pool.ID)
	require.NoError(t, err)
	require.Len(t, rewards, 4)
	assert.Equal(t, RewardKindWinner, rewards[0].Kind)
	assert.Equal(t, uint64(860_000_000), rewards[0].Amount)

	for i := 0; i < 3; i++ {
		h.tick()
	}
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionPayout))
	assert.Equal(t, 1, h.events.count(events.PoolWon))
}

func TestEndedOnLedger_FinalizesMirrorOnce(t *testing.T) {
	h := newHarness(t, func(s storage.Storage) storage.Storage {
		return &flakyMirror{Storage: s, completeFails: 1}
	})
	pool, state := h.addPool(lottery.StatusWinnerSelected, "WinnerSelected")
	w := h.ledger.winner
	state.Winner = &w
	h.ledger.put(state)

	// Payout confirms but the completion write fails.
	h.tick()
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionPayout))
	assert.Equal(t, "WinnerSelected", h.mirrored(pool.ID).Status)
	assert.Zero(t, h.events.count(events.PoolWon))
	assert.Equal(t, 1, h.orch.Registry().Retries(pool.ID, "finalize"))

	// Next tick sees Ended on the ledger and finalizes without paying again.
	h.tick()
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionPayout))
	assert.Equal(t, models.StatusEnded, h.mirrored(pool.ID).Status)
	assert.Equal(t, 1, h.events.count(events.PoolWon))

	h.tick()
	assert.Equal(t, 1, h.events.count(events.PoolWon))
}

func TestTerminalAndUnknownStatuses_NoAction(t *testing.T) {
	h := newHarness(t, nil)
	cancelled, _ := h.addPool(lottery.StatusCancelled, "Open")
	_, closed := h.addPool(lottery.StatusClosed, "Closed")
	unknown, unknownState := h.addPool(lottery.StatusUnknown, "Locked")
	unknownState.StatusTag = 42
	h.ledger.put(unknownState)

	h.tick()

	assert.Equal(t, models.StatusCancelled, h.mirrored(cancelled.ID).Status)
	assert.Equal(t, "Locked", h.mirrored(unknown.ID).Status, "unknown status leaves mirror untouched")
	assert.Equal(t, lottery.StatusClosed, h.ledger.status(closed.Address))
	for _, a := range []lottery.Action{lottery.ActionUnlock, lottery.ActionRequestRandomness, lottery.ActionRevealRandomness, lottery.ActionSelectWinner, lottery.ActionPayout} {
		assert.Zero(t, h.ledger.callCount(a))
	}

	active, err := h.store.ListActivePools(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2, "cancelled pool is no longer listed")
}

func TestFetchFailure_CountedAndContained(t *testing.T) {
	h := newHarness(t, nil)
	broken, brokenState := h.addPool(lottery.StatusUnlocked, "Unlocked")
	healthy, healthyState := h.addPool(lottery.StatusUnlocked, "Unlocked")
	h.ledger.fetchErrs[brokenState.Address] = errTransient

	h.tick()

	assert.Equal(t, 1, h.orch.Registry().Retries(broken.ID, "fetch-state"))
	assert.Equal(t, lottery.StatusUnlocked, h.ledger.status(brokenState.Address))
	assert.Equal(t, lottery.StatusRandomnessCommitted, h.ledger.status(healthyState.Address))
	assert.Equal(t, "RandomnessCommitted", h.mirrored(healthy.ID).Status)
	assert.Equal(t, "Unlocked", h.mirrored(broken.ID).Status)
}

func TestPanic_ContainedToPool(t *testing.T) {
	h := newHarness(t, nil)
	bad, badState := h.addPool(lottery.StatusUnlocked, "Unlocked")
	_, goodState := h.addPool(lottery.StatusUnlocked, "Unlocked")
	h.ledger.panics[badState.Address] = true

	h.tick()

	assert.Equal(t, lottery.StatusRandomnessCommitted, h.ledger.status(goodState.Address))
	assert.Equal(t, 1, h.orch.Registry().Retries(bad.ID, "panic"))
	assert.False(t, h.orch.Registry().Processing(bad.ID), "panicked task released its pool")
}

func TestActionRetryCeiling(t *testing.T) {
	h := newHarness(t, nil)
	pool, _ := h.addPool(lottery.StatusUnlocked, "Unlocked")
	h.ledger.failNext(lottery.ActionRequestRandomness, errTransient, errTransient, errTransient, errTransient, errTransient)

	for i := 1; i <= 4; i++ {
		h.tick()
		assert.Equal(t, i, h.orch.Registry().Retries(pool.ID, "request-randomness"))
	}
	h.tick()
	assert.Zero(t, h.orch.Registry().Retries(pool.ID, "request-randomness"), "ceiling resets the counter")

	h.tick()
	assert.Equal(t, 6, h.ledger.callCount(lottery.ActionRequestRandomness))
	assert.Equal(t, "RandomnessCommitted", h.mirrored(pool.ID).Status)
}

func TestConcurrentTicks_ProcessingSetExclusive(t *testing.T) {
	h := newHarness(t, nil)
	_, state := h.addPool(lottery.StatusUnlocked, "Unlocked")
	gate := h.ledger.gate(lottery.ActionRequestRandomness)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.Tick(context.Background())
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return h.ledger.callCount(lottery.ActionRequestRandomness) == 1 },
		time.Second, 5*time.Millisecond)

	close(gate)
	h.orch.inflight.Wait()
	assert.Equal(t, 1, h.ledger.callCount(lottery.ActionRequestRandomness))
	assert.Equal(t, lottery.StatusRandomnessCommitted, h.ledger.status(state.Address))
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, nil)
	_, state := h.addPool(lottery.StatusUnlocked, "Unlocked")

	require.NoError(t, h.orch.Start(context.Background()))
	assert.ErrorIs(t, h.orch.Start(context.Background()), ErrAlreadyRunning)
	require.Eventually(t, func() bool { return h.ledger.status(state.Address) == lottery.StatusRandomnessCommitted },
		time.Second, 5*time.Millisecond)

	st := h.orch.Status()
	assert.True(t, st.Running)
	assert.GreaterOrEqual(t, st.Ticks, uint64(1))
	require.NotNil(t, st.LastTick)

	require.NoError(t, h.orch.Stop())
	assert.False(t, h.orch.Status().Running)
	require.NoError(t, h.orch.Stop())
}

func TestStop_AbandonsStuckTasks(t *testing.T) {
	h := newHarness(t, nil)
	pool, _ := h.addPool(lottery.StatusUnlocked, "Unlocked")
	h.ledger.gate(lottery.ActionRequestRandomness)

	require.NoError(t, h.orch.Start(context.Background()))
	require.Eventually(t, func() bool { return h.ledger.callCount(lottery.ActionRequestRandomness) == 1 },
		time.Second, 5*time.Millisecond)

	err := h.orch.StopWithTimeout(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 pool tasks abandoned")

	// Stop returns only after the cancelled task released the pool, so the
	// RPC manager and mirror can be closed right after it.
	assert.False(t, h.orch.Registry().Processing(pool.ID))
	assert.Zero(t, h.orch.Registry().Count())
	assert.Equal(t, 1, h.orch.Registry().Retries(pool.ID, "request-randomness"))
}
