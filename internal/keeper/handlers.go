// internal/keeper/handlers.go
package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

type actionFunc func(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error)

// processPool is one pool's task: fetch ledger truth, reconcile the mirror,
// dispatch at most one handler.
func (o *Orchestrator) processPool(ctx context.Context, pool *models.Pool) {
	logger := o.logger.With(zap.Uint("pool_id", pool.ID), zap.String("pool", pool.Address))

	addr, err := solana.PublicKeyFromBase58(pool.Address)
	if err != nil {
		count, _ := o.registry.Increment(pool.ID, actionFetchState)
		logger.Error("Invalid pool address in mirror", zap.Error(err), zap.Int("retry", count))
		return
	}

	// Шаг 1: состояние из блокчейна
	state, err := o.ledger.FetchState(ctx, addr)
	if err != nil {
		count, reset := o.registry.Increment(pool.ID, actionFetchState)
		logger.Warn("Failed to fetch pool state", zap.Error(err), zap.Int("retry", count))
		if reset {
			logger.Error("Retry ceiling reached for fetch-state, counter reset")
		}
		return
	}
	o.registry.Reset(pool.ID, actionFetchState)

	// Шаг 2: сверка зеркала
	o.reconcile(ctx, logger, pool, state)

	// Шаг 3: обработчик по статусу
	if err := o.dispatch(ctx, logger, pool, addr, state); err != nil {
		logger.Debug("Pool handler failed, will retry next tick", zap.Error(err))
	}
}

// reconcile corrects the mirror from the ledger. Ended is written only by
// finalize so completion side effects happen once.
func (o *Orchestrator) reconcile(ctx context.Context, logger *zap.Logger, pool *models.Pool, state *lottery.PoolState) {
	if !state.Status.IsKnown() {
		logger.Warn("Unknown pool status on ledger, leaving mirror untouched",
			zap.Uint8("status_tag", state.StatusTag))
		return
	}
	if state.Status == lottery.StatusEnded {
		return
	}

	ledgerStatus := state.Status.String()
	statusDiffers := ledgerStatus != pool.Status
	lockDiffers := state.LockStartTime != 0 && state.LockStartTime != pool.LockStartTime
	if !statusDiffers && !lockDiffers {
		return
	}

	var lockStart *int64
	if lockDiffers {
		ls := state.LockStartTime
		lockStart = &ls
	}
	if err := o.mirror.UpdatePoolStatus(ctx, pool.ID, ledgerStatus, lockStart); err != nil {
		logger.Warn("Failed to reconcile mirror", zap.Error(err))
		return
	}

	if statusDiffers {
		logger.Info("Mirror status corrected from ledger",
			zap.String("from", pool.Status),
			zap.String("to", ledgerStatus))
	}
	pool.Status = ledgerStatus
	if lockStart != nil {
		pool.LockStartTime = *lockStart
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, logger *zap.Logger, pool *models.Pool, addr solana.PublicKey, state *lottery.PoolState) error {
	switch state.Status {
	case lottery.StatusOpen:
		return nil

	case lottery.StatusLocked:
		unlockAt := state.UnlockAt()
		if now := o.clock(); now.Before(unlockAt) {
			logger.Debug("Lock period not elapsed", zap.Time("unlock_at", unlockAt))
			return nil
		}
		_, err := o.runAction(ctx, logger, pool, addr, lottery.ActionUnlock, o.ledger.Unlock)
		return err

	case lottery.StatusUnlocked:
		_, err := o.runAction(ctx, logger, pool, addr, lottery.ActionRequestRandomness, o.ledger.RequestRandomness)
		return err

	case lottery.StatusRandomnessCommitted:
		if _, err := o.runAction(ctx, logger, pool, addr, lottery.ActionRevealRandomness, o.ledger.RevealRandomness); err != nil {
			return err
		}
		_, err := o.runAction(ctx, logger, pool, addr, lottery.ActionSelectWinner, o.ledger.SelectWinner)
		return err

	case lottery.StatusRandomnessRevealed:
		_, err := o.runAction(ctx, logger, pool, addr, lottery.ActionSelectWinner, o.ledger.SelectWinner)
		return err

	case lottery.StatusWinnerSelected:
		if _, err := o.runAction(ctx, logger, pool, addr, lottery.ActionPayout, o.ledger.Payout); err != nil {
			return err
		}
		// Победитель и банк берутся из подтвержденного состояния
		final, err := o.ledger.FetchState(ctx, addr)
		if err != nil {
			logger.Warn("Failed to re-read pool after payout, using pre-payout state", zap.Error(err))
			final = state
		}
		return o.finalize(ctx, logger, pool, addr, final)

	case lottery.StatusEnded:
		if pool.Status != models.StatusEnded {
			return o.finalize(ctx, logger, pool, addr, state)
		}
		return nil

	case lottery.StatusCancelled, lottery.StatusClosed:
		return nil

	default:
		return nil
	}
}

// runAction submits one lifecycle action through the cost tracker and keeps
// the retry counter, metrics, mirror and events in step with the outcome.
func (o *Orchestrator) runAction(ctx context.Context, logger *zap.Logger, pool *models.Pool, addr solana.PublicKey, action lottery.Action, fn actionFunc) (*lottery.ActionResult, error) {
	var result *lottery.ActionResult
	call := func(ctx context.Context) error {
		res, err := fn(ctx, addr)
		result = res
		return err
	}

	var err error
	if o.tracker != nil {
		err = o.tracker.Track(ctx, addr, action.String(), call)
	} else {
		err = call(ctx)
	}

	if err != nil {
		count, reset := o.registry.Increment(pool.ID, action.String())
		o.metrics.ObserveAction(action.String(), "failed")
		fields := []zap.Field{zap.String("action", action.String()), zap.Int("retry", count), zap.Error(err)}
		if errors.Is(err, lottery.ErrNotReady) {
			logger.Info("Pool not ready for action", fields...)
		} else {
			logger.Error("Pool action failed", fields...)
		}
		if reset {
			logger.Error("Retry ceiling reached, counter reset", zap.String("action", action.String()))
		}
		return nil, err
	}
	o.registry.Reset(pool.ID, action.String())

	if result == nil || result.Skipped {
		o.metrics.ObserveAction(action.String(), "skipped")
		return result, nil
	}
	o.metrics.ObserveAction(action.String(), "success")
	logger.Info("Pool action confirmed",
		zap.String("action", action.String()),
		zap.String("signature", result.Signature.String()))

	if action != lottery.ActionPayout {
		target := action.Target().String()
		if err := o.mirror.UpdatePoolStatus(ctx, pool.ID, target, nil); err != nil {
			logger.Warn("Failed to record action in mirror", zap.Error(err))
		} else {
			pool.Status = target
		}
		o.publishTransition(logger, pool, action, result)
	}
	return result, nil
}

var transitionEvents = map[lottery.Action]struct {
	typ    events.EventType
	format string
}{
	lottery.ActionUnlock:            {events.PoolUnlocked, "Pool #%d unlocked, drawing a winner"},
	lottery.ActionRequestRandomness: {events.RandomnessRequested, "Pool #%d requested randomness"},
	lottery.ActionRevealRandomness:  {events.RandomnessRevealed, "Pool #%d randomness revealed"},
	lottery.ActionSelectWinner:      {events.WinnerSelected, "Pool #%d winner selected"},
}

func (o *Orchestrator) publishTransition(logger *zap.Logger, pool *models.Pool, action lottery.Action, result *lottery.ActionResult) {
	te, ok := transitionEvents[action]
	if !ok {
		return
	}
	ev := events.NewPoolEvent(te.typ, pool.ID, pool.Address, fmt.Sprintf(te.format, pool.ID))
	ev.Link = o.txLink(result.Signature)
	o.publish(logger, ev)
}

func (o *Orchestrator) publish(logger *zap.Logger, ev events.PoolEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ev); err != nil {
		logger.Warn("Failed to publish event", zap.String("type", string(ev.EventType)), zap.Error(err))
	}
}

func (o *Orchestrator) txLink(sig solana.Signature) string {
	if o.cfg.ExplorerTxURL == "" || sig == (solana.Signature{}) {
		return ""
	}
	return fmt.Sprintf(o.cfg.ExplorerTxURL, sig.String())
}

// finalize persists the terminal mirror fields and runs completion side
// effects. Only the call that moves the mirror to Ended runs them.
func (o *Orchestrator) finalize(ctx context.Context, logger *zap.Logger, pool *models.Pool, addr solana.PublicKey, state *lottery.PoolState) error {
	completion := storage.PoolCompletion{
		TotalPot: state.TotalPot,
		EndedAt:  o.clock(),
	}
	if state.Winner != nil {
		completion.Winner = state.Winner.String()
	}
	if state.Randomness != nil {
		completion.Randomness = state.Randomness.String()
	}

	// Шаг 1: зеркало
	completed, err := o.mirror.CompletePool(ctx, pool.ID, completion)
	if err != nil {
		count, _ := o.registry.Increment(pool.ID, actionFinalize)
		logger.Error("Failed to persist pool completion", zap.Error(err), zap.Int("retry", count))
		return err
	}
	if !completed {
		logger.Debug("Pool already finalized")
		return nil
	}
	pool.Status = models.StatusEnded
	pool.Winner = completion.Winner

	// Шаг 2: экономика
	if o.tracker != nil {
		if report, ok := o.tracker.Report(addr); ok {
			if err := o.mirror.SaveEconomics(ctx, pool.ID, economicsRows(report)); err != nil {
				logger.Warn("Failed to persist pool economics", zap.Error(err))
			} else {
				logger.Info("Pool economics recorded",
					zap.Int64("total_lamports", report.TotalLamports),
					zap.String("total_sol", report.TotalSOL))
			}
		}
	}

	// Шаг 3: уведомление о победе
	ev := events.NewPoolEvent(events.PoolWon, pool.ID, pool.Address,
		fmt.Sprintf("Pool #%d won by %s", pool.ID, completion.Winner))
	ev.Winner = completion.Winner
	ev.TotalPot = completion.TotalPot
	o.publish(logger, ev)

	// Шаг 4: награды
	if o.rewards != nil {
		if err := o.rewards.Allocate(ctx, pool, state); err != nil {
			logger.Warn("Reward allocation failed", zap.Error(err))
		}
	}

	// Шаг 5: очистка
	if o.tracker != nil {
		o.tracker.Discard(addr)
	}
	o.registry.ClearPool(pool.ID)

	logger.Info("Pool finalized",
		zap.String("winner", completion.Winner),
		zap.Uint64("total_pot", completion.TotalPot))
	return nil
}

func economicsRows(report economics.PoolReport) []models.PoolEconomics {
	rows := make([]models.PoolEconomics, 0, len(report.Actions))
	for _, a := range report.Actions {
		rows = append(rows, models.PoolEconomics{
			Action:   a.Action,
			Attempts: a.Attempts,
			Failures: a.Failures,
			Lamports: a.Lamports,
		})
	}
	return rows
}
