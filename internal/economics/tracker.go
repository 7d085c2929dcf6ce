// internal/economics/tracker.go
package economics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const lamportDecimals = 9

// BalanceReader читает баланс оператора в лампортах.
type BalanceReader interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
}

// Observer receives the measured cost of every tracked call.
type Observer interface {
	ObserveActionCost(action string, lamports int64)
}

// ActionCost accumulates the fee cost of one action for one pool.
type ActionCost struct {
	Action   string `json:"action"`
	Attempts int    `json:"attempts"`
	Failures int    `json:"failures"`
	// Lamports spent by the operator; negative if the balance grew.
	Lamports int64 `json:"lamports"`
	// Unmeasured counts calls where a balance read failed.
	Unmeasured int `json:"unmeasured"`
}

// PoolReport is the economics of one pool's lifecycle so far.
type PoolReport struct {
	Pool          string       `json:"pool"`
	Actions       []ActionCost `json:"actions"`
	TotalLamports int64        `json:"total_lamports"`
	TotalSOL      string       `json:"total_sol"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type poolCosts struct {
	actions   map[string]*ActionCost
	updatedAt time.Time
}

// measurement is the result of one tracked call, merged into the pool totals
// under the tracker lock.
type measurement struct {
	action   string
	failed   bool
	measured bool
	lamports int64
}

// Tracker attributes operator fee cost to pool actions by diffing the
// operator balance around each mutating call.
type Tracker struct {
	balances BalanceReader
	operator solana.PublicKey
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	pools map[string]*poolCosts
}

// NewTracker создает трекер затрат оператора.
func NewTracker(balances BalanceReader, operator solana.PublicKey, observer Observer, logger *zap.Logger) *Tracker {
	return &Tracker{
		balances: balances,
		operator: operator,
		observer: observer,
		logger:   logger.Named("economics"),
		now:      time.Now,
		pools:    make(map[string]*poolCosts),
	}
}

// Track runs fn and records the operator balance delta as the cost of action
// for pool. The error of fn is returned unchanged.
func (t *Tracker) Track(ctx context.Context, pool solana.PublicKey, action string, fn func(ctx context.Context) error) error {
	m := measurement{action: action}

	before, beforeErr := t.balances.GetBalance(ctx, t.operator)
	if beforeErr != nil {
		t.logger.Debug("Balance read before action failed",
			zap.String("pool", pool.String()),
			zap.String("action", action),
			zap.Error(beforeErr))
	}

	err := fn(ctx)
	m.failed = err != nil

	if beforeErr == nil {
		// ctx may already be cancelled if fn failed on it; the read is still wanted.
		after, afterErr := t.balances.GetBalance(context.WithoutCancel(ctx), t.operator)
		if afterErr != nil {
			t.logger.Debug("Balance read after action failed",
				zap.String("pool", pool.String()),
				zap.String("action", action),
				zap.Error(afterErr))
		} else {
			m.measured = true
			m.lamports = int64(before) - int64(after)
		}
	}

	t.merge(pool.String(), m)
	return err
}

func (t *Tracker) merge(pool string, m measurement) {
	t.mu.Lock()
	pc, ok := t.pools[pool]
	if !ok {
		pc = &poolCosts{actions: make(map[string]*ActionCost)}
		t.pools[pool] = pc
	}
	ac, ok := pc.actions[m.action]
	if !ok {
		ac = &ActionCost{Action: m.action}
		pc.actions[m.action] = ac
	}
	ac.Attempts++
	if m.failed {
		ac.Failures++
	}
	if m.measured {
		ac.Lamports += m.lamports
	} else {
		ac.Unmeasured++
	}
	pc.updatedAt = t.now()
	t.mu.Unlock()

	if m.measured && t.observer != nil {
		t.observer.ObserveActionCost(m.action, m.lamports)
	}
}

// Report возвращает отчет по пулу. ok=false если по пулу ничего не записано.
func (t *Tracker) Report(pool solana.PublicKey) (PoolReport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.pools[pool.String()]
	if !ok {
		return PoolReport{Pool: pool.String(), TotalSOL: "0"}, false
	}
	return buildReport(pool.String(), pc), true
}

// Reports возвращает отчеты по всем отслеживаемым пулам.
func (t *Tracker) Reports() []PoolReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PoolReport, 0, len(t.pools))
	for pool, pc := range t.pools {
		out = append(out, buildReport(pool, pc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pool < out[j].Pool })
	return out
}

// Discard drops the accumulated data of a finished pool.
func (t *Tracker) Discard(pool solana.PublicKey) {
	t.mu.Lock()
	delete(t.pools, pool.String())
	t.mu.Unlock()
}

func buildReport(pool string, pc *poolCosts) PoolReport {
	r := PoolReport{Pool: pool, UpdatedAt: pc.updatedAt}
	for _, ac := range pc.actions {
		r.Actions = append(r.Actions, *ac)
		r.TotalLamports += ac.Lamports
	}
	sort.Slice(r.Actions, func(i, j int) bool { return r.Actions[i].Action < r.Actions[j].Action })
	r.TotalSOL = LamportsToSOL(r.TotalLamports)
	return r
}

// LamportsToSOL renders a lamport amount in SOL.
func LamportsToSOL(lamports int64) string {
	return decimal.New(lamports, -lamportDecimals).String()
}
