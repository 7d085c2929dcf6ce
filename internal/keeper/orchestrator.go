// internal/keeper/orchestrator.go
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

const (
	DefaultTickInterval    = 10 * time.Second
	DefaultMaxConcurrent   = 16
	DefaultShutdownTimeout = 25 * time.Second

	// Метки счетчиков повторов, не являющиеся действиями программы.
	actionFetchState = "fetch-state"
	actionFinalize   = "finalize"
	actionPanic      = "panic"
)

var (
	ErrNotInitialized = errors.New("orchestrator is missing its ledger client or mirror")
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// LedgerClient is the lottery program surface the orchestrator drives.
type LedgerClient interface {
	FetchState(ctx context.Context, pool solana.PublicKey) (*lottery.PoolState, error)
	Unlock(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error)
	RequestRandomness(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error)
	RevealRandomness(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error)
	SelectWinner(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error)
	Payout(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error)
}

// CostTracker decorates mutating calls with fee accounting.
type CostTracker interface {
	Track(ctx context.Context, pool solana.PublicKey, action string, fn func(ctx context.Context) error) error
	Report(pool solana.PublicKey) (economics.PoolReport, bool)
	Discard(pool solana.PublicKey)
}

// RewardAllocator runs downstream reward logic once a pool has ended.
type RewardAllocator interface {
	Allocate(ctx context.Context, pool *models.Pool, state *lottery.PoolState) error
}

// Metrics receives orchestrator measurements.
type Metrics interface {
	Tick()
	ObserveAction(action, outcome string)
	SetProcessing(n int)
}

type nopMetrics struct{}

func (nopMetrics) Tick()                        {}
func (nopMetrics) ObserveAction(string, string) {}
func (nopMetrics) SetProcessing(int)            {}

// Config настраивает оркестратор.
type Config struct {
	TickInterval    time.Duration
	MaxConcurrent   int
	ShutdownTimeout time.Duration
	// ExplorerTxURL is a fmt template with one %s for a transaction signature.
	ExplorerTxURL string
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Deps are the collaborators of the orchestrator. Ledger and Mirror are
// required; the rest fall back to no-ops.
type Deps struct {
	Ledger   LedgerClient
	Mirror   storage.Storage
	Tracker  CostTracker
	Events   events.Publisher
	Rewards  RewardAllocator
	Registry *Registry
	Metrics  Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Status is the operational view of the orchestrator.
type Status struct {
	Running         bool           `json:"running"`
	DisabledReason  string         `json:"disabled_reason,omitempty"`
	Processing      int            `json:"processing"`
	ProcessingPools []uint         `json:"processing_pools"`
	RetryCounters   []RetryCounter `json:"retry_counters"`
	Ticks           uint64         `json:"ticks"`
	LastTick        *time.Time     `json:"last_tick,omitempty"`
}

// DisabledStatus describes an orchestrator that could not be started.
func DisabledStatus(reason string) Status {
	return Status{DisabledReason: reason, ProcessingPools: []uint{}, RetryCounters: []RetryCounter{}}
}

// Orchestrator drives every active pool through its lifecycle, one
// independent task per pool per tick.
type Orchestrator struct {
	ledger   LedgerClient
	mirror   storage.Storage
	tracker  CostTracker
	events   events.Publisher
	rewards  RewardAllocator
	registry *Registry
	metrics  Metrics
	logger   *zap.Logger
	clock    func() time.Time
	cfg      Config

	sem      *semaphore.Weighted
	inflight sync.WaitGroup

	// taskCtx outlives Stop's cancellation of the tick loop; it is cancelled
	// only when the shutdown wait expires.
	taskCtx    context.Context
	taskCancel context.CancelFunc

	runMu    sync.Mutex
	running  bool
	stopLoop context.CancelFunc
	loopDone chan struct{}

	ticks    atomic.Uint64
	lastTick atomic.Int64
}

// New создает оркестратор.
func New(deps Deps, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		ledger:   deps.Ledger,
		mirror:   deps.Mirror,
		tracker:  deps.Tracker,
		events:   deps.Events,
		rewards:  deps.Rewards,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		logger:   logger.Named("orchestrator"),
		clock:    deps.Clock,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	if o.registry == nil {
		o.registry = NewRegistry(DefaultRetryCeiling)
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	o.taskCtx, o.taskCancel = context.WithCancel(context.Background())
	return o
}

// Registry возвращает реестр обработки.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start launches the tick loop. It refuses to run without a ledger client and a mirror.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.ledger == nil || o.mirror == nil {
		return ErrNotInitialized
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.stopLoop = cancel
	o.loopDone = make(chan struct{})

	go o.loop(loopCtx, o.loopDone)

	o.logger.Info("Orchestrator started",
		zap.Duration("tick_interval", o.cfg.TickInterval),
		zap.Int("max_concurrent", o.cfg.MaxConcurrent))
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick lists active pools from the mirror and spawns a task for every pool
// that is not already being processed. It does not wait for the tasks.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.ticks.Add(1)
	o.lastTick.Store(o.clock().Unix())
	o.metrics.Tick()

	pools, err := o.mirror.ListActivePools(ctx)
	if err != nil {
		o.logger.Error("Failed to list active pools", zap.Error(err))
		return
	}

	spawned := 0
	for _, pool := range pools {
		if ctx.Err() != nil {
			return
		}
		if !o.registry.TryAcquire(pool.ID) {
			o.logger.Debug("Pool already processing, skipping", zap.Uint("pool_id", pool.ID))
			continue
		}
		if !o.sem.TryAcquire(1) {
			o.registry.Release(pool.ID)
			o.logger.Debug("Concurrency limit reached, deferring pool", zap.Uint("pool_id", pool.ID))
			continue
		}

		o.inflight.Add(1)
		spawned++
		go o.runTask(pool)
	}

	o.metrics.SetProcessing(o.registry.Count())
	if spawned > 0 {
		o.logger.Debug("Tick dispatched", zap.Int("pools", len(pools)), zap.Int("spawned", spawned))
	}
}

func (o *Orchestrator) runTask(pool *models.Pool) {
	defer o.inflight.Done()
	defer o.sem.Release(1)
	defer func() {
		o.registry.Release(pool.ID)
		o.metrics.SetProcessing(o.registry.Count())
	}()
	defer func() {
		if r := recover(); r != nil {
			count, _ := o.registry.Increment(pool.ID, actionPanic)
			o.logger.Error("Pool task panicked",
				zap.Uint("pool_id", pool.ID),
				zap.String("pool", pool.Address),
				zap.Any("panic", r),
				zap.Int("retry", count))
		}
	}()

	o.processPool(o.taskCtx, pool)
}

// abandonGrace bounds the wait for cancelled tasks after the shutdown timeout.
const abandonGrace = 2 * time.Second

// Stop stops ticking and waits up to the configured timeout for in-flight
// tasks. Tasks still running after that are cancelled and logged.
func (o *Orchestrator) Stop() error {
	return o.StopWithTimeout(o.cfg.ShutdownTimeout)
}

// StopWithTimeout is Stop with an explicit bound.
func (o *Orchestrator) StopWithTimeout(timeout time.Duration) error {
	o.runMu.Lock()
	if !o.running {
		o.runMu.Unlock()
		return nil
	}
	o.running = false
	o.stopLoop()
	done := o.loopDone
	o.runMu.Unlock()

	<-done
	o.logger.Info("Tick loop stopped, waiting for in-flight pool tasks",
		zap.Int("in_flight", o.registry.Count()),
		zap.Duration("timeout", timeout))

	idle := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		o.logger.Info("Orchestrator stopped")
		return nil
	case <-time.After(timeout):
		abandoned := o.registry.Active()
		o.logger.Warn("Shutdown timeout, abandoning in-flight pool tasks",
			zap.Int("abandoned", len(abandoned)),
			zap.Uints("pool_ids", abandoned))
		o.taskCancel()

		// Шаг 2: короткое ожидание, чтобы отмененные задачи отпустили RPC и зеркало
		select {
		case <-idle:
		case <-time.After(abandonGrace):
			o.logger.Error("Pool tasks still running after cancellation",
				zap.Uints("pool_ids", o.registry.Active()))
		}
		return fmt.Errorf("%d pool tasks abandoned", len(abandoned))
	}
}

// Status returns the operational view.
func (o *Orchestrator) Status() Status {
	o.runMu.Lock()
	running := o.running
	o.runMu.Unlock()

	st := Status{
		Running:         running,
		Processing:      o.registry.Count(),
		ProcessingPools: o.registry.Active(),
		RetryCounters:   o.registry.Snapshot(),
		Ticks:           o.ticks.Load(),
	}
	if ts := o.lastTick.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		st.LastTick = &t
	}
	return st
}
