// internal/app/runner.go
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/api"
	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain"
	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/lottery-keeper/internal/config"
	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/keeper"
	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/metrics"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/gormstore"
	"github.com/rovshanmuradov/lottery-keeper/internal/wallet"
)

// Runner wires the keeper together and owns its lifecycle.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	shutdown *ShutdownHandler

	collector *metrics.Collector
	store     *gormstore.Store
	bus       *events.Bus
	manager   *rpc.Manager
	tracker   *economics.Tracker
	orch      *keeper.Orchestrator

	mu     sync.Mutex
	server *api.Server
	logs   api.LogSource

	disabledReason string
}

// Option настраивает Runner.
type Option func(*Runner)

// WithRecentLogs exposes recent warnings and errors on the status API.
func WithRecentLogs(src api.LogSource) Option {
	return func(r *Runner) { r.logs = src }
}

// NewRunner принимает конфигурацию и логгер.
func NewRunner(cfg *config.Config, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		shutdown:  NewShutdownHandler(logger, cfg.Keeper.ShutdownTimeout+5*time.Second),
		collector: metrics.NewCollector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts everything, blocks until a signal or ctx cancellation, then
// shuts down gracefully.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		_ = r.Shutdown()
		return err
	}
	r.shutdown.WaitForSignal(ctx)
	return r.Shutdown()
}

// Start builds the components. A keeper that cannot be configured leaves the
// status API running with a disabled orchestrator.
func (r *Runner) Start(ctx context.Context) error {
	// Шаг 1: зеркало
	store, err := gormstore.Open(r.cfg.Database.Driver, r.cfg.Database.DSN, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open mirror: %w", err)
	}
	r.store = store
	r.shutdown.AddFunc("mirror", store.Close)
	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to migrate mirror: %w", err)
	}

	// Шаг 2: шина событий
	r.bus = events.NewBus(r.logger, events.DefaultBufferSize)
	r.shutdown.AddFunc("event-bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.bus.Shutdown(ctx)
	})
	if r.cfg.WebhookURL != "" {
		notifier := events.NewWebhookNotifier(r.cfg.WebhookURL, r.cfg.WebhookTimeout, r.logger)
		notifier.Attach(r.bus)
		r.shutdown.AddFunc("webhook", func() error {
			notifier.Detach()
			return nil
		})
	}

	// Шаг 3: оркестратор
	if err := r.startKeeper(ctx); err != nil {
		r.disabledReason = err.Error()
		r.logger.Error("Lifecycle automation disabled, serving status only", zap.Error(err))
	}

	// Шаг 4: API статуса
	sources := api.Sources{
		Status:  api.StaticStatus(keeper.DisabledStatus(r.disabledReason)),
		Events:  r.bus,
		Pools:   store,
		Logs:    r.logs,
		Metrics: r.collector.Handler(),
	}
	if r.orch != nil {
		sources.Status = r.orch
		sources.Endpoints = r.manager
		sources.Economics = r.tracker
	}
	server := api.NewServer(r.cfg.APIAddr, sources, r.logger)
	if err := server.Start(); err != nil {
		return err
	}
	r.mu.Lock()
	r.server = server
	r.mu.Unlock()
	r.shutdown.AddFunc("status-api", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Stop(ctx)
	})

	if r.orch != nil {
		if err := r.orch.Start(ctx); err != nil {
			return fmt.Errorf("failed to start orchestrator: %w", err)
		}
		r.shutdown.AddFunc("orchestrator", r.orch.Stop)
	}
	return nil
}

// startKeeper builds the ledger side. Any error here disables the orchestrator.
func (r *Runner) startKeeper(ctx context.Context) error {
	cfg := r.cfg
	if err := cfg.LedgerReady(); err != nil {
		return err
	}

	operator, err := wallet.Load(cfg.OperatorPrivateKey, cfg.OperatorKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load operator key: %w", err)
	}
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("invalid program_id: %w", err)
	}
	treasury, err := solana.PublicKeyFromBase58(cfg.Treasury)
	if err != nil {
		return fmt.Errorf("invalid treasury: %w", err)
	}
	var rewardPool solana.PublicKey
	if cfg.RewardPool != "" {
		if rewardPool, err = solana.PublicKeyFromBase58(cfg.RewardPool); err != nil {
			return fmt.Errorf("invalid reward_pool: %w", err)
		}
	}

	selector, err := r.randomness(programID, operator.PublicKey)
	if err != nil {
		return err
	}

	manager, err := rpc.NewManager(cfg.RPCList, rpc.Config{
		MaxRetries:          cfg.RPC.MaxRetries,
		BaseDelay:           cfg.RPC.BaseDelay,
		MaxDelay:            cfg.RPC.MaxDelay,
		Multiplier:          cfg.RPC.Multiplier,
		FailureThreshold:    cfg.RPC.FailureThreshold,
		Cooldown:            cfg.RPC.Cooldown,
		HealthCheckInterval: cfg.RPC.HealthCheckInterval,
	}, r.logger, rpc.WithObserver(r.collector))
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	r.manager = manager
	r.shutdown.AddFunc("rpc-manager", manager.Close)

	confirm := blockchain.DefaultConfirmOptions()
	confirm.Timeout = cfg.RPC.ConfirmTimeout
	client := solbc.NewClient(manager, confirm, r.logger)

	ledger, err := lottery.NewClient(client, operator, selector, lottery.Config{
		ProgramID:     programID,
		Treasury:      treasury,
		FetchAttempts: cfg.Keeper.FetchAttempts,
		FetchDelay:    cfg.Keeper.FetchDelay,
	}, r.logger)
	if err != nil {
		return err
	}

	r.tracker = economics.NewTracker(client, operator.PublicKey, r.collector, r.logger)
	schedule := lottery.FeeSchedule{
		TreasuryBps:   cfg.Fees.TreasuryBps,
		OperatorBps:   cfg.Fees.OperatorBps,
		RewardPoolBps: cfg.Fees.RewardPoolBps,
	}

	r.orch = keeper.New(keeper.Deps{
		Ledger:   ledger,
		Mirror:   r.store,
		Tracker:  r.tracker,
		Events:   r.bus,
		Rewards:  keeper.NewPotShareAllocator(r.store, schedule, operator.PublicKey, treasury, rewardPool, r.logger),
		Registry: keeper.NewRegistry(cfg.Keeper.RetryCeiling),
		Metrics:  r.collector,
		Logger:   r.logger,
	}, keeper.Config{
		TickInterval:    cfg.Keeper.TickInterval,
		MaxConcurrent:   cfg.Keeper.MaxConcurrent,
		ShutdownTimeout: cfg.Keeper.ShutdownTimeout,
		ExplorerTxURL:   cfg.ExplorerTxURL,
	})

	r.logger.Info("Keeper configured",
		zap.String("operator", operator.PublicKey.String()),
		zap.String("program_id", programID.String()),
		zap.Int("rpc_endpoints", len(cfg.RPCList)))
	return nil
}

func (r *Runner) randomness(programID, operator solana.PublicKey) (*lottery.ProviderSelector, error) {
	rc := r.cfg.Randomness
	providers := []lottery.RandomnessProvider{lottery.NewDeterministicProvider(programID)}

	if rc.Queue != "" && rc.GatewayURL != "" {
		queue, err := solana.PublicKeyFromBase58(rc.Queue)
		if err != nil {
			return nil, fmt.Errorf("invalid randomness.queue: %w", err)
		}
		oracle := lottery.DefaultRandomnessProgramID
		if rc.ProgramID != "" {
			if oracle, err = solana.PublicKeyFromBase58(rc.ProgramID); err != nil {
				return nil, fmt.Errorf("invalid randomness.program_id: %w", err)
			}
		}
		providers = append(providers, lottery.NewLedgerProvider(lottery.LedgerProviderConfig{
			ProgramID:  oracle,
			Queue:      queue,
			GatewayURL: rc.GatewayURL,
		}, operator, r.logger))
	}
	return lottery.NewProviderSelector(rc.Mode, rc.Overrides, providers...)
}

// Status returns the orchestrator view, or a disabled status in degraded mode.
func (r *Runner) Status() keeper.Status {
	if r.orch == nil {
		return keeper.DisabledStatus(r.disabledReason)
	}
	return r.orch.Status()
}

// APIAddr returns the bound status API address.
func (r *Runner) APIAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		return r.cfg.APIAddr
	}
	return r.server.Addr()
}

// Shutdown stops every started component in reverse start order.
func (r *Runner) Shutdown() error {
	r.logger.Info("Keeper shutting down gracefully")
	return r.shutdown.Shutdown()
}
