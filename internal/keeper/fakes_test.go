package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/lottery-keeper/internal/economics"
	"github.com/rovshanmuradov/lottery-keeper/internal/events"
	"github.com/rovshanmuradov/lottery-keeper/internal/lottery"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/gormstore"
	"github.com/rovshanmuradov/lottery-keeper/internal/storage/models"
)

var errTransient = errors.New("all 2 RPC endpoints failed: 503 service unavailable")

// scriptedLedger is an in-memory lottery program: each action advances the
// stored pool by one status, honouring the same guard as the real client.
type scriptedLedger struct {
	mu        sync.Mutex
	states    map[solana.PublicKey]*lottery.PoolState
	calls     map[lottery.Action]int
	fails     map[lottery.Action][]error
	gates     map[lottery.Action]chan struct{}
	panics    map[solana.PublicKey]bool
	fetchErrs map[solana.PublicKey]error
	winner    solana.PublicKey
	fee       uint64
	spent     uint64
}

func newScriptedLedger() *scriptedLedger {
	return &scriptedLedger{
		states:    make(map[solana.PublicKey]*lottery.PoolState),
		calls:     make(map[lottery.Action]int),
		fails:     make(map[lottery.Action][]error),
		gates:     make(map[lottery.Action]chan struct{}),
		panics:    make(map[solana.PublicKey]bool),
		fetchErrs: make(map[solana.PublicKey]error),
		winner:    solana.NewWallet().PublicKey(),
		fee:       5_000,
	}
}

func (l *scriptedLedger) put(state *lottery.PoolState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *state
	l.states[state.Address] = &cp
}

func (l *scriptedLedger) status(addr solana.PublicKey) lottery.PoolStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[addr].Status
}

func (l *scriptedLedger) callCount(a lottery.Action) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[a]
}

func (l *scriptedLedger) failNext(a lottery.Action, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails[a] = append(l.fails[a], errs...)
}

// gate makes action block until the returned channel is closed.
func (l *scriptedLedger) gate(a lottery.Action) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	l.gates[a] = ch
	return ch
}

func (l *scriptedLedger) FetchState(_ context.Context, pool solana.PublicKey) (*lottery.PoolState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panics[pool] {
		panic("corrupted pool account")
	}
	if err := l.fetchErrs[pool]; err != nil {
		return nil, err
	}
	st, ok := l.states[pool]
	if !ok {
		return nil, lottery.ErrAccountNotFound
	}
	cp := *st
	return &cp, nil
}

// GetBalance lets the scripted ledger back the economics tracker.
func (l *scriptedLedger) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return 10_000_000_000 - l.spent, nil
}

func (l *scriptedLedger) act(ctx context.Context, a lottery.Action, pool solana.PublicKey) (*lottery.ActionResult, error) {
	l.mu.Lock()
	l.calls[a]++
	gate := l.gates[a]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[pool]
	if !ok {
		return nil, lottery.ErrAccountNotFound
	}
	if st.Status.AtOrPast(a.Target()) {
		return &lottery.ActionResult{Action: a, Skipped: true, Status: st.Status}, nil
	}
	if st.Status != a.Source() {
		return nil, lottery.ErrNotReady
	}
	if errs := l.fails[a]; len(errs) > 0 {
		l.fails[a] = errs[1:]
		return nil, errs[0]
	}

	prev := st.Status
	st.Status = a.Target()
	switch a {
	case lottery.ActionRequestRandomness:
		r := solana.NewWallet().PublicKey()
		st.Randomness = &r
	case lottery.ActionRevealRandomness:
		v := [32]byte{1}
		st.RandomValue = &v
	case lottery.ActionSelectWinner:
		w := l.winner
		st.Winner = &w
	}
	l.spent += l.fee
	return &lottery.ActionResult{Action: a, Signature: solana.Signature{1, 2, 3}, Status: prev}, nil
}

func (l *scriptedLedger) Unlock(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error) {
	return l.act(ctx, lottery.ActionUnlock, pool)
}

func (l *scriptedLedger) RequestRandomness(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error) {
	return l.act(ctx, lottery.ActionRequestRandomness, pool)
}

func (l *scriptedLedger) RevealRandomness(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error) {
	return l.act(ctx, lottery.ActionRevealRandomness, pool)
}

func (l *scriptedLedger) SelectWinner(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error) {
	return l.act(ctx, lottery.ActionSelectWinner, pool)
}

func (l *scriptedLedger) Payout(ctx context.Context, pool solana.PublicKey) (*lottery.ActionResult, error) {
	return l.act(ctx, lottery.ActionPayout, pool)
}

// eventRecorder implements events.Publisher.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.PoolEvent
}

func (r *eventRecorder) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.(events.PoolEvent))
	return nil
}

func (r *eventRecorder) count(typ events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == typ {
			n++
		}
	}
	return n
}

// flakyMirror fails CompletePool a configured number of times.
type flakyMirror struct {
	storage.Storage
	mu            sync.Mutex
	completeFails int
}

func (m *flakyMirror) CompletePool(ctx context.Context, id uint, c storage.PoolCompletion) (bool, error) {
	m.mu.Lock()
	if m.completeFails > 0 {
		m.completeFails--
		m.mu.Unlock()
		return false, errors.New("database is locked")
	}
	m.mu.Unlock()
	return m.Storage.CompletePool(ctx, id, c)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	t        *testing.T
	ledger   *scriptedLedger
	store    *gormstore.Store
	mirror   storage.Storage
	events   *eventRecorder
	tracker  *economics.Tracker
	clock    *fakeClock
	orch     *Orchestrator
	operator solana.PublicKey
	treasury solana.PublicKey
}

func newHarness(t *testing.T, wrap func(storage.Storage) storage.Storage) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := gormstore.Open(gormstore.DriverSQLite, gormstore.InMemorySQLiteDSN, logger)
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	t.Cleanup(func() { _ = store.Close() })

	var mirror storage.Storage = store
	if wrap != nil {
		mirror = wrap(store)
	}

	h := &harness{
		t:        t,
		ledger:   newScriptedLedger(),
		store:    store,
		mirror:   mirror,
		events:   &eventRecorder{},
		clock:    &fakeClock{now: time.Unix(1_700_000_000, 0)},
		operator: solana.NewWallet().PublicKey(),
		treasury: solana.NewWallet().PublicKey(),
	}
	h.tracker = economics.NewTracker(h.ledger, h.operator, nil, logger)

	h.orch = New(Deps{
		Ledger:   h.ledger,
		Mirror:   mirror,
		Tracker:  h.tracker,
		Events:   h.events,
		Rewards:  NewPotShareAllocator(mirror, lottery.DefaultFeeSchedule, h.operator, h.treasury, solana.PublicKey{}, logger),
		Registry: NewRegistry(5),
		Logger:   logger,
		Clock:    h.clock.Now,
	}, Config{
		TickInterval:    time.Hour,
		ShutdownTimeout: time.Second,
		ExplorerTxURL:   "https://explorer.solana.com/tx/%s?cluster=devnet",
	})
	return h
}

// addPool stores the pool on the ledger and mirrors it with mirrorStatus.
func (h *harness) addPool(status lottery.PoolStatus, mirrorStatus string) (*models.Pool, *lottery.PoolState) {
	h.t.Helper()
	state := &lottery.PoolState{
		Address:          solana.NewWallet().PublicKey(),
		Authority:        solana.NewWallet().PublicKey(),
		Mint:             solana.SolMint,
		EntryAmount:      100_000_000,
		MinParticipants:  2,
		MaxParticipants:  10,
		ParticipantCount: 10,
		LockDuration:     300,
		LockStartTime:    h.clock.Now().Unix(),
		Status:           status,
		StatusTag:        uint8(status),
		TotalPot:         1_000_000_000,
	}
	h.ledger.put(state)

	pool := &models.Pool{
		Address:       state.Address.String(),
		Mint:          state.Mint.String(),
		EntryAmount:   state.EntryAmount,
		LockDuration:  state.LockDuration,
		LockStartTime: state.LockStartTime,
		Status:        mirrorStatus,
	}
	require.NoError(h.t, h.store.CreatePool(context.Background(), pool))
	return pool, state
}

// tick runs one tick and waits for every spawned task.
func (h *harness) tick() {
	h.orch.Tick(context.Background())
	h.orch.inflight.Wait()
}

func (h *harness) mirrored(id uint) *models.Pool {
	h.t.Helper()
	p, err := h.store.GetPool(context.Background(), id)
	require.NoError(h.t, err)
	return p
}
