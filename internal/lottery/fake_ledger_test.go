package lottery

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/lottery-keeper/internal/wallet"
)

var testProgramID = solana.MustPublicKeyFromBase58("AzbnMGLfs5MxH7TGhPY3Hjrm7ABPNzFyxC441sr9tjR")

// fakeLedger is an in-memory blockchain.Client that applies lottery
// instructions to stored pool accounts.
type fakeLedger struct {
	t  *testing.T
	mu sync.Mutex

	programID solana.PublicKey
	accounts  map[solana.PublicKey]*rpc.Account
	hidden    map[solana.PublicKey]int // remaining reads that report "not found"

	getCalls map[solana.PublicKey]int
	getErr   error
	sent     []*solana.Transaction
	// sendErrs is consumed per call to SendTransaction, keyed by discriminator.
	sendErrs map[string][]error
	winner   solana.PublicKey
}

func newFakeLedger(t *testing.T) *fakeLedger {
	return &fakeLedger{
		t:         t,
		programID: testProgramID,
		accounts:  make(map[solana.PublicKey]*rpc.Account),
		hidden:    make(map[solana.PublicKey]int),
		getCalls:  make(map[solana.PublicKey]int),
		sendErrs:  make(map[string][]error),
		winner:    solana.NewWallet().PublicKey(),
	}
}

func (f *fakeLedger) putPool(state *PoolState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putPoolLocked(state)
}

func (f *fakeLedger) putPoolLocked(state *PoolState) {
	data, err := EncodePoolState(state)
	require.NoError(f.t, err)
	f.accounts[state.Address] = &rpc.Account{
		Owner:    f.programID,
		Lamports: 1_000_000,
		Data:     rpc.DataBytesOrJSONFromBytes(data),
	}
}

func (f *fakeLedger) pool(addr solana.PublicKey) *PoolState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poolLocked(addr)
}

func (f *fakeLedger) poolLocked(addr solana.PublicKey) *PoolState {
	acc, ok := f.accounts[addr]
	require.True(f.t, ok, "pool %s not stored", addr)
	st, err := DecodePoolState(addr, acc.Data.GetBinary())
	require.NoError(f.t, err)
	return st
}

func (f *fakeLedger) putAccount(addr solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &rpc.Account{Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(make([]byte, 165))}
}

func (f *fakeLedger) failNext(discriminator []byte, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(discriminator)
	f.sendErrs[key] = append(f.sendErrs[key], errs...)
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeLedger) lastSent() *solana.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeLedger) GetAccountInfo(_ context.Context, pubkey solana.PublicKey) (*rpc.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[pubkey]++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if n := f.hidden[pubkey]; n > 0 {
		f.hidden[pubkey] = n - 1
		return nil, nil
	}
	acc, ok := f.accounts[pubkey]
	if !ok {
		return nil, nil
	}
	return acc, nil
}

func (f *fakeLedger) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	return 10_000_000_000, nil
}

func (f *fakeLedger) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{7, 7, 7}, nil
}

func (f *fakeLedger) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, inst := range tx.Message.Instructions {
		if len(inst.Data) < 8 {
			continue
		}
		key := string(inst.Data[:8])
		if errs := f.sendErrs[key]; len(errs) > 0 {
			f.sendErrs[key] = errs[1:]
			return solana.Signature{}, errs[0]
		}
	}

	f.sent = append(f.sent, tx)
	for _, inst := range tx.Message.Instructions {
		f.apply(tx, inst)
	}
	return tx.Signatures[0], nil
}

func (f *fakeLedger) apply(tx *solana.Transaction, inst solana.CompiledInstruction) {
	keys := tx.Message.AccountKeys
	program := keys[inst.ProgramIDIndex]

	if program.Equals(solana.SPLAssociatedTokenAccountProgramID) {
		ata := keys[inst.Accounts[1]]
		f.accounts[ata] = &rpc.Account{Owner: solana.TokenProgramID, Data: rpc.DataBytesOrJSONFromBytes(make([]byte, 165))}
		return
	}
	if !program.Equals(f.programID) {
		return
	}

	pool := keys[inst.Accounts[0]]
	st := f.poolLocked(pool)
	disc := []byte(inst.Data[:8])
	switch {
	case bytes.Equal(disc, UnlockPoolDiscriminator):
		st.Status = StatusUnlocked
	case bytes.Equal(disc, RequestRandomnessDiscriminator):
		r := keys[inst.Accounts[2]]
		st.Randomness = &r
		st.Status = StatusRandomnessCommitted
	case bytes.Equal(disc, RevealRandomnessDiscriminator):
		v := [32]byte{0xab}
		st.RandomValue = &v
		st.Status = StatusRandomnessRevealed
	case bytes.Equal(disc, SelectWinnerDiscriminator):
		w := f.winner
		st.Winner = &w
		st.Status = StatusWinnerSelected
	case bytes.Equal(disc, PayoutWinnerDiscriminator):
		st.Status = StatusEnded
	}
	f.putPoolLocked(st)
}

func (f *fakeLedger) WaitForConfirmation(context.Context, solana.Signature) error {
	return nil
}

var errTransient = errors.New("503 service unavailable")

type testEnv struct {
	ledger   *fakeLedger
	client   *Client
	operator *wallet.Wallet
	treasury solana.PublicKey
}

func newTestEnv(t *testing.T, providers ...RandomnessProvider) *testEnv {
	t.Helper()
	ledger := newFakeLedger(t)
	operator, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	if len(providers) == 0 {
		providers = []RandomnessProvider{NewDeterministicProvider(testProgramID)}
	}
	selector, err := NewProviderSelector(providers[0].Name(), nil, providers...)
	require.NoError(t, err)

	treasury := solana.NewWallet().PublicKey()
	client, err := NewClient(ledger, operator, selector, Config{
		ProgramID:     testProgramID,
		Treasury:      treasury,
		FetchAttempts: 3,
		FetchDelay:    1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	return &testEnv{ledger: ledger, client: client, operator: operator, treasury: treasury}
}

func newPoolState(status PoolStatus) *PoolState {
	return &PoolState{
		Address:          solana.NewWallet().PublicKey(),
		Authority:        solana.NewWallet().PublicKey(),
		Mint:             solana.SolMint,
		EntryAmount:      100_000_000,
		MinParticipants:  2,
		MaxParticipants:  10,
		ParticipantCount: 10,
		LockDuration:     300,
		LockStartTime:    1_700_000_000,
		Status:           status,
		TotalPot:         1_000_000_000,
		Bump:             254,
	}
}
