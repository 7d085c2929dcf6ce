// =============================
// File: internal/lottery/client.go
// =============================
package lottery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain"
	"github.com/rovshanmuradov/lottery-keeper/internal/wallet"
)

const (
	DefaultFetchAttempts = 5
	DefaultFetchDelay    = 2 * time.Second
)

// ErrNotReady is returned when a pool has not reached the status an action starts from.
var ErrNotReady = errors.New("pool not ready for action")

// Config настраивает клиент программы лотереи.
type Config struct {
	ProgramID     solana.PublicKey
	Treasury      solana.PublicKey
	FetchAttempts int
	FetchDelay    time.Duration
}

// ActionResult describes the outcome of one lifecycle action.
type ActionResult struct {
	Action    Action
	Signature solana.Signature
	// Skipped is set when the pool was already at or past the action's target.
	Skipped bool
	// Status is the ledger status observed by the precondition guard.
	Status PoolStatus
}

// Client builds and submits lifecycle instructions for pools of one program.
type Client struct {
	rpc        blockchain.Client
	operator   *wallet.Wallet
	cfg        Config
	randomness *ProviderSelector
	resolver   *AccountResolver
	logger     *zap.Logger
}

// NewClient создает клиент программы лотереи.
func NewClient(rpc blockchain.Client, operator *wallet.Wallet, randomness *ProviderSelector, cfg Config, logger *zap.Logger) (*Client, error) {
	if rpc == nil {
		return nil, errors.New("ledger rpc client is required")
	}
	if operator == nil {
		return nil, wallet.ErrNoCredentials
	}
	if randomness == nil {
		return nil, errors.New("randomness provider selector is required")
	}
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("program id is required")
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = DefaultFetchAttempts
	}
	if cfg.FetchDelay <= 0 {
		cfg.FetchDelay = DefaultFetchDelay
	}

	c := &Client{
		rpc:        rpc,
		operator:   operator,
		cfg:        cfg,
		randomness: randomness,
		logger:     logger.Named("lottery-client"),
	}
	c.resolver = newAccountResolver(c, operator, c.logger)
	return c, nil
}

// Operator возвращает публичный ключ оператора.
func (c *Client) Operator() solana.PublicKey {
	return c.operator.PublicKey
}

// FetchState reads and decodes the pool account. A freshly created account may
// not be visible or decodable yet; those cases are retried a bounded number of
// times with a fixed delay. Other errors are returned immediately.
func (c *Client) FetchState(ctx context.Context, pool solana.PublicKey) (*PoolState, error) {
	operation := func() (*PoolState, error) {
		state, err := c.fetchOnce(ctx, pool)
		if err == nil {
			return state, nil
		}
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInvalidAccount) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		c.logger.Debug("Pool account not ready, retrying",
			zap.String("pool", pool.String()),
			zap.Duration("delay", next),
			zap.Error(err))
	}

	state, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.FetchDelay)),
		backoff.WithMaxTries(uint(c.cfg.FetchAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return nil, fmt.Errorf("fetch pool %s: %w", pool, err)
	}
	return state, nil
}

func (c *Client) fetchOnce(ctx context.Context, pool solana.PublicKey) (*PoolState, error) {
	account, err := c.rpc.GetAccountInfo(ctx, pool)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Data == nil {
		return nil, ErrAccountNotFound
	}
	if !account.Owner.Equals(c.cfg.ProgramID) {
		return nil, fmt.Errorf("%w: owner %s", ErrInvalidAccount, account.Owner)
	}
	return DecodePoolState(pool, account.Data.GetBinary())
}

// guard re-reads the pool and decides whether action must be submitted.
// A non-nil result means the action was skipped.
func (c *Client) guard(ctx context.Context, pool solana.PublicKey, action Action) (*PoolState, *ActionResult, error) {
	state, err := c.FetchState(ctx, pool)
	if err != nil {
		return nil, nil, err
	}

	if state.Status.AtOrPast(action.Target()) {
		c.logger.Info("Pool already advanced, skipping action",
			zap.String("pool", pool.String()),
			zap.String("action", action.String()),
			zap.String("status", state.Status.String()))
		return state, &ActionResult{Action: action, Skipped: true, Status: state.Status}, nil
	}
	if state.Status != action.Source() {
		return state, nil, fmt.Errorf("%w: %s requires %s, pool %s is %s",
			ErrNotReady, action, action.Source(), pool, state.Status)
	}
	return state, nil, nil
}

// Unlock submits unlock_pool.
func (c *Client) Unlock(ctx context.Context, pool solana.PublicKey) (*ActionResult, error) {
	state, skipped, err := c.guard(ctx, pool, ActionUnlock)
	if err != nil || skipped != nil {
		return skipped, err
	}

	participants, err := DeriveParticipantsAddress(c.cfg.ProgramID, pool)
	if err != nil {
		return nil, err
	}
	ix := BuildUnlockInstruction(c.cfg.ProgramID, pool, c.operator.PublicKey, participants)
	return c.execute(ctx, ActionUnlock, state, []solana.Instruction{ix})
}

// RequestRandomness commits a randomness handle and binds it to the pool.
func (c *Client) RequestRandomness(ctx context.Context, pool solana.PublicKey) (*ActionResult, error) {
	state, skipped, err := c.guard(ctx, pool, ActionRequestRandomness)
	if err != nil || skipped != nil {
		return skipped, err
	}

	provider := c.randomness.For(pool)
	commitment, err := provider.Commit(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%s commit: %w", provider.Name(), err)
	}

	ixs := append([]solana.Instruction{}, commitment.Instructions...)
	ixs = append(ixs, BuildRequestRandomnessInstruction(c.cfg.ProgramID, pool, c.operator.PublicKey, commitment.Account))
	return c.execute(ctx, ActionRequestRandomness, state, ixs, commitment.Signers...)
}

// RevealRandomness reveals the committed value into the pool.
func (c *Client) RevealRandomness(ctx context.Context, pool solana.PublicKey) (*ActionResult, error) {
	state, skipped, err := c.guard(ctx, pool, ActionRevealRandomness)
	if err != nil || skipped != nil {
		return skipped, err
	}
	if state.Randomness == nil {
		return nil, fmt.Errorf("pool %s has no randomness account", pool)
	}

	provider := c.randomness.For(pool)
	pre, err := provider.Reveal(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%s reveal: %w", provider.Name(), err)
	}

	ixs := append([]solana.Instruction{}, pre...)
	ixs = append(ixs, BuildRevealRandomnessInstruction(c.cfg.ProgramID, pool, c.operator.PublicKey, *state.Randomness))
	return c.execute(ctx, ActionRevealRandomness, state, ixs)
}

// SelectWinner submits select_winner.
func (c *Client) SelectWinner(ctx context.Context, pool solana.PublicKey) (*ActionResult, error) {
	state, skipped, err := c.guard(ctx, pool, ActionSelectWinner)
	if err != nil || skipped != nil {
		return skipped, err
	}
	if state.Randomness == nil {
		return nil, fmt.Errorf("pool %s has no randomness account", pool)
	}

	participants, err := DeriveParticipantsAddress(c.cfg.ProgramID, pool)
	if err != nil {
		return nil, err
	}
	ix := BuildSelectWinnerInstruction(c.cfg.ProgramID, pool, c.operator.PublicKey, participants, *state.Randomness)
	return c.execute(ctx, ActionSelectWinner, state, []solana.Instruction{ix})
}

// Payout resolves winner, operator and treasury token accounts (creating
// missing ones) and submits payout_winner.
func (c *Client) Payout(ctx context.Context, pool solana.PublicKey) (*ActionResult, error) {
	state, skipped, err := c.guard(ctx, pool, ActionPayout)
	if err != nil || skipped != nil {
		return skipped, err
	}
	if state.Winner == nil {
		return nil, fmt.Errorf("pool %s has no winner", pool)
	}
	if c.cfg.Treasury.IsZero() {
		return nil, errors.New("treasury address is not configured")
	}

	accounts, err := c.resolvePayoutAccounts(ctx, state)
	if err != nil {
		return nil, err
	}
	ix := BuildPayoutInstruction(c.cfg.ProgramID, pool, c.operator.PublicKey, *accounts)
	return c.execute(ctx, ActionPayout, state, []solana.Instruction{ix})
}

func (c *Client) resolvePayoutAccounts(ctx context.Context, state *PoolState) (*PayoutAccounts, error) {
	vault, err := DeriveVaultAddress(state.Address, state.Mint)
	if err != nil {
		return nil, err
	}
	winnerToken, err := c.resolver.Ensure(ctx, *state.Winner, state.Mint)
	if err != nil {
		return nil, err
	}
	operatorToken, err := c.resolver.Ensure(ctx, c.operator.PublicKey, state.Mint)
	if err != nil {
		return nil, err
	}
	treasuryToken, err := c.resolver.Ensure(ctx, c.cfg.Treasury, state.Mint)
	if err != nil {
		return nil, err
	}
	return &PayoutAccounts{
		Mint:          state.Mint,
		Vault:         vault,
		Winner:        *state.Winner,
		WinnerToken:   winnerToken,
		OperatorToken: operatorToken,
		TreasuryToken: treasuryToken,
	}, nil
}

func (c *Client) execute(ctx context.Context, action Action, state *PoolState, ixs []solana.Instruction, signers ...solana.PrivateKey) (*ActionResult, error) {
	sig, err := c.submit(ctx, action.String(), ixs, signers...)
	if err != nil {
		return nil, fmt.Errorf("%s pool %s: %w", action, state.Address, err)
	}
	return &ActionResult{Action: action, Signature: sig, Status: state.Status}, nil
}

// submit подписывает, отправляет и дожидается подтверждения транзакции.
func (c *Client) submit(ctx context.Context, label string, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error) {
	blockhash, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(c.operator.PublicKey))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := c.operator.SignTransaction(tx, signers...); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.Debug("Transaction sent", zap.String("label", label), zap.String("signature", sig.String()))

	if err := c.rpc.WaitForConfirmation(ctx, sig); err != nil {
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}

	c.logger.Info("Transaction confirmed", zap.String("label", label), zap.String("signature", sig.String()))
	return sig, nil
}

func (c *Client) accountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	account, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return false, err
	}
	return account != nil, nil
}
