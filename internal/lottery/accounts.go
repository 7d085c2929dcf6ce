// =============================
// File: internal/lottery/accounts.go
// =============================
package lottery

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/lottery-keeper/internal/wallet"
)

// DeriveParticipantsAddress вычисляет PDA реестра участников пула.
func DeriveParticipantsAddress(programID, pool solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(ParticipantsSeed), pool.Bytes()},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive participants registry: %w", err)
	}
	return addr, nil
}

// DeriveMockRandomnessAddress вычисляет PDA детерминированного источника случайности.
func DeriveMockRandomnessAddress(programID, pool solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(MockRandomnessSeed), pool.Bytes()},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive mock randomness account: %w", err)
	}
	return addr, nil
}

// DeriveVaultAddress возвращает токен-хранилище пула (ATA пула для mint).
func DeriveVaultAddress(pool, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(pool, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive pool vault: %w", err)
	}
	return addr, nil
}

const knownAccountsCacheSize = 4096

// AccountResolver resolves payout token accounts and creates missing ones.
// Creation is its own transaction so a retried payout never repeats it.
type AccountResolver struct {
	submitter submitter
	operator  *wallet.Wallet
	logger    *zap.Logger

	known *lru.Cache[solana.PublicKey, struct{}]

	mu       sync.Mutex
	inflight map[solana.PublicKey]*sync.Mutex
}

// submitter is the part of Client the resolver needs.
type submitter interface {
	accountExists(ctx context.Context, addr solana.PublicKey) (bool, error)
	submit(ctx context.Context, label string, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error)
}

func newAccountResolver(s submitter, operator *wallet.Wallet, logger *zap.Logger) *AccountResolver {
	known, _ := lru.New[solana.PublicKey, struct{}](knownAccountsCacheSize)
	return &AccountResolver{
		submitter: s,
		operator:  operator,
		logger:    logger.Named("account-resolver"),
		known:     known,
		inflight:  make(map[solana.PublicKey]*sync.Mutex),
	}
}

func (r *AccountResolver) lockFor(ata solana.PublicKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.inflight[ata]
	if !ok {
		l = &sync.Mutex{}
		r.inflight[ata] = l
	}
	return l
}

// Ensure returns the associated token account of owner for mint, creating it
// when it does not exist yet.
func (r *AccountResolver) Ensure(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	// Шаг 1: Вычисление адреса ATA
	ata, err := r.operator.GetATA(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account for %s: %w", owner, err)
	}
	if r.known.Contains(ata) {
		return ata, nil
	}

	// Шаг 2: Один создатель на адрес
	l := r.lockFor(ata)
	l.Lock()
	defer l.Unlock()
	if r.known.Contains(ata) {
		return ata, nil
	}

	// Шаг 3: Проверка существования в блокчейне
	exists, err := r.submitter.accountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to check token account %s: %w", ata, err)
	}
	if exists {
		r.known.Add(ata, struct{}{})
		return ata, nil
	}

	// Шаг 4: Создание (idempotent)
	ix := wallet.CreateAssociatedTokenAccountIdempotentInstruction(r.operator.PublicKey, owner, mint, ata)
	sig, err := r.submitter.submit(ctx, "create-token-account", []solana.Instruction{ix})
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create token account %s: %w", ata, err)
	}

	r.logger.Info("Created token account",
		zap.String("owner", owner.String()),
		zap.String("ata", ata.String()),
		zap.String("signature", sig.String()))
	r.known.Add(ata, struct{}{})
	return ata, nil
}
