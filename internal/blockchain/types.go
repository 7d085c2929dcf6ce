// internal/blockchain/types.go
package blockchain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TransactionOptions определяет опции для отправки транзакций.
type TransactionOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
}

// ConfirmOptions задает ожидание подтверждения транзакции.
type ConfirmOptions struct {
	Commitment   rpc.CommitmentType
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultConfirmOptions возвращает опции подтверждения по умолчанию.
func DefaultConfirmOptions() ConfirmOptions {
	return ConfirmOptions{
		Commitment:   rpc.CommitmentConfirmed,
		PollInterval: 500 * time.Millisecond,
		Timeout:      60 * time.Second,
	}
}

// Client определяет общий интерфейс для взаимодействия с блокчейном.
type Client interface {
	// Получить аккаунт. Отсутствующий аккаунт возвращается как nil без ошибки.
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.Account, error)
	// Получить баланс аккаунта в лампортах.
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	// Получить последний blockhash.
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	// Отправить транзакцию.
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// Ожидание подтверждения транзакции.
	WaitForConfirmation(ctx context.Context, signature solana.Signature) error
}
