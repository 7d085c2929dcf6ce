// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain"
	"github.com/rovshanmuradov/lottery-keeper/internal/blockchain/solbc/rpc"
	"go.uber.org/zap"
)

// Определение ошибок
var (
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")
	ErrTransactionFailed   = errors.New("transaction failed on-chain")
)

// Client – адаптер solana-go, все вызовы которого идут через rpc.Manager.
type Client struct {
	manager *rpc.Manager
	opts    blockchain.TransactionOptions
	confirm blockchain.ConfirmOptions
	logger  *zap.Logger
}

// NewClient создаёт новый клиент поверх менеджера RPC узлов.
func NewClient(manager *rpc.Manager, confirm blockchain.ConfirmOptions, logger *zap.Logger) *Client {
	d := blockchain.DefaultConfirmOptions()
	if confirm.Commitment == "" {
		confirm.Commitment = d.Commitment
	}
	if confirm.PollInterval <= 0 {
		confirm.PollInterval = d.PollInterval
	}
	if confirm.Timeout <= 0 {
		confirm.Timeout = d.Timeout
	}
	return &Client{
		manager: manager,
		opts: blockchain.TransactionOptions{
			SkipPreflight:       false,
			PreflightCommitment: confirm.Commitment,
		},
		confirm: confirm,
		logger:  logger.Named("solbc-client"),
	}
}

// GetAccountInfo получает аккаунт. Если аккаунт не существует, возвращает (nil, nil):
// "not found" не должен вызывать failover на другие узлы.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*solanarpc.Account, error) {
	var account *solanarpc.Account
	err := c.manager.ExecuteWithFailover(ctx, "getAccountInfo", func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetAccountInfoWithOpts(ctx, pubkey, &solanarpc.GetAccountInfoOpts{
			Commitment: c.confirm.Commitment,
			Encoding:   solana.EncodingBase64,
		})
		if errors.Is(err, solanarpc.ErrNotFound) {
			account = nil
			return nil
		}
		if err != nil {
			return err
		}
		account = res.Value
		return nil
	})
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	return account, nil
}

// GetBalance получает баланс аккаунта.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.manager.ExecuteWithFailover(ctx, "getBalance", func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetBalance(ctx, pubkey, c.confirm.Commitment)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	if err != nil {
		c.logger.Error("GetBalance error", zap.String("pubkey", pubkey.String()), zap.Error(err))
		return 0, err
	}
	return balance, nil
}

// GetLatestBlockhash получает последний blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.manager.ExecuteWithFailover(ctx, "getLatestBlockhash", func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		hash = res.Value.Blockhash
		return nil
	})
	if err != nil {
		c.logger.Error("GetLatestBlockhash error", zap.Error(err))
		return solana.Hash{}, err
	}
	return hash, nil
}

// SendTransaction отправляет подписанную транзакцию.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.manager.ExecuteWithFailover(ctx, "sendTransaction", func(ctx context.Context, client *solanarpc.Client) error {
		s, err := client.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       c.opts.SkipPreflight,
			PreflightCommitment: c.opts.PreflightCommitment,
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	if err != nil {
		if pe := AnalyzeSendError(err); pe != nil {
			c.logger.Warn("Program rejected transaction",
				zap.Int("code", pe.Code),
				zap.String("name", pe.Name),
				zap.String("message", pe.Msg))
		}
		c.logger.Error("SendTransaction error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetSignatureStatus получает статус одной транзакции; nil если узел ее еще не видел.
func (c *Client) GetSignatureStatus(ctx context.Context, signature solana.Signature) (*solanarpc.SignatureStatusesResult, error) {
	var status *solanarpc.SignatureStatusesResult
	err := c.manager.ExecuteWithFailover(ctx, "getSignatureStatuses", func(ctx context.Context, client *solanarpc.Client) error {
		res, err := client.GetSignatureStatuses(ctx, false, signature)
		if err != nil {
			return err
		}
		status = nil
		if res != nil && len(res.Value) > 0 {
			status = res.Value[0]
		}
		return nil
	})
	return status, err
}

// WaitForConfirmation ожидает подтверждения транзакции (polling).
func (c *Client) WaitForConfirmation(ctx context.Context, signature solana.Signature) error {
	ticker := time.NewTicker(c.confirm.PollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(c.confirm.Timeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
		case <-ticker.C:
			status, err := c.GetSignatureStatus(ctx, signature)
			if err != nil {
				c.logger.Warn("Error getting signature status", zap.Error(err))
				continue
			}
			if status == nil {
				continue
			}
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, signature, status.Err)
			}
			if confirmationReached(status.ConfirmationStatus, c.confirm.Commitment) {
				return nil
			}
		}
	}
}

func confirmationReached(got solanarpc.ConfirmationStatusType, want solanarpc.CommitmentType) bool {
	switch got {
	case solanarpc.ConfirmationStatusFinalized:
		return true
	case solanarpc.ConfirmationStatusConfirmed:
		return want != solanarpc.CommitmentFinalized
	case solanarpc.ConfirmationStatusProcessed:
		return want == solanarpc.CommitmentProcessed
	}
	return false
}

// Гарантируем, что Client реализует интерфейс blockchain.Client.
var _ blockchain.Client = (*Client)(nil)
