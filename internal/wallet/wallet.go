// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"
)

const ataCacheSize = 1024

// ErrNoCredentials возвращается, когда не задан ни ключ, ни путь к файлу ключа.
var ErrNoCredentials = errors.New("operator credentials not configured")

// Wallet представляет кошелёк оператора.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
	ataCache   *lru.Cache[string, solana.PublicKey] // Кеш для ассоциированных адресов токен-аккаунтов (ATA)
}

func newWallet(privateKey solana.PrivateKey) *Wallet {
	cache, _ := lru.New[string, solana.PublicKey](ataCacheSize)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
		ataCache:   cache,
	}
}

// NewWallet создаёт новый кошелёк из base58-encoded приватного ключа.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	return newWallet(solana.PrivateKey(privateKeyBytes)), nil
}

// FromKeygenFile загружает кошелёк из JSON-файла solana-keygen.
func FromKeygenFile(path string) (*Wallet, error) {
	pk, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keygen file %s: %w", path, err)
	}
	return newWallet(pk), nil
}

// Load выбирает источник ключа: base58 строка имеет приоритет над файлом.
func Load(privateKeyBase58, keyPath string) (*Wallet, error) {
	switch {
	case privateKeyBase58 != "":
		return NewWallet(privateKeyBase58)
	case keyPath != "":
		return FromKeygenFile(keyPath)
	default:
		return nil, ErrNoCredentials
	}
}

// SignTransaction подписывает транзакцию ключом кошелька и дополнительными подписантами.
func (w *Wallet) SignTransaction(tx *solana.Transaction, extra ...solana.PrivateKey) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		for i := range extra {
			if key.Equals(extra[i].PublicKey()) {
				return &extra[i]
			}
		}
		return nil
	})
	return err
}

// GetATA возвращает адрес ассоциированного токен-аккаунта (ATA) для пары owner/mint.
// Если адрес уже был вычислен ранее, возвращается значение из кеша.
func (w *Wallet) GetATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	key := owner.String() + ":" + mint.String()
	if ata, ok := w.ataCache.Get(key); ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache.Add(key, ata)
	return ata, nil
}

// CreateAssociatedTokenAccountIdempotentInstruction creates an instruction to create an associated token account
func CreateAssociatedTokenAccountIdempotentInstruction(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: owner, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.TokenProgramID, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // Instruction code 1 for create idempotent
	)
}

// String возвращает строковое представление кошелька (его публичный ключ).
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
