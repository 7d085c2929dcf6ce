// =============================
// File: internal/lottery/randomness.go
// =============================
package lottery

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const (
	ProviderDeterministic = "deterministic"
	ProviderLedger        = "ledger"
)

// ErrRandomnessUnavailable is returned when the randomness facility cannot serve a request.
var ErrRandomnessUnavailable = errors.New("randomness facility unavailable")

// Commitment is a randomness handle ready to be referenced by request_randomness.
type Commitment struct {
	Account solana.PublicKey
	// Instructions run before request_randomness in the same transaction.
	Instructions []solana.Instruction
	Signers      []solana.PrivateKey
}

// RandomnessProvider creates, commits and reveals the randomness used to draw a winner.
type RandomnessProvider interface {
	Name() string
	Commit(ctx context.Context, pool *PoolState) (*Commitment, error)
	// Reveal returns instructions that run before reveal_randomness.
	Reveal(ctx context.Context, pool *PoolState) ([]solana.Instruction, error)
}

// DeterministicProvider uses a program-derived mock randomness account. The
// program accepts it only when built for test clusters.
type DeterministicProvider struct {
	programID solana.PublicKey
}

func NewDeterministicProvider(programID solana.PublicKey) *DeterministicProvider {
	return &DeterministicProvider{programID: programID}
}

func (p *DeterministicProvider) Name() string { return ProviderDeterministic }

func (p *DeterministicProvider) Commit(_ context.Context, pool *PoolState) (*Commitment, error) {
	addr, err := DeriveMockRandomnessAddress(p.programID, pool.Address)
	if err != nil {
		return nil, err
	}
	return &Commitment{Account: addr}, nil
}

func (p *DeterministicProvider) Reveal(context.Context, *PoolState) ([]solana.Instruction, error) {
	return nil, nil
}

// LedgerProviderConfig настраивает оракул случайности.
type LedgerProviderConfig struct {
	ProgramID  solana.PublicKey
	Queue      solana.PublicKey
	GatewayURL string
	Timeout    time.Duration
}

// LedgerProvider uses the on-demand randomness oracle: a fresh randomness
// account is created and committed on request; the signed reveal is fetched
// from the oracle gateway.
type LedgerProvider struct {
	cfg        LedgerProviderConfig
	operator   solana.PublicKey
	httpClient *http.Client
	logger     *zap.Logger
}

func NewLedgerProvider(cfg LedgerProviderConfig, operator solana.PublicKey, logger *zap.Logger) *LedgerProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &LedgerProvider{
		cfg:        cfg,
		operator:   operator,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("randomness"),
	}
}

func (p *LedgerProvider) Name() string { return ProviderLedger }

func (p *LedgerProvider) Commit(_ context.Context, pool *PoolState) (*Commitment, error) {
	account, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate randomness keypair: %w", err)
	}
	randomness := account.PublicKey()

	initIx := solana.NewInstruction(p.cfg.ProgramID, []*solana.AccountMeta{
		{PublicKey: randomness, IsSigner: true, IsWritable: true},
		{PublicKey: p.cfg.Queue, IsSigner: false, IsWritable: true},
		{PublicKey: p.operator, IsSigner: true, IsWritable: false},
		{PublicKey: p.operator, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}, discriminatorData(RandomnessInitDiscriminator))

	commitIx := solana.NewInstruction(p.cfg.ProgramID, []*solana.AccountMeta{
		{PublicKey: randomness, IsSigner: false, IsWritable: true},
		{PublicKey: p.cfg.Queue, IsSigner: false, IsWritable: false},
		{PublicKey: p.operator, IsSigner: true, IsWritable: false},
		{PublicKey: solana.SysVarSlotHashesPubkey, IsSigner: false, IsWritable: false},
	}, discriminatorData(RandomnessCommitDiscriminator))

	p.logger.Debug("Prepared randomness commitment",
		zap.String("pool", pool.Address.String()),
		zap.String("randomness", randomness.String()))

	return &Commitment{
		Account:      randomness,
		Instructions: []solana.Instruction{initIx, commitIx},
		Signers:      []solana.PrivateKey{account},
	}, nil
}

// revealResponse is the gateway payload for a committed randomness account.
// Signature (64 bytes) and Value (32 bytes) are hex encoded.
type revealResponse struct {
	Signature  string `json:"signature"`
	RecoveryID uint8  `json:"recovery_id"`
	Value      string `json:"value"`
}

func (p *LedgerProvider) Reveal(ctx context.Context, pool *PoolState) ([]solana.Instruction, error) {
	if pool.Randomness == nil {
		return nil, fmt.Errorf("pool %s has no randomness account", pool.Address)
	}
	resp, err := p.fetchReveal(ctx, *pool.Randomness)
	if err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(resp.Signature, "0x"))
	if err != nil || len(sig) != 64 {
		return nil, fmt.Errorf("%w: bad reveal signature", ErrRandomnessUnavailable)
	}
	value, err := hex.DecodeString(strings.TrimPrefix(resp.Value, "0x"))
	if err != nil || len(value) != 32 {
		return nil, fmt.Errorf("%w: bad reveal value", ErrRandomnessUnavailable)
	}

	data := discriminatorData(RandomnessRevealDiscriminator)
	data = append(data, sig...)
	data = append(data, resp.RecoveryID)
	data = append(data, value...)

	revealIx := solana.NewInstruction(p.cfg.ProgramID, []*solana.AccountMeta{
		{PublicKey: *pool.Randomness, IsSigner: false, IsWritable: true},
		{PublicKey: p.cfg.Queue, IsSigner: false, IsWritable: false},
		{PublicKey: p.operator, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SysVarSlotHashesPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}, data)

	return []solana.Instruction{revealIx}, nil
}

func (p *LedgerProvider) fetchReveal(ctx context.Context, randomness solana.PublicKey) (*revealResponse, error) {
	if p.cfg.GatewayURL == "" {
		return nil, fmt.Errorf("%w: gateway not configured", ErrRandomnessUnavailable)
	}
	endpoint := strings.TrimRight(p.cfg.GatewayURL, "/") + "/randomness/reveal?account=" + url.QueryEscape(randomness.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gateway returned %d: %s", ErrRandomnessUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out revealResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode reveal: %v", ErrRandomnessUnavailable, err)
	}
	return &out, nil
}

// ProviderSelector picks the randomness provider per pool.
type ProviderSelector struct {
	defaultName string
	providers   map[string]RandomnessProvider
	overrides   map[string]string
}

// NewProviderSelector builds a selector. overrides maps pool address to provider name.
func NewProviderSelector(defaultName string, overrides map[string]string, providers ...RandomnessProvider) (*ProviderSelector, error) {
	s := &ProviderSelector{
		defaultName: defaultName,
		providers:   make(map[string]RandomnessProvider, len(providers)),
		overrides:   make(map[string]string, len(overrides)),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	if _, ok := s.providers[defaultName]; !ok {
		return nil, fmt.Errorf("unknown default randomness provider %q", defaultName)
	}
	for pool, name := range overrides {
		if _, ok := s.providers[name]; !ok {
			return nil, fmt.Errorf("unknown randomness provider %q for pool %s", name, pool)
		}
		s.overrides[pool] = name
	}
	return s, nil
}

// For returns the provider configured for pool.
func (s *ProviderSelector) For(pool solana.PublicKey) RandomnessProvider {
	if name, ok := s.overrides[pool.String()]; ok {
		return s.providers[name]
	}
	return s.providers[s.defaultName]
}
