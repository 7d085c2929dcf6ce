// internal/blockchain/solbc/rpc/manager.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Operation is a single read or write against one endpoint connection.
type Operation func(ctx context.Context, client *solanarpc.Client) error

// ProbeFunc is the cheap read issued by the background health check.
type ProbeFunc func(ctx context.Context, client *solanarpc.Client) error

// Manager распределяет запросы по RPC узлам с повторами, failover и circuit breaker
type Manager struct {
	endpoints []*Endpoint
	cfg       Config
	logger    *zap.Logger
	observer  Observer
	now       func() time.Time
	probe     ProbeFunc

	mu   sync.Mutex
	next int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Option настраивает Manager
type Option func(*Manager)

// WithObserver подключает сборщик метрик
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock подменяет источник времени (для cooldown)
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithProbe подменяет запрос фоновой проверки здоровья
func WithProbe(p ProbeFunc) Option {
	return func(m *Manager) {
		if p != nil {
			m.probe = p
		}
	}
}

// NewManager создает менеджер для списка URL
func NewManager(urls []string, cfg Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	m := &Manager{
		endpoints: make([]*Endpoint, 0, len(urls)),
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("rpc-manager"),
		observer:  nopObserver{},
		now:       time.Now,
		probe:     defaultProbe,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, url := range urls {
		m.endpoints = append(m.endpoints, newEndpoint(url))
		m.observer.SetEndpointHealth(url, true)
	}

	m.logger.Info("RPC manager initialized",
		zap.Int("endpoints", len(m.endpoints)),
		zap.Int("max_retries", m.cfg.MaxRetries),
		zap.Int("failure_threshold", m.cfg.FailureThreshold),
		zap.Duration("cooldown", m.cfg.Cooldown))
	return m, nil
}

func defaultProbe(ctx context.Context, client *solanarpc.Client) error {
	_, err := client.GetHealth(ctx)
	return err
}

// Endpoints возвращает список узлов в порядке конфигурации
func (m *Manager) Endpoints() []*Endpoint {
	return m.endpoints
}

// Snapshot возвращает состояние всех узлов
func (m *Manager) Snapshot() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		out = append(out, e.Status())
	}
	return out
}

type candidate struct {
	index int
	ep    *Endpoint
}

// candidates returns the endpoints to try for one call, in round-robin order
// starting after the last endpoint used. Unhealthy endpoints still in cooldown
// are skipped unless nothing else is eligible.
func (m *Manager) candidates() []candidate {
	m.mu.Lock()
	start := m.next
	m.mu.Unlock()

	n := len(m.endpoints)
	now := m.now()
	ordered := make([]candidate, 0, n)
	eligible := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		c := candidate{index: idx, ep: m.endpoints[idx]}
		ordered = append(ordered, c)

		ok, reopened := c.ep.eligible(now, m.cfg.Cooldown)
		if reopened {
			m.logger.Info("Cooldown elapsed, endpoint re-enabled", zap.String("url", c.ep.URL))
			m.observer.SetEndpointHealth(c.ep.URL, true)
		}
		if ok {
			eligible = append(eligible, c)
		}
	}

	if len(eligible) == 0 {
		m.logger.Warn("All RPC endpoints unhealthy, trying every endpoint",
			zap.Int("endpoints", n))
		return ordered
	}
	return eligible
}

func (m *Manager) markUsed(idx int) {
	m.mu.Lock()
	m.next = (idx + 1) % len(m.endpoints)
	m.mu.Unlock()
}

// ExecuteWithFailover runs op against the endpoints until one succeeds.
// Each endpoint gets MaxRetries+1 attempts with exponential backoff.
// Non-retryable errors are returned after the attempt that produced them.
func (m *Manager) ExecuteWithFailover(ctx context.Context, label string, op Operation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	var (
		lastErr  error
		attempts int
	)
	candidates := m.candidates()
	for _, c := range candidates {
		m.markUsed(c.index)

		err := m.executeOnEndpoint(ctx, c.ep, label, op, &attempts)
		if err == nil {
			return nil
		}

		var nre *NonRetryableError
		if errors.As(err, &nre) {
			return nre
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", label, ctxErr)
		}

		lastErr = err
		m.logger.Warn("Endpoint exhausted retries, failing over",
			zap.String("label", label),
			zap.String("url", c.ep.URL),
			zap.Error(err))
	}

	return &ExhaustedError{
		Label:     label,
		Endpoints: len(candidates),
		Attempts:  attempts,
		LastErr:   lastErr,
	}
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.BaseDelay
	b.Multiplier = m.cfg.Multiplier
	b.MaxInterval = m.cfg.MaxDelay
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (m *Manager) executeOnEndpoint(ctx context.Context, ep *Endpoint, label string, op Operation, attempts *int) error {
	operation := func() (struct{}, error) {
		*attempts++
		ep.requests.Add(1)

		err := op(ctx, ep.client)
		if err == nil {
			m.observer.ObserveRequest(ep.URL, label, OutcomeSuccess)
			if ep.recordSuccess() {
				m.logger.Info("RPC endpoint recovered", zap.String("url", ep.URL))
				m.observer.SetEndpointHealth(ep.URL, true)
			}
			return struct{}{}, nil
		}

		if isContextError(err) && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		if IsNonRetryable(err) {
			m.observer.ObserveRequest(ep.URL, label, OutcomeNonRetryable)
			return struct{}{}, backoff.Permanent(&NonRetryableError{Err: NewError(err, ep.URL, label)})
		}

		m.observer.ObserveRequest(ep.URL, label, OutcomeRetryable)
		if ep.recordFailure(m.now(), m.cfg.FailureThreshold) {
			m.logger.Warn("Circuit breaker open, endpoint marked unhealthy",
				zap.String("url", ep.URL),
				zap.Int("threshold", m.cfg.FailureThreshold),
				zap.Error(err))
			m.observer.SetEndpointHealth(ep.URL, false)
		}
		return struct{}{}, NewError(err, ep.URL, label)
	}

	notify := func(err error, next time.Duration) {
		m.logger.Debug("Retryable RPC error, backing off",
			zap.String("label", label),
			zap.String("url", ep.URL),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	return err
}
