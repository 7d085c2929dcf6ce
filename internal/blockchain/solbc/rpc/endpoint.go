// internal/blockchain/solbc/rpc/endpoint.go
package rpc

import (
	"sync"
	"sync/atomic"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Endpoint представляет отдельный RPC узел и его состояние здоровья
type Endpoint struct {
	URL    string
	client *solanarpc.Client

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastFailure         time.Time

	requests  atomic.Uint64
	successes atomic.Uint64
}

// newEndpoint создает узел в здоровом состоянии
func newEndpoint(url string) *Endpoint {
	return &Endpoint{
		URL:     url,
		client:  solanarpc.New(url),
		healthy: true,
	}
}

// Client возвращает solana-go клиент узла
func (e *Endpoint) Client() *solanarpc.Client {
	return e.client
}

// IsHealthy возвращает текущий флаг здоровья
func (e *Endpoint) IsHealthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// eligible reports whether the endpoint may be selected at now. An unhealthy
// endpoint whose cooldown has elapsed is re-marked healthy; the second return
// value is true when that happened.
func (e *Endpoint) eligible(now time.Time, cooldown time.Duration) (ok bool, reopened bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.healthy {
		return true, false
	}
	if now.Sub(e.lastFailure) >= cooldown {
		e.healthy = true
		return true, true
	}
	return false, false
}

// recordSuccess сбрасывает счетчик ошибок. Возвращает true, если узел был нездоров.
func (e *Endpoint) recordSuccess() (recovered bool) {
	e.successes.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	recovered = !e.healthy
	e.healthy = true
	e.consecutiveFailures = 0
	return recovered
}

// recordFailure увеличивает счетчик подряд идущих ошибок. Возвращает true,
// если узел только что перешел в нездоровое состояние.
func (e *Endpoint) recordFailure(now time.Time, threshold int) (opened bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	e.lastFailure = now
	if e.healthy && e.consecutiveFailures >= threshold {
		e.healthy = false
		return true
	}
	return false
}

// resetHealth применяется после успешной фоновой проверки
func (e *Endpoint) resetHealth() (recovered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	recovered = !e.healthy
	e.healthy = true
	e.consecutiveFailures = 0
	return recovered
}

// Status возвращает копию состояния узла
func (e *Endpoint) Status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		URL:                 e.URL,
		Healthy:             e.healthy,
		ConsecutiveFailures: e.consecutiveFailures,
		LastFailure:         e.lastFailure,
		Requests:            e.requests.Load(),
		Successes:           e.successes.Load(),
	}
}
