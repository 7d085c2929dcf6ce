// internal/blockchain/solbc/rpc/health.go
package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Start запускает фоновую проверку здоровья узлов
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.healthLoop(runCtx, m.done)
	return nil
}

// Close останавливает фоновую проверку
func (m *Manager) Close() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}

func (m *Manager) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll issues the probe against every endpoint concurrently. A passing
// probe resets the endpoint regardless of traffic-driven state.
func (m *Manager) ProbeAll(ctx context.Context) {
	var g errgroup.Group
	for _, ep := range m.endpoints {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()

			if err := m.probe(probeCtx, ep.client); err != nil {
				m.logger.Debug("Health probe failed",
					zap.String("url", ep.URL),
					zap.Error(err))
				return nil
			}
			if ep.resetHealth() {
				m.logger.Info("Health probe passed, endpoint recovered", zap.String("url", ep.URL))
				m.observer.SetEndpointHealth(ep.URL, true)
			}
			return nil
		})
	}
	_ = g.Wait()
}
