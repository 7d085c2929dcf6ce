// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"time"
)

const (
	DefaultMaxRetries          = 3
	DefaultBaseDelay           = 500 * time.Millisecond
	DefaultMaxDelay            = 8 * time.Second
	DefaultMultiplier          = 2.0
	DefaultFailureThreshold    = 5
	DefaultCooldown            = 60 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultProbeTimeout        = 5 * time.Second
)

// Config описывает политику повторов и circuit breaker для набора RPC узлов
type Config struct {
	MaxRetries          int           // повторы на один узел (всего попыток MaxRetries+1)
	BaseDelay           time.Duration // первая пауза между попытками
	MaxDelay            time.Duration // верхняя граница паузы
	Multiplier          float64
	FailureThreshold    int           // подряд неудачных попыток до отключения узла
	Cooldown            time.Duration // через сколько отключенный узел снова можно выбрать
	HealthCheckInterval time.Duration
	ProbeTimeout        time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxRetries:          DefaultMaxRetries,
		BaseDelay:           DefaultBaseDelay,
		MaxDelay:            DefaultMaxDelay,
		Multiplier:          DefaultMultiplier,
		FailureThreshold:    DefaultFailureThreshold,
		Cooldown:            DefaultCooldown,
		HealthCheckInterval: DefaultHealthCheckInterval,
		ProbeTimeout:        DefaultProbeTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// EndpointStatus is a point-in-time copy of an endpoint's health record.
type EndpointStatus struct {
	URL                 string    `json:"url"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Requests            uint64    `json:"requests"`
	Successes           uint64    `json:"successes"`
}

// Observer receives request outcomes and health transitions.
type Observer interface {
	ObserveRequest(endpoint, label, outcome string)
	SetEndpointHealth(endpoint string, healthy bool)
}

const (
	OutcomeSuccess      = "success"
	OutcomeRetryable    = "retryable"
	OutcomeNonRetryable = "non_retryable"
)

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, string) {}
func (nopObserver) SetEndpointHealth(string, bool)         {}
