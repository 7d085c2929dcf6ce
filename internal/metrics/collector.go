// internal/metrics/collector.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keeper"

// Collector владеет собственным prometheus-реестром и метриками keeper'а.
// Реализует rpc.Observer и economics.Observer.
type Collector struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	poolActions     *prometheus.CounterVec
	poolsProcessing prometheus.Gauge
	actionCost      *prometheus.HistogramVec
	rpcRequests     *prometheus.CounterVec
	endpointHealth  *prometheus.GaugeVec
}

// NewCollector создает коллектор и регистрирует метрики.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of orchestrator ticks",
		}),
		poolActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_actions_total",
			Help:      "Lifecycle actions dispatched, by outcome",
		}, []string{"action", "outcome"}),
		poolsProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools_processing",
			Help:      "Pools currently owned by a processing task",
		}),
		actionCost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_cost_lamports",
			Help:      "Operator fee cost per lifecycle action in lamports",
			Buckets:   prometheus.ExponentialBuckets(5000, 2, 12),
		}, []string{"action"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "RPC attempts per endpoint and outcome",
		}, []string{"endpoint", "label", "outcome"}),
		endpointHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpc_endpoint_healthy",
			Help: "1 when the endpoint circuit is closed",
		}, []string{"endpoint"}),
	}

	c.registry.MustRegister(
		c.ticks,
		c.poolActions,
		c.poolsProcessing,
		c.actionCost,
		c.rpcRequests,
		c.endpointHealth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry возвращает реестр коллектора.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler отдает метрики в формате prometheus.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveRequest(endpoint, label, outcome string) {
	c.rpcRequests.WithLabelValues(endpoint, label, outcome).Inc()
}

func (c *Collector) SetEndpointHealth(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	c.endpointHealth.WithLabelValues(endpoint).Set(v)
}

func (c *Collector) ObserveActionCost(action string, lamports int64) {
	c.actionCost.WithLabelValues(action).Observe(float64(lamports))
}

// Tick отмечает тик оркестратора.
func (c *Collector) Tick() {
	c.ticks.Inc()
}

// ObserveAction records a dispatched action; outcome is success, skipped or failed.
func (c *Collector) ObserveAction(action, outcome string) {
	c.poolActions.WithLabelValues(action, outcome).Inc()
}

func (c *Collector) SetProcessing(n int) {
	c.poolsProcessing.Set(float64(n))
}
