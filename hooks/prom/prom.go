// Package promhook exports hotrod.Hooks events as Prometheus metrics.
package promhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/hotrod"
)

type Hooks struct {
	connsOpened     *prometheus.CounterVec
	connsClosed     *prometheus.CounterVec
	openConns       *prometheus.GaugeVec
	unhealthy       *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	ops             *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	nearLookups     *prometheus.CounterVec
	nearSelfHeals   *prometheus.CounterVec
	nearSetRejected *prometheus.CounterVec
	nearGenErrors   *prometheus.CounterVec
}

var _ hotrod.Hooks = (*Hooks)(nil)

// New creates the collectors under namespace ("hotrod" when empty) and
// registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	if namespace == "" {
		namespace = "hotrod"
	}
	h := &Hooks{
		connsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Connections opened per server",
		}, []string{"server"}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Connections closed per server",
		}, []string{"server"}),
		openConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Currently open connections per server",
		}, []string{"server"}),
		unhealthy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_unhealthy_total",
			Help:      "Times a server was taken out of rotation",
		}, []string{"server"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Failed SASL negotiations",
		}, []string{"server", "mechanism"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Cache operations by result",
		}, []string{"cache", "op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Histogram of cache operation duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache", "op"}),
		nearLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "near_cache_lookups_total",
			Help:      "Near cache lookups by result",
		}, []string{"cache", "result"}),
		nearSelfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "near_cache_self_heals_total",
			Help:      "Near cache entries deleted on read",
		}, []string{"cache", "reason"}),
		nearSetRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "near_cache_set_rejected_total",
			Help:      "Near cache writes refused by the provider",
		}, []string{"cache"}),
		nearGenErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "near_cache_gen_errors_total",
			Help:      "Generation store failures",
		}, []string{"cache"}),
	}
	for _, c := range h.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.connsOpened, h.connsClosed, h.openConns, h.unhealthy, h.authFailures,
		h.ops, h.opDuration, h.nearLookups, h.nearSelfHeals, h.nearSetRejected, h.nearGenErrors,
	}
}

func (h *Hooks) ConnOpened(addr string) {
	h.connsOpened.WithLabelValues(addr).Inc()
	h.openConns.WithLabelValues(addr).Inc()
}

func (h *Hooks) ConnClosed(addr string) {
	h.connsClosed.WithLabelValues(addr).Inc()
	h.openConns.WithLabelValues(addr).Dec()
}

func (h *Hooks) ServerUnhealthy(addr string, _ error) { h.unhealthy.WithLabelValues(addr).Inc() }

func (h *Hooks) AuthFailed(addr, mechanism string, _ error) {
	h.authFailures.WithLabelValues(addr, mechanism).Inc()
}

func (h *Hooks) OpDone(cache, op string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.ops.WithLabelValues(cache, op, result).Inc()
	h.opDuration.WithLabelValues(cache, op).Observe(took.Seconds())
}

func (h *Hooks) NearCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	h.nearLookups.WithLabelValues(cache, result).Inc()
}

// Keys are not used as labels; cardinality stays bounded by cache names.
func (h *Hooks) NearCacheSelfHeal(cache, _, reason string) {
	h.nearSelfHeals.WithLabelValues(cache, reason).Inc()
}

func (h *Hooks) NearCacheSetRejected(cache, _ string) { h.nearSetRejected.WithLabelValues(cache).Inc() }
func (h *Hooks) NearCacheGenError(cache string, _ error) {
	h.nearGenErrors.WithLabelValues(cache).Inc()
}
