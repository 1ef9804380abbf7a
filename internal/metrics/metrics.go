// Package metrics exposes settlement and grant counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sharepool"

// Metrics records ledger events. It implements ledger.Observer.
type Metrics struct {
	registry           *prometheus.Registry
	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	commissionCents    prometheus.Counter
	grantsExpired      *prometheus.CounterVec
	balanceAdjustments *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Purchase settlements by outcome.",
		}, []string{"outcome"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time to commit a settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		commissionCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_cents_total",
			Help:      "Commission credited to the platform, in cents.",
		}),
		grantsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_expired_total",
			Help:      "Grants moved to expired, by trigger.",
		}, []string{"trigger"}),
		balanceAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_adjustments_total",
			Help:      "Completed topups and refunds, by category.",
		}, []string{"category"}),
	}

	m.registry.MustRegister(
		m.settlements,
		m.settlementDuration,
		m.commissionCents,
		m.grantsExpired,
		m.balanceAdjustments,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGauge exposes a value sampled at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Observe(e ledger.Event) {
	switch e.Kind {
	case ledger.EventSettlement:
		m.settlements.WithLabelValues("committed").Inc()
		m.settlementDuration.Observe(e.Duration.Seconds())
		if e.Grant != nil {
			if cents, err := money.ToCents(e.Grant.Commission); err == nil {
				m.commissionCents.Add(float64(cents))
			}
		}
	case ledger.EventSettlementRejected:
		m.settlements.WithLabelValues(e.Reason).Inc()
	case ledger.EventGrantExpired:
		m.grantsExpired.WithLabelValues(e.Reason).Inc()
	case ledger.EventTopup, ledger.EventAdjustment:
		if e.Entry != nil && e.Entry.Status == model.EntryCompleted {
			m.balanceAdjustments.WithLabelValues(string(e.Entry.Category)).Inc()
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
