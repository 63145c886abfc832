package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
)

var _ contractx.Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors for the lease registry.
type Metrics struct {
	AccountsTotal      prometheus.Gauge
	AccountsHeld       prometheus.Gauge
	WaitingRequesters  prometheus.Gauge
	Operations         *prometheus.CounterVec
	NotificationErrors prometheus.Counter

	mu      sync.Mutex
	lastSeq uint64
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AccountsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leasebot_accounts_total",
			Help: "Number of accounts in the roster",
		}),
		AccountsHeld: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leasebot_accounts_held",
			Help: "Number of accounts currently in use",
		}),
		WaitingRequesters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leasebot_waiting_requesters",
			Help: "Number of entries in the waiting list",
		}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leasebot_registry_operations_total",
			Help: "Registry operations by type and outcome",
		}, []string{"op", "result"}),
		NotificationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasebot_notification_failures_total",
			Help: "Direct messages that could not be delivered",
		}),
	}
}

func (m *Metrics) SetAccountsTotal(n int) {
	m.AccountsTotal.Set(float64(n))
}

func (m *Metrics) Record(_ context.Context, tr contractx.Transition) {
	m.Operations.WithLabelValues(string(tr.Op), string(contractx.KindOf(tr.Err))).Inc()

	if tr.Op == contractx.OpNotify {
		if tr.Err != nil {
			m.NotificationErrors.Inc()
		}
		return
	}
	m.setGauges(tr)
}

// setGauges applies the occupancy snapshot of tr unless a later transition
// was already applied. Transitions without a Seq always apply.
func (m *Metrics) setGauges(tr contractx.Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tr.Seq != 0 {
		if tr.Seq <= m.lastSeq {
			return
		}
		m.lastSeq = tr.Seq
	}
	m.AccountsHeld.Set(float64(tr.Held))
	m.WaitingRequesters.Set(float64(tr.Waiting))
}
