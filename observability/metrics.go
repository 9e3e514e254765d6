package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BridgeMetrics tracks the settlement core's header and withdrawal activity.
type BridgeMetrics struct {
	HeadersAccepted    prometheus.Counter
	HeadersConfirmed   prometheus.Counter
	HeadersPruned      prometheus.Counter
	SettlementFailures prometheus.Counter
	WithdrawalsPending prometheus.Gauge
}

var (
	bridgeMetricsOnce sync.Once
	bridgeRegistry    *BridgeMetrics
)

// Bridge returns the lazily-initialised bridge metrics registry.
func Bridge() *BridgeMetrics {
	bridgeMetricsOnce.Do(func() {
		bridgeRegistry = &BridgeMetrics{
			HeadersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "xbc",
				Subsystem: "bridge",
				Name:      "headers_accepted_total",
				Help:      "Total foreign headers accepted by the tracker.",
			}),
			HeadersConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "xbc",
				Subsystem: "bridge",
				Name:      "headers_confirmed_total",
				Help:      "Total foreign headers that crossed the confirmation threshold.",
			}),
			HeadersPruned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "xbc",
				Subsystem: "bridge",
				Name:      "headers_pruned_total",
				Help:      "Total foreign headers dropped out of the reserved window.",
			}),
			SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "xbc",
				Subsystem: "bridge",
				Name:      "settlement_failures_total",
				Help:      "Total per-transaction settlement failures tolerated during confirmation.",
			}),
			WithdrawalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "xbc",
				Subsystem: "bridge",
				Name:      "withdrawals_pending",
				Help:      "Withdrawal applications currently locked in the queue.",
			}),
		}
		prometheus.MustRegister(
			bridgeRegistry.HeadersAccepted,
			bridgeRegistry.HeadersConfirmed,
			bridgeRegistry.HeadersPruned,
			bridgeRegistry.SettlementFailures,
			bridgeRegistry.WithdrawalsPending,
		)
	})
	return bridgeRegistry
}
