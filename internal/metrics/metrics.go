package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "validatorwatch"

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	slotChecks    *prometheus.CounterVec
	pendingChecks *prometheus.GaugeVec

	deliveries *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	busEvents *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Solana RPC calls by network, method and status",
		}, []string{"network", "method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Solana RPC call duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"network", "method"}),
		slotChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "slotskip",
			Name:      "checks_total",
			Help:      "Deferred slot group checks by outcome",
		}, []string{"network", "outcome"}),
		pendingChecks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "slotskip",
			Name:      "pending_checks",
			Help:      "Armed slot group checks per network",
		}, []string{"network"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "alerting",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by channel, signal and status",
		}, []string{"channel", "signal", "status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Periodic job runs by status",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Periodic job run duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Events delivered on the internal bus",
		}, []string{"kind"}),
	}

	err := errors.Join(
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.slotChecks),
		reg.Register(m.pendingChecks),
		reg.Register(m.deliveries),
		reg.Register(m.jobRuns),
		reg.Register(m.jobDuration),
		reg.Register(m.busEvents),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRPC records one RPC call.
func (m *Metrics) ObserveRPC(network, method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(network, method, status(err)).Inc()
	m.rpcDuration.WithLabelValues(network, method).Observe(elapsed.Seconds())
}

// ObserveSlotCheck counts a deferred check outcome.
func (m *Metrics) ObserveSlotCheck(network, outcome string) {
	if m == nil {
		return
	}
	m.slotChecks.WithLabelValues(network, outcome).Inc()
}

// SetPendingChecks publishes armed checks per network.
func (m *Metrics) SetPendingChecks(counts map[string]int) {
	if m == nil {
		return
	}
	m.pendingChecks.Reset()
	for network, n := range counts {
		m.pendingChecks.WithLabelValues(network).Set(float64(n))
	}
}

// ObserveDelivery counts a notification delivery attempt.
func (m *Metrics) ObserveDelivery(channel, signal, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, signal, status).Inc()
}

// ObserveJob records one periodic job run.
func (m *Metrics) ObserveJob(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// IncBusEvent counts a bus event.
func (m *Metrics) IncBusEvent(kind string) {
	if m == nil {
		return
	}
	m.busEvents.WithLabelValues(kind).Inc()
}
