package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters/histograms for queue commands and realtime delivery.
type QueueMetrics struct {
	commandsTotal      *prometheus.CounterVec
	commandDuration    *prometheus.HistogramVec
	waitingTokens      prometheus.Gauge
	tokensIssued       prometheus.Counter
	deliveriesTotal    *prometheus.CounterVec
	realtimeConnection prometheus.Gauge
}

// NewQueueMetrics registers the queue collectors on reg, or the default registerer when reg is nil.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "queue",
			Name:      "commands_total",
			Help:      "Total queue commands by outcome",
		}, []string{"command", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicqueue",
			Subsystem: "queue",
			Name:      "command_duration_seconds",
			Help:      "Latency of queue commands including the recalculation pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		waitingTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicqueue",
			Subsystem: "queue",
			Name:      "waiting_tokens",
			Help:      "Tokens in the waiting pool after the last recalculation",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "queue",
			Name:      "tokens_issued_total",
			Help:      "Token numbers issued to patients",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicqueue",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Realtime frames delivered or dropped",
		}, []string{"result"}),
		realtimeConnection: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicqueue",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open realtime connections",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.commandsTotal, m.commandDuration, m.waitingTokens, m.tokensIssued, m.deliveriesTotal, m.realtimeConnection)
	return m
}

// ObserveCommand counts one command outcome and records its latency.
func (m *QueueMetrics) ObserveCommand(command, result string, seconds float64) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(seconds)
}

// SetWaiting records the size of the waiting pool.
func (m *QueueMetrics) SetWaiting(n int) {
	if m == nil {
		return
	}
	m.waitingTokens.Set(float64(n))
}

// IncTokensIssued counts an allocated token number.
func (m *QueueMetrics) IncTokensIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// ObserveDelivery counts a realtime frame as delivered or dropped.
func (m *QueueMetrics) ObserveDelivery(delivered bool) {
	if m == nil {
		return
	}
	label := "delivered"
	if !delivered {
		label = "dropped"
	}
	m.deliveriesTotal.WithLabelValues(label).Inc()
}

// ConnectionOpened increments the open socket gauge.
func (m *QueueMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.realtimeConnection.Inc()
}

// ConnectionClosed decrements the open socket gauge.
func (m *QueueMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.realtimeConnection.Dec()
}
