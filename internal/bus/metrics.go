package bus

import (
	"time"

	"ticketing/internal/messages"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects delivery counters. A nil *Metrics records nothing.
type Metrics struct {
	published       *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	redelivered     *prometheus.CounterVec
	acked           *prometheus.CounterVec
	unacked         *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

// NewMetrics creates the delivery collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	delivery := []string{"subject", "queue_group"}
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Events handed to the broker, labeled by subject and result.",
		}, []string{"subject", "result"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Messages delivered to a listener, including redeliveries.",
		}, delivery),
		redelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "redelivered_total",
			Help:      "Deliveries of a message that had been delivered before.",
		}, delivery),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "acked_total",
			Help:      "Messages acknowledged by their handler.",
		}, delivery),
		unacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "unacked_total",
			Help:      "Messages whose handler returned without acknowledging.",
		}, delivery),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "decode_errors_total",
			Help:      "Messages that could not be decoded into their payload type.",
		}, delivery),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "handler_errors_total",
			Help:      "Handler invocations that failed.",
		}, delivery),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketing",
			Subsystem: "bus",
			Name:      "handler_duration_seconds",
			Help:      "Histogram of handler durations.",
			Buckets:   prometheus.DefBuckets,
		}, delivery),
	}
	if reg != nil {
		reg.MustRegister(
			m.published, m.delivered, m.redelivered, m.acked,
			m.unacked, m.decodeErrors, m.handlerErrors, m.handlerDuration,
		)
	}
	return m
}

func (m *Metrics) observePublish(subject messages.Subject, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(string(subject), result).Inc()
}

func (m *Metrics) observeDelivery(subject messages.Subject, group string, redelivered bool) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(string(subject), group).Inc()
	if redelivered {
		m.redelivered.WithLabelValues(string(subject), group).Inc()
	}
}

func (m *Metrics) observeDecodeError(subject messages.Subject, group string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(string(subject), group).Inc()
}

func (m *Metrics) observeHandled(subject messages.Subject, group string, d time.Duration, err error, acked bool) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(string(subject), group).Observe(d.Seconds())
	switch {
	case err != nil:
		m.handlerErrors.WithLabelValues(string(subject), group).Inc()
	case acked:
		m.acked.WithLabelValues(string(subject), group).Inc()
	default:
		m.unacked.WithLabelValues(string(subject), group).Inc()
	}
}
