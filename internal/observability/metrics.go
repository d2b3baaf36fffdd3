package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives protocol events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	MessageSent(role, kind string)
	MessageReceived(role, kind string)
	DecodeFailed(role, reason string)
	EOLNegotiated(role, step, eol string)
	HTTPRequest(method, path string, status int, duration time.Duration)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ConnectionOpened(string)                        {}
func (Nop) ConnectionClosed(string)                        {}
func (Nop) MessageSent(string, string)                     {}
func (Nop) MessageReceived(string, string)                 {}
func (Nop) DecodeFailed(string, string)                    {}
func (Nop) EOLNegotiated(string, string, string)           {}
func (Nop) HTTPRequest(string, string, int, time.Duration) {}

// OrNop returns rec, or Nop when rec is nil.
func OrNop(rec Recorder) Recorder {
	if rec == nil {
		return Nop{}
	}
	return rec
}

// Metrics is the prometheus Recorder.
type Metrics struct {
	activeConns    *prometheus.GaugeVec
	connsTotal     *prometheus.CounterVec
	messagesSent   *prometheus.CounterVec
	messagesRecv   *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	eolSteps       *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

var _ Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors labelled with node and registers them on
// reg.
func NewMetrics(reg prometheus.Registerer, node string) (*Metrics, error) {
	constLabels := prometheus.Labels{"node": node}
	m := &Metrics{
		activeConns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   "serialplot",
				Subsystem:   "ws",
				Name:        "active_connections",
				Help:        "Open websocket connections.",
				ConstLabels: constLabels,
			},
			[]string{"role"},
		),
		connsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "serialplot",
				Subsystem:   "ws",
				Name:        "connections_total",
				Help:        "Websocket connections established.",
				ConstLabels: constLabels,
			},
			[]string{"role"},
		),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "serialplot",
				Subsystem:   "protocol",
				Name:        "messages_sent_total",
				Help:        "Protocol messages sent.",
				ConstLabels: constLabels,
			},
			[]string{"role", "kind"},
		),
		messagesRecv: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "serialplot",
				Subsystem:   "protocol",
				Name:        "messages_received_total",
				Help:        "Protocol messages received.",
				ConstLabels: constLabels,
			},
			[]string{"role", "kind"},
		),
		decodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "serialplot",
				Subsystem:   "protocol",
				Name:        "decode_failures_total",
				Help:        "Inbound frames dropped because they did not decode.",
				ConstLabels: constLabels,
			},
			[]string{"role", "reason"},
		),
		eolSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "serialplot",
				Subsystem:   "eol",
				Name:        "negotiation_steps_total",
				Help:        "EOL negotiation transitions.",
				ConstLabels: constLabels,
			},
			[]string{"role", "step", "eol"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "serialplot",
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total HTTP requests.",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   "serialplot",
				Subsystem:   "http",
				Name:        "request_duration_seconds",
				Help:        "HTTP request duration in seconds.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.activeConns, m.connsTotal, m.messagesSent, m.messagesRecv,
		m.decodeFailures, m.eolSteps, m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ConnectionOpened(role string) {
	m.activeConns.WithLabelValues(role).Inc()
	m.connsTotal.WithLabelValues(role).Inc()
}

func (m *Metrics) ConnectionClosed(role string) {
	m.activeConns.WithLabelValues(role).Dec()
}

func (m *Metrics) MessageSent(role, kind string) {
	m.messagesSent.WithLabelValues(role, kind).Inc()
}

func (m *Metrics) MessageReceived(role, kind string) {
	m.messagesRecv.WithLabelValues(role, kind).Inc()
}

func (m *Metrics) DecodeFailed(role, reason string) {
	m.decodeFailures.WithLabelValues(role, reason).Inc()
}

func (m *Metrics) EOLNegotiated(role, step, eol string) {
	m.eolSteps.WithLabelValues(role, step, eol).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
