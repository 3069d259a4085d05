package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures per-channel I/O events.
//
// Hooks run inline with channel reads and writes, so implementations must be
// cheap and safe for concurrent use.
type Collector interface {
	AddReceived(channel string, n int)
	AddSent(channel string, n int)
	IncError(channel, op string)
	IncFlush(channel string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) AddReceived(string, int) {}
func (noopCollector) AddSent(string, int)     {}
func (noopCollector) IncError(string, string) {}
func (noopCollector) IncFlush(string)         {}

// PrometheusCollector exposes channel counters via Prometheus.
type PrometheusCollector struct {
	received *prometheus.CounterVec
	sent     *prometheus.CounterVec
	errors   *prometheus.CounterVec
	flushes  *prometheus.CounterVec
}

// NewPrometheusCollector registers the channel metrics with reg, reusing
// counters that are already registered there. A nil reg means the default
// registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	received, err := counterVec(reg, "osdplink_channel_received_bytes_total", "Bytes read from a channel through its adapter.", "channel")
	if err != nil {
		return nil, err
	}
	sent, err := counterVec(reg, "osdplink_channel_sent_bytes_total", "Bytes written to a channel through its adapter.", "channel")
	if err != nil {
		return nil, err
	}
	failures, err := counterVec(reg, "osdplink_channel_errors_total", "Failed channel operations.", "channel", "op")
	if err != nil {
		return nil, err
	}
	flushes, err := counterVec(reg, "osdplink_channel_flushes_total", "Flush calls forwarded to a channel.", "channel")
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{received: received, sent: sent, errors: failures, flushes: flushes}, nil
}

func counterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return counter, nil
}

// AddReceived records n bytes read from channel.
func (p *PrometheusCollector) AddReceived(channel string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.received.WithLabelValues(channel).Add(float64(n))
}

// AddSent records n bytes written to channel.
func (p *PrometheusCollector) AddSent(channel string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.sent.WithLabelValues(channel).Add(float64(n))
}

// IncError counts a failed read, write or flush.
func (p *PrometheusCollector) IncError(channel, op string) {
	if p == nil {
		return
	}
	p.errors.WithLabelValues(channel, op).Inc()
}

// IncFlush counts a flush.
func (p *PrometheusCollector) IncFlush(channel string) {
	if p == nil {
		return
	}
	p.flushes.WithLabelValues(channel).Inc()
}
