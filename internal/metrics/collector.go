// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Quote fetch results.
const (
	QuoteSuccess   = "success"
	QuoteNoRoute   = "no_route"
	QuoteDiscarded = "discarded"
)

// Collector owns the swap metrics and the registry they live in.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	quoteRequests  *prometheus.CounterVec
	quoteLatency   prometheus.Histogram
	swapOutcomes   *prometheus.CounterVec
	swapDuration   prometheus.Histogram
	apiRequests    *prometheus.CounterVec
	debounceResets prometheus.Counter
}

// NewCollector creates a collector with its own registry so several
// collectors can coexist in one process.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		quoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ultra_quote_requests_total",
			Help: "Quote fetches by result",
		}, []string{"result"}),
		quoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ultra_quote_latency_seconds",
			Help:    "Quote fetch latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		swapOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ultra_swap_outcomes_total",
			Help: "Terminal swap outcomes by status",
		}, []string{"status"}),
		swapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ultra_swap_duration_seconds",
			Help:    "Time from submit to terminal state",
			Buckets: prometheus.LinearBuckets(0, 5, 13),
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ultra_api_requests_total",
			Help: "HTTP calls to the Ultra API by endpoint and status code",
		}, []string{"endpoint", "code"}),
		debounceResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ultra_quote_debounce_resets_total",
			Help: "Debounce timers restarted before firing",
		}),
	}

	c.registry.MustRegister(
		c.quoteRequests,
		c.quoteLatency,
		c.swapOutcomes,
		c.swapDuration,
		c.apiRequests,
		c.debounceResets,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's metrics in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordQuote counts a quote fetch by result and observes its latency.
func (c *Collector) RecordQuote(result string, latency time.Duration) {
	if c == nil {
		return
	}
	c.quoteRequests.WithLabelValues(result).Inc()
	if result != QuoteDiscarded {
		c.quoteLatency.Observe(latency.Seconds())
	}
}

// RecordSwap counts a terminal swap outcome.
func (c *Collector) RecordSwap(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.swapOutcomes.WithLabelValues(status).Inc()
	c.swapDuration.Observe(duration.Seconds())
}

// RecordAPICall counts an HTTP round trip to the swap API.
func (c *Collector) RecordAPICall(endpoint, code string) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(endpoint, code).Inc()
}

// RecordDebounceReset counts a debounce timer that was restarted.
func (c *Collector) RecordDebounceReset() {
	if c == nil {
		return
	}
	c.debounceResets.Inc()
}
