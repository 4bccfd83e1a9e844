// Package metrics exposes prometheus instrumentation for the
// negotiation engine on a dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the negotiation metric families. It satisfies the
// orchestrator's Observer interface.
type Collector struct {
	registry *prometheus.Registry

	negotiationsStarted   prometheus.Counter
	negotiationsCompleted *prometheus.CounterVec
	roundsPerNegotiation  prometheus.Histogram
	turnWaitSeconds       prometheus.Histogram
	turnTimeouts          prometheus.Counter
	eventsPublished       *prometheus.CounterVec
	eventsDropped         *prometheus.CounterVec
}

// NewCollector registers the metric families on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		negotiationsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "negotiations_started_total",
			Help:      "Negotiations dispatched into a call room.",
		}),
		negotiationsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "negotiations_completed_total",
			Help:      "Negotiations finished, by terminal outcome.",
		}, []string{"outcome"}),
		roundsPerNegotiation: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "harvest",
			Name:      "negotiation_rounds",
			Help:      "Rounds consumed per finished negotiation.",
			Buckets:   prometheus.LinearBuckets(1, 1, 12),
		}),
		turnWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "harvest",
			Name:      "seller_turn_wait_seconds",
			Help:      "Time between a turn trigger and its completion signal.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		turnTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "seller_turn_timeouts_total",
			Help:      "Seller turns that never signalled completion.",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "room_events_total",
			Help:      "Events published to the broadcast channel, by type.",
		}, []string{"type"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "room_events_dropped_total",
			Help:      "Events discarded because a participant queue overflowed, by type.",
		}, []string{"type"}),
	}
}

// NegotiationStarted counts a dispatch.
func (c *Collector) NegotiationStarted() {
	c.negotiationsStarted.Inc()
}

// NegotiationCompleted counts a terminal outcome and the rounds spent.
func (c *Collector) NegotiationCompleted(outcome string, rounds int) {
	c.negotiationsCompleted.WithLabelValues(outcome).Inc()
	c.roundsPerNegotiation.Observe(float64(rounds))
}

// TurnCompleted observes the trigger-to-completion latency.
func (c *Collector) TurnCompleted(wait time.Duration) {
	c.turnWaitSeconds.Observe(wait.Seconds())
}

// TurnTimedOut counts an unanswered turn trigger.
func (c *Collector) TurnTimedOut() {
	c.turnTimeouts.Inc()
}

// EventPublished counts one broadcast by event type.
func (c *Collector) EventPublished(eventType string) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// EventDropped counts one overflow discard by event type.
func (c *Collector) EventDropped(eventType string) {
	c.eventsDropped.WithLabelValues(eventType).Inc()
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
