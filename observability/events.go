package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fraudproof/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fraudproof",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// Emit implements events.Emitter so the registry can sit in an emitter fanout.
func (m *eventMetrics) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	m.RecordEvent(evt.EventType())
}
