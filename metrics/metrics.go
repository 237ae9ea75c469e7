// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dex_tts"

var (
	// messagesTotal counts chat messages by outcome.
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Chat messages seen by the relay",
		},
		[]string{"status"}, // status: relayed, rate_limited, ignored, dropped
	)

	// cacheLookups counts audio cache lookups by tier and result.
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Audio cache lookups",
		},
		[]string{"tier", "result"}, // tier: predefined, memory, redis; result: hit, miss
	)

	synthesisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Duration of synthesis backend calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "status"},
	)

	segmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Message segments rendered to audio",
		},
		[]string{"kind", "status"}, // status: ok, failed, not_found
	)

	voiceConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_connections",
			Help:      "Currently connected voice channels",
		},
	)

	voiceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_events_total",
			Help:      "Voice connection lifecycle events",
		},
		[]string{"event"}, // event: join, join_failed, leave, disconnect
	)

	allMetrics = []prometheus.Collector{
		messagesTotal,
		cacheLookups,
		synthesisDuration,
		segmentsTotal,
		voiceConnections,
		voiceEvents,
	}
)

// Register adds the relay collectors plus Go runtime and process collectors to
// reg. Collectors that are already registered are not an error.
func Register(reg prometheus.Registerer) error {
	cs := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, allMetrics...)

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordMessage records the outcome of one chat message.
func RecordMessage(status string) {
	messagesTotal.WithLabelValues(status).Inc()
}

// RecordCacheLookup records a cache lookup.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordSynthesis records one backend call.
func RecordSynthesis(backend, status string, durationSeconds float64) {
	synthesisDuration.WithLabelValues(backend, status).Observe(durationSeconds)
}

// RecordSegment records a rendered or skipped segment.
func RecordSegment(kind, status string) {
	segmentsTotal.WithLabelValues(kind, status).Inc()
}

// RecordVoiceEvent records a connection lifecycle event and keeps the
// connection gauge in step.
func RecordVoiceEvent(event string) {
	voiceEvents.WithLabelValues(event).Inc()
	switch event {
	case "join":
		voiceConnections.Inc()
	case "leave", "disconnect":
		voiceConnections.Dec()
	}
}
