// Package metrics exposes the Prometheus counters each worker feeds,
// following a promauto idiom grounded on go-server/internal/metrics.
// Exposition over HTTP is a thin wrapper the cmd/ binaries mount on
// /metrics; the metrics themselves are ambient instrumentation, not a
// dedicated metrics-exposition service in their own right.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline is the common metrics surface shared by every bus-consuming
// worker (ingestion, fanout, delivery, status).
type Pipeline struct {
	MessagesProcessed *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	MessagesDLQ       *prometheus.CounterVec
	HandlerLatency    *prometheus.HistogramVec
}

func NewPipeline(component string) *Pipeline {
	return &Pipeline{
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat4all",
			Subsystem: component,
			Name:      "messages_processed_total",
			Help:      "Messages successfully handled per topic.",
		}, []string{"topic"}),
		MessagesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat4all",
			Subsystem: component,
			Name:      "messages_failed_total",
			Help:      "Messages that failed handling and were redelivered.",
		}, []string{"topic"}),
		MessagesDLQ: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat4all",
			Subsystem: component,
			Name:      "messages_dlq_total",
			Help:      "Messages republished to a dead-letter topic.",
		}, []string{"topic"}),
		HandlerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chat4all",
			Subsystem: component,
			Name:      "handler_latency_seconds",
			Help:      "Time spent handling one bus record.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// GatewaySessions tracks live socket-gateway sessions (component J).
type GatewaySessions struct {
	Active prometheus.Gauge
	Total  prometheus.Counter
	Rejected prometheus.Counter
}

func NewGatewaySessions() *GatewaySessions {
	return &GatewaySessions{
		Active: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat4all",
			Subsystem: "gateway",
			Name:      "sessions_active",
			Help:      "Currently connected live sessions.",
		}),
		Total: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chat4all",
			Subsystem: "gateway",
			Name:      "sessions_total",
			Help:      "Total sessions accepted.",
		}),
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chat4all",
			Subsystem: "gateway",
			Name:      "sessions_rejected_total",
			Help:      "Sessions rejected at accept time (bad token).",
		}),
	}
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }
