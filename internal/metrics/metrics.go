// Package metrics exposes the bridge's Prometheus metrics and a health
// endpoint, separate from the call-control registrar's HTTP surface.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Prometheus metric the bridge exports. One
// instance lives for the process lifetime and is threaded into every
// component that has something to report.
type Collector struct {
	PacketsSent prometheus.Counter
	PacketsReceived prometheus.Counter

	JitterBufferDepth prometheus.Gauge
	JitterBufferDropped prometheus.Counter
	OutputBufferDepth prometheus.Gauge
	OutputBufferDropped prometheus.Counter

	BargeInsTotal prometheus.Counter

	DialogStateTransitions *prometheus.CounterVec

	SessionsActive prometheus.Gauge

	registry *prometheus.Registry
	startedAt time.Time
	sessionCount func() int
}

// NewCollector registers every metric with a fresh Prometheus registry —
// passing one in per process (rather than binding to the global default
// registerer) keeps this safe to construct more than once, e.g. in tests.
// sessionCount is polled by the health handler to report the number of
// active calls.
func NewCollector(namespace string, sessionCount func() int) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtp",
			Name: "packets_sent_total",
			Help: "Total number of RTP packets sent to callers.",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtp",
			Name: "packets_received_total",
			Help: "Total number of RTP packets received from callers.",
		}),
		JitterBufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jitter_buffer",
			Name: "depth_frames",
			Help: "Current number of frames queued in ingress jitter buffers.",
		}),
		JitterBufferDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jitter_buffer",
			Name: "dropped_frames_total",
			Help: "Total number of frames dropped by ingress jitter buffers on overflow.",
		}),
		OutputBufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output_buffer",
			Name: "depth_frames",
			Help: "Current number of frames queued in egress output buffers.",
		}),
		OutputBufferDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output_buffer",
			Name: "dropped_frames_total",
			Help: "Total number of frames dropped by egress output buffers on overflow.",
		}),
		BargeInsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name: "barge_ins_total",
			Help: "Total number of local barge-in interruptions of model speech.",
		}),
		DialogStateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name: "state_transitions_total",
			Help: "Total number of dialog state transitions.",
		}, []string{"from_state", "to_state"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name: "sessions_active",
			Help: "Number of currently active call sessions.",
		}),
		startedAt: time.Now(),
		sessionCount: sessionCount,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	ActiveCalls int `json:"active_calls"`
}

// Handler builds the mux serving /metrics and /healthz on the metrics
// port, kept separate from the call-control registrar's HTTP surface.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		active := 0
		if c.sessionCount != nil {
			active = c.sessionCount()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status: "ok",
			UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
			ActiveCalls: active,
		})
	})
	return mux
}
