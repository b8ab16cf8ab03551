// SPDX-License-Identifier: MIT

// Package metrics holds the process-wide Prometheus metrics for drivecast.
// Labels stay low-cardinality: no session or request IDs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drivecast_ws_connections",
		Help: "Open session websocket connections",
	})

	controlMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_control_messages_total",
		Help: "Control messages received on session connections, by type",
	}, []string{"type"})

	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_segments_total",
		Help: "Binary segments received, by outcome (stored/store_failed/no_session)",
	}, []string{"outcome"})

	segmentBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivecast_segment_bytes_total",
		Help: "Bytes of segment data persisted to the object store",
	})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_dispatch_total",
		Help: "Analysis dispatch attempts, by outcome (ok/error/rejected)",
	}, []string{"outcome"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drivecast_dispatch_duration_seconds",
		Help:    "Latency of analysis dispatch requests",
		Buckets: prometheus.DefBuckets,
	})

	callbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_callback_total",
		Help: "Analysis result callbacks, by result (processed/duplicate/rejected)",
	}, []string{"result"})

	pushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_push_total",
		Help: "Messages pushed to live connections, by kind and delivery",
	}, []string{"kind", "delivered"})

	finalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_finalize_total",
		Help: "Session finalizations, by outcome (merged/no_segments/provided/assembly_failed/error)",
	}, []string{"outcome"})

	finalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drivecast_finalize_duration_seconds",
		Help:    "Wall time of session finalization including assembly",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	configReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_config_reloads_total",
		Help: "Configuration reload attempts, by result",
	}, []string{"result"})
)

func IncWSConnections() { wsConnections.Inc() }
func DecWSConnections() { wsConnections.Dec() }

func IncControlMessage(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	controlMessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordSegment counts one binary frame. bytes is only added for stored frames.
func RecordSegment(outcome string, bytes int64) {
	segmentsTotal.WithLabelValues(outcome).Inc()
	if outcome == "stored" && bytes > 0 {
		segmentBytesTotal.Add(float64(bytes))
	}
}

func RecordDispatch(outcome string, seconds float64) {
	dispatchTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		dispatchDuration.Observe(seconds)
	}
}

func IncCallback(result string) { callbackTotal.WithLabelValues(result).Inc() }

func IncPush(kind string, delivered bool) {
	d := "false"
	if delivered {
		d = "true"
	}
	pushTotal.WithLabelValues(kind, d).Inc()
}

func RecordFinalize(outcome string, seconds float64) {
	finalizeTotal.WithLabelValues(outcome).Inc()
	finalizeDuration.Observe(seconds)
}

func IncConfigReload(result string) { configReloadsTotal.WithLabelValues(result).Inc() }

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_proc_terminate_total",
		Help: "Signals sent to external tool process groups, by signal and result",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drivecast_proc_wait_total",
		Help: "External tool exits observed during termination, by outcome",
	}, []string{"outcome"})
)

func IncProcTerminate(signal, result string) { procTerminateTotal.WithLabelValues(signal, result).Inc() }
func IncProcWait(outcome string)             { procWaitTotal.WithLabelValues(outcome).Inc() }
