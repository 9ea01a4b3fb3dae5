// Package metrics exposes Prometheus collectors for the gateway
// process: session counts, RPC latency and per-frame-type traffic
// counters, grounded in the same promauto/client_golang pattern the
// pack's kubernaut metrics package uses.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive reports the gateway's current avatar session count.
	// gateway.Client.ActiveCount sets it each time it is called rather
	// than it being incremented inline, since the count is derived
	// state; nothing in this repo calls ActiveCount on a schedule.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "sessions_active",
		Help:      "Number of avatar sessions currently owned by this gateway process.",
	})

	// AvatarEventsTotal counts lifecycle transitions by kind (created,
	// authenticated, connection_lost, reconnected, reaped, destroyed,
	// unauthorized_login), mirroring the activity stream's event names.
	AvatarEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "avatar_events_total",
		Help:      "Avatar lifecycle events, by event kind.",
	}, []string{"event"})

	// FramesReceivedTotal counts robot-to-gateway frames by envelope
	// type (spec §4.1's type table).
	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "frames_received_total",
		Help:      "Frames received from robots, by envelope type.",
	}, []string{"type"})

	// FrameDispatchErrorsTotal counts dispatch failures reported back
	// to robots as error frames, by the underlying sentinel error.
	FrameDispatchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "frame_dispatch_errors_total",
		Help:      "Envelope dispatch failures, by error kind.",
	}, []string{"error"})

	// MasterRPCDuration measures round-trip latency of masterlink.Call,
	// by RPC method name.
	MasterRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "master_rpc_duration_seconds",
		Help:      "Master-link RPC round-trip latency, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// MasterRPCErrorsTotal counts failed master-link RPCs, by method.
	MasterRPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "master_rpc_errors_total",
		Help:      "Master-link RPC failures, by method.",
	}, []string{"method"})

	// ReassemblyBufferEvicted counts reassembly entries dropped by
	// Buffer.Sweep for exceeding the parked-message age limit.
	ReassemblyBufferEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "reassembly_buffer_evicted_total",
		Help:      "Parked envelopes evicted by the reassembly buffer sweeper for exceeding the age limit.",
	})
)

// RecordFrame increments the per-type received-frame counter.
func RecordFrame(envelopeType string) {
	FramesReceivedTotal.WithLabelValues(envelopeType).Inc()
}

// RecordDispatchError increments the per-error dispatch-failure counter.
func RecordDispatchError(errKind string) {
	FrameDispatchErrorsTotal.WithLabelValues(errKind).Inc()
}

// RecordMasterRPC observes one master-link RPC's outcome and latency.
func RecordMasterRPC(method string, duration time.Duration, err error) {
	MasterRPCDuration.WithLabelValues(method).Observe(duration.Seconds())
	if err != nil {
		MasterRPCErrorsTotal.WithLabelValues(method).Inc()
	}
}

// RecordAvatarEvent increments the per-event-kind lifecycle counter.
func RecordAvatarEvent(event string) {
	AvatarEventsTotal.WithLabelValues(event).Inc()
}
