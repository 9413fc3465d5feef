// Package metrics exposes the Prometheus collectors for the signaling
// service.
//
// Naming convention: namespace_subsystem_name
//   - namespace: signaling (application-level grouping)
//   - subsystem: connection, room, cluster, health, circuit_breaker,
//     shared_store (feature-level grouping)
//   - name: specific metric (active, frames_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of authenticated streams.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of authenticated connections",
	})

	// ActiveRooms tracks the current number of non-empty local rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of active local rooms",
	})

	// RoomParticipants tracks the number of local participants per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "participants",
		Help:      "Number of local participants in each room",
	}, []string{"room"})

	// FramesTotal tracks dispatched inbound frames, by tag and outcome.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "frames_total",
		Help:      "Total frames processed by type and outcome",
	}, []string{"type", "outcome"})

	// FrameProcessingDuration tracks the time spent dispatching a frame.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "frame_processing_seconds",
		Help:      "Time spent dispatching an inbound frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"type"})

	// CircuitBreakerState tracks the current state of a circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// SharedStoreOperationsTotal tracks shared-store calls by op and outcome.
	SharedStoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "shared_store",
		Name:      "operations_total",
		Help:      "Total shared-store operations",
	}, []string{"operation", "status"})

	// SharedStoreOperationDuration tracks shared-store call latency.
	SharedStoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "shared_store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of shared-store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// HealthMode reports the composite router's current mode.
	// 0: Healthy, 1: Degraded.
	HealthMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "health",
		Name:      "degraded",
		Help:      "1 when the shared store is unreachable (degraded mode), else 0",
	})

	// ClusterMessagesTotal tracks cluster-bus messages by kind and direction.
	ClusterMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "cluster",
		Name:      "messages_total",
		Help:      "Total cluster-bus messages by kind and direction",
	}, []string{"kind", "direction"})
)

// IncConnection records a newly authenticated connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a closed connection.
func DecConnection() {
	ActiveConnections.Dec()
}
