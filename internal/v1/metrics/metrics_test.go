package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("SharedStoreOperationsTotal", func(t *testing.T) {
		SharedStoreOperationsTotal.WithLabelValues("hset", "success").Inc()
		val := testutil.ToFloat64(SharedStoreOperationsTotal.WithLabelValues("hset", "success"))
		if val < 1 {
			t.Errorf("expected SharedStoreOperationsTotal to be at least 1, got %v", val)
		}
	})

	t.Run("SharedStoreOperationDuration", func(t *testing.T) {
		SharedStoreOperationDuration.WithLabelValues("hset").Observe(0.01)
	})

	t.Run("RoomParticipants", func(t *testing.T) {
		RoomParticipants.WithLabelValues("room-1").Set(3)
		val := testutil.ToFloat64(RoomParticipants.WithLabelValues("room-1"))
		if val != 3 {
			t.Errorf("expected RoomParticipants to be 3, got %v", val)
		}
	})

	t.Run("FramesTotal", func(t *testing.T) {
		FramesTotal.WithLabelValues("offer", "relayed").Inc()
		val := testutil.ToFloat64(FramesTotal.WithLabelValues("offer", "relayed"))
		if val < 1 {
			t.Errorf("expected FramesTotal to be at least 1, got %v", val)
		}
	})

	t.Run("CircuitBreakerState", func(t *testing.T) {
		CircuitBreakerState.WithLabelValues("redis").Set(1)
		val := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("redis"))
		if val != 1 {
			t.Errorf("expected CircuitBreakerState to be 1, got %v", val)
		}
	})

	t.Run("HealthMode", func(t *testing.T) {
		HealthMode.Set(1)
		if val := testutil.ToFloat64(HealthMode); val != 1 {
			t.Errorf("expected HealthMode to be 1, got %v", val)
		}
		HealthMode.Set(0)
	})

	t.Run("ClusterMessagesTotal", func(t *testing.T) {
		ClusterMessagesTotal.WithLabelValues("user_joined", "outbound").Inc()
		val := testutil.ToFloat64(ClusterMessagesTotal.WithLabelValues("user_joined", "outbound"))
		if val < 1 {
			t.Errorf("expected ClusterMessagesTotal to be at least 1, got %v", val)
		}
	})

	t.Run("IncDecConnection", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveConnections)
		IncConnection()
		if after := testutil.ToFloat64(ActiveConnections); after != before+1 {
			t.Errorf("expected ActiveConnections to increment, got %v -> %v", before, after)
		}
		DecConnection()
		if after := testutil.ToFloat64(ActiveConnections); after != before {
			t.Errorf("expected ActiveConnections to decrement back to %v, got %v", before, after)
		}
	})

	t.Run("ActiveRooms", func(t *testing.T) {
		ActiveRooms.Inc()
		ActiveRooms.Dec()
	})
}
