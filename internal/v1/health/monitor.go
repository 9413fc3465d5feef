package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"github.com/avalonrtc/signalmesh/internal/v1/metrics"
	"go.uber.org/zap"
)

const (
	pingInterval      = 5 * time.Second
	heartbeatInterval = 10 * time.Second
)

// Heartbeater is the subset of the shared store the heartbeat task depends
// on: writing a TTL'd liveness key and announcing it on the events channel.
type Heartbeater interface {
	WriteHeartbeat(ctx context.Context, nodeID string, connectionCount int) error
}

// Store is the shared-store surface the monitor needs. Satisfied by
// *cluster.Store.
type Store interface {
	Pinger
	Heartbeater
}

// Monitor pings the shared store every 5 seconds and toggles an atomic mode
// flag consulted by the composite router at the start of every operation.
// It also runs the 10-second heartbeat task. A nil store (single-node mode)
// makes the monitor permanently report Healthy and skips both tickers.
type Monitor struct {
	store     Store
	nodeID    string
	connCount func() int

	healthy atomic.Bool
}

// NewMonitor builds a Monitor. connCount reports the number of locally
// connected users at heartbeat time; it may be nil if unavailable.
func NewMonitor(store Store, nodeID string, connCount func() int) *Monitor {
	m := &Monitor{store: store, nodeID: nodeID, connCount: connCount}
	m.healthy.Store(true)
	return m
}

// Healthy reports the current mode: true means the composite router should
// use the cluster registry and bus; false means Degraded (local-only).
func (m *Monitor) Healthy() bool {
	if m.store == nil {
		return true
	}
	return m.healthy.Load()
}

// Run blocks, driving the ping and heartbeat tickers until ctx is canceled.
// Call it from its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	if m.store == nil {
		metrics.HealthMode.Set(0)
		<-ctx.Done()
		return
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	m.heartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			m.ping(ctx)
		case <-heartbeatTicker.C:
			m.heartbeat(ctx)
		}
	}
}

func (m *Monitor) ping(ctx context.Context) {
	err := m.store.Ping(ctx)
	wasHealthy := m.healthy.Load()

	switch {
	case err != nil && wasHealthy:
		m.healthy.Store(false)
		metrics.HealthMode.Set(1)
		logging.Warn(ctx, "shared store unreachable, entering degraded mode", zap.Error(err))
	case err == nil && !wasHealthy:
		m.healthy.Store(true)
		metrics.HealthMode.Set(0)
		logging.Info(ctx, "shared store reachable again, leaving degraded mode")
	}
}

func (m *Monitor) heartbeat(ctx context.Context) {
	count := 0
	if m.connCount != nil {
		count = m.connCount()
	}
	if err := m.store.WriteHeartbeat(ctx, m.nodeID, count); err != nil {
		logging.Warn(ctx, "failed to write heartbeat", zap.Error(err))
	}
}
