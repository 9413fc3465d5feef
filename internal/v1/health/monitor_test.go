package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	fakePinger
	heartbeats atomic.Int32
	hbErr      error
}

func (f *fakeStore) WriteHeartbeat(ctx context.Context, nodeID string, connectionCount int) error {
	f.heartbeats.Add(1)
	return f.hbErr
}

func TestMonitor_NilStoreAlwaysHealthy(t *testing.T) {
	m := NewMonitor(nil, "node-1", nil)
	assert.True(t, m.Healthy())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m.Run(ctx)
	assert.True(t, m.Healthy())
}

func TestMonitor_PingTransitionsToDegradedAndBack(t *testing.T) {
	store := &fakeStore{}
	m := NewMonitor(store, "node-1", nil)
	assert.True(t, m.Healthy())

	store.err = errors.New("down")
	m.ping(context.Background())
	assert.False(t, m.Healthy())

	store.err = nil
	m.ping(context.Background())
	assert.True(t, m.Healthy())
}

func TestMonitor_HeartbeatWritesAndCountsConnections(t *testing.T) {
	store := &fakeStore{}
	calls := 0
	m := NewMonitor(store, "node-1", func() int {
		calls++
		return 7
	})

	m.heartbeat(context.Background())

	assert.Equal(t, int32(1), store.heartbeats.Load())
	assert.Equal(t, 1, calls)
}

func TestMonitor_HeartbeatErrorDoesNotPanic(t *testing.T) {
	store := &fakeStore{hbErr: errors.New("write failed")}
	m := NewMonitor(store, "node-1", nil)

	assert.NotPanics(t, func() {
		m.heartbeat(context.Background())
	})
}
