package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
)

const heartbeatTTL = 30 * time.Second

// heartbeatStore is the subset of Store the heartbeat writer needs.
type heartbeatStore interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Publish(ctx context.Context, channel, payload string) error
}

// WriteHeartbeat implements health.Heartbeater: it writes
// servers:<node>:heartbeat with a 30-second TTL and announces the same
// liveness fact on the cluster:events channel for observability, per
// the health monitor's liveness ticker.
func (s *Store) WriteHeartbeat(ctx context.Context, nodeID string, connectionCount int) error {
	return writeHeartbeat(ctx, s, nodeID, connectionCount)
}

func writeHeartbeat(ctx context.Context, store heartbeatStore, nodeID string, connectionCount int) error {
	now := time.Now().UTC().Unix()
	key := fmt.Sprintf("servers:%s:heartbeat", nodeID)
	if err := store.SetWithTTL(ctx, key, fmt.Sprint(now), heartbeatTTL); err != nil {
		return fmt.Errorf("write heartbeat key: %w", err)
	}

	msg := protocol.NewServerHeartbeat(nodeID, now, connectionCount)
	data, err := protocol.EncodeClusterMessage(msg)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	if err := store.Publish(ctx, ChannelEvents, string(data)); err != nil {
		return fmt.Errorf("publish heartbeat: %w", err)
	}
	return nil
}
