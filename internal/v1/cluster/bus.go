package cluster

import (
	"context"
	"fmt"

	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"github.com/avalonrtc/signalmesh/internal/v1/metrics"
	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Routing plane and observability side channel.
const (
	ChannelMessages = "cluster:messages"
	ChannelEvents   = "cluster:events"
)

// Dispatcher receives cluster-bus messages addressed to this node, already
// filtered and translated into local server-frame deliveries. The composite
// router implements this to fan synthesized membership deltas and forwarded
// signals out to the local registry.
type Dispatcher interface {
	// DeliverUserJoined synthesizes a user-joined server-frame for the
	// room's local connections on this node. See DESIGN.md for why this is
	// scoped to the room rather than fanned out node-wide.
	DeliverUserJoined(roomID string, user protocol.Participant)
	// DeliverUserLeft synthesizes a user-left server-frame for the room's
	// local connections on this node.
	DeliverUserLeft(roomID string, userID uint32)
	// DeliverSignal forwards a cross-node WebRTC signal to toUser's local
	// connection if present; a silent no-op otherwise.
	DeliverSignal(roomID string, fromUser, toUser uint32, signalType string, payload protocol.SignalPayload)
}

// Bus is a single long-lived subscription to ChannelMessages plus a
// publisher used by the composite router to emit membership deltas and
// cross-node signals. It never holds the connection registry itself: all
// delivery goes through the Dispatcher it is constructed with.
type Bus struct {
	store      *Store
	nodeID     string
	dispatcher Dispatcher
}

// NewBus builds a Bus bound to nodeID and the Dispatcher that receives
// locally-addressed messages.
func NewBus(store *Store, nodeID string, dispatcher Dispatcher) *Bus {
	return &Bus{store: store, nodeID: nodeID, dispatcher: dispatcher}
}

// Publish encodes and sends msg on ChannelMessages.
func (b *Bus) Publish(ctx context.Context, msg *protocol.ClusterMessage) error {
	data, err := protocol.EncodeClusterMessage(msg)
	if err != nil {
		return fmt.Errorf("encode cluster message: %w", err)
	}
	if err := b.store.Publish(ctx, ChannelMessages, string(data)); err != nil {
		return fmt.Errorf("publish cluster message: %w", err)
	}
	metrics.ClusterMessagesTotal.WithLabelValues(msg.Type, "out").Inc()
	return nil
}

// Run subscribes to ChannelMessages and dispatches every received message
// until ctx is canceled. Call it from its own goroutine; it blocks.
func (b *Bus) Run(ctx context.Context) {
	sub := b.store.Client().Subscribe(ctx, ChannelMessages)
	defer sub.Close()

	logging.Info(ctx, "subscribed to cluster bus", zap.String("channel", ChannelMessages))
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, m)
		}
	}
}

func (b *Bus) handle(ctx context.Context, m *redis.Message) {
	msg, err := protocol.DecodeClusterMessage([]byte(m.Payload))
	if err != nil {
		logging.Warn(ctx, "dropping malformed cluster message", zap.Error(err))
		return
	}
	metrics.ClusterMessagesTotal.WithLabelValues(msg.Type, "in").Inc()

	switch msg.Type {
	case protocol.ClusterTypeUserJoined:
		if msg.TargetServer != "" && msg.TargetServer != b.nodeID {
			return
		}
		b.dispatcher.DeliverUserJoined(msg.RoomID, protocol.Participant{UserID: msg.UserID, Username: msg.Username})
	case protocol.ClusterTypeUserLeft:
		if msg.TargetServer != "" && msg.TargetServer != b.nodeID {
			return
		}
		b.dispatcher.DeliverUserLeft(msg.RoomID, msg.UserID)
	case protocol.ClusterTypeWebRTCSignal:
		if msg.ToUser == 0 {
			return
		}
		b.dispatcher.DeliverSignal(msg.RoomID, msg.FromUser, msg.ToUser, msg.SignalType, protocol.DecodeSignalPayload(msg.SignalData))
	case protocol.ClusterTypeServerHeartbeat:
		// Reserved for observability; no peer action taken.
	}
}
