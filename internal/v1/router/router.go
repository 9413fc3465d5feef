// Package router implements the composite router: a facade combining the
// local registry and the cluster registry/bus, selecting between them based
// on the health monitor's mode flag. Its two collaborators share no
// supertype: the local side is the concrete *registry.Registry, the cluster
// side is reached through the narrow ClusterRegistry and Bus interfaces, and
// the mode flag is read through HealthGate.
package router

import (
	"context"

	"github.com/avalonrtc/signalmesh/internal/v1/cluster"
	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
	"github.com/avalonrtc/signalmesh/internal/v1/registry"
	"go.uber.org/zap"
)

// ClusterRegistry is the subset of cluster.Registry the router depends on.
// Narrowed to an interface so tests can substitute a fake without dialing
// Redis even via miniredis.
type ClusterRegistry interface {
	RegisterUser(ctx context.Context, room string, userID uint32, username, nodeID, connectionID string) error
	UnregisterUser(ctx context.Context, room string, userID uint32, nodeID string) error
	Participants(ctx context.Context, room string) ([]protocol.Participant, error)
	OwnerOf(ctx context.Context, room string, userID uint32) (string, bool, error)
	UserInRoom(ctx context.Context, room string, userID uint32) (bool, error)
	ConnectionInfoFor(ctx context.Context, nodeID string, userID uint32) (*cluster.ConnectionInfo, bool, error)
}

// Bus is the subset of cluster.Bus the router depends on for publishing.
type Bus interface {
	Publish(ctx context.Context, msg *protocol.ClusterMessage) error
}

// HealthGate reports whether the shared store is currently reachable. The
// router consults it at the start of every operation.
type HealthGate interface {
	Healthy() bool
}

// Router is the composite facade. It is constructed once at startup and
// passed explicitly to every connection handler: the only process-wide
// state besides the mode flag it reads through HealthGate.
type Router struct {
	local   *registry.Registry
	cluster ClusterRegistry
	bus     Bus
	health  HealthGate
	nodeID  string
}

// New builds a Router. cluster and bus may both be nil, in which case the
// router behaves as if permanently Degraded (single-node mode, cluster
// mode disabled).
func New(local *registry.Registry, clusterRegistry ClusterRegistry, bus Bus, health HealthGate, nodeID string) *Router {
	return &Router{local: local, cluster: clusterRegistry, bus: bus, health: health, nodeID: nodeID}
}

// Local exposes the local registry.
func (r *Router) Local() *registry.Registry {
	return r.local
}

// SetBus attaches the cluster bus after construction. The bus and the
// router are mutually dependent at startup (the bus dispatches inbound
// cluster messages back into the router; the router publishes outbound
// ones on the bus), so the process entrypoint builds the router first with
// a nil bus, constructs the bus around it as a cluster.Dispatcher, then
// calls SetBus once both exist.
func (r *Router) SetBus(bus Bus) {
	r.bus = bus
}

func (r *Router) healthy() bool {
	return r.cluster != nil && r.bus != nil && r.health != nil && r.health.Healthy()
}

// JoinRoom always records the connection locally. When Degraded it uses the
// local registry's broadcasting join, which is the only notification path
// available. When Healthy it uses the registry's non-broadcasting insert
// instead and registers with the cluster, publishing a UserJoined delta: the
// cluster bus round-trips that delta back to this node's own subscription,
// so the local participants are notified exactly once. If the cluster step
// fails partway, it falls back to a direct local broadcast so the insert is
// never silently unannounced.
func (r *Router) JoinRoom(ctx context.Context, room string, conn *registry.Connection) ([]protocol.Participant, error) {
	if !r.healthy() {
		return r.local.Join(room, conn)
	}

	existing, err := r.local.InsertLocal(room, conn)
	if err != nil {
		return nil, err
	}

	joinedFrame := protocol.UserJoinedFrame(room, protocol.Participant{
		UserID:   conn.User.UserID,
		Username: conn.User.Username,
	})

	clusterExisting, err := r.cluster.Participants(ctx, room)
	if err != nil {
		logging.Warn(ctx, "cluster participants lookup failed, falling back to local broadcast", zap.Error(err), zap.String("room", room))
		r.local.Broadcast(room, conn.User.UserID, joinedFrame)
		return existing, nil
	}

	if err := r.cluster.RegisterUser(ctx, room, conn.User.UserID, conn.User.Username, r.nodeID, conn.ConnectionID); err != nil {
		logging.Warn(ctx, "cluster registration failed, falling back to local broadcast", zap.Error(err), zap.String("room", room))
		r.local.Broadcast(room, conn.User.UserID, joinedFrame)
		return existing, nil
	}

	if err := r.bus.Publish(ctx, protocol.NewUserJoined(room, conn.User.UserID, conn.User.Username)); err != nil {
		logging.Warn(ctx, "failed to publish user-joined, falling back to local broadcast", zap.Error(err), zap.String("room", room))
		r.local.Broadcast(room, conn.User.UserID, joinedFrame)
	}

	return filterSelf(clusterExisting, conn.User.UserID), nil
}

// LeaveRoom always removes from the local registry. When Degraded it uses
// the registry's broadcasting leave; when Healthy it uses the
// non-broadcasting removal and relies on the cluster bus round-trip to
// notify local participants, falling back to a direct notify if the
// cluster step fails.
func (r *Router) LeaveRoom(ctx context.Context, room string, userID uint32) error {
	if !r.healthy() {
		return r.local.Leave(room, userID)
	}

	all, err := r.local.RemoveLocal(room, userID)
	if err != nil {
		return err
	}

	notifyLocal := func() {
		frame := protocol.UserLeftFrame(room, userID)
		for _, c := range all {
			c.Send(frame)
		}
	}

	if err := r.cluster.UnregisterUser(ctx, room, userID, r.nodeID); err != nil {
		logging.Warn(ctx, "cluster unregister failed, falling back to local notify", zap.Error(err), zap.String("room", room))
		notifyLocal()
		return nil
	}
	if err := r.bus.Publish(ctx, protocol.NewUserLeft(room, userID)); err != nil {
		logging.Warn(ctx, "failed to publish user-left, falling back to local notify", zap.Error(err), zap.String("room", room))
		notifyLocal()
	}
	return nil
}

// SendToUserInRoom tries the local fast path first, then falls back to a
// cluster-targeted publish for signaling frames, else a silent no-op.
func (r *Router) SendToUserInRoom(ctx context.Context, room string, targetUserID uint32, frame *protocol.ServerFrame) {
	if r.local.SendToUser(room, targetUserID, frame) {
		return
	}

	if !r.healthy() {
		return
	}
	if !protocol.IsSignalType(frame.Type) {
		return
	}

	owner, ok, err := r.cluster.OwnerOf(ctx, room, targetUserID)
	if err != nil {
		logging.Warn(ctx, "cluster owner lookup failed", zap.Error(err), zap.String("room", room))
		return
	}
	if !ok {
		return
	}

	payload, err := protocol.EncodeSignalPayload(protocol.SignalPayload{
		SDP:           frame.SDP,
		Candidate:     frame.Candidate,
		SDPMid:        frame.SDPMid,
		SDPMLineIndex: frame.SDPMLineIndex,
	})
	if err != nil {
		logging.Warn(ctx, "failed to encode signal payload", zap.Error(err))
		return
	}

	msg := protocol.NewWebRTCSignal(room, frame.FromUserID, targetUserID, frame.Type, payload)
	msg.TargetServer = owner
	if err := r.bus.Publish(ctx, msg); err != nil {
		logging.Warn(ctx, "failed to publish signal", zap.Error(err), zap.String("room", room))
	}
}

// BroadcastToRoom delegates to the local registry. Cluster-wide fan-out of
// arbitrary broadcasts is not implemented; only targeted signaling crosses
// nodes.
func (r *Router) BroadcastToRoom(room string, senderID uint32, frame *protocol.ServerFrame) {
	r.local.Broadcast(room, senderID, frame)
}

// UserInRoom reports local membership when Degraded, else the cluster view.
func (r *Router) UserInRoom(ctx context.Context, room string, userID uint32) bool {
	if r.local.UserInRoom(room, userID) {
		return true
	}
	if !r.healthy() {
		return false
	}
	in, err := r.cluster.UserInRoom(ctx, room, userID)
	if err != nil {
		logging.Warn(ctx, "cluster membership check failed", zap.Error(err), zap.String("room", room))
		return false
	}
	return in
}

// RemoveUserFromAllRooms always does a local removal matched by
// connectionID, across every room the connection was in. When Degraded it
// broadcasts each room's removal directly, the only notification path
// available. When Healthy it skips the direct broadcast for whichever
// single room the cluster round-trip will cover instead (gated on the
// stored ConnectionInfo.ConnectionID matching, so a replaced connection for
// the same user is never cascade-removed by a stale cleanup), and notifies
// every other affected room directly, since the cluster only tracks one
// room per user.
func (r *Router) RemoveUserFromAllRooms(ctx context.Context, userID uint32, connectionID string) {
	if !r.healthy() {
		r.local.RemoveUserFromAllRooms(userID, connectionID)
		return
	}

	removals := r.local.RemoveLocalFromAllRooms(userID, connectionID)

	var clusterRoom string
	clusterHandled := false

	info, ok, err := r.cluster.ConnectionInfoFor(ctx, r.nodeID, userID)
	if err != nil {
		logging.Warn(ctx, "cluster connection info lookup failed", zap.Error(err))
	} else if ok && info.ConnectionID == connectionID {
		clusterRoom = info.RoomID
		if err := r.cluster.UnregisterUser(ctx, info.RoomID, userID, r.nodeID); err != nil {
			logging.Warn(ctx, "cluster cleanup unregister failed", zap.Error(err))
		} else if err := r.bus.Publish(ctx, protocol.NewUserLeft(info.RoomID, userID)); err != nil {
			logging.Warn(ctx, "failed to publish cleanup user-left", zap.Error(err))
		} else {
			clusterHandled = true
		}
	}

	for _, rem := range removals {
		if clusterHandled && rem.Name == clusterRoom {
			continue
		}
		frame := protocol.UserLeftFrame(rem.Name, userID)
		for _, c := range rem.Recipients {
			c.Send(frame)
		}
	}
}

// DeliverUserJoined implements cluster.Dispatcher. It fans the delta out
// only to local connections of roomID, rather than over-delivering to every
// local connection on the node, and excludes the joiner itself: when the
// join originated here, the bus round-trips the delta back to this node and
// the joining client already has its room-joined response. See DESIGN.md.
func (r *Router) DeliverUserJoined(roomID string, user protocol.Participant) {
	r.local.Broadcast(roomID, user.UserID, protocol.UserJoinedFrame(roomID, user))
}

// DeliverUserLeft implements cluster.Dispatcher, room-scoped for the same
// reason as DeliverUserJoined.
func (r *Router) DeliverUserLeft(roomID string, userID uint32) {
	r.local.BroadcastAll(roomID, protocol.UserLeftFrame(roomID, userID))
}

// DeliverSignal implements cluster.Dispatcher: forwards a cross-node signal
// to its local target, carrying the real room id through rather than a
// placeholder value.
func (r *Router) DeliverSignal(roomID string, fromUser, toUser uint32, signalType string, payload protocol.SignalPayload) {
	frame := protocol.SignalFrame(signalType, roomID, fromUser, payload.SDP, payload.Candidate, payload.SDPMid, payload.SDPMLineIndex)
	r.local.SendToUser(roomID, toUser, frame)
}

func filterSelf(participants []protocol.Participant, selfID uint32) []protocol.Participant {
	out := make([]protocol.Participant, 0, len(participants))
	for _, p := range participants {
		if p.UserID == selfID {
			continue
		}
		out = append(out, p)
	}
	return out
}
