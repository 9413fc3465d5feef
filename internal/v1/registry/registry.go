// Package registry holds the per-node local room registry: which users are
// connected to this node, and how to reach them. It never talks to the
// shared store; that is the cluster package's job.
package registry

import (
	"errors"
	"sync"

	"github.com/avalonrtc/signalmesh/internal/v1/auth"
	"github.com/avalonrtc/signalmesh/internal/v1/metrics"
	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
	"github.com/google/uuid"
	"k8s.io/utils/set"
)

// Errors returned by registry operations. Callers convert these into
// client-visible protocol.ErrorFrame values; the registry itself never
// touches the wire format.
var (
	ErrDuplicateJoin = errors.New("user already joined this room")
	ErrNotJoined     = errors.New("user has not joined this room")
)

const outboundBufferSize = 64

// Connection is a per-stream record. The registry holds a non-owning
// reference to it (a handle for producing outbound frames); the handler
// that accepted the stream is the sole owner and sole consumer of Outbound.
// Outbound is never closed: fan-out producers send after the registry lock
// is released, so a Send racing teardown parks in the buffer or drops.
type Connection struct {
	User         auth.AuthenticatedUser
	ConnectionID string
	Outbound     chan *protocol.ServerFrame
}

// NewConnection allocates a Connection with a fresh connection id and a
// bounded outbound queue.
func NewConnection(user auth.AuthenticatedUser) *Connection {
	return &Connection{
		User:         user,
		ConnectionID: uuid.NewString(),
		Outbound:     make(chan *protocol.ServerFrame, outboundBufferSize),
	}
}

// Send enqueues frame without blocking. Returns false if the outbound queue
// is full, in which case the frame is dropped for this recipient only: a
// slow consumer must never block delivery to other participants.
func (c *Connection) Send(frame *protocol.ServerFrame) bool {
	select {
	case c.Outbound <- frame:
		return true
	default:
		return false
	}
}

type room struct {
	name         string
	participants map[uint32]*Connection
}

// Registry is the local per-node room → participant index. A single
// coarse mutex guards the mapping: write-lock for mutations, read-lock for
// fan-out and lookups. The lock is never held across a transport write:
// fan-out snapshots the recipient list, releases the lock, then sends.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// InsertLocal creates the room if absent, refuses a duplicate user_id, and
// inserts conn without broadcasting anything. Used by the composite router
// when Healthy: the user-joined delta travels over the cluster bus instead,
// and this node's own bus subscription delivers the local notification via
// the same round trip every other node gets, so a direct broadcast here
// would deliver it twice. Join (below) is the broadcasting counterpart,
// used when no bus round trip is available to do that job instead.
func (r *Registry) InsertLocal(roomName string, conn *Connection) ([]protocol.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		rm = &room{name: roomName, participants: make(map[uint32]*Connection)}
		r.rooms[roomName] = rm
	}
	if _, exists := rm.participants[conn.User.UserID]; exists {
		return nil, ErrDuplicateJoin
	}

	existing := snapshotParticipants(rm)
	rm.participants[conn.User.UserID] = conn
	metrics.RoomParticipants.WithLabelValues(roomName).Set(float64(len(rm.participants)))
	if len(rm.participants) == 1 {
		metrics.ActiveRooms.Inc()
	}
	return existing, nil
}

// Join creates the room if absent, refuses a duplicate user_id, inserts the
// connection, and broadcasts user-joined to every other participant. It
// returns the participant list as it stood immediately before insertion.
func (r *Registry) Join(roomName string, conn *Connection) ([]protocol.Participant, error) {
	existing, err := r.InsertLocal(roomName, conn)
	if err != nil {
		return nil, err
	}
	r.Broadcast(roomName, conn.User.UserID, protocol.UserJoinedFrame(roomName, protocol.Participant{
		UserID:   conn.User.UserID,
		Username: conn.User.Username,
	}))
	return existing, nil
}

// RemoveLocal removes userID from roomName without broadcasting anything,
// returning every connection that was in the room immediately before
// removal (including the departing one), for a caller that needs to notify
// them itself as a fallback when no bus round trip will do it instead.
func (r *Registry) RemoveLocal(roomName string, userID uint32) ([]*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil, ErrNotJoined
	}
	if _, exists := rm.participants[userID]; !exists {
		return nil, ErrNotJoined
	}

	all := snapshotConnections(rm)
	delete(rm.participants, userID)
	remaining := len(rm.participants)
	if remaining == 0 {
		delete(r.rooms, roomName)
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(roomName)
	} else {
		metrics.RoomParticipants.WithLabelValues(roomName).Set(float64(remaining))
	}
	return all, nil
}

// Leave removes userID from roomName and broadcasts user-left to every
// remaining participant, including the leaving user itself: the broadcast
// fires before the removal is externally acknowledged.
func (r *Registry) Leave(roomName string, userID uint32) error {
	all, err := r.RemoveLocal(roomName, userID)
	if err != nil {
		return err
	}
	frame := protocol.UserLeftFrame(roomName, userID)
	for _, c := range all {
		c.Send(frame)
	}
	return nil
}

// Broadcast sends frame to every participant of roomName except senderID.
func (r *Registry) Broadcast(roomName string, senderID uint32, frame *protocol.ServerFrame) {
	r.mu.RLock()
	rm, ok := r.rooms[roomName]
	if !ok {
		r.mu.RUnlock()
		return
	}
	others := otherConnections(rm, senderID)
	r.mu.RUnlock()

	for _, c := range others {
		c.Send(frame)
	}
}

// BroadcastAll sends frame to every local participant of roomName, with no
// sender exclusion. Used to fan out membership deltas synthesized from a
// remote node's cluster-bus message, where there is no local sender to
// exclude. A silent no-op if the room has no local participants.
func (r *Registry) BroadcastAll(roomName string, frame *protocol.ServerFrame) {
	r.mu.RLock()
	rm, ok := r.rooms[roomName]
	if !ok {
		r.mu.RUnlock()
		return
	}
	all := snapshotConnections(rm)
	r.mu.RUnlock()

	for _, c := range all {
		c.Send(frame)
	}
}

// SendToUser delivers frame to userID's connection in roomName if local.
// Returns false as a silent no-op when the user is not local in that room;
// the composite router is responsible for cross-node routing in that case.
func (r *Registry) SendToUser(roomName string, userID uint32, frame *protocol.ServerFrame) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomName]
	if !ok {
		r.mu.RUnlock()
		return false
	}
	conn, ok := rm.participants[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.Send(frame)
}

// UserInRoom reports whether userID is a local participant of roomName.
func (r *Registry) UserInRoom(roomName string, userID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomName]
	if !ok {
		return false
	}
	_, ok = rm.participants[userID]
	return ok
}

// Participants returns the local participant list of roomName.
func (r *Registry) Participants(roomName string) []protocol.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomName]
	if !ok {
		return nil
	}
	return snapshotParticipants(rm)
}

// RoomRemoval describes one room's worth of fallout from a multi-room
// removal: the room name, and every connection that was in it immediately
// before removal (including the departing one).
type RoomRemoval struct {
	Name       string
	Recipients []*Connection
}

func (r *Registry) removeFromAllRooms(userID uint32, connectionID string) []RoomRemoval {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removals []RoomRemoval
	for name, rm := range r.rooms {
		conn, ok := rm.participants[userID]
		if !ok || conn.ConnectionID != connectionID {
			continue
		}
		all := snapshotConnections(rm)
		delete(rm.participants, userID)
		remaining := len(rm.participants)
		if remaining == 0 {
			delete(r.rooms, name)
			metrics.ActiveRooms.Dec()
			metrics.RoomParticipants.DeleteLabelValues(name)
		} else {
			metrics.RoomParticipants.WithLabelValues(name).Set(float64(remaining))
		}
		removals = append(removals, RoomRemoval{Name: name, Recipients: all})
	}
	return removals
}

// RemoveLocalFromAllRooms removes every entry across all rooms whose stored
// connection id matches connectionID for userID, without broadcasting
// anything. Used by the composite router when Healthy, where the bus
// round trip (or an explicit fallback on publish failure) is responsible
// for notifying the rooms' participants instead.
func (r *Registry) RemoveLocalFromAllRooms(userID uint32, connectionID string) []RoomRemoval {
	return r.removeFromAllRooms(userID, connectionID)
}

// RemoveUserFromAllRooms removes every entry across all rooms whose stored
// connection id matches connectionID for userID, and broadcasts user-left
// to each room's remaining participants. A replaced connection for the
// same user (different connection id) is left untouched, so a concurrent
// re-login does not cascade-remove the live connection.
func (r *Registry) RemoveUserFromAllRooms(userID uint32, connectionID string) {
	removals := r.removeFromAllRooms(userID, connectionID)

	for _, rem := range removals {
		frame := protocol.UserLeftFrame(rem.Name, userID)
		for _, c := range rem.Recipients {
			c.Send(frame)
		}
	}
}

// ConnectionCount returns the number of distinct local connections across
// all rooms. A connection joined to several rooms is counted once, by its
// connection id; a connection that has not joined any room is not counted.
// The health monitor reports this count in its heartbeat.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := set.New[string]()
	for _, rm := range r.rooms {
		for _, c := range rm.participants {
			seen.Insert(c.ConnectionID)
		}
	}
	return seen.Len()
}

func snapshotParticipants(rm *room) []protocol.Participant {
	out := make([]protocol.Participant, 0, len(rm.participants))
	for uid, c := range rm.participants {
		out = append(out, protocol.Participant{UserID: uid, Username: c.User.Username})
	}
	return out
}

func snapshotConnections(rm *room) []*Connection {
	out := make([]*Connection, 0, len(rm.participants))
	for _, c := range rm.participants {
		out = append(out, c)
	}
	return out
}

func otherConnections(rm *room, exceptUserID uint32) []*Connection {
	out := make([]*Connection, 0, len(rm.participants))
	for uid, c := range rm.participants {
		if uid == exceptUserID {
			continue
		}
		out = append(out, c)
	}
	return out
}
