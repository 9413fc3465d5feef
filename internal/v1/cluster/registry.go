package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
)

// hashStore is the subset of Store the registry depends on. Satisfied by
// *Store; narrowed here so registry tests can fake it without dialing Redis.
type hashStore interface {
	HSet(ctx context.Context, hash, field, value string) error
	HGet(ctx context.Context, hash, field string) (string, bool, error)
	HDel(ctx context.Context, hash, field string) error
	HGetAll(ctx context.Context, hash string) (map[string]string, error)
	HExists(ctx context.Context, hash, field string) (bool, error)
}

// ConnectionInfo mirrors an active local connection in the shared store so
// other nodes can resolve usernames and detect stale registrations.
type ConnectionInfo struct {
	UserID       uint32    `json:"user_id"`
	Username     string    `json:"username"`
	RoomID       string    `json:"room_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	ConnectionID string    `json:"connection_id"`
}

// Registry is the shared-store view of room→user→owning-node and
// node→user→ConnectionInfo mapping. It never holds
// transport endpoints; it only records who is where.
type Registry struct {
	store hashStore
}

// NewRegistry builds a Registry over store.
func NewRegistry(store hashStore) *Registry {
	return &Registry{store: store}
}

func roomsKey(room string) string {
	return fmt.Sprintf("rooms:%s:participants", room)
}

func serverKey(node string) string {
	return fmt.Sprintf("servers:%s:connections", node)
}

// RegisterUser records that userID owns a participant slot in room on
// nodeID, and stores connection metadata under that node's connections
// hash. Both writes are required; if either fails the caller falls back to
// the local registry.
func (r *Registry) RegisterUser(ctx context.Context, room string, userID uint32, username, nodeID, connectionID string) error {
	if err := r.store.HSet(ctx, roomsKey(room), fmt.Sprint(userID), nodeID); err != nil {
		return fmt.Errorf("register user in room participants: %w", err)
	}

	info := ConnectionInfo{
		UserID:       userID,
		Username:     username,
		RoomID:       room,
		ConnectedAt:  time.Now().UTC(),
		ConnectionID: connectionID,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal connection info: %w", err)
	}
	if err := r.store.HSet(ctx, serverKey(nodeID), fmt.Sprint(userID), string(data)); err != nil {
		return fmt.Errorf("register user connection info: %w", err)
	}
	return nil
}

// UnregisterUser removes userID's room-participant entry and its connection
// metadata on nodeID.
func (r *Registry) UnregisterUser(ctx context.Context, room string, userID uint32, nodeID string) error {
	if err := r.store.HDel(ctx, roomsKey(room), fmt.Sprint(userID)); err != nil {
		return fmt.Errorf("unregister user from room participants: %w", err)
	}
	if err := r.store.HDel(ctx, serverKey(nodeID), fmt.Sprint(userID)); err != nil {
		return fmt.Errorf("unregister user connection info: %w", err)
	}
	return nil
}

// Participants reads the full participants hash for room, then resolves
// each user's username via its owning node's connections hash. A user_id
// whose owning node has no matching connection entry (a window of
// eventual-consistency between the two RegisterUser writes) is skipped.
func (r *Registry) Participants(ctx context.Context, room string) ([]protocol.Participant, error) {
	owners, err := r.store.HGetAll(ctx, roomsKey(room))
	if err != nil {
		return nil, fmt.Errorf("read room participants: %w", err)
	}

	out := make([]protocol.Participant, 0, len(owners))
	for field, nodeID := range owners {
		var userID uint32
		if _, err := fmt.Sscan(field, &userID); err != nil {
			continue
		}
		raw, ok, err := r.store.HGet(ctx, serverKey(nodeID), field)
		if err != nil || !ok {
			continue
		}
		var info ConnectionInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			continue
		}
		out = append(out, protocol.Participant{UserID: userID, Username: info.Username})
	}
	return out, nil
}

// OwnerOf returns the node owning userID's participation in room, or
// ("", false, nil) if no owner is recorded.
func (r *Registry) OwnerOf(ctx context.Context, room string, userID uint32) (string, bool, error) {
	node, ok, err := r.store.HGet(ctx, roomsKey(room), fmt.Sprint(userID))
	if err != nil {
		return "", false, fmt.Errorf("read room owner: %w", err)
	}
	return node, ok, nil
}

// UserInRoom reports whether userID has a recorded owner in room.
func (r *Registry) UserInRoom(ctx context.Context, room string, userID uint32) (bool, error) {
	exists, err := r.store.HExists(ctx, roomsKey(room), fmt.Sprint(userID))
	if err != nil {
		return false, fmt.Errorf("check room membership: %w", err)
	}
	return exists, nil
}

// ConnectionInfoFor reads the stored ConnectionInfo for userID on nodeID.
// Used by the composite router's remove_user_from_all_rooms to check the
// stored connection id matches before cascading a cluster-wide removal.
func (r *Registry) ConnectionInfoFor(ctx context.Context, nodeID string, userID uint32) (*ConnectionInfo, bool, error) {
	raw, ok, err := r.store.HGet(ctx, serverKey(nodeID), fmt.Sprint(userID))
	if err != nil {
		return nil, false, fmt.Errorf("read connection info: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var info ConnectionInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, false, fmt.Errorf("unmarshal connection info: %w", err)
	}
	return &info, true, nil
}
