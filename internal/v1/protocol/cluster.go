package protocol

import (
	"encoding/json"
	"fmt"
)

// Cluster-bus message type tags, published on the "cluster:messages" and
// "cluster:events" channels.
const (
	ClusterTypeUserJoined      = "UserJoined"
	ClusterTypeUserLeft        = "UserLeft"
	ClusterTypeWebRTCSignal    = "WebRTCSignal"
	ClusterTypeServerHeartbeat = "ServerHeartbeat"
)

// ClusterMessage is the envelope for every frame exchanged between nodes
// over the shared store's pub/sub channels.
type ClusterMessage struct {
	Type string `json:"type"`

	// UserJoined / UserLeft
	RoomID       string `json:"room_id,omitempty"`
	UserID       uint32 `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	TargetServer string `json:"target_server,omitempty"`

	// WebRTCSignal
	FromUser   uint32 `json:"from_user,omitempty"`
	ToUser     uint32 `json:"to_user,omitempty"`
	SignalType string `json:"signal_type,omitempty"`
	SignalData string `json:"signal_data,omitempty"`

	// ServerHeartbeat
	NodeID          string `json:"node_id,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	ConnectionCount int    `json:"connection_count,omitempty"`
}

// EncodeClusterMessage serializes a ClusterMessage for publication.
func EncodeClusterMessage(m *ClusterMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeClusterMessage parses a payload received on a cluster channel.
// Unknown types are a parse error, consistent with the client-facing codec.
func DecodeClusterMessage(data []byte) (*ClusterMessage, error) {
	m := &ClusterMessage{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("malformed cluster message: %w", err)
	}
	switch m.Type {
	case ClusterTypeUserJoined, ClusterTypeUserLeft, ClusterTypeWebRTCSignal, ClusterTypeServerHeartbeat:
	default:
		return nil, fmt.Errorf("unknown cluster message type %q", m.Type)
	}
	return m, nil
}

// NewUserJoined builds a UserJoined cluster-bus message.
func NewUserJoined(roomID string, userID uint32, username string) *ClusterMessage {
	return &ClusterMessage{Type: ClusterTypeUserJoined, RoomID: roomID, UserID: userID, Username: username}
}

// NewUserLeft builds a UserLeft cluster-bus message.
func NewUserLeft(roomID string, userID uint32) *ClusterMessage {
	return &ClusterMessage{Type: ClusterTypeUserLeft, RoomID: roomID, UserID: userID}
}

// NewWebRTCSignal builds a cross-node targeted signaling message. signalType
// must be one of offer/answer/ice-candidate.
func NewWebRTCSignal(roomID string, fromUser, toUser uint32, signalType, signalData string) *ClusterMessage {
	return &ClusterMessage{
		Type:       ClusterTypeWebRTCSignal,
		RoomID:     roomID,
		FromUser:   fromUser,
		ToUser:     toUser,
		SignalType: signalType,
		SignalData: signalData,
	}
}

// NewServerHeartbeat builds a heartbeat announcement for cluster:events.
func NewServerHeartbeat(nodeID string, timestamp int64, connectionCount int) *ClusterMessage {
	return &ClusterMessage{
		Type:            ClusterTypeServerHeartbeat,
		NodeID:          nodeID,
		Timestamp:       timestamp,
		ConnectionCount: connectionCount,
	}
}

// SignalPayload is the JSON shape packed into a WebRTCSignal's SignalData
// field, carrying the full offer/answer/ice-candidate payload (not just the
// SDP string) across the cluster bus.
type SignalPayload struct {
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
}

// EncodeSignalPayload serializes a SignalPayload for use as SignalData.
func EncodeSignalPayload(p SignalPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode signal payload: %w", err)
	}
	return string(data), nil
}

// DecodeSignalPayload parses SignalData back into its fields. A payload
// that isn't valid JSON is treated as a bare SDP string for backward
// compatibility with callers that publish SignalData directly.
func DecodeSignalPayload(data string) SignalPayload {
	var p SignalPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return SignalPayload{SDP: data}
	}
	return p
}
