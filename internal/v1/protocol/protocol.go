// Package protocol defines the JSON wire frames exchanged with clients and
// the internal messages carried on the cluster bus. Every frame is
// discriminated by a lowercase-hyphenated "type" field; field names are
// camelCase; optional fields are simply absent rather than null.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client→server frame type tags.
const (
	TypeAuth         = "auth"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Server→client frame type tags (TypeOffer/TypeAnswer/TypeICECandidate are
// shared with the client→server set; the field sets differ).
const (
	TypeAuthenticated = "authenticated"
	TypeRoomJoined    = "room-joined"
	TypeRoomLeft      = "room-left"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeError         = "error"
)

// Participant is the public projection of an authenticated user exposed to
// peers in the same room.
type Participant struct {
	UserID   uint32 `json:"userId"`
	Username string `json:"username"`
}

// envelope is used only to sniff the "type" tag before decoding the rest of
// a client frame into its concrete shape.
type envelope struct {
	Type string `json:"type"`
}

// ClientFrame is the decoded form of any client→server message. Exactly one
// of the payload fields is meaningful, selected by Type.
type ClientFrame struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// join-room / leave-room / offer / answer / ice-candidate
	RoomName string `json:"roomName,omitempty"`
	Password string `json:"password,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// ice-candidate
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`

	// offer / answer / ice-candidate: absent means "broadcast to room"
	TargetUserID *uint32 `json:"targetUserId,omitempty"`
}

// DecodeClientFrame parses a single inbound JSON frame. An unrecognized
// "type" value is a parse error, not a silent drop.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case TypeAuth, TypeJoinRoom, TypeLeaveRoom, TypeOffer, TypeAnswer, TypeICECandidate:
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}

	frame := &ClientFrame{}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", env.Type, err)
	}
	frame.Type = env.Type
	return frame, nil
}

// ServerFrame is the outbound counterpart. Construction helpers below build
// one for each tag so callers cannot mismatch Type against populated fields.
type ServerFrame struct {
	Type string `json:"type"`

	// authenticated
	UserID   uint32 `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	// room-joined / room-left / user-joined / user-left. Participants uses
	// omitzero, not omitempty: a room-joined frame must carry an empty list
	// as [] on the wire, while frames that never set it omit the key.
	RoomName     string        `json:"roomName,omitempty"`
	Participants []Participant `json:"participants,omitzero"`
	User         *Participant  `json:"user,omitempty"`

	// offer / answer / ice-candidate (inbound-from-peer shape)
	FromUserID    uint32 `json:"fromUserId,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// EncodeServerFrame renders a ServerFrame to wire JSON.
func EncodeServerFrame(f *ServerFrame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeServerFrame parses a server frame; exported chiefly so clients and
// round-trip tests can verify encode/decode symmetry.
func DecodeServerFrame(data []byte) (*ServerFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch env.Type {
	case TypeAuthenticated, TypeRoomJoined, TypeRoomLeft, TypeUserJoined, TypeUserLeft,
		TypeOffer, TypeAnswer, TypeICECandidate, TypeError:
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
	f := &ServerFrame{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", env.Type, err)
	}
	return f, nil
}

// Authenticated builds the response to a successful auth frame.
func Authenticated(userID uint32, username string) *ServerFrame {
	return &ServerFrame{Type: TypeAuthenticated, UserID: userID, Username: username}
}

// RoomJoined builds the response returned to the joining client, carrying
// the pre-existing participant list.
func RoomJoined(room string, userID uint32, participants []Participant) *ServerFrame {
	if participants == nil {
		participants = []Participant{}
	}
	return &ServerFrame{Type: TypeRoomJoined, RoomName: room, UserID: userID, Participants: participants}
}

// RoomLeft builds the response to a leave-room frame.
func RoomLeft(room string, userID uint32) *ServerFrame {
	return &ServerFrame{Type: TypeRoomLeft, RoomName: room, UserID: userID}
}

// UserJoinedFrame builds the delta broadcast to existing room participants.
func UserJoinedFrame(room string, user Participant) *ServerFrame {
	return &ServerFrame{Type: TypeUserJoined, RoomName: room, User: &user}
}

// UserLeftFrame builds the delta broadcast when a participant leaves.
func UserLeftFrame(room string, userID uint32) *ServerFrame {
	return &ServerFrame{Type: TypeUserLeft, RoomName: room, UserID: userID}
}

// SignalFrame builds an offer/answer/ice-candidate frame forwarded to a
// peer, stamped with the originating user.
func SignalFrame(kind string, room string, fromUserID uint32, sdp, candidate, sdpMid string, sdpMLineIndex *int) *ServerFrame {
	return &ServerFrame{
		Type:          kind,
		RoomName:      room,
		FromUserID:    fromUserID,
		SDP:           sdp,
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}
}

// ErrorFrame builds a client-visible error frame.
func ErrorFrame(message, code string) *ServerFrame {
	return &ServerFrame{Type: TypeError, Message: message, Code: code}
}

// IsSignalType reports whether tag names a WebRTC signaling frame, as
// opposed to a membership control frame.
func IsSignalType(tag string) bool {
	switch tag {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}
