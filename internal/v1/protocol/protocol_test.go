package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientFrame_Auth(t *testing.T) {
	f, err := DecodeClientFrame([]byte(`{"type":"auth","token":"abc.def.ghi"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, f.Type)
	assert.Equal(t, "abc.def.ghi", f.Token)
}

func TestDecodeClientFrame_JoinRoom(t *testing.T) {
	f, err := DecodeClientFrame([]byte(`{"type":"join-room","roomName":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoinRoom, f.Type)
	assert.Equal(t, "r1", f.RoomName)
}

func TestDecodeClientFrame_OfferWithTarget(t *testing.T) {
	f, err := DecodeClientFrame([]byte(`{"type":"offer","roomName":"r1","sdp":"SDP_A","targetUserId":456}`))
	require.NoError(t, err)
	require.NotNil(t, f.TargetUserID)
	assert.Equal(t, uint32(456), *f.TargetUserID)
	assert.Equal(t, "SDP_A", f.SDP)
}

func TestDecodeClientFrame_UnknownType(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"not-a-real-type"}`))
	assert.Error(t, err)
}

func TestDecodeClientFrame_Malformed(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestServerFrame_RoundTrip(t *testing.T) {
	cases := []*ServerFrame{
		Authenticated(123, "alice"),
		RoomJoined("r1", 123, []Participant{{UserID: 456, Username: "bob"}}),
		RoomLeft("r1", 123),
		UserJoinedFrame("r1", Participant{UserID: 456, Username: "bob"}),
		UserLeftFrame("r1", 456),
		SignalFrame(TypeOffer, "r1", 123, "SDP_A", "", "", nil),
		ErrorFrame("Authentication failed", ""),
	}

	for _, original := range cases {
		data, err := EncodeServerFrame(original)
		require.NoError(t, err)

		decoded, err := DecodeServerFrame(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	}
}

func TestRoomJoined_EmptyParticipantsSerializesAsEmptyArray(t *testing.T) {
	data, err := EncodeServerFrame(RoomJoined("r1", 123, nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"participants":[]`)
}

func TestRoomLeft_OmitsParticipantsKey(t *testing.T) {
	data, err := EncodeServerFrame(RoomLeft("r1", 123))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "participants")
}

func TestDecodeServerFrame_UnknownType(t *testing.T) {
	_, err := DecodeServerFrame([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}

func TestClientFrame_RoundTrip(t *testing.T) {
	original := ClientFrame{Type: TypeJoinRoom, RoomName: "r1"}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := DecodeClientFrame(data)
	require.NoError(t, err)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.RoomName, decoded.RoomName)
}

func TestIsSignalType(t *testing.T) {
	assert.True(t, IsSignalType(TypeOffer))
	assert.True(t, IsSignalType(TypeAnswer))
	assert.True(t, IsSignalType(TypeICECandidate))
	assert.False(t, IsSignalType(TypeJoinRoom))
}

func TestClusterMessage_RoundTrip(t *testing.T) {
	cases := []*ClusterMessage{
		NewUserJoined("r1", 123, "alice"),
		NewUserLeft("r1", 123),
		NewWebRTCSignal("r1", 123, 456, TypeOffer, "SDP_A"),
		NewServerHeartbeat("node-1", 1700000000, 42),
	}

	for _, original := range cases {
		data, err := EncodeClusterMessage(original)
		require.NoError(t, err)

		decoded, err := DecodeClusterMessage(data)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	}
}

func TestDecodeClusterMessage_UnknownType(t *testing.T) {
	_, err := DecodeClusterMessage([]byte(`{"type":"Bogus"}`))
	assert.Error(t, err)
}
