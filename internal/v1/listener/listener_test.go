package listener

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalonrtc/signalmesh/internal/v1/auth"
	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
	"github.com/avalonrtc/signalmesh/internal/v1/registry"
	"github.com/avalonrtc/signalmesh/internal/v1/router"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID uint32, username string, ttl time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		Sub:      userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()

	validator := auth.NewValidator(testSecret)
	r := router.New(registry.New(), nil, nil, nil, "node-test")
	l := New(validator, r, nil)
	g.GET("/ws", l.ServeWS)

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestListener_AuthenticationSuccess(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	token := signToken(t, 123, "alice", time.Hour)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": token}))

	var frame protocol.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, protocol.TypeAuthenticated, frame.Type)
	assert.Equal(t, uint32(123), frame.UserID)
	assert.Equal(t, "alice", frame.Username)
}

func TestListener_AuthenticationFailureClosesConnection(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "garbage"}))

	var frame protocol.ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, protocol.TypeError, frame.Type)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestListener_JoinTwoUsersSeeEachOther(t *testing.T) {
	_, url := newTestServer(t)
	a := dial(t, url)
	b := dial(t, url)

	require.NoError(t, a.WriteJSON(map[string]string{"type": "auth", "token": signToken(t, 123, "alice", time.Hour)}))
	var authed protocol.ServerFrame
	require.NoError(t, a.ReadJSON(&authed))

	require.NoError(t, a.WriteJSON(map[string]string{"type": "join-room", "roomName": "r1"}))
	var joined protocol.ServerFrame
	require.NoError(t, a.ReadJSON(&joined))
	assert.Equal(t, protocol.TypeRoomJoined, joined.Type)
	assert.Empty(t, joined.Participants)

	require.NoError(t, b.WriteJSON(map[string]string{"type": "auth", "token": signToken(t, 456, "bob", time.Hour)}))
	require.NoError(t, b.ReadJSON(&authed))

	require.NoError(t, b.WriteJSON(map[string]string{"type": "join-room", "roomName": "r1"}))
	require.NoError(t, b.ReadJSON(&joined))
	assert.Equal(t, protocol.TypeRoomJoined, joined.Type)
	require.Len(t, joined.Participants, 1)
	assert.Equal(t, "alice", joined.Participants[0].Username)

	var delta protocol.ServerFrame
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, a.ReadJSON(&delta))
	assert.Equal(t, protocol.TypeUserJoined, delta.Type)
	assert.Equal(t, uint32(456), delta.User.UserID)
}
