// Package connection implements the per-stream state machine: accept,
// authenticate, serve, cleanup, running the inbound and outbound activities
// as independent cooperative goroutines over the registry.Connection's
// outbound queue.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/avalonrtc/signalmesh/internal/v1/auth"
	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"github.com/avalonrtc/signalmesh/internal/v1/metrics"
	"github.com/avalonrtc/signalmesh/internal/v1/protocol"
	"github.com/avalonrtc/signalmesh/internal/v1/registry"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

var tracer = otel.Tracer("github.com/avalonrtc/signalmesh/internal/v1/connection")

const writeWait = 10 * time.Second

// state is the handler's position in its lifecycle state machine.
type state int

const (
	stateAccepted state = iota
	stateAuthenticating
	stateAuthenticated
	stateServing
	stateClosing
)

// Transport is the minimal bidirectional message-stream surface the handler
// needs, satisfied by *websocket.Conn. Abstracted so tests can drive the
// state machine without a real socket.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Router is the subset of *router.Router the handler depends on.
type Router interface {
	JoinRoom(ctx context.Context, room string, conn *registry.Connection) ([]protocol.Participant, error)
	LeaveRoom(ctx context.Context, room string, userID uint32) error
	SendToUserInRoom(ctx context.Context, room string, targetUserID uint32, frame *protocol.ServerFrame)
	BroadcastToRoom(room string, senderID uint32, frame *protocol.ServerFrame)
	RemoveUserFromAllRooms(ctx context.Context, userID uint32, connectionID string)
}

// Validator is the subset of *auth.Validator the handler depends on.
type Validator interface {
	ValidateToken(token string) (*auth.AuthenticatedUser, error)
}

// Handler drives a single connection's state machine. One Handler instance
// is created per accepted stream.
type Handler struct {
	validator Validator
	router    Router
	transport Transport

	state  state
	conn   *registry.Connection
	joined set.Set[string]
}

// New builds a Handler for a freshly accepted transport stream.
func New(validator Validator, router Router, transport Transport) *Handler {
	return &Handler{
		validator: validator,
		router:    router,
		transport: transport,
		state:     stateAccepted,
		joined:    set.New[string](),
	}
}

// Serve runs the handler to completion: authenticate, then read/dispatch
// frames until the transport closes or a terminal error occurs. It blocks
// until the connection is fully torn down; call it from its own goroutine
// per accepted stream.
func (h *Handler) Serve(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "connection.serve")
	defer span.End()

	if !h.authenticate(ctx) {
		h.state = stateClosing
		_ = h.transport.Close()
		return
	}

	h.state = stateServing
	metrics.IncConnection()

	outboundStop := make(chan struct{})
	outboundDone := make(chan struct{})
	go h.runOutbound(outboundStop, outboundDone)

	h.runInbound(ctx)

	h.state = stateClosing
	// Deregister first: producers that snapshotted this connection through
	// the registry may still call Send after removal, so the queue is never
	// closed; the writer is stopped through its own signal instead.
	h.router.RemoveUserFromAllRooms(ctx, h.conn.User.UserID, h.conn.ConnectionID)
	close(outboundStop)
	<-outboundDone

	metrics.DecConnection()
	_ = h.transport.Close()
}

// authenticate implements Accepted → Authenticating → Authenticated. The
// first inbound frame must be auth bearing a valid token; anything else
// sends a client-visible error and the caller closes the stream.
func (h *Handler) authenticate(ctx context.Context) bool {
	h.state = stateAuthenticating

	var data []byte
	for {
		messageType, d, err := h.transport.ReadMessage()
		if err != nil {
			return false
		}
		if messageType == websocket.BinaryMessage {
			continue
		}
		data = d
		break
	}

	frame, err := protocol.DecodeClientFrame(data)
	if err != nil || frame.Type != protocol.TypeAuth {
		h.writeRaw(protocol.ErrorFrame("Authentication failed: first frame must be auth", ""))
		return false
	}

	user, err := h.validator.ValidateToken(frame.Token)
	if err != nil {
		logging.Warn(ctx, "authentication failed", zap.Error(err))
		h.writeRaw(protocol.ErrorFrame(fmt.Sprintf("Authentication failed: %s", err.Error()), ""))
		return false
	}

	h.conn = registry.NewConnection(*user)
	h.state = stateAuthenticated
	h.writeRaw(protocol.Authenticated(user.UserID, user.Username))
	return true
}

// runOutbound consumes the connection's outbound queue and writes each
// frame to the transport until stop is signaled. It is the queue's sole
// consumer. The queue is never closed: registry fan-out sends from outside
// the registry lock, so a late Send must park in the buffer or drop, never
// hit a closed channel.
func (h *Handler) runOutbound(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case frame := <-h.conn.Outbound:
			h.writeRaw(frame)
		case <-stop:
			// Flush whatever was enqueued before the stop; anything arriving
			// later is dropped with the connection.
			for {
				select {
				case frame := <-h.conn.Outbound:
					h.writeRaw(frame)
				default:
					return
				}
			}
		}
	}
}

// writeRaw encodes and writes frame directly, guarded against a panic in
// marshaling so a single malformed frame cannot take down the writer.
func (h *Handler) writeRaw(frame *protocol.ServerFrame) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), "recovered from panic writing frame", zap.Any("panic", r))
		}
	}()

	data, err := protocol.EncodeServerFrame(frame)
	if err != nil {
		logging.Error(context.Background(), "failed to encode outbound frame, dropping", zap.Error(err), zap.String("type", frame.Type))
		return
	}
	_ = h.transport.SetWriteDeadline(time.Now().Add(writeWait))
	if err := h.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Warn(context.Background(), "failed to write frame", zap.Error(err))
	}
}

// runInbound reads and dispatches frames until the transport closes.
func (h *Handler) runInbound(ctx context.Context) {
	for {
		messageType, data, err := h.transport.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.BinaryMessage {
			continue
		}

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			h.conn.Send(protocol.ErrorFrame(fmt.Sprintf("Protocol error: %s", err.Error()), ""))
			continue
		}

		h.dispatch(ctx, frame)
	}
}

// dispatch routes a single decoded frame by tag. Receipt of a second auth
// frame yields an error rather than resetting the connection's state.
func (h *Handler) dispatch(ctx context.Context, frame *protocol.ClientFrame) {
	ctx, span := tracer.Start(ctx, "connection.dispatch", oteltrace.WithAttributes(attribute.String("frame.type", frame.Type)))
	defer span.End()

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.FramesTotal.WithLabelValues(frame.Type, outcome).Inc()
		metrics.FrameProcessingDuration.WithLabelValues(frame.Type).Observe(time.Since(start).Seconds())
	}()

	switch frame.Type {
	case protocol.TypeAuth:
		h.conn.Send(protocol.ErrorFrame("already authenticated", ""))
		outcome = "rejected"
	case protocol.TypeJoinRoom:
		h.handleJoin(ctx, frame)
	case protocol.TypeLeaveRoom:
		h.handleLeave(ctx, frame)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		h.handleSignal(ctx, frame)
	default:
		h.conn.Send(protocol.ErrorFrame(fmt.Sprintf("unsupported frame type %q", frame.Type), ""))
		outcome = "rejected"
	}
	span.SetStatus(codes.Ok, "")
}

func (h *Handler) handleJoin(ctx context.Context, frame *protocol.ClientFrame) {
	participants, err := h.router.JoinRoom(ctx, frame.RoomName, h.conn)
	if err != nil {
		h.conn.Send(protocol.ErrorFrame(fmt.Sprintf("join-room failed: %s", err.Error()), ""))
		return
	}
	h.joined.Insert(frame.RoomName)
	h.conn.Send(protocol.RoomJoined(frame.RoomName, h.conn.User.UserID, participants))
}

func (h *Handler) handleLeave(ctx context.Context, frame *protocol.ClientFrame) {
	if err := h.router.LeaveRoom(ctx, frame.RoomName, h.conn.User.UserID); err != nil {
		h.conn.Send(protocol.ErrorFrame(fmt.Sprintf("leave-room failed: %s", err.Error()), ""))
		return
	}
	h.joined.Delete(frame.RoomName)
	h.conn.Send(protocol.RoomLeft(frame.RoomName, h.conn.User.UserID))
}

// handleSignal gates on the connection's own joined set: the sender's
// membership is always local to this stream, so no registry or cluster
// lookup is needed to reject a signal for a room it never joined.
func (h *Handler) handleSignal(ctx context.Context, frame *protocol.ClientFrame) {
	if !h.joined.Has(frame.RoomName) {
		h.conn.Send(protocol.ErrorFrame(fmt.Sprintf("not a member of room %q", frame.RoomName), ""))
		return
	}

	out := protocol.SignalFrame(frame.Type, frame.RoomName, h.conn.User.UserID, frame.SDP, frame.Candidate, frame.SDPMid, frame.SDPMLineIndex)

	if frame.TargetUserID != nil {
		h.router.SendToUserInRoom(ctx, frame.RoomName, *frame.TargetUserID, out)
		return
	}
	h.router.BroadcastToRoom(frame.RoomName, h.conn.User.UserID, out)
}
