// Package listener accepts incoming WebSocket streams and hands them off to
// a fresh connection.Handler. It performs no authentication itself: the
// first inbound frame carries the auth token and connection.Handler
// validates it.
package listener

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/avalonrtc/signalmesh/internal/v1/auth"
	"github.com/avalonrtc/signalmesh/internal/v1/connection"
	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"go.uber.org/zap"
)

// Listener upgrades inbound HTTP requests to WebSocket streams and starts a
// connection.Handler for each one.
type Listener struct {
	validator connection.Validator
	router    connection.Router
	upgrader  websocket.Upgrader
}

// New builds a Listener. allowedOrigins restricts the WebSocket upgrade's
// CheckOrigin; an empty Origin header (non-browser clients) is always
// allowed.
func New(validator connection.Validator, router connection.Router, allowedOrigins []string) *Listener {
	return &Listener{
		validator: validator,
		router:    router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return auth.ValidateOrigin(r, allowedOrigins) == nil
			},
			WriteBufferPool: &sync.Pool{},
		},
	}
}

// ServeWS is the gin handler for the WebSocket upgrade route.
func (l *Listener) ServeWS(c *gin.Context) {
	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	// The request context dies when this handler returns, but its values
	// (trace span, correlation ID) should follow the stream for its whole
	// lifetime, so cancellation is stripped rather than the context dropped.
	ctx := context.WithoutCancel(c.Request.Context())
	if cid, ok := c.Get(string(logging.CorrelationIDKey)); ok {
		if s, ok := cid.(string); ok {
			ctx = context.WithValue(ctx, logging.CorrelationIDKey, s)
		}
	}

	handler := connection.New(l.validator, l.router, conn)
	go handler.Serve(ctx)
}
