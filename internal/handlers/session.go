package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"social-game-backend/internal/presence"
	"social-game-backend/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionHandler runs one connection's lifecycle from upgrade to cleanup.
// Frames are processed strictly in arrival order; the next frame is not
// read until the current reply has been sent.
type SessionHandler struct {
	router      *Router
	registry    *presence.Registry
	logger      *zap.Logger
	idleTimeout time.Duration
}

func NewSessionHandler(router *Router, registry *presence.Registry, logger *zap.Logger, idleTimeout time.Duration) *SessionHandler {
	return &SessionHandler{
		router:      router,
		registry:    registry,
		logger:      logger,
		idleTimeout: idleTimeout,
	}
}

func (h *SessionHandler) HandleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}

	h.Serve(c.Request.Context(), ws)
}

// Serve blocks until the connection dies. Presence cleanup runs exactly
// once on every exit path.
func (h *SessionHandler) Serve(ctx context.Context, ws *websocket.Conn) {
	conn := newWSConn(ws)
	sess := &SessionState{}

	defer func() {
		if sess.DeviceID != "" {
			h.registry.Remove(sess.DeviceID)
			h.logger.Info("player disconnected",
				zap.String("player_id", sess.State.PlayerId),
				zap.String("device_id", sess.DeviceID))
		}
		ws.Close()
	}()

	for {
		if h.idleTimeout > 0 {
			// An idle peer is presumed dead and cleaned up like any
			// other disconnect.
			if err := ws.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
				return
			}
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error",
					zap.String("player_id", sess.State.PlayerId),
					zap.Error(err))
			}
			return
		}

		if len(data) == 0 {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Warn("invalid message",
				zap.String("player_id", sess.State.PlayerId),
				zap.ByteString("frame", data),
				zap.Error(err))
			if sendErr := conn.Send(protocol.NewErrorMessage("Invalid message format.", 400)); sendErr != nil {
				return
			}
			continue
		}

		h.logger.Debug("message received",
			zap.String("type", msg.Kind()),
			zap.String("message_id", msg.ID()),
			zap.String("player_id", sess.State.PlayerId))

		h.router.Dispatch(ctx, sess, msg, conn)
	}
}

// wsConn serializes writes; gorilla connections allow one writer at a
// time and gift notifications arrive from other sessions' goroutines.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
