package handlers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"social-game-backend/internal/models"
	"social-game-backend/internal/presence"
	"social-game-backend/internal/protocol"
	"social-game-backend/internal/store"
)

// ErrIntegrity marks a gift transfer that was only half persisted. It is
// for operator visibility; the session survives it.
var ErrIntegrity = errors.New("handlers: transfer left ledgers inconsistent")

// SessionState is the per-connection mutable state. The State field
// mirrors the player's durable ledger for the life of the connection;
// PlayerId stays empty until login succeeds.
type SessionState struct {
	// DeviceID is set only once this session owns a presence entry, so
	// cleanup never evicts another session's registration.
	DeviceID string
	State    models.PlayerState
}

func (s *SessionState) LoggedIn() bool {
	return s.State.PlayerId != ""
}

// HandlerFunc processes one decoded message. The returned reply, if any,
// is sent on the originating connection by the router. A non-nil error is
// logged and never escapes to the session loop; a handler may return both
// a reply and an error when the reply already describes the failure.
type HandlerFunc func(ctx context.Context, sess *SessionState, msg protocol.Message, conn presence.Conn) (protocol.Message, error)

// Router maps a message's Type to its handler. The table is built once at
// startup; dispatch itself takes no locks.
type Router struct {
	logger *zap.Logger
	routes map[string]HandlerFunc
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		logger: logger,
		routes: make(map[string]HandlerFunc),
	}
}

func (r *Router) Register(msgType string, handler HandlerFunc) {
	r.routes[msgType] = handler
}

// Dispatch runs the handler for one message and sends its reply. Handler
// faults become a generic protocol error on the same connection.
func (r *Router) Dispatch(ctx context.Context, sess *SessionState, msg protocol.Message, conn presence.Conn) {
	handler, ok := r.routes[msg.Kind()]
	if !ok {
		r.send(conn, protocol.NewErrorMessage("Unknown message type.", 400))
		return
	}

	reply, err := handler(ctx, sess, msg, conn)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			r.logger.Error("balance integrity violation",
				zap.String("player_id", sess.State.PlayerId),
				zap.String("message_id", msg.ID()),
				zap.Error(err))
		} else {
			r.logger.Error("failed to process message",
				zap.String("type", msg.Kind()),
				zap.String("message_id", msg.ID()),
				zap.Error(err))
		}
		if reply == nil {
			reply = protocol.NewErrorMessage("Failed to process message.", 500)
		}
	}

	if reply != nil {
		r.send(conn, reply)
	}
}

func (r *Router) send(conn presence.Conn, msg protocol.Message) {
	if err := conn.Send(msg); err != nil {
		r.logger.Error("failed to send message",
			zap.String("type", msg.Kind()),
			zap.String("message_id", msg.ID()),
			zap.Error(err))
	}
}

// NewGameRouter wires the full dispatch table.
func NewGameRouter(logger *zap.Logger, players store.PlayerStore, states store.StateStore, registry *presence.Registry) *Router {
	router := NewRouter(logger)

	login := NewLoginHandler(logger, players, states, registry)
	gift := NewGiftHandler(logger, states, registry)
	resources := NewResourceHandler(logger, states)

	router.Register(protocol.TypeLogin, login.Handle)
	router.Register(protocol.TypeSendGift, gift.Handle)
	router.Register(protocol.TypeUpdateResources, resources.Handle)

	return router
}
