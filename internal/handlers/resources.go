package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"social-game-backend/internal/presence"
	"social-game-backend/internal/protocol"
	"social-game-backend/internal/store"
)

type ResourceHandler struct {
	logger *zap.Logger
	states store.StateStore
}

func NewResourceHandler(logger *zap.Logger, states store.StateStore) *ResourceHandler {
	return &ResourceHandler{
		logger: logger,
		states: states,
	}
}

// Handle applies a signed delta to the session's own ledger. Negative
// values may drive a balance below zero; that is allowed.
func (h *ResourceHandler) Handle(ctx context.Context, sess *SessionState, msg protocol.Message, conn presence.Conn) (protocol.Message, error) {
	update, ok := msg.(*protocol.UpdateResourcesMessage)
	if !ok {
		return nil, fmt.Errorf("update resources: unexpected message %T", msg)
	}

	if !sess.LoggedIn() {
		return protocol.NewErrorMessage("Not logged in.", 400), nil
	}

	sess.State.UpdateResource(update.ResourceType, update.ResourceValue)
	if _, err := h.states.UpdateState(ctx, &sess.State); err != nil {
		sess.State.UpdateResource(update.ResourceType, -update.ResourceValue)
		h.logger.Error("failed to update resources",
			zap.String("player_id", sess.State.PlayerId),
			zap.Error(err))
		return protocol.NewErrorMessage("Failed to update resources.", 500), nil
	}

	return protocol.NewUpdateResourcesResponseMessage(sess.State.Balance()), nil
}
