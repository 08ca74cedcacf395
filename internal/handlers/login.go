package handlers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"social-game-backend/internal/models"
	"social-game-backend/internal/presence"
	"social-game-backend/internal/protocol"
	"social-game-backend/internal/store"
)

type LoginHandler struct {
	logger   *zap.Logger
	players  store.PlayerStore
	states   store.StateStore
	registry *presence.Registry
}

func NewLoginHandler(logger *zap.Logger, players store.PlayerStore, states store.StateStore, registry *presence.Registry) *LoginHandler {
	return &LoginHandler{
		logger:   logger,
		players:  players,
		states:   states,
		registry: registry,
	}
}

func (h *LoginHandler) Handle(ctx context.Context, sess *SessionState, msg protocol.Message, conn presence.Conn) (protocol.Message, error) {
	login, ok := msg.(*protocol.LoginMessage)
	if !ok {
		return nil, fmt.Errorf("login: unexpected message %T", msg)
	}

	if _, online := h.registry.ByDevice(login.DeviceId); online {
		return protocol.NewErrorMessage("Already connected.", 400), nil
	}

	player, err := h.getOrCreatePlayer(ctx, login.DeviceId)
	if err != nil {
		h.logger.Error("failed to create player",
			zap.String("device_id", login.DeviceId),
			zap.Error(err))
		return protocol.NewErrorMessage("Failed to create player.", 500), nil
	}

	state, err := h.getOrCreateState(ctx, player.Id)
	if err != nil {
		h.logger.Error("failed to create player state",
			zap.String("player_id", player.Id),
			zap.Error(err))
		return protocol.NewErrorMessage("Failed to create player state.", 500), nil
	}

	if !h.registry.Register(login.DeviceId, player.Id, conn) {
		// Lost the race to a concurrent login for the same identity.
		return protocol.NewErrorMessage("Already connected.", 400), nil
	}

	sess.DeviceID = login.DeviceId
	sess.State = *state

	h.logger.Info("player logged in",
		zap.String("player_id", player.Id),
		zap.String("device_id", login.DeviceId))

	return protocol.NewLoginSuccessMessage(player.Id, sess.State.Balance()), nil
}

func (h *LoginHandler) getOrCreatePlayer(ctx context.Context, deviceID string) (*models.Player, error) {
	player, err := h.players.GetPlayerByDeviceID(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return h.players.CreatePlayer(ctx, deviceID)
	}
	return player, err
}

func (h *LoginHandler) getOrCreateState(ctx context.Context, playerID string) (*models.PlayerState, error) {
	state, err := h.states.GetState(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return h.states.CreateState(ctx, playerID, models.StartingCoins, models.StartingRolls)
	}
	return state, err
}
