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

type GiftHandler struct {
	logger   *zap.Logger
	states   store.StateStore
	registry *presence.Registry
}

func NewGiftHandler(logger *zap.Logger, states store.StateStore, registry *presence.Registry) *GiftHandler {
	return &GiftHandler{
		logger:   logger,
		states:   states,
		registry: registry,
	}
}

func (h *GiftHandler) Handle(ctx context.Context, sess *SessionState, msg protocol.Message, conn presence.Conn) (protocol.Message, error) {
	gift, ok := msg.(*protocol.SendGiftMessage)
	if !ok {
		return nil, fmt.Errorf("gift: unexpected message %T", msg)
	}

	if !sess.LoggedIn() {
		return protocol.NewErrorMessage("Not logged in.", 400), nil
	}

	// A self-gift moves nothing. Ack it without touching either ledger so
	// the conservation property holds whatever the store does with a
	// same-key transfer.
	if gift.To == sess.State.PlayerId {
		return protocol.NewGiftAckMessage(true, sess.State.Balance()), nil
	}

	receiver, err := h.states.GetState(ctx, gift.To)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("gift to unknown player",
			zap.String("sender_id", sess.State.PlayerId),
			zap.String("receiver_id", gift.To))
		return protocol.NewErrorMessage("Player not found.", 404), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load receiver state: %w", err)
	}

	// Gifts always move a non-negative amount from sender to receiver,
	// whatever sign the client supplied.
	amount := gift.ResourceValue
	if amount < 0 {
		amount = -amount
	}

	receiverState, err := h.apply(ctx, sess, receiver, gift.ResourceType, amount)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			return protocol.NewGiftAckMessage(false, sess.State.Balance()), err
		}
		return nil, err
	}

	h.recordTransfer(ctx, sess.State.PlayerId, gift.To, gift.ResourceType, amount)
	h.notifyReceiver(sess.State.PlayerId, gift.ResourceType, amount, receiverState)

	return protocol.NewGiftAckMessage(true, sess.State.Balance()), nil
}

// apply moves the amount between the two ledgers and keeps the session
// mirror in step. It prefers the store's atomic transfer; without one it
// serializes the debit and credit, which leaves a partial-failure window
// reported as ErrIntegrity.
func (h *GiftHandler) apply(ctx context.Context, sess *SessionState, receiver *models.PlayerState, rt models.ResourceType, amount int) (*models.PlayerState, error) {
	if tr, ok := h.states.(store.StateTransferrer); ok {
		from, to, err := tr.Transfer(ctx, sess.State.PlayerId, receiver.PlayerId, rt, amount)
		if err != nil {
			return nil, fmt.Errorf("transfer: %w", err)
		}
		sess.State.SetBalance(from.Coins, from.Rolls)
		return to, nil
	}

	sess.State.UpdateResource(rt, -amount)
	if _, err := h.states.UpdateState(ctx, &sess.State); err != nil {
		sess.State.UpdateResource(rt, amount)
		return nil, fmt.Errorf("persist sender debit: %w", err)
	}

	receiver.UpdateResource(rt, amount)
	if _, err := h.states.UpdateState(ctx, receiver); err != nil {
		return nil, fmt.Errorf("%w: debited %s but credit to %s failed: %v",
			ErrIntegrity, sess.State.PlayerId, receiver.PlayerId, err)
	}
	return receiver, nil
}

// recordTransfer is best effort; the gift already committed.
func (h *GiftHandler) recordTransfer(ctx context.Context, from, to string, rt models.ResourceType, amount int) {
	log, ok := h.states.(store.TransferLog)
	if !ok {
		return
	}
	err := log.RecordTransfer(ctx, &store.Transfer{
		From:         from,
		To:           to,
		ResourceType: rt,
		Amount:       amount,
	})
	if err != nil {
		h.logger.Warn("failed to record transfer",
			zap.String("sender_id", from),
			zap.String("receiver_id", to),
			zap.Error(err))
	}
}

// notifyReceiver pushes one unsolicited notification if the receiver is
// online. An offline receiver or a failed send never fails the gift.
func (h *GiftHandler) notifyReceiver(from string, rt models.ResourceType, amount int, receiverState *models.PlayerState) {
	entry, online := h.registry.ByPlayer(receiverState.PlayerId)
	if !online {
		return
	}

	note := protocol.NewGiftNotificationMessage(from, rt, amount, receiverState.Balance())
	if err := entry.Conn.Send(note); err != nil {
		h.logger.Warn("failed to send gift notification",
			zap.String("receiver_id", receiverState.PlayerId),
			zap.Error(err))
		return
	}

	h.logger.Info("gift notification sent",
		zap.String("sender_id", from),
		zap.String("receiver_id", receiverState.PlayerId))
}
