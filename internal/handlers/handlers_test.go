package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"social-game-backend/internal/handlers"
	"social-game-backend/internal/models"
	"social-game-backend/internal/presence"
	"social-game-backend/internal/protocol"
	"social-game-backend/internal/store"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []protocol.Message
	fail bool
}

func (c *fakeConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

func (c *fakeConn) last(t *testing.T) protocol.Message {
	t.Helper()
	msgs := c.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type env struct {
	store    *store.MemoryStore
	registry *presence.Registry
	router   *handlers.Router
	ctx      context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemoryStore()
	registry := presence.NewRegistry()
	return &env{
		store:    mem,
		registry: registry,
		router:   handlers.NewGameRouter(zaptest.NewLogger(t), mem, mem, registry),
		ctx:      context.Background(),
	}
}

// login runs a full login dispatch and returns the session and player id.
func (e *env) login(t *testing.T, deviceID string, conn *fakeConn) (*handlers.SessionState, string) {
	t.Helper()
	sess := &handlers.SessionState{}
	e.router.Dispatch(e.ctx, sess, protocol.NewLoginMessage(deviceID), conn)

	success, ok := conn.last(t).(*protocol.LoginSuccessMessage)
	require.True(t, ok, "expected LoginSuccessMessage, got %T", conn.last(t))
	return sess, success.PlayerId
}

func TestLoginCreatesPlayerWithStartingGrant(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}

	sess, playerID := e.login(t, "device-1", conn)

	success := conn.last(t).(*protocol.LoginSuccessMessage)
	assert.Equal(t, models.Balance{Coins: 100, Rolls: 50}, success.Balance)
	assert.NotEmpty(t, success.MessageId)

	state, err := e.store.GetState(e.ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, 100, state.Coins)
	assert.Equal(t, 50, state.Rolls)

	assert.True(t, sess.LoggedIn())
	entry, online := e.registry.ByPlayer(playerID)
	require.True(t, online)
	assert.Equal(t, "device-1", entry.DeviceID)
}

func TestLoginSameDeviceTwiceRejected(t *testing.T) {
	e := newEnv(t)
	first := &fakeConn{}
	e.login(t, "device-1", first)

	second := &fakeConn{}
	sess := &handlers.SessionState{}
	e.router.Dispatch(e.ctx, sess, protocol.NewLoginMessage("device-1"), second)

	errMsg, ok := second.last(t).(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "Already connected.", errMsg.Message)
	assert.Equal(t, 400, errMsg.StatusCode)

	// The rejected session owns nothing; its cleanup must not evict the
	// first session's entry.
	assert.False(t, sess.LoggedIn())
	assert.Empty(t, sess.DeviceID)
	assert.Equal(t, 1, e.registry.Len())
}

func TestLoginAfterDisconnectKeepsBalance(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	sess, playerID := e.login(t, "device-1", conn)

	e.router.Dispatch(e.ctx, sess, protocol.NewUpdateResourcesMessage(models.ResourceCoins, -40), conn)

	// Simulate the session handler's cleanup step.
	e.registry.Remove(sess.DeviceID)

	reconn := &fakeConn{}
	_, samePlayer := e.login(t, "device-1", reconn)
	assert.Equal(t, playerID, samePlayer)

	success := reconn.last(t).(*protocol.LoginSuccessMessage)
	assert.Equal(t, models.Balance{Coins: 60, Rolls: 50}, success.Balance)
}

func TestGiftConservationWithNegativeInput(t *testing.T) {
	e := newEnv(t)
	senderConn := &fakeConn{}
	receiverConn := &fakeConn{}

	senderSess, senderID := e.login(t, "device-a", senderConn)
	_, receiverID := e.login(t, "device-b", receiverConn)

	// Negative amounts are normalized; the transfer is always sender to
	// receiver.
	e.router.Dispatch(e.ctx, senderSess, protocol.NewSendGiftMessage(receiverID, models.ResourceCoins, -25), senderConn)

	ack, ok := senderConn.last(t).(*protocol.GiftAckMessage)
	require.True(t, ok)
	assert.True(t, ack.Success)
	assert.Equal(t, models.Balance{Coins: 75, Rolls: 50}, ack.Balance)

	senderState, err := e.store.GetState(e.ctx, senderID)
	require.NoError(t, err)
	receiverState, err := e.store.GetState(e.ctx, receiverID)
	require.NoError(t, err)
	assert.Equal(t, 75, senderState.Coins)
	assert.Equal(t, 125, receiverState.Coins)
	assert.Equal(t, 200, senderState.Coins+receiverState.Coins, "coins are conserved")

	// Exactly one notification, carrying the post-transfer balance.
	var notes []*protocol.GiftNotificationMessage
	for _, msg := range receiverConn.messages() {
		if note, ok := msg.(*protocol.GiftNotificationMessage); ok {
			notes = append(notes, note)
		}
	}
	require.Len(t, notes, 1)
	assert.Equal(t, senderID, notes[0].From)
	assert.Equal(t, models.ResourceCoins, notes[0].ResourceType)
	assert.Equal(t, 25, notes[0].ResourceValue)
	assert.Equal(t, models.Balance{Coins: 125, Rolls: 50}, notes[0].Balance)

	// The gift is also in the transfer log.
	transfers, err := e.store.RecentTransfers(e.ctx, receiverID, 10)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, 25, transfers[0].Amount)
}

func TestGiftToSelfMovesNothing(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	sess, playerID := e.login(t, "device-a", conn)

	e.router.Dispatch(e.ctx, sess, protocol.NewSendGiftMessage(playerID, models.ResourceCoins, 30), conn)

	ack, ok := conn.last(t).(*protocol.GiftAckMessage)
	require.True(t, ok)
	assert.True(t, ack.Success)
	assert.Equal(t, models.Balance{Coins: 100, Rolls: 50}, ack.Balance)

	// Neither minted nor burned, in the mirror or the durable row.
	assert.Equal(t, 100, sess.State.Coins)
	state, err := e.store.GetState(e.ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, 100, state.Coins)

	// No self-notification and no audit entry for a transfer that never
	// happened.
	for _, msg := range conn.messages() {
		_, isNote := msg.(*protocol.GiftNotificationMessage)
		assert.False(t, isNote)
	}
	transfers, err := e.store.RecentTransfers(e.ctx, playerID, 10)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestGiftToOfflineReceiver(t *testing.T) {
	e := newEnv(t)
	senderConn := &fakeConn{}
	receiverConn := &fakeConn{}

	senderSess, _ := e.login(t, "device-a", senderConn)
	recvSess, receiverID := e.login(t, "device-b", receiverConn)

	e.registry.Remove(recvSess.DeviceID)
	receiverConn.fail = true

	e.router.Dispatch(e.ctx, senderSess, protocol.NewSendGiftMessage(receiverID, models.ResourceRolls, 10), senderConn)

	ack := senderConn.last(t).(*protocol.GiftAckMessage)
	assert.True(t, ack.Success)

	receiverState, err := e.store.GetState(e.ctx, receiverID)
	require.NoError(t, err)
	assert.Equal(t, 60, receiverState.Rolls, "gift persists even when the receiver is offline")

	for _, msg := range receiverConn.messages() {
		_, isNote := msg.(*protocol.GiftNotificationMessage)
		assert.False(t, isNote, "no notification for an offline receiver")
	}
}

func TestGiftToUnknownPlayer(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	sess, senderID := e.login(t, "device-a", conn)

	e.router.Dispatch(e.ctx, sess, protocol.NewSendGiftMessage("no-such-player", models.ResourceCoins, 10), conn)

	errMsg, ok := conn.last(t).(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "Player not found.", errMsg.Message)
	assert.Equal(t, 404, errMsg.StatusCode)

	state, err := e.store.GetState(e.ctx, senderID)
	require.NoError(t, err)
	assert.Equal(t, 100, state.Coins, "no mutation on a failed gift")
}

func TestGiftRequiresLogin(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	sess := &handlers.SessionState{}

	e.router.Dispatch(e.ctx, sess, protocol.NewSendGiftMessage("player-1", models.ResourceCoins, 10), conn)

	errMsg, ok := conn.last(t).(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "Not logged in.", errMsg.Message)
}

func TestUpdateResourcesBelowZero(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	sess, playerID := e.login(t, "device-1", conn)

	e.router.Dispatch(e.ctx, sess, protocol.NewUpdateResourcesMessage(models.ResourceCoins, -1000), conn)

	resp, ok := conn.last(t).(*protocol.UpdateResourcesResponseMessage)
	require.True(t, ok)
	assert.Equal(t, -900, resp.Balance.Coins, "no clamping at zero")

	state, err := e.store.GetState(e.ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, -900, state.Coins)
}

func TestUpdateResourcesRequiresLogin(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	sess := &handlers.SessionState{}

	e.router.Dispatch(e.ctx, sess, protocol.NewUpdateResourcesMessage(models.ResourceCoins, 5), conn)

	errMsg, ok := conn.last(t).(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "Not logged in.", errMsg.Message)
}

func TestConcurrentGiftsConverge(t *testing.T) {
	e := newEnv(t)

	receiverConn := &fakeConn{}
	_, receiverID := e.login(t, "device-receiver", receiverConn)

	const senders = 16
	const perSender = 25

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		conn := &fakeConn{}
		sess, _ := e.login(t, fmt.Sprintf("device-%d", i), conn)

		wg.Add(1)
		go func(sess *handlers.SessionState, conn *fakeConn) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				e.router.Dispatch(e.ctx, sess, protocol.NewSendGiftMessage(receiverID, models.ResourceCoins, 1), conn)
			}
		}(sess, conn)
	}
	wg.Wait()

	state, err := e.store.GetState(e.ctx, receiverID)
	require.NoError(t, err)
	assert.Equal(t, 100+senders*perSender, state.Coins, "no lost updates under concurrent gifts")
}

// flakyStates hides the store's atomic transfer and fails writes for one
// player, to exercise the serialized fallback and its integrity reporting.
type flakyStates struct {
	store.StateStore
	failFor string
}

func (f *flakyStates) UpdateState(ctx context.Context, state *models.PlayerState) (*models.PlayerState, error) {
	if state.PlayerId == f.failFor {
		return nil, errors.New("write refused")
	}
	return f.StateStore.UpdateState(ctx, state)
}

func TestGiftSerializedFallback(t *testing.T) {
	mem := store.NewMemoryStore()
	registry := presence.NewRegistry()
	gift := handlers.NewGiftHandler(zaptest.NewLogger(t), &flakyStates{StateStore: mem}, registry)
	ctx := context.Background()

	_, err := mem.CreateState(ctx, "sender", 100, 50)
	require.NoError(t, err)
	_, err = mem.CreateState(ctx, "receiver", 100, 50)
	require.NoError(t, err)

	sess := &handlers.SessionState{State: models.PlayerState{PlayerId: "sender", Coins: 100, Rolls: 50}}
	reply, err := gift.Handle(ctx, sess, protocol.NewSendGiftMessage("receiver", models.ResourceCoins, 30), &fakeConn{})
	require.NoError(t, err)

	ack, ok := reply.(*protocol.GiftAckMessage)
	require.True(t, ok)
	assert.True(t, ack.Success)

	senderState, _ := mem.GetState(ctx, "sender")
	receiverState, _ := mem.GetState(ctx, "receiver")
	assert.Equal(t, 70, senderState.Coins)
	assert.Equal(t, 130, receiverState.Coins)
}

func TestGiftPartialFailureIsIntegrityError(t *testing.T) {
	mem := store.NewMemoryStore()
	registry := presence.NewRegistry()
	gift := handlers.NewGiftHandler(zaptest.NewLogger(t), &flakyStates{StateStore: mem, failFor: "receiver"}, registry)
	ctx := context.Background()

	_, err := mem.CreateState(ctx, "sender", 100, 50)
	require.NoError(t, err)
	_, err = mem.CreateState(ctx, "receiver", 100, 50)
	require.NoError(t, err)

	sess := &handlers.SessionState{State: models.PlayerState{PlayerId: "sender", Coins: 100, Rolls: 50}}
	reply, err := gift.Handle(ctx, sess, protocol.NewSendGiftMessage("receiver", models.ResourceCoins, 30), &fakeConn{})

	require.ErrorIs(t, err, handlers.ErrIntegrity)
	ack, ok := reply.(*protocol.GiftAckMessage)
	require.True(t, ok)
	assert.False(t, ack.Success, "the ack reports the failed transfer")

	// The debit went through; that is exactly the inconsistency the
	// integrity error reports.
	senderState, _ := mem.GetState(ctx, "sender")
	receiverState, _ := mem.GetState(ctx, "receiver")
	assert.Equal(t, 70, senderState.Coins)
	assert.Equal(t, 100, receiverState.Coins)
}

func TestGiftDebitFailureRollsBackMirror(t *testing.T) {
	mem := store.NewMemoryStore()
	registry := presence.NewRegistry()
	gift := handlers.NewGiftHandler(zaptest.NewLogger(t), &flakyStates{StateStore: mem, failFor: "sender"}, registry)
	ctx := context.Background()

	_, err := mem.CreateState(ctx, "sender", 100, 50)
	require.NoError(t, err)
	_, err = mem.CreateState(ctx, "receiver", 100, 50)
	require.NoError(t, err)

	sess := &handlers.SessionState{State: models.PlayerState{PlayerId: "sender", Coins: 100, Rolls: 50}}
	reply, err := gift.Handle(ctx, sess, protocol.NewSendGiftMessage("receiver", models.ResourceCoins, 30), &fakeConn{})

	require.Error(t, err)
	assert.NotErrorIs(t, err, handlers.ErrIntegrity, "a clean first-write failure is not an integrity error")
	assert.Nil(t, reply, "the router supplies the generic failure reply")
	assert.Equal(t, 100, sess.State.Coins, "session mirror is restored")

	receiverState, _ := mem.GetState(ctx, "receiver")
	assert.Equal(t, 100, receiverState.Coins)
}
