package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"social-game-backend/internal/config"
	"social-game-backend/internal/models"
)

// RedisStore keeps players, ledgers and the transfer log as JSON values.
// A device-id index row is maintained next to each player row so logins
// never scan.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client (for testing).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var (
	_ PlayerStore      = (*RedisStore)(nil)
	_ StateStore       = (*RedisStore)(nil)
	_ StateTransferrer = (*RedisStore)(nil)
	_ TransferLog      = (*RedisStore)(nil)
)

func (s *RedisStore) GetPlayerByDeviceID(ctx context.Context, deviceID string) (*models.Player, error) {
	playerID, err := s.client.Get(ctx, fmt.Sprintf(KeyPlayerByDevice, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device %s: %w", deviceID, err)
	}

	data, err := s.client.Get(ctx, fmt.Sprintf(KeyPlayer, playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", playerID, err)
	}

	var player models.Player
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player %s: %w", playerID, err)
	}
	return &player, nil
}

func (s *RedisStore) CreatePlayer(ctx context.Context, deviceID string) (*models.Player, error) {
	player := models.NewPlayer(deviceID)

	data, err := json.Marshal(player)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal player: %w", err)
	}

	// The index row decides the race between two first logins for one
	// device; the loser reads the winner back.
	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyPlayerByDevice, deviceID), player.Id, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to bind device %s: %w", deviceID, err)
	}
	if !ok {
		return s.GetPlayerByDeviceID(ctx, deviceID)
	}

	if err := s.client.Set(ctx, fmt.Sprintf(KeyPlayer, player.Id), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return player, nil
}

func (s *RedisStore) GetState(ctx context.Context, playerID string) (*models.PlayerState, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyPlayerState, playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state %s: %w", playerID, err)
	}

	var state models.PlayerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state %s: %w", playerID, err)
	}
	return &state, nil
}

func (s *RedisStore) CreateState(ctx context.Context, playerID string, coins, rolls int) (*models.PlayerState, error) {
	state := &models.PlayerState{PlayerId: playerID, Coins: coins, Rolls: rolls}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, fmt.Sprintf(KeyPlayerState, playerID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to create state %s: %w", playerID, err)
	}
	return state, nil
}

func (s *RedisStore) UpdateState(ctx context.Context, state *models.PlayerState) (*models.PlayerState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, fmt.Sprintf(KeyPlayerState, state.PlayerId), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to update state %s: %w", state.PlayerId, err)
	}
	return state, nil
}

// transferScript applies the debit and credit inside redis so either both
// ledgers move or neither does. Field names match the JSON tags on
// PlayerState.
var transferScript = redis.NewScript(`
	local fromData = redis.call("GET", KEYS[1])
	if not fromData then
		return redis.error_reply("sender state not found")
	end
	if KEYS[1] == KEYS[2] then
		return {fromData, fromData}
	end
	local toData = redis.call("GET", KEYS[2])
	if not toData then
		return redis.error_reply("receiver state not found")
	end

	local field = ARGV[1]
	local amount = tonumber(ARGV[2])

	local sender = cjson.decode(fromData)
	local receiver = cjson.decode(toData)

	sender[field] = sender[field] - amount
	receiver[field] = receiver[field] + amount

	local updatedFrom = cjson.encode(sender)
	local updatedTo = cjson.encode(receiver)
	redis.call("SET", KEYS[1], updatedFrom)
	redis.call("SET", KEYS[2], updatedTo)

	return {updatedFrom, updatedTo}
`)

func (s *RedisStore) Transfer(ctx context.Context, fromID, toID string, rt models.ResourceType, amount int) (*models.PlayerState, *models.PlayerState, error) {
	keys := []string{
		fmt.Sprintf(KeyPlayerState, fromID),
		fmt.Sprintf(KeyPlayerState, toID),
	}

	res, err := transferScript.Run(ctx, s.client, keys, string(rt), amount).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to transfer %d %s from %s to %s: %w", amount, rt, fromID, toID, err)
	}

	rows, ok := res.([]interface{})
	if !ok || len(rows) != 2 {
		return nil, nil, fmt.Errorf("unexpected transfer script reply: %v", res)
	}

	from, err := unmarshalStateReply(rows[0])
	if err != nil {
		return nil, nil, err
	}
	to, err := unmarshalStateReply(rows[1])
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func unmarshalStateReply(row interface{}) (*models.PlayerState, error) {
	data, ok := row.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected state row type %T", row)
	}
	var state models.PlayerState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transferred state: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) RecordTransfer(ctx context.Context, t *Transfer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}

	if err := s.client.Set(ctx, fmt.Sprintf(KeyTransfer, t.ID), data, TTLTransfer).Err(); err != nil {
		return fmt.Errorf("failed to save transfer: %w", err)
	}

	score := float64(t.CreatedAt.Unix())
	for _, playerID := range []string{t.From, t.To} {
		key := fmt.Sprintf(KeyPlayerTransfers, playerID)
		if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: t.ID}).Err(); err != nil {
			return fmt.Errorf("failed to index transfer for %s: %w", playerID, err)
		}
		s.client.ZRemRangeByRank(ctx, key, 0, int64(-TransferHistoryLimit-1))
	}

	return nil
}

func (s *RedisStore) RecentTransfers(ctx context.Context, playerID string, limit int64) ([]*Transfer, error) {
	if limit <= 0 || limit > TransferHistoryLimit {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyPlayerTransfers, playerID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer ids: %w", err)
	}

	var transfers []*Transfer
	for _, id := range ids {
		data, err := s.client.Get(ctx, fmt.Sprintf(KeyTransfer, id)).Bytes()
		if err != nil {
			continue
		}

		var t Transfer
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		transfers = append(transfers, &t)
	}

	return transfers, nil
}
