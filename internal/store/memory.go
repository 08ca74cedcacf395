package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"social-game-backend/internal/models"
)

// MemoryStore is a mutex-guarded in-process store, used by tests and the
// no-redis dev backend. All values are copied on the way in and out so
// callers never share ledger pointers with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	players   map[string]*models.Player      // player id -> player
	devices   map[string]string              // device id -> player id
	states    map[string]*models.PlayerState // player id -> ledger
	transfers map[string][]*Transfer         // player id -> recent, newest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:   make(map[string]*models.Player),
		devices:   make(map[string]string),
		states:    make(map[string]*models.PlayerState),
		transfers: make(map[string][]*Transfer),
	}
}

var (
	_ PlayerStore      = (*MemoryStore)(nil)
	_ StateStore       = (*MemoryStore)(nil)
	_ StateTransferrer = (*MemoryStore)(nil)
	_ TransferLog      = (*MemoryStore)(nil)
)

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) GetPlayerByDeviceID(ctx context.Context, deviceID string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	playerID, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	player := *s.players[playerID]
	return &player, nil
}

func (s *MemoryStore) CreatePlayer(ctx context.Context, deviceID string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if playerID, ok := s.devices[deviceID]; ok {
		player := *s.players[playerID]
		return &player, nil
	}

	player := models.NewPlayer(deviceID)
	s.players[player.Id] = player
	s.devices[deviceID] = player.Id

	out := *player
	return &out, nil
}

func (s *MemoryStore) GetState(ctx context.Context, playerID string) (*models.PlayerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (s *MemoryStore) CreateState(ctx context.Context, playerID string, coins, rolls int) (*models.PlayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &models.PlayerState{PlayerId: playerID, Coins: coins, Rolls: rolls}
	s.states[playerID] = state
	return state.Clone(), nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, state *models.PlayerState) (*models.PlayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.PlayerId] = state.Clone()
	return state.Clone(), nil
}

func (s *MemoryStore) Transfer(ctx context.Context, fromID, toID string, rt models.ResourceType, amount int) (*models.PlayerState, *models.PlayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.states[fromID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	to, ok := s.states[toID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	from.UpdateResource(rt, -amount)
	to.UpdateResource(rt, amount)

	return from.Clone(), to.Clone(), nil
}

func (s *MemoryStore) RecordTransfer(ctx context.Context, t *Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	record := *t
	for _, playerID := range []string{t.From, t.To} {
		list := append(s.transfers[playerID], &record)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		if len(list) > TransferHistoryLimit {
			list = list[:TransferHistoryLimit]
		}
		s.transfers[playerID] = list
	}
	return nil
}

func (s *MemoryStore) RecentTransfers(ctx context.Context, playerID string, limit int64) ([]*Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > TransferHistoryLimit {
		limit = 50
	}

	list := s.transfers[playerID]
	if int64(len(list)) > limit {
		list = list[:limit]
	}

	out := make([]*Transfer, len(list))
	for i, t := range list {
		record := *t
		out[i] = &record
	}
	return out, nil
}
