// Package store holds the persistence contracts the session layer consumes,
// plus the bundled redis and in-memory implementations. Each call is atomic
// on its own; cross-record atomicity is only promised by StateTransferrer.
package store

import (
	"context"
	"errors"
	"time"

	"social-game-backend/internal/models"
)

var ErrNotFound = errors.New("store: not found")

// PlayerStore persists the immutable device-to-player identity binding.
type PlayerStore interface {
	// GetPlayerByDeviceID returns ErrNotFound when no player owns the device.
	GetPlayerByDeviceID(ctx context.Context, deviceID string) (*models.Player, error)
	// CreatePlayer registers a new player for the device. If the device
	// is already bound, the existing player is returned.
	CreatePlayer(ctx context.Context, deviceID string) (*models.Player, error)
}

// StateStore persists per-player resource ledgers.
type StateStore interface {
	// GetState returns ErrNotFound when the player has no ledger yet.
	GetState(ctx context.Context, playerID string) (*models.PlayerState, error)
	CreateState(ctx context.Context, playerID string, coins, rolls int) (*models.PlayerState, error)
	UpdateState(ctx context.Context, state *models.PlayerState) (*models.PlayerState, error)
}

// StateTransferrer moves an amount between two ledgers as one atomic unit.
// Stores that implement it spare the caller the partial-failure window of
// two separate updates. Amount must be non-negative. A transfer where both
// ids name the same player leaves the ledger unchanged.
type StateTransferrer interface {
	Transfer(ctx context.Context, fromID, toID string, rt models.ResourceType, amount int) (from, to *models.PlayerState, err error)
}

// Transfer is one completed gift, kept for tracing.
type Transfer struct {
	ID           string              `json:"id"`
	From         string              `json:"from"`
	To           string              `json:"to"`
	ResourceType models.ResourceType `json:"resource_type"`
	Amount       int                 `json:"amount"`
	CreatedAt    time.Time           `json:"created_at"`
}

// TransferLog records recent transfers per player.
type TransferLog interface {
	RecordTransfer(ctx context.Context, t *Transfer) error
	RecentTransfers(ctx context.Context, playerID string, limit int64) ([]*Transfer, error)
}
