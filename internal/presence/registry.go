// Package presence tracks which device/player identities currently own a
// live connection. It is the only shared mutable state in the session
// layer, so every operation goes through the registry lock.
package presence

import (
	"sync"

	"social-game-backend/internal/protocol"
)

// Conn is the outbound half of a client connection. Implementations must
// be safe for concurrent Send calls.
type Conn interface {
	Send(msg protocol.Message) error
}

// Entry is the live binding of a device/player identity to a connection.
type Entry struct {
	DeviceID string
	PlayerID string
	Conn     Conn
}

// Registry maps device id to entry, with a player-id reverse index
// maintained in lock-step so lookups by either key are O(1).
type Registry struct {
	mu       sync.RWMutex
	byDevice map[string]*Entry
	byPlayer map[string]string // player id -> device id
}

func NewRegistry() *Registry {
	return &Registry{
		byDevice: make(map[string]*Entry),
		byPlayer: make(map[string]string),
	}
}

// Register inserts the binding and reports whether it won. A device with
// an existing entry, or a player already online through another device,
// is rejected.
func (r *Registry) Register(deviceID, playerID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byDevice[deviceID]; ok {
		return false
	}
	if _, ok := r.byPlayer[playerID]; ok {
		return false
	}

	r.byDevice[deviceID] = &Entry{DeviceID: deviceID, PlayerID: playerID, Conn: conn}
	r.byPlayer[playerID] = deviceID
	return true
}

func (r *Registry) ByDevice(deviceID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byDevice[deviceID]
	return entry, ok
}

func (r *Registry) ByPlayer(playerID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deviceID, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	entry, ok := r.byDevice[deviceID]
	return entry, ok
}

// Remove drops the device's entry and its reverse index row. Removing an
// absent key is a no-op.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byDevice[deviceID]
	if !ok {
		return false
	}
	delete(r.byDevice, deviceID)
	delete(r.byPlayer, entry.PlayerID)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}
