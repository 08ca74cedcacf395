package models

import "github.com/google/uuid"

// Starting grant for a player logging in for the first time.
const (
	StartingCoins = 100
	StartingRolls = 50
)

type ResourceType string

const (
	ResourceCoins ResourceType = "Coins"
	ResourceRolls ResourceType = "Rolls"
)

func (rt ResourceType) Valid() bool {
	return rt == ResourceCoins || rt == ResourceRolls
}

type Balance struct {
	Coins int `json:"Coins"`
	Rolls int `json:"Rolls"`
}

// Player binds a server-generated id to a client-supplied device id.
// Created once per device, immutable afterwards.
type Player struct {
	Id       string `json:"Id"`
	DeviceId string `json:"DeviceId"`
}

func NewPlayer(deviceID string) *Player {
	return &Player{
		Id:       uuid.NewString(),
		DeviceId: deviceID,
	}
}

// PlayerState is the per-player resource ledger. Values are allowed to
// go negative.
type PlayerState struct {
	PlayerId string `json:"PlayerId"`
	Coins    int    `json:"Coins"`
	Rolls    int    `json:"Rolls"`
}

func NewPlayerState(playerID string) *PlayerState {
	return &PlayerState{
		PlayerId: playerID,
		Coins:    StartingCoins,
		Rolls:    StartingRolls,
	}
}

func (s *PlayerState) Balance() Balance {
	return Balance{Coins: s.Coins, Rolls: s.Rolls}
}

// UpdateResource adds a signed amount to the named resource. No clamping.
func (s *PlayerState) UpdateResource(rt ResourceType, value int) {
	switch rt {
	case ResourceCoins:
		s.Coins += value
	case ResourceRolls:
		s.Rolls += value
	}
}

func (s *PlayerState) SetBalance(coins, rolls int) {
	s.Coins = coins
	s.Rolls = rolls
}

func (s *PlayerState) Clone() *PlayerState {
	c := *s
	return &c
}
