package store

import "time"

const (
	KeyPlayer          = "player:%s"
	KeyPlayerByDevice  = "player:device:%s"
	KeyPlayerState     = "state:%s"
	KeyTransfer        = "transfer:%s"
	KeyPlayerTransfers = "player:%s:transfers"

	TTLTransfer = 30 * 24 * time.Hour // 30 days

	// Keep only the last 100 transfers per player.
	TransferHistoryLimit = 100
)
