package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-game-backend/internal/store"
)

const defaultHistoryLimit = 20

// HistoryHandler serves a player's recent transfers over REST, next to the
// websocket endpoint.
type HistoryHandler struct {
	logger    *zap.Logger
	transfers store.TransferLog
}

func NewHistoryHandler(logger *zap.Logger, transfers store.TransferLog) *HistoryHandler {
	return &HistoryHandler{
		logger:    logger,
		transfers: transfers,
	}
}

func (h *HistoryHandler) GetPlayerTransfers(c *gin.Context) {
	playerID := c.Param("id")

	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	transfers, err := h.transfers.RecentTransfers(c.Request.Context(), playerID, limit)
	if err != nil {
		h.logger.Error("failed to load transfer history",
			zap.String("player_id", playerID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transfers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player_id": playerID,
		"transfers": transfers,
	})
}
