package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"guessduel-backend/internal/services"
)

type UserHandler struct {
	store *services.RedisService
}

func NewUserHandler(store *services.RedisService) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID := c.GetInt64("user_id")

	user, err := h.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": profileJSON(user)})
}

func (h *UserHandler) GetTransactions(c *gin.Context) {
	userID := c.GetInt64("user_id")

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	transactions, err := h.store.GetUserTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (h *UserHandler) GetLeaderboard(c *gin.Context) {
	players, err := h.store.TopPlayers(c.Request.Context(), 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load leaderboard"})
		return
	}

	entries := make([]gin.H, 0, len(players))
	for i, player := range players {
		entries = append(entries, gin.H{
			"rank":        i + 1,
			"username":    player.Username,
			"balance":     player.Balance,
			"total_games": player.TotalGames,
			"total_wins":  player.TotalWins,
			"win_rate":    player.WinRate(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
