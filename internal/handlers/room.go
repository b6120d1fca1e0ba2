package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"guessduel-backend/internal/config"
	"guessduel-backend/internal/models"
	"guessduel-backend/internal/services"
)

type RoomHandler struct {
	store *services.RedisService
	cfg   *config.Config
}

func NewRoomHandler(store *services.RedisService, cfg *config.Config) *RoomHandler {
	return &RoomHandler{
		store: store,
		cfg:   cfg,
	}
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.store.ListJoinableRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rooms"})
		return
	}

	entries := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		entries = append(entries, h.roomJSON(c, room))
	}

	c.JSON(http.StatusOK, gin.H{"rooms": entries})
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if err := req.Validate(h.cfg.MinBet, h.cfg.MaxBet); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	if user.Balance < req.BetAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient balance"})
		return
	}

	room, err := h.store.CreateRoom(c.Request.Context(), req.Name, req.BetAmount, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": h.roomJSON(c, room)})
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID := c.GetInt64("user_id")

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return
	}

	room, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	if user.Balance < room.BetAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient balance"})
		return
	}

	room, err = h.store.JoinRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOwnRoom):
			c.JSON(http.StatusBadRequest, gin.H{"error": "You created this room, you are already in it"})
		case errors.Is(err, services.ErrRoomNotOpen):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Room is no longer available"})
		case errors.Is(err, services.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join room"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "Game starting...",
		"room_id": room.ID,
	})
}

func (h *RoomHandler) roomJSON(c *gin.Context, room *models.Room) gin.H {
	playerCount := 1
	if room.Player2ID != nil {
		playerCount = 2
	}

	creatorName := ""
	if creator, err := h.store.GetUser(c.Request.Context(), room.CreatorID); err == nil {
		creatorName = creator.Username
	}

	return gin.H{
		"id":           room.ID,
		"name":         room.Name,
		"bet_amount":   room.BetAmount,
		"creator_name": creatorName,
		"player_count": playerCount,
		"status":       room.Status,
		"created_at":   room.CreatedAt,
	}
}
