package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"guessduel-backend/internal/models"
	"guessduel-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage is the inbound wire shape.
type ClientMessage struct {
	Action string `json:"action"`
	Number *int   `json:"number"`
}

// GameSocketHandler is the per-room websocket gateway: it admits
// participants, starts the game when the room fills, relays guesses to the
// engine and arms the disconnect watchdog when a player drops.
type GameSocketHandler struct {
	store    *services.RedisService
	engine   *services.GameEngine
	escrow   *services.EscrowManager
	watchdog *services.Watchdog
	hub      *RoomHub
	logger   *log.Logger
	grace    time.Duration
}

func NewGameSocketHandler(
	store *services.RedisService,
	engine *services.GameEngine,
	escrow *services.EscrowManager,
	watchdog *services.Watchdog,
	hub *RoomHub,
	grace time.Duration,
	logger *log.Logger,
) *GameSocketHandler {
	return &GameSocketHandler{
		store:    store,
		engine:   engine,
		escrow:   escrow,
		watchdog: watchdog,
		hub:      hub,
		logger:   logger.WithPrefix("gateway"),
		grace:    grace,
	}
}

func (h *GameSocketHandler) HandleGame(c *gin.Context) {
	userID := c.GetInt64("user_id")
	username := c.GetString("username")

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
	if !room.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a participant of this room"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade to websocket", "error", err)
		return
	}

	client := newRoomClient(conn, roomID, userID, username, h.logger)
	h.hub.add(client)
	go client.writePump()

	h.logger.Info("player connected", "room", roomID, "user", userID)

	// The connection and its timers outlive the upgrade request.
	ctx := context.Background()

	// Reconnect wins the race against a pending grace timer.
	if h.watchdog.Disarm(roomID, userID) {
		h.logger.Info("reconnected within grace period", "room", roomID, "user", userID)
	}

	h.onConnect(ctx, client, room)

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket error", "room", roomID, "user", userID, "error", err)
			}
			break
		}

		switch msg.Action {
		case "guess":
			if msg.Number == nil {
				client.trySend(gin.H{"error": "guess requires a number"})
				continue
			}
			h.handleGuess(ctx, client, *msg.Number)

		case "leave_game":
			h.handleLeave(ctx, client)

		default:
			client.trySend(gin.H{"error": fmt.Sprintf("unknown action: %q", msg.Action)})
		}
	}

	h.hub.remove(client)
	client.close()
	h.onDisconnect(ctx, client)
}

// onConnect starts the game once the room is full: the first connection to
// get a session created locks the stakes and broadcasts START; everyone
// else receives a private resync snapshot.
func (h *GameSocketHandler) onConnect(ctx context.Context, client *roomClient, room *models.Room) {
	if room.Status != models.RoomStatusFull {
		return
	}

	if _, err := h.store.GetSession(ctx, room.ID); err == nil {
		h.sendSnapshot(ctx, client)
		return
	} else if !errors.Is(err, services.ErrSessionMissing) {
		h.logger.Error("failed to check session", "room", room.ID, "error", err)
		return
	}

	if err := h.escrow.Lock(ctx, room); err != nil {
		if errors.Is(err, services.ErrInsufficientFunds) {
			client.trySend(gin.H{"error": "Stakes could not be locked, the game cannot start"})
			// Reopen the room rather than leaving it stuck FULL with no game.
			if _, err := h.engine.Release(ctx, room); err != nil {
				h.logger.Error("failed to reopen room after lock failure", "room", room.ID, "error", err)
			}
			return
		}
		h.logger.Error("escrow lock failed", "room", room.ID, "error", err)
		client.trySend(gin.H{"error": "Failed to start game"})
		return
	}

	session, created, err := h.engine.StartSession(ctx, room)
	if err != nil {
		h.logger.Error("failed to start session", "room", room.ID, "error", err)
		return
	}
	if !created {
		h.sendSnapshot(ctx, client)
		return
	}

	balances, err := h.engine.Balances(ctx, room)
	if err != nil {
		h.logger.Error("failed to load balances", "room", room.ID, "error", err)
	}

	turnName := ""
	if turn, err := h.store.GetUser(ctx, session.CurrentTurnID); err == nil {
		turnName = turn.Username
	}

	h.hub.Broadcast(room.ID, &GameEvent{
		Event:    services.EventStart,
		Message:  "Game started! A secret number between 1 and 100 has been chosen.",
		Turn:     &session.CurrentTurnID,
		TurnName: turnName,
		Balances: balances,
	})
}

func (h *GameSocketHandler) sendSnapshot(ctx context.Context, client *roomClient) {
	snapshot, err := h.engine.Snapshot(ctx, client.roomID)
	if err != nil {
		h.logger.Error("failed to build snapshot", "room", client.roomID, "error", err)
		return
	}

	client.trySend(&GameEvent{
		Event:        "SYNC",
		Message:      "Game in progress",
		Turn:         &snapshot.CurrentTurnID,
		TurnName:     snapshot.CurrentTurnName,
		HistoryCount: &snapshot.HistoryCount,
	})
}

func (h *GameSocketHandler) handleGuess(ctx context.Context, client *roomClient, guess int) {
	room, err := h.store.GetRoom(ctx, client.roomID)
	if err != nil {
		client.trySend(gin.H{"error": "Room not found"})
		return
	}

	result, err := h.engine.Guess(ctx, room, client.userID, client.username, guess)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotYourTurn):
			client.trySend(gin.H{"error": "Please wait for your turn"})
		case errors.Is(err, services.ErrSessionMissing):
			client.trySend(gin.H{"error": "No active game"})
		case errors.Is(err, services.ErrSessionFinished):
			client.trySend(gin.H{"error": "Game already finished"})
		default:
			h.logger.Error("failed to process guess", "room", client.roomID, "user", client.userID, "error", err)
			client.trySend(gin.H{"error": "Failed to process guess"})
		}
		return
	}

	if result.Event == services.EventWinner {
		if !result.Settled {
			// A simultaneous forfeit settled first; its broadcast already
			// went out and this guess no longer decides anything.
			return
		}
		h.hub.Broadcast(client.roomID, &GameEvent{
			Event:       services.EventWinner,
			Message:     result.Message,
			LastGuess:   &result.Guess,
			GuesserID:   &result.GuesserID,
			GuesserName: result.GuesserName,
			WinnerID:    &result.WinnerID,
			Reason:      result.Reason,
		})
		return
	}

	h.hub.Broadcast(client.roomID, &GameEvent{
		Event:       services.EventContinue,
		Message:     result.Message,
		LastGuess:   &result.Guess,
		GuesserID:   &result.GuesserID,
		GuesserName: result.GuesserName,
		Turn:        &result.NextTurnID,
		TurnName:    result.NextTurnName,
	})
}

// handleLeave processes an explicit leave: refund-and-reset before a game
// started, forfeit to the opponent once it has.
func (h *GameSocketHandler) handleLeave(ctx context.Context, client *roomClient) {
	room, err := h.store.GetRoom(ctx, client.roomID)
	if err != nil {
		return
	}

	_, err = h.store.GetSession(ctx, room.ID)
	if errors.Is(err, services.ErrSessionMissing) {
		if _, err := h.engine.Release(ctx, room); err != nil {
			h.logger.Error("failed to release room", "room", room.ID, "error", err)
		}
		return
	}
	if err != nil {
		h.logger.Error("failed to check session", "room", room.ID, "error", err)
		return
	}

	result, err := h.engine.Forfeit(ctx, room, client.userID, services.WinReasonLeave)
	if err != nil {
		h.logger.Error("failed to forfeit", "room", room.ID, "user", client.userID, "error", err)
		return
	}
	if !result.Settled {
		return
	}

	h.hub.Broadcast(room.ID, &GameEvent{
		Event:    services.EventWinner,
		Message:  "Your opponent left the game. You win!",
		WinnerID: &result.WinnerID,
		Reason:   result.Reason,
	})
}

// onDisconnect runs after the read loop ends: an unstarted game is wound
// down immediately, an in-progress one gets a grace timer that forfeits the
// player unless they reconnect in time.
func (h *GameSocketHandler) onDisconnect(ctx context.Context, client *roomClient) {
	h.logger.Info("player disconnected", "room", client.roomID, "user", client.userID)

	room, err := h.store.GetRoom(ctx, client.roomID)
	if err != nil {
		return
	}

	session, err := h.store.GetSession(ctx, room.ID)
	if errors.Is(err, services.ErrSessionMissing) {
		if _, err := h.engine.Release(ctx, room); err != nil {
			h.logger.Error("failed to release room", "room", room.ID, "error", err)
		}
		return
	}
	if err != nil {
		h.logger.Error("failed to check session", "room", room.ID, "error", err)
		return
	}
	if session.Finished() {
		return
	}

	roomID, userID := client.roomID, client.userID
	h.watchdog.Arm(roomID, userID, func() {
		ctx := context.Background()

		room, err := h.store.GetRoom(ctx, roomID)
		if err != nil {
			h.logger.Error("forfeit aborted, room unavailable", "room", roomID, "error", err)
			return
		}

		result, err := h.engine.Forfeit(ctx, room, userID, services.WinReasonDisconnect)
		if err != nil {
			h.logger.Error("failed to forfeit after grace period", "room", roomID, "user", userID, "error", err)
			return
		}
		if !result.Settled {
			return
		}

		h.hub.Broadcast(roomID, &GameEvent{
			Event:    services.EventWinner,
			Message:  fmt.Sprintf("Opponent stayed disconnected for %s. You win!", h.grace),
			WinnerID: &result.WinnerID,
			Reason:   result.Reason,
		})
	})
}
