package handlers

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"guessduel-backend/internal/services"
)

// GameEvent is the broadcast payload sent to every connection in a room.
type GameEvent struct {
	Event        string                 `json:"event"`
	Message      string                 `json:"message,omitempty"`
	Turn         *int64                 `json:"turn,omitempty"`
	TurnName     string                 `json:"turn_name,omitempty"`
	LastGuess    *int                   `json:"last_guess,omitempty"`
	GuesserID    *int64                 `json:"guesser_id,omitempty"`
	GuesserName  string                 `json:"guesser_name,omitempty"`
	WinnerID     *int64                 `json:"winner_id,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	HistoryCount *int                   `json:"history_count,omitempty"`
	Balances     *services.RoomBalances `json:"balances,omitempty"`
}

type roomClient struct {
	userID   int64
	username string
	roomID   int64
	conn     *websocket.Conn
	send     chan interface{}
	logger   *log.Logger

	mu     sync.Mutex
	closed bool
}

func newRoomClient(conn *websocket.Conn, roomID, userID int64, username string, logger *log.Logger) *roomClient {
	return &roomClient{
		userID:   userID,
		username: username,
		roomID:   roomID,
		conn:     conn,
		send:     make(chan interface{}, 32),
		logger:   logger,
	}
}

// writePump serializes all writes to the peer; broadcasts and private
// errors arrive from multiple goroutines via the send channel.
func (c *roomClient) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Error("failed to write message", "user", c.userID, "error", err)
			c.conn.Close()
		}
	}
	c.conn.Close()
}

func (c *roomClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// trySend queues a message for this client only, dropping it if the
// client is already torn down or its buffer is full rather than blocking
// the caller.
func (c *roomClient) trySend(msg interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message", "user", c.userID)
	}
}

// RoomHub tracks which connections belong to which room and fans broadcast
// events out to all of a room's connections.
type RoomHub struct {
	mu    sync.RWMutex
	rooms map[int64]map[*roomClient]bool
}

func NewRoomHub() *RoomHub {
	return &RoomHub{
		rooms: make(map[int64]map[*roomClient]bool),
	}
}

func (h *RoomHub) add(client *roomClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[client.roomID]
	if !ok {
		clients = make(map[*roomClient]bool)
		h.rooms[client.roomID] = clients
	}
	clients[client] = true
}

func (h *RoomHub) remove(client *roomClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[client.roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, client.roomID)
		}
	}
}

// Broadcast sends an event to every connection in the room.
func (h *RoomHub) Broadcast(roomID int64, event *GameEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[roomID] {
		client.trySend(event)
	}
}
