package models

import "time"

// GuessEntry is one line of a session's guess history.
type GuessEntry struct {
	Guess       int       `json:"guess"`
	GuesserName string    `json:"guesser"`
	Response    string    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
}

// GameSession holds the in-progress state of one duel. There is at most one
// session per room; it is created the first time the room becomes full.
type GameSession struct {
	RoomID        int64        `json:"room_id" redis:"room_id"`
	TargetNumber  int          `json:"target_number" redis:"target_number"`
	CurrentTurnID int64        `json:"current_turn_id" redis:"current_turn_id"`
	History       []GuessEntry `json:"history"`
	StartedAt     time.Time    `json:"started_at" redis:"started_at"`
	EndedAt       *time.Time   `json:"ended_at,omitempty" redis:"ended_at"`
	WinnerID      *int64       `json:"winner_id,omitempty" redis:"winner_id"`
}

// Finished reports whether the session already has a winner.
func (s *GameSession) Finished() bool {
	return s.WinnerID != nil
}
