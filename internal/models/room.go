package models

import "time"

type RoomStatus string

const (
	RoomStatusOpen     RoomStatus = "OPEN"
	RoomStatusFull     RoomStatus = "FULL"
	RoomStatusFinished RoomStatus = "FINISHED"
)

type Room struct {
	ID        int64      `json:"id" redis:"id"`
	Name      string     `json:"name" redis:"name"`
	BetAmount int64      `json:"bet_amount" redis:"bet_amount"`
	CreatorID int64      `json:"creator_id" redis:"creator_id"`
	Player2ID *int64     `json:"player2_id,omitempty" redis:"player2_id"`
	Status    RoomStatus `json:"status" redis:"status"`
	CreatedAt time.Time  `json:"created_at" redis:"created_at"`
}

// Participants returns both player ids. The second id is only meaningful
// once the room is full.
func (r *Room) Participants() (int64, int64) {
	var p2 int64
	if r.Player2ID != nil {
		p2 = *r.Player2ID
	}
	return r.CreatorID, p2
}

// Opponent returns the other participant of a full room.
func (r *Room) Opponent(userID int64) int64 {
	if r.Player2ID != nil && userID == r.CreatorID {
		return *r.Player2ID
	}
	return r.CreatorID
}

// HasParticipant reports whether userID is one of the room's players.
func (r *Room) HasParticipant(userID int64) bool {
	if userID == r.CreatorID {
		return true
	}
	return r.Player2ID != nil && *r.Player2ID == userID
}
