package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func GenerateTransactionID() string {
	return fmt.Sprintf("tx_%s_%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateRoomRequest struct {
	Name      string `json:"name" binding:"required,max=50"`
	BetAmount int64  `json:"bet_amount" binding:"required"`
}

func (r *CreateRoomRequest) Validate(minBet, maxBet int64) error {
	if r.BetAmount < minBet || r.BetAmount > maxBet {
		return fmt.Errorf("bet amount must be between %d and %d", minBet, maxBet)
	}
	return nil
}
