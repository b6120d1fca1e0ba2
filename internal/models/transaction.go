package models

import "time"

type TransactionType string

const (
	TransactionTypeLock   TransactionType = "lock"
	TransactionTypeRefund TransactionType = "refund"
	TransactionTypeWin    TransactionType = "win"
)

// Transaction is an immutable ledger entry. Amount is signed: negative for
// escrow locks, positive for refunds and winnings.
type Transaction struct {
	ID          string          `json:"id" redis:"id"`
	UserID      int64           `json:"user_id" redis:"user_id"`
	Type        TransactionType `json:"type" redis:"type"`
	Amount      int64           `json:"amount" redis:"amount"`
	RoomID      int64           `json:"room_id" redis:"room_id"`
	Reason      string          `json:"reason,omitempty" redis:"reason"`
	Description string          `json:"description" redis:"description"`
	CreatedAt   time.Time       `json:"created_at" redis:"created_at"`
}
