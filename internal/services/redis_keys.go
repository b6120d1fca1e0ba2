package services

const (
	KeyUser          = "user:%d"
	KeyUsernameIndex = "username:%s"
	KeyUsers         = "users"
	KeyNextUserID    = "users:next_id"

	KeyRoom       = "room:%d"
	KeyRooms      = "rooms"
	KeyNextRoomID = "rooms:next_id"

	KeySession = "room:%d:session"
	KeyEscrow  = "room:%d:escrow"

	KeyTransaction      = "transaction:%s"
	KeyUserTransactions = "user:%d:transactions"

	// Ledger listings keep only the most recent entries per user.
	MaxTransactionHistory = 100
)

// Escrow state record, keyed by room. Its existence and value are the
// idempotency witness for the lock/refund/settle operations.
const (
	EscrowStateLocked   = "locked"
	EscrowStateRefunded = "refunded"
	EscrowStateSettled  = "settled"
)
