package services

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"guessduel-backend/internal/models"
)

// Win reasons recorded on settlement transactions.
const (
	WinReasonNormal     = "normal"
	WinReasonDisconnect = "disconnect"
	WinReasonLeave      = "manual_leave"
)

// EscrowManager holds, refunds and settles the wagered stakes of a room.
// The atomic sections live in the store's Lua scripts; this layer maps their
// outcomes to errors and writes the ledger entries, exactly once per outcome.
type EscrowManager struct {
	store  *RedisService
	logger *log.Logger
}

func NewEscrowManager(store *RedisService, logger *log.Logger) *EscrowManager {
	return &EscrowManager{
		store:  store,
		logger: logger.WithPrefix("escrow"),
	}
}

// Lock debits both participants by the room's bet amount. Idempotent: a
// second call for the same room succeeds without re-debiting. Returns
// ErrInsufficientFunds, debiting neither, if either player cannot cover it.
func (m *EscrowManager) Lock(ctx context.Context, room *models.Room) error {
	if room.Player2ID == nil {
		return fmt.Errorf("room %d is not full", room.ID)
	}

	p1, p2 := orderPair(room.CreatorID, *room.Player2ID)
	state, err := m.store.EscrowLock(ctx, room.ID, p1, p2, room.BetAmount)
	if err != nil {
		return err
	}

	switch state {
	case "insufficient":
		return ErrInsufficientFunds
	case "already":
		m.logger.Warn("stakes already locked", "room", room.ID)
		return nil
	}

	m.logger.Info("stakes locked", "room", room.ID, "bet", room.BetAmount)

	for _, userID := range []int64{p1, p2} {
		m.recordLedger(ctx, &models.Transaction{
			UserID:      userID,
			Type:        models.TransactionTypeLock,
			Amount:      -room.BetAmount,
			RoomID:      room.ID,
			Description: fmt.Sprintf("Room #%d stake locked", room.ID),
		})
	}
	return nil
}

// Refund reopens a room whose session never started, crediting back any
// locked stakes and clearing the second seat. No-op when no lock happened;
// refuses to act once a session exists.
func (m *EscrowManager) Refund(ctx context.Context, room *models.Room) (bool, error) {
	p2ID := room.CreatorID
	if room.Player2ID != nil {
		p2ID = *room.Player2ID
	}

	p1, p2 := orderPair(room.CreatorID, p2ID)
	state, err := m.store.EscrowRelease(ctx, room.ID, p1, p2, room.BetAmount)
	if err != nil {
		return false, err
	}

	if state != "refunded" {
		m.logger.Debug("room released without refund", "room", room.ID, "state", state)
		return false, nil
	}

	m.logger.Info("stakes refunded", "room", room.ID, "bet", room.BetAmount)

	for _, userID := range []int64{p1, p2} {
		m.recordLedger(ctx, &models.Transaction{
			UserID:      userID,
			Type:        models.TransactionTypeRefund,
			Amount:      room.BetAmount,
			RoomID:      room.ID,
			Description: fmt.Sprintf("Room #%d stake refunded (player left)", room.ID),
		})
	}
	return true, nil
}

// Settle pays the winner both escrowed stakes, bumps the win/game counters
// and marks the room FINISHED. Settlement is at most once per room: a second
// call, e.g. a disconnect forfeit racing a winning guess, is a no-op.
func (m *EscrowManager) Settle(ctx context.Context, room *models.Room, winnerID int64, reason string) (bool, error) {
	loserID := room.Opponent(winnerID)

	state, err := m.store.EscrowSettle(ctx, room.ID, winnerID, loserID, room.BetAmount)
	if err != nil {
		return false, err
	}
	switch state {
	case "noop":
		m.logger.Debug("room already settled", "room", room.ID)
		return false, nil
	case "unlocked":
		return false, ErrStakesNotLocked
	}

	m.logger.Info("stakes settled", "room", room.ID, "winner", winnerID, "reason", reason)

	m.recordLedger(ctx, &models.Transaction{
		UserID:      winnerID,
		Type:        models.TransactionTypeWin,
		Amount:      room.BetAmount * 2,
		RoomID:      room.ID,
		Reason:      reason,
		Description: fmt.Sprintf("Room #%d winnings (%s)", room.ID, reason),
	})

	// The session record is bookkeeping at this point; the FINISHED room is
	// what guards correctness. Mark it best effort.
	now := time.Now()
	_, err = m.store.UpdateSession(ctx, room.ID, func(s *models.GameSession) error {
		if s.WinnerID == nil {
			s.WinnerID = &winnerID
			s.EndedAt = &now
		}
		return nil
	})
	if err != nil && err != ErrSessionMissing {
		m.logger.Error("failed to finalize session", "room", room.ID, "error", err)
	}

	return true, nil
}

func (m *EscrowManager) recordLedger(ctx context.Context, tx *models.Transaction) {
	tx.ID = models.GenerateTransactionID()
	tx.CreatedAt = time.Now()
	if err := m.store.SaveTransaction(ctx, tx); err != nil {
		m.logger.Error("failed to record transaction", "user", tx.UserID, "room", tx.RoomID, "error", err)
	}
}

// orderPair returns the two ids in ascending order so account records are
// always touched in the same sequence.
func orderPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
