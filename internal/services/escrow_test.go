package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guessduel-backend/internal/models"
	"guessduel-backend/internal/services"
)

func TestEscrowLockDebitsBothPlayers(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))

	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(900), balanceOf(t, store, player2.ID))

	state, err := store.EscrowState(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, services.EscrowStateLocked, state)

	for _, userID := range []int64{creator.ID, player2.ID} {
		txs, err := store.GetUserTransactions(ctx, userID, 10)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, models.TransactionTypeLock, txs[0].Type)
		assert.Equal(t, int64(-100), txs[0].Amount)
		assert.Equal(t, room.ID, txs[0].RoomID)
	}
}

func TestEscrowLockIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))
	require.NoError(t, escrow.Lock(ctx, room))

	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(900), balanceOf(t, store, player2.ID))

	txs, err := store.GetUserTransactions(ctx, creator.ID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "second lock must not record another transaction")
}

func TestEscrowLockInsufficientFundsDebitsNeither(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	ctx := context.Background()

	creator := createTestUser(t, store, "rich", 1000)
	player2 := createTestUser(t, store, "poor", 50)

	room, err := store.CreateRoom(ctx, "duel", 100, creator.ID)
	require.NoError(t, err)
	room, err = store.JoinRoom(ctx, room.ID, player2.ID)
	require.NoError(t, err)

	err = escrow.Lock(ctx, room)
	require.ErrorIs(t, err, services.ErrInsufficientFunds)

	assert.Equal(t, int64(1000), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(50), balanceOf(t, store, player2.ID))

	state, err := store.EscrowState(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, state, "failed lock must leave no escrow record")
}

func TestEscrowSettleConservesTotalBalance(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))

	settled, err := escrow.Settle(ctx, room, player2.ID, services.WinReasonNormal)
	require.NoError(t, err)
	assert.True(t, settled)

	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(1100), balanceOf(t, store, player2.ID))
	assert.Equal(t, int64(2000), balanceOf(t, store, creator.ID)+balanceOf(t, store, player2.ID))

	winner, err := store.GetUser(ctx, player2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, winner.TotalWins)
	assert.Equal(t, 1, winner.TotalGames)

	loser, err := store.GetUser(ctx, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loser.TotalWins)
	assert.Equal(t, 1, loser.TotalGames)

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, got.Status)

	txs, err := store.GetUserTransactions(ctx, player2.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2) // lock + win
	assert.Equal(t, models.TransactionTypeWin, txs[0].Type)
	assert.Equal(t, int64(200), txs[0].Amount)
	assert.Equal(t, services.WinReasonNormal, txs[0].Reason)
}

func TestEscrowSettleIsAtMostOnce(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))

	settled, err := escrow.Settle(ctx, room, player2.ID, services.WinReasonNormal)
	require.NoError(t, err)
	assert.True(t, settled)

	// A racing forfeit settling the other way must be absorbed as a no-op.
	settled, err = escrow.Settle(ctx, room, creator.ID, services.WinReasonDisconnect)
	require.NoError(t, err)
	assert.False(t, settled)

	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(1100), balanceOf(t, store, player2.ID))
}

func TestEscrowSettleRequiresLock(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, _, player2 := newTestDuel(t, store)

	_, err := escrow.Settle(context.Background(), room, player2.ID, services.WinReasonNormal)
	require.ErrorIs(t, err, services.ErrStakesNotLocked)
}

func TestEscrowRefundReopensRoom(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))

	refunded, err := escrow.Refund(ctx, room)
	require.NoError(t, err)
	assert.True(t, refunded)

	assert.Equal(t, int64(1000), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(1000), balanceOf(t, store, player2.ID))

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusOpen, got.Status)
	assert.Nil(t, got.Player2ID)

	state, err := store.EscrowState(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, services.EscrowStateRefunded, state)

	txs, err := store.GetUserTransactions(ctx, creator.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2) // lock + refund
	assert.Equal(t, models.TransactionTypeRefund, txs[0].Type)
	assert.Equal(t, int64(100), txs[0].Amount)
}

// A refunded room can be rejoined and must fund and settle a fresh game;
// the stale "refunded" record never counts as an existing lock.
func TestEscrowRelockAfterRefund(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))
	refunded, err := escrow.Refund(ctx, room)
	require.NoError(t, err)
	require.True(t, refunded)

	// The refund reopened the room; the opponent takes the seat again.
	room, err = store.JoinRoom(ctx, room.ID, player2.ID)
	require.NoError(t, err)

	require.NoError(t, escrow.Lock(ctx, room))
	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(900), balanceOf(t, store, player2.ID))

	state, err := store.EscrowState(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, services.EscrowStateLocked, state)

	settled, err := escrow.Settle(ctx, room, player2.ID, services.WinReasonNormal)
	require.NoError(t, err)
	assert.True(t, settled)

	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(1100), balanceOf(t, store, player2.ID))
}

func TestEscrowRefundWithoutLockIsNoop(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	room, creator, _ := newTestDuel(t, store)
	ctx := context.Background()

	refunded, err := escrow.Refund(ctx, room)
	require.NoError(t, err)
	assert.False(t, refunded)

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusOpen, got.Status, "room still resets to OPEN")

	txs, err := store.GetUserTransactions(ctx, creator.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txs, "no refund entries when nothing was locked")
}

func TestEscrowRefundBlockedByActiveSession(t *testing.T) {
	store := newTestStore(t)
	escrow := services.NewEscrowManager(store, testLogger())
	engine := services.NewGameEngine(store, escrow, testLogger())
	room, creator, player2 := newTestDuel(t, store)
	ctx := context.Background()

	require.NoError(t, escrow.Lock(ctx, room))
	_, created, err := engine.StartSession(ctx, room)
	require.NoError(t, err)
	require.True(t, created)

	refunded, err := escrow.Refund(ctx, room)
	require.NoError(t, err)
	assert.False(t, refunded)

	assert.Equal(t, int64(900), balanceOf(t, store, creator.ID))
	assert.Equal(t, int64(900), balanceOf(t, store, player2.ID))

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFull, got.Status, "in-progress room must not be reset")
}
