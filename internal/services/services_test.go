package services_test

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"guessduel-backend/internal/config"
	"guessduel-backend/internal/models"
	"guessduel-backend/internal/services"
)

func newTestStore(t *testing.T) *services.RedisService {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := services.NewRedisService(&config.Config{RedisAddr: mr.Addr()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func createTestUser(t *testing.T, store *services.RedisService, username string, balance int64) *models.User {
	t.Helper()

	user, err := store.CreateUser(context.Background(), username, "", "hash", balance)
	require.NoError(t, err)
	return user
}

// newTestDuel sets up a full room with two funded players and a bet of 100.
func newTestDuel(t *testing.T, store *services.RedisService) (*models.Room, *models.User, *models.User) {
	t.Helper()
	ctx := context.Background()

	creator := createTestUser(t, store, "alice", 1000)
	player2 := createTestUser(t, store, "bob", 1000)

	room, err := store.CreateRoom(ctx, "duel", 100, creator.ID)
	require.NoError(t, err)

	room, err = store.JoinRoom(ctx, room.ID, player2.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusFull, room.Status)

	return room, creator, player2
}

func balanceOf(t *testing.T, store *services.RedisService, userID int64) int64 {
	t.Helper()

	user, err := store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return user.Balance
}
