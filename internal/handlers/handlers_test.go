package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"guessduel-backend/internal/config"
	"guessduel-backend/internal/handlers"
	"guessduel-backend/internal/middleware"
	"guessduel-backend/internal/models"
	"guessduel-backend/internal/services"
)

// testServer wires the full API surface against miniredis with a mock
// clock driving the disconnect watchdog.
type testServer struct {
	store    *services.RedisService
	escrow   *services.EscrowManager
	engine   *services.GameEngine
	watchdog *services.Watchdog
	clock    *quartz.Mock
	jwt      *services.JWTService
	cfg      *config.Config
	router   *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	cfg := &config.Config{
		RedisAddr:       mr.Addr(),
		JWTSecret:       "test-secret",
		DisconnectGrace: 30 * time.Second,
		MinBet:          10,
		MaxBet:          1000,
	}

	logger := log.New(io.Discard)
	store, err := services.NewRedisService(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	jwtService := services.NewJWTService(cfg)
	escrow := services.NewEscrowManager(store, logger)
	engine := services.NewGameEngine(store, escrow, logger)
	mClock := quartz.NewMock(t)
	watchdog := services.NewWatchdog(mClock, cfg.DisconnectGrace, logger)
	hub := handlers.NewRoomHub()

	authHandler := handlers.NewAuthHandler(store, jwtService)
	userHandler := handlers.NewUserHandler(store)
	roomHandler := handlers.NewRoomHandler(store, cfg)
	gameSocket := handlers.NewGameSocketHandler(store, engine, escrow, watchdog, hub, cfg.DisconnectGrace, logger)

	router := gin.New()
	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/me", userHandler.GetCurrentUser)
		protected.GET("/transactions", userHandler.GetTransactions)
		protected.GET("/leaderboard", userHandler.GetLeaderboard)

		rooms := protected.Group("/rooms")
		{
			rooms.GET("", roomHandler.ListRooms)
			rooms.POST("", roomHandler.CreateRoom)
			rooms.POST("/:id/join", roomHandler.JoinRoom)
			rooms.GET("/:id/ws", gameSocket.HandleGame)
		}
	}

	return &testServer{
		store:    store,
		escrow:   escrow,
		engine:   engine,
		watchdog: watchdog,
		clock:    mClock,
		jwt:      jwtService,
		cfg:      cfg,
		router:   router,
	}
}

// createPlayer seeds an account directly in the store and issues a token
// for it, bypassing the register endpoint's bcrypt work.
func (ts *testServer) createPlayer(t *testing.T, username string, balance int64) (*models.User, string) {
	t.Helper()

	user, err := ts.store.CreateUser(context.Background(), username, "", "hash", balance)
	require.NoError(t, err)

	token, err := ts.jwt.GenerateToken(user.ID, user.Username)
	require.NoError(t, err)

	return user, token
}

// request performs one JSON API call against the in-memory router.
func (ts *testServer) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
