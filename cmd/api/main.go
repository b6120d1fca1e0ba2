package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"guessduel-backend/internal/config"
	"guessduel-backend/internal/handlers"
	"guessduel-backend/internal/middleware"
	"guessduel-backend/internal/services"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if cfg.Env == "development" {
		logger.SetLevel(log.DebugLevel)
	}

	store, err := services.NewRedisService(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", "error", err)
	}
	defer store.Close()

	jwtService := services.NewJWTService(cfg)
	escrow := services.NewEscrowManager(store, logger)
	engine := services.NewGameEngine(store, escrow, logger)
	watchdog := services.NewWatchdog(quartz.NewReal(), cfg.DisconnectGrace, logger)
	hub := handlers.NewRoomHub()

	authHandler := handlers.NewAuthHandler(store, jwtService)
	userHandler := handlers.NewUserHandler(store)
	roomHandler := handlers.NewRoomHandler(store, cfg)
	gameSocket := handlers.NewGameSocketHandler(store, engine, escrow, watchdog, hub, cfg.DisconnectGrace, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

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

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("failed to start server", "error", err)
	}
}
