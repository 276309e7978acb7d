package main

import (
	"log"

	"github.com/moneeroz/pocket-chat/internal/config"
	"github.com/moneeroz/pocket-chat/internal/devserver"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Unable to load configuration: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required", nil)
	}

	db, err := devserver.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}

	server := devserver.New(db, cfg.JWTSecret, "uploads")

	logger.Info("chatserver listening", "addr", cfg.ListenAddr)
	if err := server.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("Server stopped", err)
	}
}
