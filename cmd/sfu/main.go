package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/huddlertc/sfu/internals/config"
	"github.com/huddlertc/sfu/internals/sfu"
	"github.com/huddlertc/sfu/internals/utils"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting SFU server")

	// Create SFU instance
	server, err := sfu.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create SFU server", zap.Error(err))
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start SFU server", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	server.Stop()
	logger.Info("SFU server stopped")
}
