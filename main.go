package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpilot/flowpilot/pkg/config"
	"github.com/flowpilot/flowpilot/pkg/utils"
)

func main() {
	utils.InitLogger()
	logger := utils.GetLogger()

	if path, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	} else {
		logger.Debug("Using config file", "path", path)
	}

	cfg, _, err := config.Load()
	if err != nil {
		logger.Warn("Failed to load config; falling back to defaults", "error", err)
		cfg = &config.AppConfig{}
	}
	if level := cfg.LogLevel(); level != "" && os.Getenv("FLOWPILOT_LOG_LEVEL") == "" {
		utils.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Server setup failed:", err)
		logger.Error("Failed to set up server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Server start failed:", err)
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Close(closeCtx); err != nil {
		logger.Error("Failed to flush sessions", "error", err)
	}
}
