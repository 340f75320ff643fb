package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leighmacdonald/gbans-sub003/internal/client"
	"github.com/leighmacdonald/gbans-sub003/pkg/config"
	"github.com/leighmacdonald/gbans-sub003/pkg/logging"
)

// Headless reference client: connects to the queue authority, re-joins its
// configured queues on every (re)connect and announces formed lobbies.
func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueClient := client.New(logger, client.Config{
		URL:               cfg.Client.URL,
		Token:             cfg.Client.Token,
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		WindowSize:        cfg.Client.WindowSize,
		OnOpen: func(c *client.Client) {
			if len(cfg.Client.AutoJoin) > 0 {
				c.JoinQueue(cfg.Client.AutoJoin)
			}
		},
	})

	go func() {
		for ready := range queueClient.GameReady() {
			logger.Info("Lobby formed",
				slog.String("server", ready.Server.ShortName),
				slog.String("connectUrl", ready.Server.ConnectURL),
				slog.Int("players", len(ready.Users)),
			)
		}
	}()

	if err := queueClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Client run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Client shut down successfully.")
}
