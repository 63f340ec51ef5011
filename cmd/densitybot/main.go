// Command densitybot is the entry point for the order-book density bot. It
// loads configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/densitybot/internal/app"
	"github.com/alanyoungcy/densitybot/internal/config"
	"github.com/alanyoungcy/densitybot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptOut := flag.String("encrypt-secret", "", "read an API secret from stdin, encrypt it with DENSITYBOT_EXCHANGE_SECRET_PASSWORD and write it to this path, then exit")
	flag.Parse()

	if *encryptOut != "" {
		if err := encryptSecret(*encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt secret: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("densitybot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	// Create the application.
	application := app.New(cfg, logger)

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Run the application.
	err = application.Run(ctx)
	stop()
	application.Close()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("densitybot stopped")
	default:
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// encryptSecret writes the secret read from stdin to path in the format
// expected by exchange.encrypted_secret_path.
func encryptSecret(path string) error {
	password := os.Getenv("DENSITYBOT_EXCHANGE_SECRET_PASSWORD")
	if password == "" {
		return errors.New("DENSITYBOT_EXCHANGE_SECRET_PASSWORD is not set")
	}
	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		return fmt.Errorf("read stdin: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("empty secret")
	}
	data, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
