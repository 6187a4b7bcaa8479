package main

import (
	"log/slog"
	"os"

	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/astrodesk/sessiongate/internal/server"
)

func main() {
	envConfig := config.LoadEnv()

	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err, "path", envConfig.ConfigPath)
		os.Exit(1)
	}
	envConfig.Apply(cfg)

	if err := envConfig.Validate(cfg); err != nil {
		slog.Error("Invalid environment", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := server.Start(cfg, envConfig); err != nil {
		os.Exit(1)
	}
}
