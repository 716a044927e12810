package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pollchat/internal/app"
	"pollchat/pkg/config"
	"pollchat/pkg/logger"
	"pollchat/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		logger.Init()
		shutdown.Abort("failed to parse config file", err, "", 0)
	}
	envCfg, envRes := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		logger.Init()
		shutdown.Abort("failed to resolve effective config", err, "", 0)
	}

	logger.InitWith(eff.Config.Logging.Level, eff.Config.Logging.Format)
	logger.Info("config_resolved", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited with error", err, eff.DBPath)
	}
	logger.Info("server_stopped")
}
