package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ircgate/internal/config"
	"ircgate/internal/daemon"
	"ircgate/internal/history"
	"ircgate/internal/logging"
	"ircgate/internal/state"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := state.Open(cfg.Paths.StateFile)
	if errors.Is(err, fs.ErrNotExist) {
		bootstrap(cfg.Paths.StateFile, logger)
		return
	}
	if err != nil {
		logger.Error("open state file", logging.String("path", cfg.Paths.StateFile), logging.Error(err))
		os.Exit(1)
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Error("open history store", logging.String("path", cfg.History.Path), logging.Error(err))
			os.Exit(1)
		}
		defer hist.Close() //nolint:errcheck
	}

	d, err := daemon.New(cfg, store, hist, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon run", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("ircgated shutting down")
}

// bootstrap writes a fresh state file with a generated secret, an ephemeral
// control port, and one example network, then exits so the operator can edit
// it before the first real run.
func bootstrap(path string, logger *slog.Logger) {
	doc, err := state.Generate(path)
	if err != nil {
		logger.Error("generate state file", logging.String("path", path), logging.Error(err))
		os.Exit(1)
	}
	logger.Info("generated initial state file",
		logging.String("path", path),
		logging.String("control_host", doc.Control.Host),
		logging.Int("control_port", doc.Control.Port))
	logger.Info("edit the state file to taste, then start ircgated again")
}
