// Command curatord runs the curator daemon in the foreground: the job
// scheduler, the HTTP API, and the maintenance cron.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	db, err := storage.Open(cfg)
	if err != nil {
		logger.Error("open database", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, db, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("curatord shutting down")
}
