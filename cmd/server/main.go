package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coedit/coedit/internal/config"
	"github.com/coedit/coedit/internal/core/collab"
	"github.com/coedit/coedit/internal/core/observability/log"
	"github.com/coedit/coedit/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	logger := log.New(log.ParseLevel(cfg.LogLevel))

	manager := collab.NewManager(
		collab.WithLogger(logger),
		collab.WithUndoBounds(cfg.Undo.MaxBatches, cfg.Undo.KeepBatches),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := server.NewServer(cfg, logger, manager)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err = srv.Start(ctx); err != nil {
		logger.Fatal("failed to start server", log.Error(err))
	}

	<-stopCh
	cancel()
	if err = srv.Stop(context.Background()); err != nil {
		logger.Error("error stopping server", log.Error(err))
	}
}
