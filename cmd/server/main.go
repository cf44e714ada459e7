package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/transflow/transflow/pkg/capture"
	"github.com/transflow/transflow/pkg/transflow"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := transflow.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}

	enumerator := capture.StaticEnumerator{
		Devices: []capture.DeviceInfo{
			{ID: "system", Name: "System Audio"},
			{ID: "microphone", Name: "Default Microphone"},
		},
	}

	app, err := transflow.NewEngine(transflow.EngineOptions{
		Config:     cfg,
		Enumerator: enumerator,
	})
	if err != nil {
		slog.Error("engine_init_failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		slog.Error("engine_start_failed", "error", err.Error())
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	_ = app.Stop()
}
