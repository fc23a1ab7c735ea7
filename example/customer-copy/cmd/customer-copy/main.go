package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"go.uber.org/fx"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// embeddedConfig holds resources/application.yaml.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	options, err := GetApplicationOptions(ctx, envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	app := fx.New(options...)
	// Run exits the process with the code passed to fx.Shutdowner.
	app.Run()
	_ = logger.Sync()
	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}
