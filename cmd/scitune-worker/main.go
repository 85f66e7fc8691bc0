// Command scitune-worker runs a Temporal worker that evaluates trials for the
// cluster backend. Configuration comes from SCITUNE_CONFIG and SCITUNE_* variables.
package main

import (
	"context"
	"os"

	"github.com/YuminosukeSato/scitune/config"
	"github.com/YuminosukeSato/scitune/internal/app"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

func main() {
	cfg, err := config.Load(getEnv("SCITUNE_CONFIG", ""))
	if err != nil {
		log.GetLogger().Error("failed to load config", err)
		os.Exit(1)
	}
	app.ConfigureLogging(cfg, os.Stderr)

	if err := app.RunWorker(context.Background(), cfg); err != nil {
		log.GetLogger().Error("worker failed", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
