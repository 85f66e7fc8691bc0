// Command scitune tunes a random forest under several execution backends
// and compares their wall time.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/YuminosukeSato/scitune/config"
	"github.com/YuminosukeSato/scitune/internal/app"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.GetLogger().Error("scitune failed", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:           "scitune",
		Usage:          "hyperparameter optimization benchmark for random forests",
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("SCITUNE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the configured backends and print the timing report",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "backend", Usage: "override bench.backends (repeatable)"},
					&cli.StringFlag{Name: "storage", Usage: "override study.storage DSN"},
					&cli.StringFlag{Name: "chart", Usage: "write the timing bar chart to this path"},
				},
				Action: runAction,
			},
			{
				Name:      "best",
				Usage:     "print the best trial of a persisted study",
				ArgsUsage: "<study-name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "storage", Usage: "study storage DSN (defaults to study.storage)"},
				},
				Action: bestAction,
			},
			{
				Name:   "worker",
				Usage:  "serve trial evaluations for the cluster backend",
				Action: workerAction,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	app.ConfigureLogging(cfg, os.Stderr)
	return cfg, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if b := cmd.StringSlice("backend"); len(b) > 0 {
		cfg.Bench.Backends = b
	}
	if s := cmd.String("storage"); s != "" {
		cfg.Study.Storage = s
	}
	if c := cmd.String("chart"); c != "" {
		cfg.Bench.Chart = c
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r, err := app.NewRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = r.Run(ctx, os.Stdout)
	return err
}

func bestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name := cmd.Args().First()
	if name == "" {
		return errors.NewValidationError("study", "name is required", name)
	}
	dsn := cmd.String("storage")
	if dsn == "" {
		dsn = cfg.Study.Storage
	}
	if dsn == "" {
		return errors.NewValidationError("storage", "no storage configured: pass --storage or set study.storage", dsn)
	}

	store, err := app.OpenStorage(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return app.PrintBest(ctx, store, name, os.Stdout)
}

func workerAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return app.RunWorker(ctx, cfg)
}
