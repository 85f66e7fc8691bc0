// Package app wires configuration, data, studies and backends together for
// the scitune binaries.
package app

import (
	"context"
	"io"
	"strings"

	"github.com/YuminosukeSato/scitune/config"
	"github.com/YuminosukeSato/scitune/dataset"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/pkg/objstore"
	"github.com/YuminosukeSato/scitune/tune"
	"github.com/YuminosukeSato/scitune/tune/rdb"
)

// LoadSplit loads (or synthesizes) the dataset and splits it. Workers and
// the submitting process call it with the same config and so see the same split.
func LoadSplit(ctx context.Context, cfg *config.Config) (*dataset.Split, error) {
	var (
		frame *dataset.Frame
		err   error
	)
	if cfg.Dataset.Path == "" {
		s := cfg.Dataset.Synthetic
		frame, err = dataset.MakeClassification(s.Samples, s.Features, s.Classes, cfg.Dataset.Seed)
	} else {
		var store objstore.Store
		if strings.HasPrefix(cfg.Dataset.Path, "s3://") {
			if store, err = objstore.NewS3Store(cfg.Dataset.S3); err != nil {
				return nil, err
			}
		}
		frame, err = dataset.Load(ctx, cfg.Dataset.Source, store)
	}
	if err != nil {
		return nil, err
	}
	return dataset.TrainTestSplit(frame, cfg.Dataset.TestFraction, cfg.Dataset.Seed)
}

// NewSampler builds the configured sampler.
func NewSampler(sc config.StudyConfig) (tune.Sampler, error) {
	switch sc.Sampler {
	case config.SamplerRandom:
		return tune.NewRandomSampler(sc.Seed), nil
	case config.SamplerGP:
		acq, err := tune.ParseAcquisition(sc.Acquisition)
		if err != nil {
			return nil, err
		}
		return tune.NewGPSampler(sc.Seed, tune.WithAcquisition(acq)), nil
	}
	return nil, errors.NewValidationError("study.sampler", "must be random or gp", sc.Sampler)
}

// OpenStorage opens the configured trial storage. An empty DSN keeps trials in memory.
func OpenStorage(ctx context.Context, dsn string) (tune.Storage, error) {
	if dsn == "" {
		return tune.NewInMemoryStorage(), nil
	}
	return rdb.Open(ctx, dsn)
}

// ConfigureLogging installs the global log provider from cfg.
func ConfigureLogging(cfg *config.Config, w io.Writer) {
	log.Configure(w, cfg.LogFormat, log.ParseLevel(cfg.LogLevel))
}
