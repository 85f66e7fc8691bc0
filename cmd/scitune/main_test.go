package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

func TestCommandTree(t *testing.T) {
	cmd := newCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands {
		names[c.Name] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["best"])
	assert.True(t, names["worker"])
	assert.Equal(t, "run", cmd.DefaultCommand)
}

func TestBest_RequiresStorage(t *testing.T) {
	t.Setenv("SCITUNE_STORAGE", "")
	err := newCommand().Run(context.Background(), []string{"scitune", "best", "some-study"})
	assert.ErrorContains(t, err, "no storage configured")
	assert.Equal(t, errors.CodeValidation, errors.Code(err))
}

func TestBest_RequiresStudyName(t *testing.T) {
	err := newCommand().Run(context.Background(), []string{"scitune", "best"})
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "study", ve.ParamName)
}

func TestBest_UnknownStudy(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "empty.db")
	err := newCommand().Run(context.Background(), []string{"scitune", "best", "--storage", dsn, "missing"})
	require.Error(t, err)
}

func TestRun_BadConfigPath(t *testing.T) {
	err := newCommand().Run(context.Background(), []string{"scitune", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "run"})
	assert.Error(t, err)
}
