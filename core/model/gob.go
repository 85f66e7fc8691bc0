package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	scierrors "github.com/YuminosukeSato/scitune/pkg/errors"
)

// Encode writes v as gob. Fitted trees and forests implement GobEncoder.
func Encode(w io.Writer, v any) error {
	return scierrors.Wrap(gob.NewEncoder(w).Encode(v), "encode model")
}

// Decode reads a gob value written by Encode into v.
func Decode(r io.Reader, v any) error {
	return scierrors.Wrap(gob.NewDecoder(r).Decode(v), "decode model")
}

// SaveFile encodes v to path through a temporary file in the same
// directory, so a crash never leaves a truncated model behind.
//
//	rf := ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(200))
//	_ = rf.Fit(X, y)
//	err := model.SaveFile("forest.gob", rf)
func SaveFile(path string, v any) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return scierrors.Wrap(err, "create model file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = Encode(tmp, v); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return scierrors.Wrap(err, "close model file")
	}
	return scierrors.Wrap(os.Rename(tmp.Name(), path), "rename model file")
}

// LoadFile decodes a model saved by SaveFile.
func LoadFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return scierrors.Wrap(err, "open model file")
	}
	defer f.Close()
	return Decode(f, v)
}
