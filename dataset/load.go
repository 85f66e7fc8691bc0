package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/pkg/objstore"
)

// Format names accepted by Source.Format.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Source locates a dataset on local disk or in an object store (s3://bucket/key).
type Source struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // 空の場合は拡張子から判定
	Target string `yaml:"target"`
}

// ResolveFormat returns the explicit format or the one implied by the extension.
func (s Source) ResolveFormat() (string, error) {
	if s.Format != "" {
		switch f := strings.ToLower(s.Format); f {
		case FormatCSV, FormatParquet:
			return f, nil
		}
		return "", errors.NewValidationError("format", "must be csv or parquet", s.Format)
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	}
	return "", errors.NewValidationError("format", "cannot infer from extension", s.Path)
}

// Load reads the source. store is only used for s3:// paths and may be nil otherwise.
func Load(ctx context.Context, src Source, store objstore.Store) (*Frame, error) {
	format, err := src.ResolveFormat()
	if err != nil {
		return nil, err
	}
	logger := log.GetLoggerWithName("dataset")

	var frame *Frame
	if strings.HasPrefix(src.Path, "s3://") {
		frame, err = loadRemote(ctx, src, format, store)
	} else {
		frame, err = loadLocal(src, format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load dataset %s", src.Path)
	}

	n, p := frame.Dims()
	logger.Info("dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.SourceKey, src.Path,
		log.SamplesKey, n,
		log.FeaturesKey, p,
	)
	return frame, nil
}

func loadLocal(src Source, format string) (*Frame, error) {
	if format == FormatParquet {
		return LoadParquet(src.Path, src.Target)
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f, src.Target)
}

func loadRemote(ctx context.Context, src Source, format string, store objstore.Store) (*Frame, error) {
	if store == nil {
		return nil, errors.NewValueError("Load", "object store is not configured for "+src.Path)
	}
	bucket, key, err := objstore.ParseURI(src.Path)
	if err != nil {
		return nil, err
	}
	data, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if format == FormatCSV {
		return LoadCSV(bytes.NewReader(data), src.Target)
	}

	// parquet の読み込みはシーク可能なファイルが必要
	tmp, err := os.CreateTemp("", "scitune-*.parquet")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return LoadParquet(tmp.Name(), src.Target)
}
