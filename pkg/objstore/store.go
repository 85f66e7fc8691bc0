// Package objstore abstracts the small set of object-store operations used
// for remote datasets and tracking artifacts.
package objstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// ErrObjectNotFound is returned when a bucket or key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Store is implemented by S3Store (MinIO/S3) and LocalStore (tests, offline runs).
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// ParseURI splits "s3://bucket/key/parts" into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", errors.NewValueError("ParseURI", "expected s3://bucket/key, got "+uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", errors.NewValueError("ParseURI", "missing bucket or key in "+uri)
	}
	return bucket, key, nil
}

// LocalStore persists objects under root/<bucket>/<key>.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) bucketPath(bucket string) string {
	return filepath.Join(s.root, filepath.Clean("/"+bucket))
}

func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return errors.NewValueError("EnsureBucket", "bucket name is required")
	}
	return os.MkdirAll(s.bucketPath(bucket), 0o755)
}

func (s *LocalStore) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	if err := s.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	full := filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(err, "create object directory")
	}
	return errors.Wrap(os.WriteFile(full, data, 0o644), "write object")
}

func (s *LocalStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrObjectNotFound, "%s/%s", bucket, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read object")
	}
	return data, nil
}
