package tracking

import (
	"context"
	"path"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/objstore"
)

// ArtifactSink receives copies of logged artifacts.
type ArtifactSink interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// ObjectSink uploads artifacts to bucket/prefix/key in an object store.
type ObjectSink struct {
	store  objstore.Store
	bucket string
	prefix string
}

// NewObjectSink ensures bucket exists and returns a sink writing into it.
func NewObjectSink(ctx context.Context, store objstore.Store, bucket, prefix string) (*ObjectSink, error) {
	if err := store.EnsureBucket(ctx, bucket); err != nil {
		return nil, errors.Wrapf(err, "ensure artifact bucket %s", bucket)
	}
	return &ObjectSink{store: store, bucket: bucket, prefix: prefix}, nil
}

// NewMinIOSink connects to MinIO/S3 with cfg and returns a sink for bucket.
func NewMinIOSink(ctx context.Context, cfg objstore.S3Config, bucket, prefix string) (*ObjectSink, error) {
	store, err := objstore.NewS3Store(cfg)
	if err != nil {
		return nil, err
	}
	return NewObjectSink(ctx, store, bucket, prefix)
}

func (s *ObjectSink) Upload(ctx context.Context, key string, data []byte) error {
	return s.store.PutObject(ctx, s.bucket, path.Join(s.prefix, key), data)
}
