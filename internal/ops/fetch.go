package ops

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/studio1767/filemon/internal/config"
	"github.com/studio1767/filemon/internal/pipeline"
)

// ObjectSource opens objects of an S3 compatible bucket for reading.
type ObjectSource interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

type minioSource struct {
	client *minio.Client
}

// NewObjectSource connects to the bucket described by the engine config.
func NewObjectSource(cfg config.Bucket) (ObjectSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &minioSource{client: client}, nil
}

func (s *minioSource) Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	info, err := object.Stat()
	if err != nil {
		object.Close()
		return nil, 0, err
	}
	return object, info.Size, nil
}

// Fetcher downloads remote objects into a destination tree, keeping the
// object key as relative path.
type Fetcher struct {
	source      ObjectSource
	destination string
}

func NewFetcher(source ObjectSource, destination string) *Fetcher {
	return &Fetcher{source: source, destination: destination}
}

func (f *Fetcher) Name() string {
	return TypeFetch
}

func (f *Fetcher) Run(ctx context.Context, task *pipeline.Task) error {
	obj := task.Item.Object
	if obj == nil {
		return fmt.Errorf("%s is not a bucket object", task.Item.ID)
	}

	target, err := within(f.destination, obj.Key)
	if err != nil {
		return err
	}

	reader, size, err := f.source.Open(ctx, obj.Bucket, obj.Key)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", task.Item.ID, err)
	}
	defer reader.Close()

	out, err := createPartial(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	nbytes, err := copyProgress(ctx, task, out, reader, size, taskProgress(task))
	if err != nil {
		out.abort()
		return fmt.Errorf("failed to fetch %s: %w", task.Item.ID, err)
	}
	if size > 0 && nbytes != size {
		out.abort()
		return fmt.Errorf("failed to fetch the entire object: expected %d bytes, received %d", size, nbytes)
	}
	if err := out.commit(); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	task.SetMetadata(MetaPath, target)
	task.SetMetadata(MetaBytes, strconv.FormatInt(nbytes, 10))
	task.UpdateProgress(100)
	return nil
}
