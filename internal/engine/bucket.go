package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/studio1767/filemon/internal/item"
)

const defaultBucketPoll = 10 * time.Second

type BucketOptions struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	Secure       bool
	PollInterval time.Duration
}

// objectLister is the part of the minio client the engine needs.
type objectLister interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Bucket polls a prefix of an S3 compatible bucket. Objects are complete
// once listed, so new ones are added as saved.
type Bucket struct {
	opts   BucketOptions
	client objectLister
	logger *zap.Logger

	etags map[string]string
}

func NewBucket(opts BucketOptions, logger *zap.Logger) (*Bucket, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}
	return newBucket(opts, client, logger), nil
}

func newBucket(opts BucketOptions, client objectLister, logger *zap.Logger) *Bucket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultBucketPoll
	}
	return &Bucket{
		opts:   opts,
		client: client,
		logger: logger.With(zap.String("bucket", opts.Bucket), zap.String("prefix", opts.Prefix)),
	}
}

func (b *Bucket) Name() string {
	return NameBucket
}

func (b *Bucket) Run(ctx context.Context, sink Sink) error {
	if err := b.poll(ctx, sink); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("bucket poll failed", zap.Error(err))
	}

	ticker := jitterbug.New(b.opts.PollInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.poll(ctx, sink); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Warn("bucket poll failed", zap.Error(err))
			}
		}
	}
}

// poll lists the prefix once. A failed listing leaves the previous state
// untouched so nothing is reported twice.
func (b *Bucket) poll(ctx context.Context, sink Sink) error {
	listing := b.client.ListObjects(ctx, b.opts.Bucket, minio.ListObjectsOptions{
		Prefix:    b.opts.Prefix,
		Recursive: true,
	})

	var objects []minio.ObjectInfo
	for obj := range listing {
		if obj.Err != nil {
			return obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	current := make(map[string]string, len(objects))
	var added, changed []*item.Item
	for _, obj := range objects {
		current[obj.Key] = obj.ETag
		prev, ok := b.etags[obj.Key]
		switch {
		case !ok:
			it := item.NewObject(b.opts.Bucket, obj.Key, obj.ETag, obj.Size, obj.LastModified)
			added = append(added, it.WithStatus(item.Saved))
		case prev != obj.ETag:
			it := item.NewObject(b.opts.Bucket, obj.Key, obj.ETag, obj.Size, obj.LastModified)
			changed = append(changed, it.WithStatus(item.Saved))
		}
	}
	b.etags = current

	if len(added) > 0 {
		b.logger.Debug("new objects found", zap.String("items", describe(added)))
		if err := sink.Add(added...); err != nil {
			return err
		}
	}
	if len(changed) > 0 {
		b.logger.Debug("changed objects found", zap.String("items", describe(changed)))
		if err := sink.Add(changed...); err != nil {
			return err
		}
	}
	return nil
}
