package s3io

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Upload streams source to key, applying the transforms selected by opts.
// The returned count is the number of bytes stored, after compression and
// encryption.
func (cl *client) Upload(ctx context.Context, key string, source io.Reader, opts UploadOptions) (int64, error) {
	body, mdata, cleanup, err := cl.encode(source, opts)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	counter := NewReadCounter(body, opts.Progress)
	defer counter.Close()

	// the length is not known in advance so PutObject cannot be used
	uploader := manager.NewUploader(cl.client)

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   cl.bucket,
		Key:      aws.String(key),
		Body:     counter,
		Metadata: mdata,
	})

	return counter.TotalBytes(), err
}
