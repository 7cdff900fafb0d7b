package s3io

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var downloadable = map[string]bool{
	"":                                 true,
	string(types.StorageClassStandard): true,
	string(types.StorageClassReducedRedundancy): true,
	string(types.StorageClassStandardIa):        true,
	string(types.StorageClassOnezoneIa):         true,
	string(types.StorageClassIntelligentTiering): true,
}

func (cl *client) checkDownloadable(ctx context.Context, key string) error {
	hoo, err := cl.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: cl.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return &ErrObjectNotFound{Bucket: cl.Bucket(), Key: key}
		}
		return err
	}

	sclass := string(hoo.StorageClass)
	if downloadable[sclass] {
		return nil
	}

	return &ErrArchived{Key: key, StorageClass: sclass}
}

// Download writes the decoded content of key to sink. progress, if set,
// sees the count of raw bytes read from the bucket.
func (cl *client) Download(ctx context.Context, key string, sink io.Writer, progress Progress) (int64, error) {
	if err := cl.checkDownloadable(ctx, key); err != nil {
		return 0, err
	}

	// GetObject rather than the parallel downloader: sink is not an io.WriterAt
	resp, err := cl.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: cl.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		var nosuchkey *types.NoSuchKey
		if errors.As(err, &nosuchkey) {
			return 0, &ErrObjectNotFound{Bucket: cl.Bucket(), Key: key}
		}
		return 0, err
	}
	defer resp.Body.Close()

	counter := NewReadCounter(resp.Body, progress)
	defer counter.Close()

	reader, closer, err := cl.decode(counter, parseEncoding(resp.Metadata))
	if err != nil {
		return 0, err
	}
	defer closer()

	return io.Copy(sink, reader)
}
