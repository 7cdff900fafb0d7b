package s3io

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LatestMatching returns the lexically last key below prefix.
func (cl *client) LatestMatching(ctx context.Context, prefix string) (string, int64, error) {
	loi := s3.ListObjectsV2Input{
		Bucket: cl.bucket,
		Prefix: aws.String(prefix),
	}

	var (
		key  string
		size int64
	)
	for {
		resp, err := cl.client.ListObjectsV2(ctx, &loi)
		if err != nil {
			return "", 0, err
		}
		if num := len(resp.Contents); num > 0 {
			object := resp.Contents[num-1]
			key = aws.ToString(object.Key)
			size = aws.ToInt64(object.Size)
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		loi.ContinuationToken = resp.NextContinuationToken
	}

	if key == "" {
		return "", 0, &ErrNoMatch{Prefix: prefix}
	}
	return key, size, nil
}
