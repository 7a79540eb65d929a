package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

const uploadConcurrency = 3

// Writer puts archive objects into the client's bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

// NewWriter returns a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.s3, bucket: c.bucket}
}

func (w *Writer) object(path, contentType string, body io.Reader) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        body,
		ContentType: aws.String(contentType),
	}
}

// Put stores data as one object.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.object(path, contentType, data)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data in parts of partSize bytes, raised to the S3
// minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = uploadConcurrency
	})
	if _, err := up.Upload(ctx, w.object(path, archiveContentType, data)); err != nil {
		return fmt.Errorf("s3blob: multipart %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
