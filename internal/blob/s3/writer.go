package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// minPartSize is the smallest multipart chunk S3 accepts.
const minPartSize int64 = 5 * 1024 * 1024

// Writer uploads archive objects. The manager sends bodies under one part
// as a single PutObject and splits larger ones.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = minPartSize
			u.Concurrency = 2
		}),
		bucket: c.Bucket(),
	}
}

// Put implements domain.BlobWriter.
func (w *Writer) Put(ctx context.Context, obj domain.BlobObject) error {
	if obj.Path == "" {
		return fmt.Errorf("s3blob: put: empty path")
	}
	in := &s3.PutObjectInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(obj.Path),
		Body:     obj.Body,
		Metadata: obj.Metadata,
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if strings.HasSuffix(obj.Path, ".gz") {
		in.ContentEncoding = aws.String("gzip")
	}

	if _, err := w.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", obj.Path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
