package s3blob

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// Reader implements domain.BlobReader over the archive bucket and decodes
// the gzip JSONL objects written by the archiver.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader on the client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Get returns the raw object body. The caller closes it. A missing key
// yields domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return output.Body, nil
}

// List returns the archive objects under prefix ordered by key, which is
// also chronological for archive paths. Folder placeholders are skipped.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			info := domain.BlobInfo{Path: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = obj.LastModified.UTC()
			}
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// ReadSnapshots loads an archived orderbook_snapshots object.
func (r *Reader) ReadSnapshots(ctx context.Context, path string) ([]domain.OrderBook, error) {
	return readArchive[domain.OrderBook](ctx, r, path)
}

// ReadDensities loads an archived densities object.
func (r *Reader) ReadDensities(ctx context.Context, path string) ([]domain.Density, error) {
	return readArchive[domain.Density](ctx, r, path)
}

func readArchive[T any](ctx context.Context, r *Reader, path string) ([]T, error) {
	body, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := decodeGzipJSONL[T](body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return records, nil
}

// decodeGzipJSONL is the inverse of gzipJSONL.
func decodeGzipJSONL[T any](src io.Reader) ([]T, error) {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	var out []T
	dec := json.NewDecoder(zr)
	for {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("jsonl decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses from
// S3-compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

var _ domain.BlobReader = (*Reader)(nil)
