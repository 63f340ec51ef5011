package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// SnapshotArchiveStore is the part of the snapshot store the archiver needs.
type SnapshotArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.OrderBook, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DensityArchiveStore is the part of the density store the archiver needs.
type DensityArchiveStore interface {
	ListDisappearedBefore(ctx context.Context, before time.Time) ([]domain.Density, error)
	DeleteDisappearedBefore(ctx context.Context, before time.Time) (int64, error)
}

const contentTypeJSONL = "application/x-ndjson"

// ArchiveImpl implements domain.Archiver. Rows older than the cutoff are
// written as one gzip JSONL object per run and deleted from Postgres only
// after the upload succeeds.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	snapshots SnapshotArchiveStore
	densities DensityArchiveStore
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, snapshots SnapshotArchiveStore, densities DensityArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		snapshots: snapshots,
		densities: densities,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots moves order-book snapshots taken before the cutoff.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	books, err := a.snapshots.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	if len(books) == 0 {
		return 0, nil
	}

	buf, err := gzipJSONL(books)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots encode: %w", err)
	}
	path, err := a.upload(ctx, "orderbook_snapshots", buf, len(books))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: %w", err)
	}

	deleted, err := a.snapshots.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(books)), fmt.Errorf("s3blob: archive snapshots delete: %w", err)
	}
	a.logger.InfoContext(ctx, "archived snapshots",
		slog.String("path", path),
		slog.Int("archived", len(books)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(books)), nil
}

// ArchiveDensities moves densities that disappeared before the cutoff.
func (a *ArchiveImpl) ArchiveDensities(ctx context.Context, before time.Time) (int64, error) {
	ds, err := a.densities.ListDisappearedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive densities query: %w", err)
	}
	if len(ds) == 0 {
		return 0, nil
	}

	buf, err := gzipJSONL(ds)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive densities encode: %w", err)
	}
	path, err := a.upload(ctx, "densities", buf, len(ds))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive densities: %w", err)
	}

	deleted, err := a.densities.DeleteDisappearedBefore(ctx, before)
	if err != nil {
		return int64(len(ds)), fmt.Errorf("s3blob: archive densities delete: %w", err)
	}
	a.logger.InfoContext(ctx, "archived densities",
		slog.String("path", path),
		slog.Int("archived", len(ds)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(ds)), nil
}

func (a *ArchiveImpl) upload(ctx context.Context, table string, buf []byte, rows int) (string, error) {
	path := archivePath(table, a.now())
	err := a.writer.Put(ctx, domain.BlobObject{
		Path:        path,
		Body:        bytes.NewReader(buf),
		ContentType: contentTypeJSONL,
		Metadata:    map[string]string{"table": table, "rows": strconv.Itoa(rows)},
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return path, nil
}

// archivePath builds the object key for one archive run:
//
//	archive/orderbook_snapshots/2025/01/31/1738281600.jsonl.gz
func archivePath(table string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%d.jsonl.gz", table, at.Format("2006/01/02"), at.Unix())
}

// gzipJSONL encodes records as gzip-compressed newline-delimited JSON.
func gzipJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
