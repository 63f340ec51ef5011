package domain

import (
	"context"
	"io"
	"time"
)

// BlobObject is one upload. Metadata is stored with the object.
type BlobObject struct {
	Path        string
	Body        io.Reader
	ContentType string
	Metadata    map[string]string
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, obj BlobObject) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobReader lists and fetches stored objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves aged rows from the database to cold storage.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
	ArchiveDensities(ctx context.Context, before time.Time) (int64, error)
}
