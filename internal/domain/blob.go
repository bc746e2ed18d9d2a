package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object; Path is relative to the archive
// prefix.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores archive objects. Trade logs of busy markets go through
// PutMultipart.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads the archive back. Get on a missing path fails with
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies a settled market's snapshot and trade log to the blob
// store behind a manifest. It reports false when the market was already archived.
type Archiver interface {
	ArchiveMarket(ctx context.Context, market Market) (bool, error)
}
