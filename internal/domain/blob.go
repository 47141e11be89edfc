package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports a window of records to cold storage. Exports are copies;
// the ledger and bid log are never deleted.
type Archiver interface {
	ExportAuctions(ctx context.Context, from, to time.Time) (int64, error)
	ExportLedger(ctx context.Context, from, to time.Time) (int64, error)
	ExportAudit(ctx context.Context, from, to time.Time) (int64, error)
}
