package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ArchiveBatch is a group of expired records of one kind and symbol.
type ArchiveBatch struct {
	Kind    RecordKind
	Symbol  string
	Records []ExpiredRecord
}

// Archiver copies expiring time-series records to cold storage before the
// retention sweeper deletes them.
type Archiver interface {
	Archive(ctx context.Context, batch ArchiveBatch) (path string, err error)
}
