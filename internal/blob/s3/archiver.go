package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const archiveContentType = "application/x-protobuf"

// Archive file layout: repeated field 1 holds one entry message
// {1: key bytes, 2: value bytes}. Values keep the store's record encoding.
const (
	fieldEntry protowire.Number = 1
	fieldKey   protowire.Number = 1
	fieldValue protowire.Number = 2
)

// Archiver implements domain.Archiver by packing one batch into a single
// object per call.
type Archiver struct {
	writer   domain.BlobWriter
	partSize int64
}

// NewArchiver creates an Archiver. Payloads larger than partSize are sent
// as multipart uploads; partSize <= 0 uses the S3 minimum.
func NewArchiver(writer domain.BlobWriter, partSize int64) *Archiver {
	if partSize <= 0 {
		partSize = minPartSize
	}
	return &Archiver{writer: writer, partSize: partSize}
}

// Archive uploads batch and returns the object path.
func (a *Archiver) Archive(ctx context.Context, batch domain.ArchiveBatch) (string, error) {
	if len(batch.Records) == 0 {
		return "", errors.New("s3blob: empty archive batch")
	}
	path := archivePath(batch)
	payload := encodeArchive(batch.Records)

	var err error
	if int64(len(payload)) > a.partSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(payload), a.partSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(payload), archiveContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s %s: %w", batch.Kind, batch.Symbol, err)
	}
	return path, nil
}

// archivePath partitions by kind, symbol and the UTC day of the first
// record:
//
//	archive/snapshots/BTCUSDT/2026/01/05/1767614400000-1767614459000.bin
func archivePath(batch domain.ArchiveBatch) string {
	first := batch.Records[0].Timestamp.UTC()
	last := batch.Records[len(batch.Records)-1].Timestamp.UTC()
	return fmt.Sprintf("archive/%s/%s/%s/%d-%d.bin",
		batch.Kind, batch.Symbol, first.Format("2006/01/02"), first.UnixMilli(), last.UnixMilli())
}

func encodeArchive(recs []domain.ExpiredRecord) []byte {
	var out []byte
	for _, r := range recs {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldKey, protowire.BytesType)
		entry = protowire.AppendBytes(entry, r.Key)
		entry = protowire.AppendTag(entry, fieldValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, r.Value)

		out = protowire.AppendTag(out, fieldEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}
