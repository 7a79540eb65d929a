package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

type memWriter struct {
	objects   map[string][]byte
	multipart []string
	err       error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart = append(m.multipart, path)
	return m.Put(ctx, path, data, "")
}

func batch(n int, valueSize int) domain.ArchiveBatch {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	recs := make([]domain.ExpiredRecord, n)
	for i := range recs {
		recs[i] = domain.ExpiredRecord{
			Kind:      domain.KindSnapshot,
			Key:       []byte{byte('a' + i)},
			Symbol:    "BTCUSDT",
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Value:     make([]byte, valueSize),
		}
	}
	return domain.ArchiveBatch{Kind: domain.KindSnapshot, Symbol: "BTCUSDT", Records: recs}
}

func TestArchiveUploadsDecodableObject(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, 0)

	path, err := a.Archive(context.Background(), batch(3, 8))
	require.NoError(t, err)
	assert.Equal(t, "archive/snapshots/BTCUSDT/2026/01/05/1767571200000-1767571202000.bin", path)
	assert.Empty(t, w.multipart)

	entries, err := decodeArchive(w.objects[path])
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("c"), entries[2].Key)
	assert.Len(t, entries[2].Value, 8)
}

func TestArchiveUsesMultipartForLargePayloads(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, 0)

	path, err := a.Archive(context.Background(), batch(2, int(minPartSize)))
	require.NoError(t, err)
	assert.Equal(t, []string{path}, w.multipart)
}

func TestArchiveErrors(t *testing.T) {
	a := NewArchiver(&memWriter{err: errors.New("denied")}, 0)

	_, err := a.Archive(context.Background(), domain.ArchiveBatch{Kind: domain.KindTrades})
	require.Error(t, err)

	_, err = a.Archive(context.Background(), batch(1, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestDecodeArchiveRejectsTruncatedInput(t *testing.T) {
	payload := encodeArchive(batch(1, 4).Records)
	_, err := decodeArchive(payload[:len(payload)-2])
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example", normaliseEndpoint("https://s3.example", false))
}

// archiveEntry is one decoded key/value pair of an archive object.
type archiveEntry struct {
	Key   []byte
	Value []byte
}

// decodeArchive reads an archive object back the way a restore would.
// Unknown fields are skipped.
func decodeArchive(b []byte) ([]archiveEntry, error) {
	var out []archiveEntry
	err := walk(b, func(num protowire.Number, v []byte) {
		if num != fieldEntry {
			return
		}
		var e archiveEntry
		if err := walk(v, func(n protowire.Number, fv []byte) {
			switch n {
			case fieldKey:
				e.Key = fv
			case fieldValue:
				e.Value = fv
			}
		}); err == nil {
			out = append(out, e)
		}
	})
	return out, err
}

// walk visits length-delimited fields and skips every other wire type.
func walk(b []byte, fn func(protowire.Number, []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("s3blob: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("s3blob: bad field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("s3blob: bad bytes field %d: %w", num, protowire.ParseError(n))
		}
		fn(num, v)
		b = b[n:]
	}
	return nil
}
