// Package vfs presents a flat object store as a hierarchical filesystem.
//
// Folders exist either as zero-byte marker objects whose key ends in "/" or
// implicitly through keys nested below them. Move and remove on a folder are
// cascades of single-object copies and deletes; they are not atomic and a
// failure part way through leaves the store partially modified.
package vfs

import (
	"context"
	"io"
	"strings"
	"time"

	"cabinet/internal/storage"
)

// DefaultChunkSize is the part size for multipart uploads. Payloads smaller
// than this are uploaded with a single put.
const DefaultChunkSize int64 = 5 << 20

// Browser implements the filesystem operations on top of an ObjectStore. It
// holds no per-request state and is safe for concurrent use.
type Browser struct {
	store     storage.ObjectStore
	chunkSize int64
	now       func() time.Time
}

type BrowserOption func(*Browser)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(size int64) BrowserOption {
	return func(b *Browser) {
		if size > 0 {
			b.chunkSize = size
		}
	}
}

// WithClock sets the time source used for metadata timestamps.
func WithClock(now func() time.Time) BrowserOption {
	return func(b *Browser) {
		b.now = now
	}
}

func NewBrowser(store storage.ObjectStore, opts ...BrowserOption) *Browser {
	b := &Browser{
		store:     store,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ChunkSize is the multipart threshold and part size.
func (b *Browser) ChunkSize() int64 {
	return b.chunkSize
}

// Now returns the current time according to the browser's clock.
func (b *Browser) Now() time.Time {
	return b.now().UTC()
}

// Info returns the stored metadata of key.
func (b *Browser) Info(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if key == "" {
		return storage.ObjectInfo{}, invalid("info", key, "key is required")
	}
	info, err := b.store.Head(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, classify("info", key, err)
	}
	return info, nil
}

// CreateFolder writes a folder marker for path, which is normalized to end
// with a slash, and returns the marker key.
func (b *Browser) CreateFolder(ctx context.Context, path string, createdBy string) (string, error) {
	if strings.Trim(path, "/") == "" {
		return "", invalid("create folder", path, "path is required")
	}

	key := FolderKey(path)
	_, err := b.store.Put(ctx, key, strings.NewReader(""), 0, storage.Metadata{
		HTTP: storage.HTTPMetadata{ContentType: storage.FolderContentType},
		Custom: storage.CustomMetadata{
			IsFolder:  true,
			CreatedBy: createdBy,
			CreatedAt: b.Now().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", classify("create folder", key, err)
	}
	return key, nil
}

// ReadResult is an object opened for streaming. Callers must close Body.
type ReadResult struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	ETag        string
	Filename    string
}

// Read opens key for streaming. When the object carries no content type one
// is inferred from the key's extension.
func (b *Browser) Read(ctx context.Context, key string) (*ReadResult, error) {
	if key == "" {
		return nil, invalid("read", key, "key is required")
	}

	obj, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, classify("read", key, err)
	}

	contentType := obj.HTTPMetadata.ContentType
	if contentType == "" {
		contentType = MimeTypeFromExtension(key)
	}

	return &ReadResult{
		Body:        obj.Body,
		ContentType: contentType,
		Size:        obj.Size,
		ETag:        obj.ETag,
		Filename:    Basename(key),
	}, nil
}
