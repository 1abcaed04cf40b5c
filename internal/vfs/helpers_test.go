package vfs_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

// NewTestStore opens a LocalStore rooted in a temporary directory.
func NewTestStore(t *testing.T) *storage.LocalStore {
	t.Helper()

	store, err := storage.NewLocalStore(t.Context(), t.TempDir())
	require.NoError(t, err, "NewLocalStore error")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// NewTestBrowser returns a Browser over a fresh LocalStore.
func NewTestBrowser(t *testing.T, opts ...vfs.BrowserOption) (*vfs.Browser, *storage.LocalStore) {
	t.Helper()

	store := NewTestStore(t)
	opts = append([]vfs.BrowserOption{vfs.WithClock(func() time.Time { return fixedNow })}, opts...)
	return vfs.NewBrowser(store, opts...), store
}

// PutString stores content under key directly in the store.
func PutString(t *testing.T, store storage.ObjectStore, key string, content string) {
	t.Helper()

	_, err := store.Put(t.Context(), key, strings.NewReader(content), int64(len(content)), storage.Metadata{
		HTTP: storage.HTTPMetadata{ContentType: "text/plain"},
	})
	require.NoErrorf(t, err, "put %s", key)
}

// ReadString reads the full payload of key through the browser.
func ReadString(t *testing.T, b *vfs.Browser, key string) string {
	t.Helper()

	res, err := b.Read(t.Context(), key)
	require.NoErrorf(t, err, "read %s", key)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoErrorf(t, err, "reading body of %s", key)
	return string(data)
}

// RequireMissing asserts that key is not in the store.
func RequireMissing(t *testing.T, store storage.ObjectStore, key string) {
	t.Helper()

	_, err := store.Head(t.Context(), key)
	require.ErrorIsf(t, err, storage.ErrNotFound, "expected %s to be absent", key)
}

// faultyStore wraps an ObjectStore and lets tests replace individual
// operations.
type faultyStore struct {
	storage.ObjectStore

	put      func(ctx context.Context, key string, body io.Reader, size int64, meta storage.Metadata) (storage.ObjectInfo, error)
	upload   func(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error)
	complete func(ctx context.Context, key string, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error)
	heads    int
}

func (s *faultyStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta storage.Metadata) (storage.ObjectInfo, error) {
	if s.put != nil {
		return s.put(ctx, key, body, size, meta)
	}
	return s.ObjectStore.Put(ctx, key, body, size, meta)
}

func (s *faultyStore) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	s.heads++
	return s.ObjectStore.Head(ctx, key)
}

func (s *faultyStore) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error) {
	if s.upload != nil {
		return s.upload(ctx, key, uploadID, partNumber, body, size)
	}
	return s.ObjectStore.UploadPart(ctx, key, uploadID, partNumber, body, size)
}

func (s *faultyStore) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	if s.complete != nil {
		return s.complete(ctx, key, uploadID, parts)
	}
	return s.ObjectStore.CompleteMultipartUpload(ctx, key, uploadID, parts)
}
