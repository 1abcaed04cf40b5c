package vfs_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"github.com/stretchr/testify/require"
)

func TestUploader_Multipart(t *testing.T) {
	t.Parallel()

	b, store := NewTestBrowser(t)
	data := []byte("0123456789abcdefghij-tail")

	var progress [][2]int64
	u := vfs.Uploader{
		Target:    b,
		ChunkSize: 10,
		Progress: func(sent, total int64) {
			progress = append(progress, [2]int64{sent, total})
		},
	}

	info, err := u.Upload(t.Context(), "up/data.bin", bytes.NewReader(data), int64(len(data)), "application/x-test")
	require.NoError(t, err, "Upload error")
	require.EqualValues(t, len(data), info.Size)
	require.True(t, strings.HasSuffix(info.ETag, "-3"), "three parts expected, got etag %s", info.ETag)

	require.Equal(t, [][2]int64{{10, 25}, {20, 25}, {25, 25}}, progress)
	require.Equal(t, string(data), ReadString(t, b, "up/data.bin"))

	stored, err := store.Head(t.Context(), "up/data.bin")
	require.NoError(t, err)
	require.Equal(t, "application/x-test", stored.HTTPMetadata.ContentType)
}

func TestUploader_Small(t *testing.T) {
	t.Parallel()

	b, store := NewTestBrowser(t)
	data := []byte("tiny")

	calls := 0
	u := vfs.Uploader{
		Target:    b,
		ChunkSize: 10,
		Progress:  func(sent, total int64) { calls++ },
	}

	info, err := u.Upload(t.Context(), "docs/tiny.txt", bytes.NewReader(data), int64(len(data)), "text/plain")
	require.NoError(t, err)
	require.EqualValues(t, 4, info.Size)
	require.False(t, strings.Contains(info.ETag, "-"), "single put has a plain etag")
	require.Equal(t, 1, calls)

	stored, err := store.Head(t.Context(), "docs/tiny.txt")
	require.NoError(t, err)
	require.Equal(t, "tiny.txt", stored.CustomMetadata.OriginalName)
}

func TestUploader_ExactChunkSizeUsesMultipart(t *testing.T) {
	t.Parallel()

	b, _ := NewTestBrowser(t)
	data := bytes.Repeat([]byte("x"), 10)

	u := vfs.Uploader{Target: b, ChunkSize: 10}
	info, err := u.Upload(t.Context(), "exact", bytes.NewReader(data), int64(len(data)), "")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(info.ETag, "-1"), "payload equal to the chunk size is uploaded in parts")
}

func TestUploader_StopsAtFailingPart(t *testing.T) {
	t.Parallel()

	store := &faultyStore{ObjectStore: NewTestStore(t)}
	var attempted []int
	store.upload = func(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error) {
		attempted = append(attempted, partNumber)
		if partNumber == 2 {
			return "", errors.New("boom")
		}
		return store.ObjectStore.UploadPart(ctx, key, uploadID, partNumber, body, size)
	}

	u := vfs.Uploader{Target: vfs.NewBrowser(store), ChunkSize: 4}
	data := []byte("aaaabbbbcccc")

	_, err := u.Upload(t.Context(), "k", bytes.NewReader(data), int64(len(data)), "")
	require.Error(t, err)

	var ve *vfs.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, 2, ve.Part)
	require.Equal(t, []int{1, 2}, attempted, "no parts after the failing one")

	_, err = store.Head(t.Context(), "k")
	require.ErrorIs(t, err, storage.ErrNotFound, "nothing is assembled")
}
