package vfs_test

import (
	"testing"
	"time"

	"cabinet/internal/vfs"

	"github.com/stretchr/testify/require"
)

func TestDecodeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "plain.txt", want: "plain.txt"},
		{raw: "a%20b.txt", want: "a b.txt"},
		{raw: "dir%2Fchild", want: "dir/child"},
		{raw: "%E4%B8%AD%E6%96%87.md", want: "中文.md"},
		{raw: "100%.txt", want: "100%.txt"},
		{raw: "bad%zzescape", want: "bad%zzescape"},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, vfs.DecodeKey(tc.raw))
		})
	}
}

func TestBasename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "c.txt", vfs.Basename("a/b/c.txt"))
	require.Equal(t, "c.txt", vfs.Basename("c.txt"))
	require.Equal(t, "b", vfs.Basename("a/b/"))
	require.Equal(t, "/", vfs.Basename("/"))
}

func TestFolderKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "docs/", vfs.FolderKey("docs"))
	require.Equal(t, "docs/", vfs.FolderKey("docs/"))
	require.True(t, vfs.IsFolderKey("docs/"))
	require.False(t, vfs.IsFolderKey("docs"))
}

func TestAutoKey(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000123)
	require.Equal(t, "1700000000123-report.pdf", vfs.AutoKey(now, "report.pdf"))
}

func TestMimeTypeFromExtension(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"photo.JPG":          "image/jpeg",
		"a/b/clip.webm":      "video/webm",
		"song.m4a":           "audio/mp4",
		"deck.pptx":          "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"backup.tar.gz":      "application/gzip",
		"bundle.7z":          "application/x-7z-compressed",
		"index.html":         "text/html",
		"Makefile":           "application/octet-stream",
		"archive.unknownext": "application/octet-stream",
		"dir.d/noext":        "application/octet-stream",
	}

	for name, want := range tests {
		require.Equalf(t, want, vfs.MimeTypeFromExtension(name), "content type of %s", name)
	}
}
