package vfs

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// IsFolderKey reports whether key names a folder marker.
func IsFolderKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

// FolderKey normalizes path so that it ends with a single trailing slash.
func FolderKey(path string) string {
	if IsFolderKey(path) {
		return path
	}
	return path + "/"
}

// Basename returns the last path segment of key, ignoring a trailing slash.
// A key without any segments is returned unchanged.
func Basename(key string) string {
	trimmed := strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return key
	}
	return trimmed
}

// DecodeKey percent-decodes a key taken from a URL path segment. Keys that
// are not valid escapes are used as given.
func DecodeKey(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// AutoKey builds the key given to uploads that arrive without one.
func AutoKey(now time.Time, filename string) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), filename)
}

// segments splits a relative key on "/" and drops empty segments.
func segments(rel string) []string {
	return strings.FieldsFunc(rel, func(r rune) bool { return r == '/' })
}
