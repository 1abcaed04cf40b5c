package vfs

import (
	"context"
	"slices"
	"strings"
	"time"

	"cabinet/internal/storage"
)

const (
	// DefaultListLimit is the page size used when a listing does not ask
	// for one.
	DefaultListLimit = 100

	// MaxListLimit caps the page size of a single listing.
	MaxListLimit = 1000
)

// Entry is one immediate child of a listed folder: either a file or a
// folder that exists through a marker, through nested keys, or both.
type Entry struct {
	Key         string     `json:"key"`
	Size        int64      `json:"size"`
	IsFolder    bool       `json:"isFolder"`
	ItemCount   *int       `json:"itemCount,omitempty"`
	Uploaded    *time.Time `json:"uploaded,omitempty"`
	ETag        string     `json:"etag,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
}

// Listing is the hierarchical view of one page of the flat key space.
type Listing struct {
	Entries   []Entry `json:"objects"`
	Truncated bool    `json:"truncated"`
	Cursor    string  `json:"cursor,omitempty"`
}

type folderState struct {
	entry    *Entry
	children map[string]struct{}
}

// ListChildren folds one page of a flat listing under prefix into its
// immediate children. Folders sort before files and each group is ordered by
// key. Folder item counts only reflect the keys present in page.
//
// When a folder marker and keys nested under the same folder both appear,
// they are merged into one entry and the marker's upload time and ETag are
// kept.
func ListChildren(prefix string, page storage.ListResult) Listing {
	var (
		order   []string
		files   = make(map[string]*Entry)
		folders = make(map[string]*folderState)
	)

	folder := func(key string) *folderState {
		f, ok := folders[key]
		if !ok {
			f = &folderState{
				entry:    &Entry{Key: key, IsFolder: true},
				children: make(map[string]struct{}),
			}
			folders[key] = f
			order = append(order, key)
		}
		return f
	}

	for _, obj := range page.Objects {
		if obj.Key == prefix || !strings.HasPrefix(obj.Key, prefix) {
			continue
		}

		segs := segments(obj.Key[len(prefix):])
		switch {
		case len(segs) == 0:
			continue

		case len(segs) == 1 && IsFolderKey(obj.Key):
			f := folder(obj.Key)
			uploaded := obj.Uploaded
			f.entry.Uploaded = &uploaded
			f.entry.ETag = obj.ETag

		case len(segs) > 1:
			f := folder(prefix + segs[0] + "/")
			child := segs[1]
			if len(segs) > 2 || IsFolderKey(obj.Key) {
				child += "/"
			}
			f.children[child] = struct{}{}

		default:
			if _, ok := files[obj.Key]; !ok {
				order = append(order, obj.Key)
			}
			uploaded := obj.Uploaded
			files[obj.Key] = &Entry{
				Key:         obj.Key,
				Size:        obj.Size,
				Uploaded:    &uploaded,
				ETag:        obj.ETag,
				ContentType: obj.HTTPMetadata.ContentType,
			}
		}
	}

	entries := make([]Entry, 0, len(order))
	for _, key := range order {
		if f, ok := folders[key]; ok {
			count := len(f.children)
			f.entry.ItemCount = &count
			entries = append(entries, *f.entry)
			continue
		}
		entries = append(entries, *files[key])
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if a.IsFolder != b.IsFolder {
			if a.IsFolder {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Key, b.Key)
	})

	return Listing{
		Entries:   entries,
		Truncated: page.Truncated,
		Cursor:    page.Cursor,
	}
}

// List returns the immediate children of prefix for one page of the
// underlying store listing. An empty prefix lists the root.
func (b *Browser) List(ctx context.Context, prefix string, cursor string, limit int) (Listing, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	page, err := b.store.List(ctx, storage.ListOptions{
		Prefix: prefix,
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		return Listing{}, classify("list", prefix, err)
	}

	return ListChildren(prefix, page), nil
}

// listAll collects every key under prefix, following the cursor until the
// store reports the listing is complete.
func (b *Browser) listAll(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor string
	)
	for {
		page, err := b.store.List(ctx, storage.ListOptions{
			Prefix: prefix,
			Cursor: cursor,
			Limit:  storage.DefaultListLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if !page.Truncated || page.Cursor == "" {
			return keys, nil
		}
		cursor = page.Cursor
	}
}
