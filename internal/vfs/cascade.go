package vfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cabinet/internal/storage"
)

// MoveResult reports a completed move.
type MoveResult struct {
	Key   string `json:"key"`
	Moved int    `json:"moved"`
}

// RemoveResult reports a completed remove.
type RemoveResult struct {
	Key     string `json:"key"`
	Removed int    `json:"removed"`
}

// copyObject rewrites src at dst with the same payload and metadata.
func (b *Browser) copyObject(ctx context.Context, src string, dst string) error {
	obj, err := b.store.Get(ctx, src)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	_, err = b.store.Put(ctx, dst, obj.Body, obj.Size, obj.Metadata())
	return err
}

// moveObject copies src to dst and then deletes src.
func (b *Browser) moveObject(ctx context.Context, src string, dst string) error {
	if err := b.copyObject(ctx, src, dst); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, src); err != nil {
		return fmt.Errorf("copied to %s but failed to delete source: %w", dst, err)
	}
	return nil
}

// Move renames from to to. A key ending in "/" moves the folder marker, if
// any, and every key below it; to is then treated as a folder as well.
//
// Folder moves copy and delete one object at a time. The first failure stops
// the cascade and is returned; objects processed before it stay moved, so
// the store may hold keys under both prefixes. Callers repair by listing
// both.
func (b *Browser) Move(ctx context.Context, from string, to string) (MoveResult, error) {
	const op = "move"

	if from == "" || to == "" {
		return MoveResult{}, invalid(op, from, "from and to are required")
	}
	if from == to {
		return MoveResult{}, invalid(op, from, "source and destination are the same")
	}

	if !IsFolderKey(from) {
		if err := b.moveObject(ctx, from, to); err != nil {
			return MoveResult{}, classify(op, from, err)
		}
		slog.Debug("Moved object", "from", from, "to", to)
		return MoveResult{Key: to, Moved: 1}, nil
	}

	to = FolderKey(to)
	if from == to {
		return MoveResult{}, invalid(op, from, "source and destination are the same")
	}
	if strings.HasPrefix(to, from) {
		return MoveResult{}, invalid(op, from, "cannot move a folder into itself")
	}

	moved := 0
	err := b.moveObject(ctx, from, to)
	switch {
	case err == nil:
		moved++
	case !errors.Is(err, storage.ErrNotFound):
		return MoveResult{}, classify(op, from, err)
	}

	keys, err := b.listAll(ctx, from)
	if err != nil {
		return MoveResult{}, cascadeError(op, from, moved, moved, err)
	}

	total := moved + len(keys)
	for _, key := range keys {
		if key == from {
			continue
		}

		dst := to + strings.TrimPrefix(key, from)
		err := b.moveObject(ctx, key, dst)
		if errors.Is(err, storage.ErrNotFound) {
			// Removed by someone else since it was listed.
			continue
		}
		if err != nil {
			return MoveResult{}, cascadeError(op, key, moved, total, err)
		}
		moved++
		slog.Debug("Moved object", "from", key, "to", dst)
	}

	if moved == 0 {
		return MoveResult{}, &Error{Kind: ErrNotFound, Op: op, Key: from, Err: storage.ErrNotFound}
	}

	slog.Debug("Moved folder", "from", from, "to", to, "objects", moved)
	return MoveResult{Key: to, Moved: moved}, nil
}

// Remove deletes key. A key ending in "/" deletes every key below it and
// then the folder marker. Removing a missing key is not an error.
//
// Like Move, a folder remove stops at the first failure and leaves already
// deleted objects deleted.
func (b *Browser) Remove(ctx context.Context, key string) (RemoveResult, error) {
	const op = "remove"

	if key == "" {
		return RemoveResult{}, invalid(op, key, "key is required")
	}

	if !IsFolderKey(key) {
		if err := b.store.Delete(ctx, key); err != nil {
			return RemoveResult{}, classify(op, key, err)
		}
		slog.Debug("Removed object", "key", key)
		return RemoveResult{Key: key, Removed: 1}, nil
	}

	keys, err := b.listAll(ctx, key)
	if err != nil {
		return RemoveResult{}, cascadeError(op, key, 0, 0, err)
	}

	removed := 0
	for _, child := range keys {
		if child == key {
			continue
		}
		if err := b.store.Delete(ctx, child); err != nil {
			return RemoveResult{}, cascadeError(op, child, removed, len(keys), err)
		}
		removed++
	}

	if err := b.store.Delete(ctx, key); err != nil {
		return RemoveResult{}, cascadeError(op, key, removed, len(keys), err)
	}
	if len(keys) > removed {
		removed++
	}

	slog.Debug("Removed folder", "key", key, "objects", removed)
	return RemoveResult{Key: key, Removed: removed}, nil
}
