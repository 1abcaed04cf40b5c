package vfs

import (
	"context"
	"fmt"
	"io"

	"cabinet/internal/storage"
)

// UploadTarget is the set of upload operations an Uploader drives. It is
// implemented by Browser and by the HTTP client in package core.
type UploadTarget interface {
	UploadSmall(ctx context.Context, key string, body io.Reader, size int64, contentType string, custom storage.CustomMetadata) (storage.ObjectInfo, error)
	InitUpload(ctx context.Context, key string, contentType string) (string, error)
	UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (Part, error)
	CompleteUpload(ctx context.Context, key string, uploadID string, parts []Part) (storage.ObjectInfo, error)
}

// Progress is called after every uploaded chunk with the number of bytes sent
// so far and the total size.
type Progress func(sent int64, total int64)

// Uploader splits a payload into chunks and picks between a single put and a
// multipart upload depending on its size.
type Uploader struct {
	Target UploadTarget

	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int64

	Progress Progress
}

func (u *Uploader) chunkSize() int64 {
	if u.ChunkSize > 0 {
		return u.ChunkSize
	}
	return DefaultChunkSize
}

func (u *Uploader) report(sent, total int64) {
	if u.Progress != nil {
		u.Progress(sent, total)
	}
}

// Upload sends size bytes read from r to key. Parts are uploaded one after
// another; the first failing part aborts the upload and its session is left
// incomplete.
func (u *Uploader) Upload(ctx context.Context, key string, r io.ReaderAt, size int64, contentType string) (storage.ObjectInfo, error) {
	chunk := u.chunkSize()

	if size < chunk {
		info, err := u.Target.UploadSmall(ctx, key, io.NewSectionReader(r, 0, size), size, contentType,
			storage.CustomMetadata{OriginalName: Basename(key)})
		if err != nil {
			return storage.ObjectInfo{}, err
		}
		u.report(size, size)
		return info, nil
	}

	uploadID, err := u.Target.InitUpload(ctx, key, contentType)
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	count := int((size + chunk - 1) / chunk)
	parts := make([]Part, 0, count)
	for i := range count {
		offset := int64(i) * chunk
		length := min(chunk, size-offset)

		part, err := u.Target.UploadPart(ctx, key, uploadID, i+1, io.NewSectionReader(r, offset, length), length)
		if err != nil {
			return storage.ObjectInfo{}, fmt.Errorf("upload %s: %w", key, err)
		}
		parts = append(parts, part)
		u.report(offset+length, size)
	}

	return u.Target.CompleteUpload(ctx, key, uploadID, parts)
}

var _ UploadTarget = (*Browser)(nil)
