package vfs

import (
	"context"
	"io"
	"log/slog"

	"cabinet/internal/storage"
)

// Part identifies one uploaded part of a multipart upload.
type Part = storage.CompletedPart

func contentTypeOrDefault(contentType string) string {
	if contentType == "" {
		return storage.DefaultContentType
	}
	return contentType
}

// UploadSmall stores body under key with a single put. It is meant for
// payloads below ChunkSize but does not reject larger ones.
func (b *Browser) UploadSmall(ctx context.Context, key string, body io.Reader, size int64, contentType string, custom storage.CustomMetadata) (storage.ObjectInfo, error) {
	if key == "" {
		return storage.ObjectInfo{}, invalid("upload", key, "key is required")
	}

	info, err := b.store.Put(ctx, key, body, size, storage.Metadata{
		HTTP:   storage.HTTPMetadata{ContentType: contentTypeOrDefault(contentType)},
		Custom: custom,
	})
	if err != nil {
		return storage.ObjectInfo{}, classify("upload", key, err)
	}
	return info, nil
}

// InitUpload starts a multipart upload session for key.
func (b *Browser) InitUpload(ctx context.Context, key string, contentType string) (string, error) {
	if key == "" {
		return "", invalid("init upload", key, "key is required")
	}

	uploadID, err := b.store.CreateMultipartUpload(ctx, key, storage.Metadata{
		HTTP: storage.HTTPMetadata{ContentType: contentTypeOrDefault(contentType)},
	})
	if err != nil {
		return "", classify("init upload", key, err)
	}

	slog.Debug("Initiated multipart upload", "key", key, "upload_id", uploadID)
	return uploadID, nil
}

// UploadPart forwards one part to the store. Part numbers are chosen by the
// caller; they are neither resequenced nor checked for gaps here. Failures
// are returned immediately with the part number and the session is left for
// the caller to retry or abandon.
func (b *Browser) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (Part, error) {
	const op = "upload part"

	switch {
	case key == "":
		return Part{}, invalid(op, key, "key is required for multipart upload")
	case uploadID == "":
		return Part{}, invalid(op, key, "upload id is required")
	case partNumber < 1:
		return Part{}, &Error{Kind: ErrInvalidRequest, Op: op, Key: key, Part: partNumber, Err: storage.ErrInvalidPart}
	}

	etag, err := b.store.UploadPart(ctx, key, uploadID, partNumber, body, size)
	if err != nil {
		return Part{}, &Error{Kind: kindOf(err), Op: op, Key: key, Part: partNumber, Err: err}
	}

	return Part{PartNumber: partNumber, ETag: etag}, nil
}

// CompleteUpload assembles the listed parts into the final object. When the
// store's completion response lacks the size or ETag they are read back with
// a head request.
func (b *Browser) CompleteUpload(ctx context.Context, key string, uploadID string, parts []Part) (storage.ObjectInfo, error) {
	const op = "complete upload"

	switch {
	case key == "":
		return storage.ObjectInfo{}, invalid(op, key, "key is required")
	case uploadID == "":
		return storage.ObjectInfo{}, invalid(op, key, "upload id is required")
	case len(parts) == 0:
		return storage.ObjectInfo{}, invalid(op, key, "parts are required")
	}

	info, err := b.store.CompleteMultipartUpload(ctx, key, uploadID, parts)
	if err != nil {
		return storage.ObjectInfo{}, classify(op, key, err)
	}

	if info.ETag == "" || info.Size <= 0 {
		head, err := b.store.Head(ctx, key)
		if err != nil {
			return storage.ObjectInfo{}, classify(op, key, err)
		}
		info = head
	}

	slog.Debug("Completed multipart upload", "key", key, "upload_id", uploadID, "parts", len(parts))
	return info, nil
}
