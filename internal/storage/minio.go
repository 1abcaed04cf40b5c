package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for a MinioStore.
type MinioConfig struct {
	// Endpoint is the S3 server address (e.g., "localhost:9000")
	Endpoint string

	// Bucket is the bucket all keys live in
	Bucket string

	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool

	// Client is an optional pre-configured client. When set, the connection
	// fields above are ignored.
	Client *minio.Client
}

// validate checks that either Client or a full set of connection fields is
// provided.
func (c *MinioConfig) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// MinioStore is an ObjectStore backed by any S3-compatible service reachable
// through minio-go (MinIO, R2, S3).
type MinioStore struct {
	core   *minio.Core
	bucket string
}

// NewMinioStore creates a MinioStore from cfg.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	return &MinioStore{core: &minio.Core{Client: client}, bucket: cfg.Bucket}, nil
}

// translateMinioError maps S3 error codes onto the package sentinels.
func translateMinioError(err error) error {
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	case "NoSuchUpload":
		return ErrNoSuchUpload
	case "InvalidPart":
		return fmt.Errorf("%w: %v", ErrInvalidPart, err)
	case "InvalidPartOrder":
		return fmt.Errorf("%w: %v", ErrInvalidPartOrder, err)
	}

	return fmt.Errorf("minio: %w", err)
}

func putOptions(meta Metadata) minio.PutObjectOptions {
	contentType := meta.HTTP.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	return minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: meta.HTTP.ContentDisposition,
		ContentEncoding:    meta.HTTP.ContentEncoding,
		ContentLanguage:    meta.HTTP.ContentLanguage,
		CacheControl:       meta.HTTP.CacheControl,
		UserMetadata:       meta.Custom.ToMap(),
	}
}

func objectInfoFromMinio(oi minio.ObjectInfo) ObjectInfo {
	info := ObjectInfo{
		Key:      oi.Key,
		Size:     oi.Size,
		ETag:     oi.ETag,
		Uploaded: oi.LastModified.UTC(),
		HTTPMetadata: HTTPMetadata{
			ContentType: oi.ContentType,
		},
		CustomMetadata: CustomMetadataFromMap(oi.UserMetadata),
	}
	if oi.Metadata != nil {
		info.HTTPMetadata.ContentDisposition = oi.Metadata.Get(headers.ContentDisposition)
		info.HTTPMetadata.ContentEncoding = oi.Metadata.Get(headers.ContentEncoding)
		info.HTTPMetadata.ContentLanguage = oi.Metadata.Get(headers.ContentLanguage)
		info.HTTPMetadata.CacheControl = oi.Metadata.Get(headers.CacheControl)
	}
	return info
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) (ObjectInfo, error) {
	ui, err := s.core.Client.PutObject(ctx, s.bucket, key, body, size, putOptions(meta))
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}

	uploaded := ui.LastModified
	if uploaded.IsZero() {
		uploaded = time.Now()
	}

	return ObjectInfo{
		Key:            key,
		Size:           ui.Size,
		ETag:           ui.ETag,
		Uploaded:       uploaded.UTC(),
		HTTPMetadata:   meta.HTTP,
		CustomMetadata: meta.Custom,
	}, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := s.core.Client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}

	// GetObject is lazy; Stat surfaces missing keys.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, translateMinioError(err)
	}

	return &Object{ObjectInfo: objectInfoFromMinio(st), Body: obj}, nil
}

func (s *MinioStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	st, err := s.core.Client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}
	return objectInfoFromMinio(st), nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.core.Client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err := translateMinioError(err); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// List reads at most one page from the recursive listing. The cursor is the
// last key of the previous page and is passed to the server as StartAfter.
func (s *MinioStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	startAfter := ""
	if opts.Cursor != "" {
		var err error
		if startAfter, err = DecodeCursor(opts.Cursor); err != nil {
			return ListResult{}, err
		}
	}

	// Stop the lister goroutine once a full page plus one has been read.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result ListResult
	for object := range s.core.Client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:     opts.Prefix,
		Recursive:  true,
		StartAfter: startAfter,
		MaxKeys:    limit + 1,
	}) {
		if object.Err != nil {
			return ListResult{}, translateMinioError(object.Err)
		}
		if len(result.Objects) == limit {
			result.Truncated = true
			break
		}
		result.Objects = append(result.Objects, objectInfoFromMinio(object))
	}

	if result.Truncated {
		result.Cursor = EncodeCursor(result.Objects[limit-1].Key)
	}

	return result, nil
}

func (s *MinioStore) CreateMultipartUpload(ctx context.Context, key string, meta Metadata) (string, error) {
	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, putOptions(meta))
	if err != nil {
		return "", translateMinioError(err)
	}
	return uploadID, nil
}

func (s *MinioStore) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error) {
	part, err := s.core.PutObjectPart(ctx, s.bucket, key, uploadID, partNumber, body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", translateMinioError(err)
	}
	return part.ETag, nil
}

func (s *MinioStore) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []CompletedPart) (ObjectInfo, error) {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		})
	}

	ui, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translateMinioError(err)
	}

	// The completion response carries no size; callers fall back to Head.
	return ObjectInfo{Key: key, ETag: ui.ETag, Size: ui.Size}, nil
}

var _ ObjectStore = (*MinioStore)(nil)
