package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoSuchUpload is returned when a multipart upload session is unknown
	// to the store. It wraps ErrNotFound.
	ErrNoSuchUpload = fmt.Errorf("upload session %w", ErrNotFound)

	// ErrInvalidPart is returned when a completion request references a part
	// that was never uploaded or whose ETag does not match.
	ErrInvalidPart = errors.New("invalid part")

	// ErrInvalidPartOrder is returned when completion parts are not listed
	// in strictly ascending part number order.
	ErrInvalidPartOrder = errors.New("parts must be in ascending order")

	// ErrInvalidCursor is returned when a listing cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	// DefaultListLimit is used when a List call does not specify a limit.
	DefaultListLimit = 1000

	// FolderContentType is the content type given to folder markers.
	FolderContentType = "application/x-directory"

	// DefaultContentType is used when an upload does not carry one.
	DefaultContentType = "application/octet-stream"
)

// HTTPMetadata holds the HTTP-level attributes stored alongside an object.
type HTTPMetadata struct {
	ContentType        string `json:"contentType,omitempty"`
	ContentDisposition string `json:"contentDisposition,omitempty"`
	ContentEncoding    string `json:"contentEncoding,omitempty"`
	ContentLanguage    string `json:"contentLanguage,omitempty"`
	CacheControl       string `json:"cacheControl,omitempty"`
}

// CustomMetadata holds the application-defined attributes stored alongside an
// object. Every field is optional.
type CustomMetadata struct {
	OriginalName string `json:"originalName,omitempty"`
	UploadedBy   string `json:"uploadedBy,omitempty"`
	UploadedAt   string `json:"uploadedAt,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	IsFolder     bool   `json:"isFolder,omitempty"`
}

const (
	metaOriginalName = "originalName"
	metaUploadedBy   = "uploadedBy"
	metaUploadedAt   = "uploadedAt"
	metaCreatedBy    = "createdBy"
	metaCreatedAt    = "createdAt"
	metaIsFolder     = "isFolder"
)

// ToMap flattens the metadata into the string map form used by S3-style user
// metadata headers. Empty fields are omitted.
func (m CustomMetadata) ToMap() map[string]string {
	out := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set(metaOriginalName, m.OriginalName)
	set(metaUploadedBy, m.UploadedBy)
	set(metaUploadedAt, m.UploadedAt)
	set(metaCreatedBy, m.CreatedBy)
	set(metaCreatedAt, m.CreatedAt)
	if m.IsFolder {
		out[metaIsFolder] = "true"
	}
	return out
}

// CustomMetadataFromMap is the inverse of ToMap. Key lookup is
// case-insensitive since S3 gateways canonicalise header names.
func CustomMetadataFromMap(in map[string]string) CustomMetadata {
	lower := make(map[string]string, len(in))
	for k, v := range in {
		lower[strings.ToLower(k)] = v
	}
	get := func(k string) string {
		return lower[strings.ToLower(k)]
	}
	return CustomMetadata{
		OriginalName: get(metaOriginalName),
		UploadedBy:   get(metaUploadedBy),
		UploadedAt:   get(metaUploadedAt),
		CreatedBy:    get(metaCreatedBy),
		CreatedAt:    get(metaCreatedAt),
		IsFolder:     strings.EqualFold(get(metaIsFolder), "true"),
	}
}

// Metadata is the full set of attributes supplied when writing an object.
type Metadata struct {
	HTTP   HTTPMetadata
	Custom CustomMetadata
}

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Key            string
	Size           int64
	ETag           string
	Uploaded       time.Time
	HTTPMetadata   HTTPMetadata
	CustomMetadata CustomMetadata
}

// Metadata returns the attributes needed to rewrite the object elsewhere.
func (o ObjectInfo) Metadata() Metadata {
	return Metadata{HTTP: o.HTTPMetadata, Custom: o.CustomMetadata}
}

// Object is a stored object together with its payload. Callers must close
// Body.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// ListOptions controls a single page of a flat, recursive key listing.
type ListOptions struct {
	Prefix string
	Cursor string
	Limit  int
}

// ListResult is one page of a flat listing, ordered by key.
type ListResult struct {
	Objects   []ObjectInfo
	Truncated bool
	Cursor    string
}

// CompletedPart identifies an uploaded part when completing a multipart
// upload.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// ObjectStore is a flat, key-addressed object store. Keys are arbitrary
// strings; the store has no notion of directories.
type ObjectStore interface {
	// Put stores body under key, replacing any existing object. size may be
	// -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) (ObjectInfo, error)

	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns the metadata of the object stored under key, or
	// ErrNotFound.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object stored under key. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// List returns one page of objects whose keys start with opts.Prefix,
	// in ascending key order, resuming after opts.Cursor.
	List(ctx context.Context, opts ListOptions) (ListResult, error)

	// CreateMultipartUpload starts a multipart upload session for key and
	// returns its upload ID.
	CreateMultipartUpload(ctx context.Context, key string, meta Metadata) (string, error)

	// UploadPart stores one part of a multipart upload and returns its ETag.
	UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error)

	// CompleteMultipartUpload assembles the listed parts into the final
	// object. The returned info may omit Size and ETag.
	CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []CompletedPart) (ObjectInfo, error)
}
