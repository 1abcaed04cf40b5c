package core

import (
	"time"

	"cabinet/internal/storage"
	"cabinet/internal/vfs"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// ListResponse is returned by GET /list.
type ListResponse = vfs.Listing

// UploadResponse is returned by a single-request upload.
type UploadResponse struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// PartResponse is returned by POST /upload when a part of a multipart upload
// was sent.
type PartResponse struct {
	UploadID   string `json:"uploadId"`
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type InitUploadRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
}

type InitUploadResponse struct {
	UploadID string `json:"uploadId"`
	Key      string `json:"key"`
}

type CompleteUploadRequest struct {
	Key      string     `json:"key"`
	UploadID string     `json:"uploadId"`
	Parts    []vfs.Part `json:"parts"`
}

type CompleteUploadResponse struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

// InfoResponse is returned by GET /info/{key}.
type InfoResponse struct {
	Key            string                 `json:"key"`
	Size           int64                  `json:"size"`
	ETag           string                 `json:"etag"`
	Uploaded       time.Time              `json:"uploaded"`
	ContentType    string                 `json:"contentType,omitempty"`
	HTTPMetadata   storage.HTTPMetadata   `json:"httpMetadata"`
	CustomMetadata storage.CustomMetadata `json:"customMetadata"`
}

func infoResponse(info storage.ObjectInfo) InfoResponse {
	return InfoResponse{
		Key:            info.Key,
		Size:           info.Size,
		ETag:           info.ETag,
		Uploaded:       info.Uploaded,
		ContentType:    info.HTTPMetadata.ContentType,
		HTTPMetadata:   info.HTTPMetadata,
		CustomMetadata: info.CustomMetadata,
	}
}

type PreviewResponse struct {
	URL string `json:"url"`
}

type MoveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type MoveResponse struct {
	Message string `json:"message"`
	Key     string `json:"key"`
}

type DeleteResponse struct {
	Message string `json:"message"`
}

type FolderRequest struct {
	Path string `json:"path"`
}

type FolderResponse struct {
	Key      string `json:"key"`
	IsFolder bool   `json:"isFolder"`
}
