package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"github.com/go-http-utils/headers"
)

// Client talks to a cabinet server. It implements vfs.UploadTarget so a
// vfs.Uploader can drive uploads over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Username and Password, when set, are sent as basic auth.
	Username string
	Password string
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: http.DefaultClient}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// errorForStatus turns a non-2xx response into a *vfs.Error of the matching
// kind.
func errorForStatus(op, key string, part int, resp *http.Response) error {
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
		body.Message = resp.Status
	}

	kind := vfs.ErrUpstream
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = vfs.ErrInvalidRequest
	case http.StatusNotFound:
		kind = vfs.ErrNotFound
	}

	return &vfs.Error{Kind: kind, Op: op, Key: key, Part: part, Err: errors.New(body.Message)}
}

func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader, op, key string, part int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set(headers.ContentType, contentType)
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &vfs.Error{Kind: vfs.ErrUpstream, Op: op, Key: key, Part: part, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorForStatus(op, key, part, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &vfs.Error{Kind: vfs.ErrUpstream, Op: op, Key: key, Part: part, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, op, key string, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, "application/json", body, op, key, 0, out)
}

// uploadForm builds the multipart body of POST /upload. Payloads are bounded
// by the upload chunk size so the form is assembled in memory.
func uploadForm(fields map[string]string, filename string, contentType string, r io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set(headers.ContentDisposition, fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		h.Set(headers.ContentType, contentType)
	} else {
		h.Set(headers.ContentType, storage.DefaultContentType)
	}

	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) UploadSmall(ctx context.Context, key string, body io.Reader, size int64, contentType string, custom storage.CustomMetadata) (storage.ObjectInfo, error) {
	filename := custom.OriginalName
	if filename == "" {
		filename = vfs.Basename(key)
	}

	form, formType, err := uploadForm(map[string]string{"key": key}, filename, contentType, body)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s: %w", key, err)
	}

	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, "/upload", formType, form, "upload", key, 0, &out); err != nil {
		return storage.ObjectInfo{}, err
	}

	return storage.ObjectInfo{
		Key:          out.Key,
		Size:         out.Size,
		HTTPMetadata: storage.HTTPMetadata{ContentType: out.ContentType},
	}, nil
}

func (c *Client) InitUpload(ctx context.Context, key string, contentType string) (string, error) {
	var out InitUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/upload/init", InitUploadRequest{Key: key, ContentType: contentType}, "init upload", key, &out); err != nil {
		return "", err
	}
	return out.UploadID, nil
}

func (c *Client) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (vfs.Part, error) {
	form, formType, err := uploadForm(map[string]string{
		"key":        key,
		"uploadId":   uploadID,
		"partNumber": strconv.Itoa(partNumber),
	}, vfs.Basename(key), "", body)
	if err != nil {
		return vfs.Part{}, fmt.Errorf("upload part %d of %s: %w", partNumber, key, err)
	}

	var out PartResponse
	if err := c.do(ctx, http.MethodPost, "/upload", formType, form, "upload part", key, partNumber, &out); err != nil {
		return vfs.Part{}, err
	}
	return vfs.Part{PartNumber: out.PartNumber, ETag: out.ETag}, nil
}

func (c *Client) CompleteUpload(ctx context.Context, key string, uploadID string, parts []vfs.Part) (storage.ObjectInfo, error) {
	var out CompleteUploadResponse
	req := CompleteUploadRequest{Key: key, UploadID: uploadID, Parts: parts}
	if err := c.doJSON(ctx, http.MethodPost, "/upload/complete", req, "complete upload", key, &out); err != nil {
		return storage.ObjectInfo{}, err
	}
	return storage.ObjectInfo{Key: out.Key, Size: out.Size, ETag: out.ETag}, nil
}

// List returns one page of the immediate children of prefix.
func (c *Client) List(ctx context.Context, prefix string, cursor string, limit int) (vfs.Listing, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/list"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out vfs.Listing
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "list", prefix, &out); err != nil {
		return vfs.Listing{}, err
	}
	return out, nil
}

var _ vfs.UploadTarget = (*Client)(nil)
