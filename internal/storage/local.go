package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// LocalStore is an ObjectStore that keeps payloads on the local filesystem
// and object metadata plus multipart sessions in SQLite. Every write lands in
// a fresh payload file, addressed by a random ID with the first two
// characters used as a subdirectory prefix.
type LocalStore struct {
	dataDir string
	db      *sql.DB
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// NewLocalStore opens (or creates) a LocalStore rooted at dataDir.
func NewLocalStore(ctx context.Context, dataDir string) (*LocalStore, error) {
	if dataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + filepath.Join(dataDir, "metadata.sqlite") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection keeps SQLite writers from tripping over each other.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &LocalStore{dataDir: dataDir, db: db}, nil
}

// Close closes the metadata database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// PayloadPath computes the filesystem path for the payload with the given ID.
func PayloadPath(directory string, id string) (string, error) {
	if len(id) < 2 {
		return "", fmt.Errorf("invalid payload id length: %d", len(id))
	}
	return filepath.Join(directory, "objects", id[:2], id), nil
}

func (s *LocalStore) tempDir() string {
	return filepath.Join(s.dataDir, "tmp")
}

// storePayload spools r to disk and moves it into the payload area. It
// returns the payload ID along with its size and digest.
func (s *LocalStore) storePayload(r io.Reader, size int64) (string, spooledFile, error) {
	spool, err := spoolToFile(s.tempDir(), uuid.NewString(), r, size)
	if err != nil {
		return "", spooledFile{}, err
	}

	id := uuid.NewString()
	dest, err := PayloadPath(s.dataDir, id)
	if err != nil {
		_ = os.Remove(spool.Path)
		return "", spooledFile{}, err
	}

	if err := MoveFile(spool.Path, dest); err != nil {
		_ = os.Remove(spool.Path)
		return "", spooledFile{}, fmt.Errorf("move payload into place: %w", err)
	}

	spool.Path = dest
	return id, spool, nil
}

// discardPayload removes a payload file that is no longer referenced.
func (s *LocalStore) discardPayload(id string) {
	if id == "" {
		return
	}
	path, err := PayloadPath(s.dataDir, id)
	if err != nil {
		return
	}
	if err := removeIfExists(path); err != nil {
		slog.Warn("failed to remove payload", "path", path, "err", err)
	}
}

func encodeMetadata(meta Metadata) (string, string, error) {
	httpJSON, err := json.Marshal(meta.HTTP)
	if err != nil {
		return "", "", err
	}
	customJSON, err := json.Marshal(meta.Custom)
	if err != nil {
		return "", "", err
	}
	return string(httpJSON), string(customJSON), nil
}

func decodeMetadata(httpJSON, customJSON string) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal([]byte(httpJSON), &meta.HTTP); err != nil {
		return meta, fmt.Errorf("decode http metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(customJSON), &meta.Custom); err != nil {
		return meta, fmt.Errorf("decode custom metadata: %w", err)
	}
	return meta, nil
}

// upsertObject records key as pointing at payload id and returns the ID of
// the payload it replaced, if any.
func upsertObject(ctx context.Context, tx *sql.Tx, info ObjectInfo, id string) (string, error) {
	httpJSON, customJSON, err := encodeMetadata(info.Metadata())
	if err != nil {
		return "", err
	}

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT payload FROM objects WHERE key = ?`, info.Key).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO objects(key, size, etag, payload, http_metadata, custom_metadata, uploaded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		 	size=excluded.size,
		 	etag=excluded.etag,
		 	payload=excluded.payload,
		 	http_metadata=excluded.http_metadata,
		 	custom_metadata=excluded.custom_metadata,
		 	uploaded_at=excluded.uploaded_at`,
		info.Key, info.Size, info.ETag, id, httpJSON, customJSON, info.Uploaded,
	)
	if err != nil {
		return "", err
	}

	return previous, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) (ObjectInfo, error) {
	if key == "" {
		return ObjectInfo{}, errors.New("key must not be empty")
	}

	id, spool, err := s.storePayload(body, size)
	if err != nil {
		return ObjectInfo{}, err
	}

	info := ObjectInfo{
		Key:            key,
		Size:           spool.Size,
		ETag:           spool.ETag(),
		Uploaded:       time.Now().UTC(),
		HTTPMetadata:   meta.HTTP,
		CustomMetadata: meta.Custom,
	}

	var previous string
	err = WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		previous, err = upsertObject(ctx, tx, info, id)
		return err
	})
	if err != nil {
		s.discardPayload(id)
		return ObjectInfo{}, fmt.Errorf("record object %q: %w", key, err)
	}

	s.discardPayload(previous)
	return info, nil
}

func (s *LocalStore) lookup(ctx context.Context, key string) (ObjectInfo, string, error) {
	var (
		info       ObjectInfo
		id         string
		httpJSON   string
		customJSON string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT key, size, etag, payload, http_metadata, custom_metadata, uploaded_at FROM objects WHERE key = ?`,
		key,
	).Scan(&info.Key, &info.Size, &info.ETag, &id, &httpJSON, &customJSON, &info.Uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectInfo{}, "", ErrNotFound
	}
	if err != nil {
		return ObjectInfo{}, "", fmt.Errorf("lookup object %q: %w", key, err)
	}

	meta, err := decodeMetadata(httpJSON, customJSON)
	if err != nil {
		return ObjectInfo{}, "", err
	}
	info.HTTPMetadata = meta.HTTP
	info.CustomMetadata = meta.Custom
	info.Uploaded = info.Uploaded.UTC()

	return info, id, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	info, id, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	path, err := PayloadPath(s.dataDir, id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload for %q: %w", key, err)
	}

	return &Object{ObjectInfo: info, Body: f}, nil
}

func (s *LocalStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	info, _, err := s.lookup(ctx, key)
	return info, err
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	var id string
	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT payload FROM objects WHERE key = ?`, key).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}

	s.discardPayload(id)
	return nil
}

// EncodeCursor turns the last key of a page into an opaque cursor.
func EncodeCursor(lastKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastKey))
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return string(raw), nil
}

func (s *LocalStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
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

	// Fetch one extra row to determine truncation.
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size, etag, http_metadata, custom_metadata, uploaded_at
		 FROM objects
		 WHERE substr(key, 1, length(?1)) = ?1 AND key > ?2
		 ORDER BY key
		 LIMIT ?3`,
		opts.Prefix, startAfter, limit+1,
	)
	if err != nil {
		return ListResult{}, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var result ListResult
	for rows.Next() {
		var (
			info       ObjectInfo
			httpJSON   string
			customJSON string
		)
		if err := rows.Scan(&info.Key, &info.Size, &info.ETag, &httpJSON, &customJSON, &info.Uploaded); err != nil {
			return ListResult{}, fmt.Errorf("scan object: %w", err)
		}
		meta, err := decodeMetadata(httpJSON, customJSON)
		if err != nil {
			return ListResult{}, err
		}
		info.HTTPMetadata = meta.HTTP
		info.CustomMetadata = meta.Custom
		info.Uploaded = info.Uploaded.UTC()
		result.Objects = append(result.Objects, info)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list objects: %w", err)
	}

	if len(result.Objects) > limit {
		result.Objects = result.Objects[:limit]
		result.Truncated = true
		result.Cursor = EncodeCursor(result.Objects[limit-1].Key)
	}

	return result, nil
}

func (s *LocalStore) CreateMultipartUpload(ctx context.Context, key string, meta Metadata) (string, error) {
	if key == "" {
		return "", errors.New("key must not be empty")
	}

	httpJSON, customJSON, err := encodeMetadata(meta)
	if err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO multipart_uploads(upload_id, key, http_metadata, custom_metadata, created_at) VALUES(?, ?, ?, ?, ?)`,
		uploadID, key, httpJSON, customJSON, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("create multipart upload for %q: %w", key, err)
	}

	slog.Debug("Created multipart upload", "key", key, "upload_id", uploadID)
	return uploadID, nil
}

// uploadSession loads the session metadata, verifying it belongs to key.
func (s *LocalStore) uploadSession(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, key string, uploadID string) (Metadata, error) {
	var (
		sessionKey string
		httpJSON   string
		customJSON string
	)
	err := q.QueryRowContext(ctx,
		`SELECT key, http_metadata, custom_metadata FROM multipart_uploads WHERE upload_id = ?`,
		uploadID,
	).Scan(&sessionKey, &httpJSON, &customJSON)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && sessionKey != key) {
		return Metadata{}, ErrNoSuchUpload
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("lookup upload %q: %w", uploadID, err)
	}
	return decodeMetadata(httpJSON, customJSON)
}

func (s *LocalStore) UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("part number %d: %w", partNumber, ErrInvalidPart)
	}

	if _, err := s.uploadSession(ctx, s.db, key, uploadID); err != nil {
		return "", err
	}

	id, spool, err := s.storePayload(body, size)
	if err != nil {
		return "", err
	}

	var previous string
	err = WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := s.uploadSession(ctx, tx, key, uploadID); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx,
			`SELECT payload FROM multipart_parts WHERE upload_id = ? AND part_number = ?`,
			uploadID, partNumber,
		).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO multipart_parts(upload_id, part_number, etag, size, payload, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(upload_id, part_number) DO UPDATE SET
			 	etag=excluded.etag,
			 	size=excluded.size,
			 	payload=excluded.payload,
			 	created_at=excluded.created_at`,
			uploadID, partNumber, spool.ETag(), spool.Size, id, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		s.discardPayload(id)
		if errors.Is(err, ErrNoSuchUpload) {
			return "", ErrNoSuchUpload
		}
		return "", fmt.Errorf("record part %d of %q: %w", partNumber, uploadID, err)
	}

	s.discardPayload(previous)
	return spool.ETag(), nil
}

type storedPart struct {
	number  int
	etag    string
	payload string
}

func (s *LocalStore) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []CompletedPart) (ObjectInfo, error) {
	meta, err := s.uploadSession(ctx, s.db, key, uploadID)
	if err != nil {
		return ObjectInfo{}, err
	}
	if len(parts) == 0 {
		return ObjectInfo{}, fmt.Errorf("no parts given: %w", ErrInvalidPart)
	}

	stored := make([]storedPart, 0, len(parts))
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return ObjectInfo{}, ErrInvalidPartOrder
		}

		sp := storedPart{number: p.PartNumber}
		err := s.db.QueryRowContext(ctx,
			`SELECT etag, payload FROM multipart_parts WHERE upload_id = ? AND part_number = ?`,
			uploadID, p.PartNumber,
		).Scan(&sp.etag, &sp.payload)
		if errors.Is(err, sql.ErrNoRows) {
			return ObjectInfo{}, fmt.Errorf("part %d was not uploaded: %w", p.PartNumber, ErrInvalidPart)
		}
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("lookup part %d: %w", p.PartNumber, err)
		}
		if trimETag(p.ETag) != sp.etag {
			return ObjectInfo{}, fmt.Errorf("part %d etag mismatch: %w", p.PartNumber, ErrInvalidPart)
		}
		stored = append(stored, sp)
	}

	// Concatenate the parts and derive an S3-style composite ETag from the
	// part digests.
	readers := make([]io.Reader, 0, len(stored))
	files := make([]*os.File, 0, len(stored))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	composite := sha256.New()
	for _, sp := range stored {
		path, err := PayloadPath(s.dataDir, sp.payload)
		if err != nil {
			return ObjectInfo{}, err
		}
		f, err := os.Open(path)
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("open part %d: %w", sp.number, err)
		}
		files = append(files, f)
		readers = append(readers, f)

		digest, err := hex.DecodeString(sp.etag)
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("decode part %d etag: %w", sp.number, err)
		}
		composite.Write(digest)
	}

	id, spool, err := s.storePayload(io.MultiReader(readers...), -1)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("assemble upload %q: %w", uploadID, err)
	}

	info := ObjectInfo{
		Key:            key,
		Size:           spool.Size,
		ETag:           fmt.Sprintf("%s-%d", hex.EncodeToString(composite.Sum(nil)), len(stored)),
		Uploaded:       time.Now().UTC(),
		HTTPMetadata:   meta.HTTP,
		CustomMetadata: meta.Custom,
	}

	var (
		previous     string
		partPayloads []string
	)
	err = WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT payload FROM multipart_parts WHERE upload_id = ?`, uploadID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return err
			}
			partPayloads = append(partPayloads, p)
		}
		rows.Close()

		if previous, err = upsertObject(ctx, tx, info, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM multipart_parts WHERE upload_id = ?`, uploadID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM multipart_uploads WHERE upload_id = ?`, uploadID)
		return err
	})
	if err != nil {
		s.discardPayload(id)
		return ObjectInfo{}, fmt.Errorf("complete upload %q: %w", uploadID, err)
	}

	s.discardPayload(previous)
	for _, p := range partPayloads {
		s.discardPayload(p)
	}

	slog.Debug("Completed multipart upload", "key", key, "upload_id", uploadID, "parts", len(stored), "size", info.Size)
	return info, nil
}

// trimETag strips the optional quotes around an ETag.
func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}

var _ ObjectStore = (*LocalStore)(nil)
