package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = destFile.ReadFrom(srcFile)
	return err
}

// MoveFile renames srcPath to destPath, falling back to copy and remove when
// the two paths live on different filesystems.
func MoveFile(srcPath string, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	if err := os.Rename(srcPath, destPath); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			if copyErr := CopyFile(srcPath, destPath); copyErr != nil {
				return copyErr
			}

			// Best-effort cleanup of the source file; ignore ENOENT in case
			// something else already removed it.
			if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			return nil
		}
		return err
	}

	return nil
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// spooledFile is a payload written to a temporary file along with its size
// and SHA-256 digest.
type spooledFile struct {
	Path   string
	Size   int64
	Digest []byte
}

func (f spooledFile) ETag() string {
	return hex.EncodeToString(f.Digest)
}

// spoolToFile copies r into a new file inside dir while hashing it. When
// expected is non-negative the copy must produce exactly that many bytes.
func spoolToFile(dir string, name string, r io.Reader, expected int64) (spooledFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return spooledFile{}, fmt.Errorf("create temp dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return spooledFile{}, fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	closeErr := f.Close()

	if err == nil {
		err = closeErr
	}
	if err == nil && expected >= 0 && n != expected {
		err = fmt.Errorf("payload length mismatch: expected %d bytes, read %d", expected, n)
	}
	if err != nil {
		_ = os.Remove(path)
		return spooledFile{}, err
	}

	return spooledFile{Path: path, Size: n, Digest: h.Sum(nil)}, nil
}
