// Package upload validates and stores incoming multipart files. Stored
// files get a random name so uploads can never collide or traverse paths.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured size cap.
	ErrTooLarge = errors.New("file too large")

	// ErrUnsupportedFormat is returned for file extensions outside the allow list.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Saver writes validated uploads into a single directory.
type Saver struct {
	dir     string
	maxSize int64
	formats map[string]bool
}

// NewSaver creates the upload directory if needed. Extensions are matched
// case-insensitively and must include the leading dot.
func NewSaver(dir string, maxSize int64, formats []string) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	allowed := make(map[string]bool, len(formats))
	for _, f := range formats {
		allowed[strings.ToLower(f)] = true
	}
	return &Saver{dir: dir, maxSize: maxSize, formats: allowed}, nil
}

// Allowed reports whether a filename's extension is on the allow list.
func (s *Saver) Allowed(filename string) bool {
	return s.formats[strings.ToLower(filepath.Ext(filename))]
}

// Save validates and persists one multipart file, returning the stored path.
// The size cap is enforced on actual bytes written, not the client-declared
// header, so a lying Content-Length cannot slip an oversized file through.
func (s *Saver) Save(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !s.formats[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if header.Size > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, header.Size, s.maxSize)
	}

	dest := filepath.Join(s.dir, uuid.New().String()+ext)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(file, s.maxSize+1))
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if written > s.maxSize {
		os.Remove(dest)
		return "", fmt.Errorf("%w: body exceeds limit of %d", ErrTooLarge, s.maxSize)
	}
	return dest, nil
}
