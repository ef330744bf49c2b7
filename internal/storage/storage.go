// Package storage keeps uploaded photos so records and fiscal-note items can
// reference them by a stable key.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// Storage defines the interface for image blob operations
type Storage interface {
	// Save stores data under a fresh key derived from filename and returns the key
	Save(filename string, data []byte) (string, error)

	// Get retrieves data by key
	Get(key string) ([]byte, error)

	// Delete removes data by key
	Delete(key string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes data to a new file named "<uuid>_<sanitized filename>"
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	key := fmt.Sprintf("%s_%s", uuid.NewString(), SanitizeFilename(filename))
	if err := os.WriteFile(filepath.Join(l.basePath, key), data, 0o644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get reads the file stored under key
func (l *LocalStorage) Get(key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, apperrors.NewNotFoundError("image", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes the file stored under key
func (l *LocalStorage) Delete(key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError("image", key)
		}
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// path rejects keys that would escape the base directory.
func (l *LocalStorage) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", apperrors.NewValidationError("key", "invalid image key")
	}
	return filepath.Join(l.basePath, key), nil
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SanitizeFilename cleans up long phone-generated filenames: only
// alphanumerics, spaces, hyphens and underscores survive, the base is cut to
// 50 characters and the extension is lowercased.
func SanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaceRuns.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "image"
	}
	return base + ext
}
