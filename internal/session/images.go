package session

import (
	"log/slog"
	"sync"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/storage"
)

// images is the part of the shared image storage owned by one session.
// A session can only read back images it saved, and drops all of them when
// it ends. Once dropped, it accepts no new images.
type images struct {
	backend storage.Storage

	mu     sync.Mutex
	keys   map[string]struct{}
	closed bool
}

func newImages(backend storage.Storage) *images {
	return &images{backend: backend, keys: make(map[string]struct{})}
}

func (i *images) Save(filename string, data []byte) (string, error) {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return "", ErrNoSession
	}

	key, err := i.backend.Save(filename, data)
	if err != nil {
		return "", err
	}

	i.mu.Lock()
	closed = i.closed
	if !closed {
		i.keys[key] = struct{}{}
	}
	i.mu.Unlock()

	// The session ended while the file was being written
	if closed {
		if err := i.backend.Delete(key); err != nil {
			slog.Error("Failed to delete image saved after session close", "image_ref", key, "error", err)
		}
		return "", ErrNoSession
	}
	return key, nil
}

func (i *images) owns(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.keys[key]
	return ok
}

func (i *images) Get(key string) ([]byte, error) {
	if !i.owns(key) {
		return nil, apperrors.NewNotFoundError("image", key)
	}
	return i.backend.Get(key)
}

func (i *images) Delete(key string) error {
	if !i.owns(key) {
		return apperrors.NewNotFoundError("image", key)
	}
	i.mu.Lock()
	delete(i.keys, key)
	i.mu.Unlock()
	return i.backend.Delete(key)
}

// deleteAll removes every image the session saved and returns the number
// removed. Later saves fail with ErrNoSession.
func (i *images) deleteAll() (int, error) {
	i.mu.Lock()
	i.closed = true
	keys := make([]string, 0, len(i.keys))
	for k := range i.keys {
		keys = append(keys, k)
	}
	i.keys = make(map[string]struct{})
	i.mu.Unlock()

	var firstErr error
	removed := 0
	for _, k := range keys {
		if err := i.backend.Delete(k); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
