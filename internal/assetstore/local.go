package assetstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"voice-transform-service/internal/models"
)

// LocalStore keeps conversion output on the local filesystem. It doubles as
// the fallback write path when the object store is unreachable and as the
// read path for legacy records created before object storage existed.
type LocalStore struct {
	baseDir string
}

// NewLocal builds a filesystem-backed store rooted at baseDir.
func NewLocal(baseDir string) *LocalStore {
	if baseDir == "" {
		baseDir = "./output"
	}
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (models.Locator, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.Locator{}, &models.StorageError{Backend: "local", Err: err}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return models.Locator{}, &models.StorageError{Backend: "local", Err: err}
	}
	return models.Locator{Kind: models.LocatorFile, Path: path}, nil
}

func (l *LocalStore) Get(_ context.Context, loc models.Locator) ([]byte, string, error) {
	data, err := os.ReadFile(loc.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", models.ErrNotFound
		}
		return nil, "", fmt.Errorf("read %s: %w", loc.Path, err)
	}
	return data, contentTypeForPath(loc.Path), nil
}

func (l *LocalStore) Delete(_ context.Context, loc models.Locator) error {
	if err := os.Remove(loc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", loc.Path, err)
	}
	return nil
}

// Resolve maps a bare output filename onto the store's directory, rejecting
// traversal outside it.
func (l *LocalStore) Resolve(filename string) string {
	return filepath.Join(l.baseDir, sanitizeKey(filename))
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	return key
}

func contentTypeForPath(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
