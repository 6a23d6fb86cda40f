package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalBlobStore stores artifacts on the local filesystem, one file per
// content hash. The extension is derived from the content type so the files
// are directly playable.
type LocalBlobStore struct {
	dir string
}

func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalBlobStore{dir: dir}, nil
}

func (s *LocalBlobStore) Upload(_ context.Context, hash string, data []byte, contentType string) (string, error) {
	ref := hash + extFor(contentType)
	path := filepath.Join(s.dir, ref)

	// Write through a temp file so a crashed upload never leaves a partial
	// blob behind a valid reference.
	tmp, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize blob: %w", err)
	}
	return ref, nil
}

func (s *LocalBlobStore) Download(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(ref)))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

func (s *LocalBlobStore) Exists(_ context.Context, ref string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, filepath.Base(ref)))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LocalBlobStore) Delete(_ context.Context, ref string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(ref)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	return nil
}

func extFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"):
		return ".mp3"
	case strings.Contains(contentType, "wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
