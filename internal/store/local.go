package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LocalBlobStore implements BlobStore on a directory tree. Keys map to
// relative paths below the root.
type LocalBlobStore struct {
	root string
}

// NewLocalBlobStore creates the root directory if needed.
func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if root == "" {
		return nil, eris.New("local: root path is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "local: resolve %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "local: create %s", abs)
	}
	zap.L().Debug("local: blob store ready", zap.String("root", abs))
	return &LocalBlobStore{root: abs}, nil
}

// path resolves key below the root and rejects traversal outside it.
func (l *LocalBlobStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", eris.Errorf("local: invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "local: create dir for %s", key)
	}
	// Write to a temp file then rename so readers never see a partial blob.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "local: write %s", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		return eris.Wrapf(err, "local: rename %s", key)
	}
	return nil
}

func (l *LocalBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "local: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "local: read %s", key)
	}
	return data, nil
}
