package delivery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBackend delivers into a directory on the local filesystem, typically
// a share mounted by the downstream system.
type LocalBackend struct {
	dir string
}

func NewLocalBackend(dir string) *LocalBackend {
	return &LocalBackend{dir: dir}
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) Connect(ctx context.Context) (Session, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create delivery directory %s: %w", b.dir, err)
	}
	return &localSession{dir: b.dir}, nil
}

type localSession struct {
	dir string
}

func (s *localSession) RemotePath(filename string) string {
	return filepath.Join(s.dir, filename)
}

func (s *localSession) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := os.Stat(s.RemotePath(filename))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Upload writes through a temporary file and renames it into place so the
// importer never picks up a partial document.
func (s *localSession) Upload(ctx context.Context, filename, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, "."+filename+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dest := s.RemotePath(filename)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *localSession) Close() error { return nil }
