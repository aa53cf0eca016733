package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// FSStore keeps blobs as files under Root.
type FSStore struct {
	Fs   afero.Fs
	Root string
}

func NewFSStore(fs afero.Fs, root string) *FSStore {
	if root == "" {
		root = "blobs"
	}
	return &FSStore{Fs: fs, Root: root}
}

func (s *FSStore) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(k)), nil
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error) {
	p, err := s.path(key)
	if err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	if err := writeFileAtomic(s.Fs, p, data); err != nil {
		return Info{}, err
	}
	return s.info(key, p, data)
}

func (s *FSStore) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return Info{}, nil, err
	}
	data, err := afero.ReadFile(s.Fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, nil, ErrNotFound
	}
	if err != nil {
		return Info{}, nil, err
	}
	info, err := s.info(key, p, data)
	if err != nil {
		return Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	err = s.Fs.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *FSStore) info(key, p string, data []byte) (Info, error) {
	st, err := s.Fs.Stat(p)
	if err != nil {
		return Info{}, err
	}
	sum := sha256.Sum256(data)
	return Info{
		Key:          key,
		Size:         st.Size(),
		ContentType:  mime.TypeByExtension(path.Ext(key)),
		ETag:         hex.EncodeToString(sum[:16]),
		LastModified: st.ModTime().UTC(),
	}, nil
}

// writeFileAtomic writes through a temp file in the target directory and renames it into place.
func writeFileAtomic(fsys afero.Fs, p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(fsys, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer fsys.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Chmod(tmpPath, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fsys.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
