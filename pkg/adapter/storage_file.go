package adapter

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// fileStorage implements Storage on a local directory. Writes go to a temp
// file in the same directory and are renamed into place on Close.
type fileStorage struct {
	dir string
}

// NewFileStorage creates a Storage rooted at dir, creating it if needed
func NewFileStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage dir", goerr.V("dir", dir))
	}
	return &fileStorage{dir: dir}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", goerr.New("invalid storage key", goerr.V("key", key))
	}
	return filepath.Join(s.dir, key), nil
}

type atomicWriter struct {
	tmp    *os.File
	target string
	err    error
	closed bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

// Close commits the file unless a previous Write failed, in which case the
// temp file is discarded and the target is left untouched.
func (w *atomicWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	tmpName := w.tmp.Name()

	if w.err != nil {
		_ = w.tmp.Close()
		_ = os.Remove(tmpName)
		return goerr.Wrap(w.err, "write failed, discarded", goerr.V("path", w.target))
	}
	if err := w.tmp.Sync(); err != nil {
		_ = w.tmp.Close()
		_ = os.Remove(tmpName)
		return goerr.Wrap(err, "failed to sync file", goerr.V("path", w.target))
	}
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return goerr.Wrap(err, "failed to close file", goerr.V("path", w.target))
	}
	if err := os.Rename(tmpName, w.target); err != nil {
		_ = os.Remove(tmpName)
		return goerr.Wrap(err, "failed to rename file", goerr.V("path", w.target))
	}
	return nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp file", goerr.V("key", key))
	}
	return &atomicWriter{tmp: tmp, target: target}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrObjectNotFound, "file does not exist", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(ErrObjectNotFound, "file does not exist", goerr.V("key", key))
		}
		return goerr.Wrap(err, "failed to remove file", goerr.V("key", key))
	}
	return nil
}

func (s *fileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read storage dir", goerr.V("dir", s.dir))
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}
