// Package disk writes exported objects below a local directory.
package disk

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"pkt.systems/hsearch/internal/sink"
)

// Config controls the disk sink.
type Config struct {
	Root string
}

// Sink implements sink.Sink on the local filesystem. Objects are written to
// a temporary file and renamed into place so readers never observe a
// partial export.
type Sink struct {
	root   string
	tmpDir string
}

// New prepares root for writing.
func New(cfg Config) (*Sink, error) {
	if cfg.Root == "" {
		return nil, errors.New("disk: root is required")
	}
	root := filepath.Clean(cfg.Root)
	tmpDir := filepath.Join(root, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: prepare root: %w", err)
	}
	return &Sink{root: root, tmpDir: tmpDir}, nil
}

// Root returns the directory objects are written to.
func (s *Sink) Root() string { return s.root }

func (s *Sink) path(key string) (string, error) {
	if err := sink.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes body to key atomically.
func (s *Sink) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	dst, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("disk: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(s.tmpDir, "object-*")
	if err != nil {
		return nil, fmt.Errorf("disk: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("disk: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("disk: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("disk: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("disk: rename %s: %w", key, err)
	}
	st, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}
	return &sink.ObjectInfo{
		Key:         key,
		Size:        n,
		ETag:        hex.EncodeToString(hash.Sum(nil)),
		ContentType: opts.ContentType,
		Modified:    st.ModTime(),
	}, nil
}

// Get opens the object stored at key.
func (s *Sink) Get(ctx context.Context, key string) (io.ReadCloser, *sink.ObjectInfo, error) {
	src, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, sink.ErrNotFound
		}
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, &sink.ObjectInfo{Key: key, Size: st.Size(), Modified: st.ModTime()}, nil
}

// Location implements sink.Sink.
func (s *Sink) Location() string { return "disk://" + filepath.ToSlash(s.root) }

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }
