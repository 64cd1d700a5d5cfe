// Package memory keeps exported objects in process memory; intended for
// tests and dry runs.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"sync"
	"time"

	"pkt.systems/hsearch/internal/sink"
)

type entry struct {
	payload     []byte
	etag        string
	contentType string
	modified    time.Time
}

// Sink implements sink.Sink in memory.
type Sink struct {
	mu   sync.RWMutex
	objs map[string]*entry
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{objs: make(map[string]*entry)}
}

// Put stores body under key, replacing any previous value.
func (s *Sink) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	if err := sink.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(payload)
	e := &entry{
		payload:     payload,
		etag:        hex.EncodeToString(sum[:]),
		contentType: opts.ContentType,
		modified:    time.Now(),
	}
	s.mu.Lock()
	s.objs[key] = e
	s.mu.Unlock()
	return e.info(key), nil
}

// Get returns a reader over a copy of the stored bytes.
func (s *Sink) Get(ctx context.Context, key string) (io.ReadCloser, *sink.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, sink.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(e.payload)), e.info(key), nil
}

// Keys lists stored keys in order.
func (s *Sink) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objs))
	for k := range s.objs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Location implements sink.Sink.
func (s *Sink) Location() string { return "mem://" }

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }

func (e *entry) info(key string) *sink.ObjectInfo {
	return &sink.ObjectInfo{
		Key:         key,
		Size:        int64(len(e.payload)),
		ETag:        e.etag,
		ContentType: e.contentType,
		Modified:    e.modified,
	}
}
