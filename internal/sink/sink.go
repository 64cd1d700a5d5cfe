// Package sink defines the object destinations index exports are written
// to. Implementations live in the subpackages.
package sink

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("sink: not found")

// Content types written by exports.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeNDJSON = "application/x-ndjson"
)

// PutOptions describe an upload.
type PutOptions struct {
	ContentType string
	// Size is the body length, or -1 when unknown.
	Size int64
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
	Modified    time.Time
}

// Sink is a flat key/value object destination.
type Sink interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	// Location renders where objects end up, for logs and CLI output.
	Location() string
	Close() error
}

// Join builds an object key from a prefix and parts, dropping empty
// segments and surrounding slashes.
func Join(prefix string, parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		segs = append(segs, p)
	}
	for _, part := range parts {
		if p := strings.Trim(part, "/"); p != "" {
			segs = append(segs, p)
		}
	}
	return path.Join(segs...)
}

// ValidateKey rejects keys that are empty or escape the sink root.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("sink: key required")
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return errors.New("sink: invalid key " + key)
	}
	return nil
}
