// Package s3 writes exports to S3 compatible object storage through
// minio-go.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/hsearch/internal/sink"
)

// Config controls the S3 sink.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	PartSize       uint64
	// CustomCreds overrides the env/file/IAM credential chain.
	CustomCreds *credentials.Credentials
	Transport   http.RoundTripper
}

// Sink implements sink.Sink on an S3 bucket.
type Sink struct {
	client *minio.Client
	cfg    Config
}

// New constructs a Sink. It does not contact the endpoint; call
// CheckBucket for that.
func New(cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Endpoint = endpoint
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Sink{client: client, cfg: cfg}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	clone.MaxIdleConnsPerHost = 16
	clone.IdleConnTimeout = 90 * time.Second
	clone.TLSHandshakeTimeout = 10 * time.Second
	return clone
}

// Client exposes the minio client.
func (s *Sink) Client() *minio.Client { return s.client }

// Config returns the effective configuration.
func (s *Sink) Config() Config { return s.cfg }

// CheckBucket fails unless the bucket exists and is reachable.
func (s *Sink) CheckBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("s3: connectivity check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("s3: bucket %s does not exist", s.cfg.Bucket)
	}
	return nil
}

func (s *Sink) object(key string) (string, error) {
	if err := sink.ValidateKey(key); err != nil {
		return "", err
	}
	return sink.Join(s.cfg.Prefix, key), nil
}

// Put uploads body. An unknown size streams a multipart upload.
func (s *Sink) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	object, err := s.object(key)
	if err != nil {
		return nil, err
	}
	size := opts.Size
	if size == 0 && body != nil {
		size = -1
	}
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType, PartSize: s.cfg.PartSize}
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, object, body, size, putOpts)
	if err != nil {
		return nil, fmt.Errorf("s3: put %s: %w", object, err)
	}
	return &sink.ObjectInfo{
		Key:         key,
		Size:        info.Size,
		ETag:        strings.Trim(info.ETag, `"`),
		ContentType: opts.ContentType,
		Modified:    info.LastModified,
	}, nil
}

// Get downloads key.
func (s *Sink) Get(ctx context.Context, key string) (io.ReadCloser, *sink.ObjectInfo, error) {
	object, err := s.object(key)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, s.wrapError(err, object)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, s.wrapError(err, object)
	}
	return obj, &sink.ObjectInfo{
		Key:         key,
		Size:        st.Size,
		ETag:        strings.Trim(st.ETag, `"`),
		ContentType: st.ContentType,
		Modified:    st.LastModified,
	}, nil
}

func (s *Sink) wrapError(err error, object string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return sink.ErrNotFound
	}
	return fmt.Errorf("s3: get %s: %w", object, err)
}

// Location implements sink.Sink.
func (s *Sink) Location() string {
	return "s3://" + s.cfg.Endpoint + "/" + sink.Join(s.cfg.Bucket, s.cfg.Prefix)
}

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }
