// Package aws writes exports to Amazon S3 through aws-sdk-go-v2.
package aws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"pkt.systems/hsearch/internal/sink"
)

const opTimeout = 5 * time.Minute

// Config controls the AWS sink.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	Insecure  bool
	PathStyle bool
	// AccessKeyID and SecretAccessKey pin static credentials; otherwise the
	// default AWS chain (env, shared config, IMDS) is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Sink implements sink.Sink on an AWS S3 bucket.
type Sink struct {
	client *s3.Client
	cfg    Config
}

// New constructs a Sink.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("aws: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws: region is required")
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(newHTTPClient(cfg.Insecure)),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				scheme := "https"
				if cfg.Insecure {
					scheme = "http"
				}
				endpoint = scheme + "://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Sink{client: client, cfg: cfg}, nil
}

// newHTTPClient returns a buildable client so the SDK can still layer
// AWS_CA_BUNDLE roots onto the transport.
func newHTTPClient(insecure bool) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
		tr.MaxIdleConnsPerHost = 16
		tr.IdleConnTimeout = 90 * time.Second
		if insecure {
			if tr.TLSClientConfig == nil {
				tr.TLSClientConfig = &tls.Config{}
			}
			tr.TLSClientConfig.InsecureSkipVerify = true
		}
	})
}

// Client exposes the S3 client.
func (s *Sink) Client() *s3.Client { return s.client }

func (s *Sink) object(key string) (string, error) {
	if err := sink.ValidateKey(key); err != nil {
		return "", err
	}
	return sink.Join(s.cfg.Prefix, key), nil
}

// Put uploads body. PutObject needs a length and a seekable body for
// payload signing, so other bodies are spooled to a temporary file first.
func (s *Sink) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	object, err := s.object(key)
	if err != nil {
		return nil, err
	}
	length := opts.Size
	if _, seekable := body.(io.ReadSeeker); length <= 0 || !seekable {
		spool, n, err := spoolToFile(body)
		if err != nil {
			return nil, fmt.Errorf("aws: spool %s: %w", object, err)
		}
		defer func() {
			spool.Close()
			os.Remove(spool.Name())
		}()
		body, length = spool, n
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(object),
		Body:          body,
		ContentLength: aws.Int64(length),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("aws: put %s: %w", object, err)
	}
	return &sink.ObjectInfo{
		Key:         key,
		Size:        length,
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType: opts.ContentType,
		Modified:    time.Now().UTC(),
	}, nil
}

func spoolToFile(body io.Reader) (*os.File, int64, error) {
	f, err := os.CreateTemp("", "hsearch-aws-*")
	if err != nil {
		return nil, 0, err
	}
	n, err := io.Copy(f, body)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, 0, err
	}
	return f, n, nil
}

// Get downloads key.
func (s *Sink) Get(ctx context.Context, key string) (io.ReadCloser, *sink.ObjectInfo, error) {
	object, err := s.object(key)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, sink.ErrNotFound
		}
		return nil, nil, fmt.Errorf("aws: get %s: %w", object, err)
	}
	info := &sink.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(resp.ContentLength),
		ETag:        strings.Trim(aws.ToString(resp.ETag), `"`),
		ContentType: aws.ToString(resp.ContentType),
	}
	if resp.LastModified != nil {
		info.Modified = *resp.LastModified
	}
	return resp.Body, info, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// Location implements sink.Sink.
func (s *Sink) Location() string {
	return "aws://" + sink.Join(s.cfg.Bucket, s.cfg.Prefix) + "?region=" + s.cfg.Region
}

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }
