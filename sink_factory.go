package hsearch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"
	"pkt.systems/kryptograf/keymgmt"

	"pkt.systems/hsearch/internal/sink"
	awssink "pkt.systems/hsearch/internal/sink/aws"
	azuresink "pkt.systems/hsearch/internal/sink/azure"
	sinkcrypt "pkt.systems/hsearch/internal/sink/crypt"
	"pkt.systems/hsearch/internal/sink/disk"
	"pkt.systems/hsearch/internal/sink/memory"
	s3sink "pkt.systems/hsearch/internal/sink/s3"
)

// Sink is where Export writes. See OpenSink for the supported URLs.
type Sink = sink.Sink

// CredentialSummary describes which object storage credentials were
// selected, without exposing the secret.
type CredentialSummary struct {
	AccessKey string
	HasSecret bool
	Source    string
}

// OpenSink opens an export destination from a URL:
//
//	mem://                                   in-process, for tests
//	disk:///var/backups/hsearch              local directory
//	s3://host[:port]/bucket[/prefix]         S3 compatible (MinIO etc.)
//	aws://bucket[/prefix]?region=eu-north-1  AWS S3
//	azure://account/container[/prefix]       Azure Blob Storage
//
// Any of them accepts ?encrypt-key=/path/to/bundle.pem (and optionally
// snappy=1): objects are then stored under envelope encryption with the
// root key from that kryptograf bundle, and Get decrypts them again.
func OpenSink(ctx context.Context, raw string) (Sink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse sink URL: %w", err)
	}
	s, err := openSink(ctx, u)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	keyFile := strings.TrimSpace(query.Get("encrypt-key"))
	if keyFile == "" {
		return s, nil
	}
	root, err := LoadExportKeyFile(keyFile)
	if err != nil {
		s.Close()
		return nil, err
	}
	enc, err := EncryptSink(s, ExportEncryption{RootKey: root, Snappy: boolParam(query, "snappy", false)})
	if err != nil {
		s.Close()
		return nil, err
	}
	return enc, nil
}

// ExportEncryption enables envelope encryption of exported objects.
type ExportEncryption struct {
	RootKey keymgmt.RootKey
	// Snappy compresses before encrypting.
	Snappy bool
}

// EncryptSink wraps s so objects are encrypted on Put and decrypted on Get.
// Every object gets its own data key derived from the root key and the
// object key.
func EncryptSink(s Sink, enc ExportEncryption) (Sink, error) {
	return sinkcrypt.Wrap(s, sinkcrypt.Config{RootKey: enc.RootKey, Snappy: enc.Snappy})
}

// LoadExportKeyFile reads the root key from a kryptograf PEM bundle such as
// the one NewExportKeyBundle produces.
func LoadExportKeyFile(path string) (keymgmt.RootKey, error) {
	return sinkcrypt.LoadRootKeyFile(path)
}

// NewExportKeyBundle mints a new root key as a PEM bundle.
func NewExportKeyBundle() ([]byte, error) {
	return sinkcrypt.NewKeyBundle()
}

func openSink(ctx context.Context, u *url.URL) (Sink, error) {
	switch u.Scheme {
	case "mem", "memory", "":
		return memory.New(), nil
	case "disk":
		cfg, err := BuildDiskSinkConfig(u)
		if err != nil {
			return nil, err
		}
		return disk.New(cfg)
	case "s3":
		cfg, _, err := BuildS3SinkConfig(u)
		if err != nil {
			return nil, err
		}
		s, err := s3sink.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.CheckBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "aws":
		cfg, _, err := BuildAWSSinkConfig(u)
		if err != nil {
			return nil, err
		}
		return awssink.New(ctx, cfg)
	case "azure":
		cfg, err := BuildAzureSinkConfig(u)
		if err != nil {
			return nil, err
		}
		return azuresink.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("sink scheme %q not supported", u.Scheme)
	}
}

// BuildDiskSinkConfig parses disk:// URLs. disk://relative/dir is accepted
// and resolved against the working directory.
func BuildDiskSinkConfig(u *url.URL) (disk.Config, error) {
	p := strings.TrimSpace(u.Path)
	if host := strings.TrimSpace(u.Host); host != "" {
		p = filepath.Join(host, p)
	}
	if p == "" || p == "/" {
		return disk.Config{}, fmt.Errorf("disk sink path required (e.g. disk:///var/backups/hsearch)")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return disk.Config{}, err
	}
	return disk.Config{Root: abs}, nil
}

// BuildS3SinkConfig parses s3:// URLs for S3 compatible services.
// Query parameters: insecure, path-style, region.
func BuildS3SinkConfig(u *url.URL) (s3sink.Config, CredentialSummary, error) {
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3sink.Config{}, CredentialSummary{}, fmt.Errorf("s3 sink missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	bucket, prefix := splitBucket(u.Path)
	if bucket == "" {
		return s3sink.Config{}, CredentialSummary{}, fmt.Errorf("s3 sink missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	query := u.Query()
	cred, summary, err := resolveS3Credentials()
	if err != nil {
		return s3sink.Config{}, summary, err
	}
	return s3sink.Config{
		Endpoint:       endpoint,
		Region:         query.Get("region"),
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       boolParam(query, "insecure", false),
		ForcePathStyle: boolParam(query, "path-style", false),
		CustomCreds:    cred,
	}, summary, nil
}

// BuildAWSSinkConfig parses aws://bucket[/prefix] URLs. The region comes
// from ?region= or AWS_REGION.
func BuildAWSSinkConfig(u *url.URL) (awssink.Config, CredentialSummary, error) {
	bucket := strings.TrimSpace(u.Host)
	if bucket == "" {
		return awssink.Config{}, CredentialSummary{}, fmt.Errorf("aws sink missing bucket (expected aws://bucket[/prefix])")
	}
	query := u.Query()
	region := strings.TrimSpace(query.Get("region"))
	if region == "" {
		region = firstEnv("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if region == "" {
		return awssink.Config{}, CredentialSummary{}, fmt.Errorf("aws sink requires region (?region= or AWS_REGION)")
	}
	summary := CredentialSummary{Source: "auto"}
	if access := firstEnv("AWS_ACCESS_KEY_ID"); access != "" {
		summary = CredentialSummary{
			AccessKey: access,
			HasSecret: firstEnv("AWS_SECRET_ACCESS_KEY") != "",
			Source:    "env:AWS_ACCESS_KEY_ID",
		}
	} else if profile := firstEnv("AWS_PROFILE"); profile != "" {
		summary.Source = "profile:" + profile
	}
	return awssink.Config{
		Endpoint:  query.Get("endpoint"),
		Region:    region,
		Bucket:    bucket,
		Prefix:    strings.Trim(u.Path, "/"),
		Insecure:  boolParam(query, "insecure", false),
		PathStyle: boolParam(query, "path-style", false),
	}, summary, nil
}

// BuildAzureSinkConfig parses azure://account/container[/prefix] URLs.
// Credentials come from ?sas=, HSEARCH_AZURE_SAS_TOKEN or an account key in
// HSEARCH_AZURE_ACCOUNT_KEY / AZURE_STORAGE_KEY.
func BuildAzureSinkConfig(u *url.URL) (azuresink.Config, error) {
	account := strings.TrimSpace(u.Host)
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME")
	}
	if account == "" {
		return azuresink.Config{}, fmt.Errorf("azure: account name required (set azure://account/... or AZURE_STORAGE_ACCOUNT)")
	}
	container, prefix := splitBucket(u.Path)
	if container == "" {
		return azuresink.Config{}, fmt.Errorf("azure sink missing container (expected azure://account/container[/prefix])")
	}
	query := u.Query()
	sas := strings.TrimSpace(query.Get("sas"))
	if sas == "" {
		sas = firstEnv("HSEARCH_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN")
	}
	return azuresink.Config{
		Account:         account,
		AccountKey:      firstEnv("HSEARCH_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_STORAGE_KEY"),
		Endpoint:        strings.TrimSpace(query.Get("endpoint")),
		SASToken:        sas,
		Container:       container,
		Prefix:          prefix,
		CreateContainer: boolParam(query, "create", false),
	}, nil
}

func resolveS3Credentials() (*minioCredentials.Credentials, CredentialSummary, error) {
	accessKey := firstEnv("HSEARCH_S3_ACCESS_KEY_ID")
	secretKey := os.Getenv("HSEARCH_S3_SECRET_ACCESS_KEY")
	sessionToken := os.Getenv("HSEARCH_S3_SESSION_TOKEN")
	source := "env:HSEARCH_S3_ACCESS_KEY_ID"
	if accessKey == "" && secretKey == "" {
		// Fall back to minio-go's own chain (AWS_*, MINIO_*, ~/.aws, IAM).
		return nil, CredentialSummary{Source: "chain"}, nil
	}
	summary := CredentialSummary{AccessKey: accessKey, HasSecret: secretKey != "", Source: source}
	if accessKey == "" || secretKey == "" {
		return nil, summary, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), summary, nil
}

func splitBucket(p string) (string, string) {
	p = strings.Trim(p, "/")
	bucket, prefix, _ := strings.Cut(p, "/")
	return strings.TrimSpace(bucket), strings.Trim(prefix, "/")
}

func boolParam(q url.Values, name string, def bool) bool {
	if v := q.Get(name); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			return ok
		}
	}
	return def
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
