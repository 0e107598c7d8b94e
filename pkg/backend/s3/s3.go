// Package s3 implements a backend over an Amazon S3 (or S3-compatible)
// bucket.
//
// The endpoint has the form s3://bucket[/prefix]. A path maps to the object
// key prefix + path without its leading slash. Directories are either
// implicit (a common prefix shared by deeper keys) or explicit zero-length
// marker objects whose key ends in "/", which is how Mkdir creates them.
//
// Writes buffer one part in memory. Objects that fit in a single part are
// sent with PutObject when the writer closes; larger ones switch to a
// multipart upload that is completed on Close and aborted on failure.
package s3

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/mitchellh/mapstructure"
)

const (
	// DefaultRegion is used when no region is configured.
	DefaultRegion = "us-east-1"

	// DefaultPartSize is the S3 minimum multipart part size.
	DefaultPartSize = 5 * 1024 * 1024

	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 10

	minPartSize = 5 * 1024 * 1024
	maxPartSize = 5 * 1024 * 1024 * 1024

	// maxParts is the S3 limit on parts per multipart upload.
	maxParts = 10000

	// maxDeleteBatch is the S3 limit on keys per DeleteObjects call.
	maxDeleteBatch = 1000

	ownerMetadataKey = "owner"

	abortTimeout = 30 * time.Second
)

func init() {
	backend.Register("s3", Open)
}

// API is the subset of *s3.Client the driver uses.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Config holds the s3:// driver settings.
type Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// ForcePathStyle addresses buckets as endpoint/bucket instead of
	// bucket.endpoint. Always on when Endpoint is set.
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// PartSize is the multipart part size and the reported block size.
	PartSize int64 `mapstructure:"part_size"`

	MaxRetries int `mapstructure:"max_retries"`

	// ListPageSize caps the keys returned per ListObjectsV2 call. Zero
	// leaves the server default (1000).
	ListPageSize int32 `mapstructure:"list_page_size"`
}

// Backend is a namespace stored in one bucket under an optional prefix.
type Backend struct {
	api       API
	bucket    string
	prefix    string
	partSize  int64
	pageSize  int32
	principal string
	metrics   backend.Metrics
	closed    atomic.Bool
}

// Open is the backend.Opener for s3:// endpoints. It verifies that the
// bucket is reachable.
func Open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	var cfg Config
	if err := mapstructure.Decode(opts.Settings, &cfg); err != nil {
		return nil, fmt.Errorf("s3: %v: %w", err, backend.ErrInvalidOptions)
	}
	applyDefaults(&cfg)
	if cfg.PartSize < minPartSize || cfg.PartSize > maxPartSize {
		return nil, fmt.Errorf("s3: part size must be between 5MB and 5GB, got %d: %w", cfg.PartSize, backend.ErrInvalidOptions)
	}

	bucket := opts.Endpoint.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required: %w", backend.ErrInvalidOptions)
	}

	client, err := newClient(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	b := New(client, bucket, opts.Endpoint.Path, cfg, opts.Principal, opts.Metrics)
	if err := b.verifyBucket(ctx, opts.ConnectTimeout); err != nil {
		return nil, err
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s", bucket, cfg.Region, b.prefix)
	return b, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
}

func newClient(ctx context.Context, cfg Config, opts backend.Options) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
		awsConfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = cfg.MaxRetries
			})
		}),
	}

	// Static credentials when provided, otherwise the default chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	httpClient := awshttp.NewBuildableClient()
	if opts.IOTimeout > 0 {
		httpClient = httpClient.WithTimeout(opts.IOTimeout)
	}
	if opts.ConnectTimeout > 0 {
		httpClient = httpClient.WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = opts.ConnectTimeout
		})
	}
	configOptions = append(configOptions, awsConfig.WithHTTPClient(httpClient))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %v: %w", err, backend.ErrInvalidOptions)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// New returns a Backend over api. prefix is the key prefix, with or without
// surrounding slashes. cfg.PartSize is taken as is.
func New(api API, bucket, prefix string, cfg Config, principal string, metrics backend.Metrics) *Backend {
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if metrics == nil {
		metrics = backend.NoopMetrics{}
	}
	return &Backend{
		api:       api,
		bucket:    bucket,
		prefix:    normalizePrefix(prefix),
		partSize:  partSize,
		pageSize:  cfg.ListPageSize,
		principal: principal,
		metrics:   metrics,
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (b *Backend) verifyBucket(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	b.observe("HeadBucket", start, err)
	if err != nil {
		return fmt.Errorf("s3: access bucket %q: %w", b.bucket, connectError(err))
	}
	return nil
}

func (b *Backend) Name() string {
	return "s3"
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return backend.ErrDisconnected
	}
	return ctx.Err()
}

// Close marks the backend closed. The SDK client holds no connection that
// needs explicit release.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Backend) observe(operation string, start time.Time, err error) {
	b.metrics.ObserveOperation(operation, time.Since(start), err)
}

// objectKey returns the key of the file at path.
func (b *Backend) objectKey(path string) string {
	return b.prefix + strings.TrimPrefix(path, "/")
}

// dirKey returns the key prefix shared by entries below path, which is also
// the key of its marker object.
func (b *Backend) dirKey(path string) string {
	if path == "/" {
		return b.prefix
	}
	return b.objectKey(path) + "/"
}
