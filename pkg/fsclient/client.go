// Package fsclient is a client for remote filesystem-like services.
//
// A Conn is opened with Connect against an endpoint URI whose scheme selects
// the driver:
//
//	nfs://server:2049/export   NFSv3 over ONC RPC
//	s3://bucket/prefix         S3 or an S3-compatible store
//	badger:///var/lib/ditto    embedded BadgerDB namespace
//	file:///srv/data           local directory
//	mem://name                 in-process namespace, shared by name
//
// Every operation returns an *Error whose Kind tells connection problems,
// missing paths, I/O failures and bad configuration apart.
package fsclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/internal/ratelimiter"
	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/marmos91/dittoclient/pkg/config"
)

const (
	dirPerm  fs.FileMode = 0755
	filePerm fs.FileMode = 0644
)

// FileStatus is the metadata of one remote entry at the time it was read.
type FileStatus struct {
	// Path is the absolute remote path
	Path string

	// Name is the last path element
	Name string

	// Size is the length in bytes, zero for directories
	Size int64

	// Permission holds the permission bits
	Permission fs.FileMode

	// BlockSize is the driver's transfer unit
	BlockSize int64

	IsDir   bool
	ModTime time.Time
	Owner   string
}

func statusFromAttr(a backend.Attr) FileStatus {
	return FileStatus{
		Path:       a.Path,
		Name:       a.Name,
		Size:       a.Size,
		Permission: a.Mode.Perm(),
		BlockSize:  a.BlockSize,
		IsDir:      a.IsDir(),
		ModTime:    a.ModTime,
		Owner:      a.Owner,
	}
}

// Conn is a connection to one endpoint. It is meant for sequential use by
// a single caller; open one Conn per goroutine for parallel work.
type Conn struct {
	endpoint  *url.URL
	principal string
	backend   backend.Backend
	opts      options
	closed    atomic.Bool
}

// Connect opens a connection to endpoint acting as principal.
//
// A malformed endpoint, an unknown scheme, an empty principal or invalid
// driver settings fail with KindConfiguration. A service that cannot be
// reached fails with KindConnection.
func Connect(ctx context.Context, endpoint, principal string, opts ...Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if principal == "" {
		return nil, newError(KindConfiguration, "connect", endpoint, errors.New("principal is required"))
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, newError(KindConfiguration, "connect", endpoint, err)
	}
	if u.Scheme == "" {
		return nil, newError(KindConfiguration, "connect", endpoint, fmt.Errorf("missing scheme: %w", backend.ErrInvalidOptions))
	}
	if o.localFs == nil {
		return nil, newError(KindConfiguration, "connect", u.Redacted(), errors.New("local filesystem is nil"))
	}

	dialCtx := ctx
	if o.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, o.connectTimeout)
		defer cancel()
	}

	start := time.Now()
	b, err := backend.Open(dialCtx, backend.Options{
		Endpoint:       u,
		Principal:      principal,
		ConnectTimeout: o.connectTimeout,
		IOTimeout:      o.ioTimeout,
		Settings:       o.settings,
		Metrics:        o.backendMetrics,
	})
	if err != nil {
		kind := KindConnection
		if classify(err) == KindConfiguration {
			kind = KindConfiguration
		}
		err = newError(kind, "connect", u.Redacted(), err)
		o.metrics.ObserveOperation("connect", time.Since(start), err)
		logger.Error("Connect to %s failed: %v", u.Redacted(), err)
		return nil, err
	}
	o.metrics.ObserveOperation("connect", time.Since(start), nil)

	c := &Conn{
		endpoint:  u,
		principal: principal,
		backend:   backend.Instrument(b, o.backendMetrics),
		opts:      o,
	}
	logger.Info("Connected to %s as %s (driver %s)", u.Redacted(), principal, b.Name())
	return c, nil
}

// ConnectConfig opens a connection described by a loaded configuration.
// Options given explicitly are applied after the ones derived from cfg.
func ConnectConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Conn, error) {
	if cfg == nil {
		return nil, newError(KindConfiguration, "connect", "", errors.New("configuration is nil"))
	}
	if err := config.Validate(cfg); err != nil {
		return nil, newError(KindConfiguration, "connect", cfg.Endpoint, err)
	}
	u, err := cfg.EndpointURL()
	if err != nil {
		return nil, newError(KindConfiguration, "connect", cfg.Endpoint, err)
	}
	policy, err := ParseOverwritePolicy(cfg.OverwritePolicy)
	if err != nil {
		return nil, newError(KindConfiguration, "connect", cfg.Endpoint, err)
	}

	base := []Option{
		WithStagingDir(cfg.StagingDir),
		WithOverwritePolicy(policy),
		WithTimeouts(cfg.Timeouts.Connect, cfg.Timeouts.IO),
		WithSettings(cfg.BackendSettings(u.Scheme)),
	}
	if cfg.RateLimit.Enabled {
		base = append(base, WithRateLimiter(ratelimiter.New(cfg.RateLimit.BytesPerSecond, cfg.RateLimit.Burst)))
	}
	return Connect(ctx, cfg.Endpoint, cfg.Principal, append(base, opts...)...)
}

// Endpoint returns the endpoint URI with any password redacted.
func (c *Conn) Endpoint() string {
	return c.endpoint.Redacted()
}

// Principal returns the identity operations run as.
func (c *Conn) Principal() string {
	return c.principal
}

// Close releases the connection. Every later operation fails with
// KindConnection. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if err := c.backend.Close(); err != nil {
		return wrap("close", "", err)
	}
	logger.Debug("Closed connection to %s", c.endpoint.Redacted())
	return nil
}

// begin checks the connection is open and normalizes path.
func (c *Conn) begin(op, path string) (string, error) {
	if c.closed.Load() {
		return "", newError(KindConnection, op, path, backend.ErrDisconnected)
	}
	clean, err := backend.Clean(path)
	if err != nil {
		return "", newError(KindIO, op, path, err)
	}
	return clean, nil
}

// ioContext bounds one request by the configured I/O timeout.
func (c *Conn) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.ioTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.ioTimeout)
	}
	return ctx, func() {}
}

func (c *Conn) observe(op string, start time.Time, err error) {
	c.opts.metrics.ObserveOperation(op, time.Since(start), err)
}

// Stat returns the status of the entry at path.
func (c *Conn) Stat(ctx context.Context, path string) (fi FileStatus, err error) {
	start := time.Now()
	defer func() { c.observe("stat", start, err) }()

	p, err := c.begin("stat", path)
	if err != nil {
		return FileStatus{}, err
	}
	ctx, cancel := c.ioContext(ctx)
	defer cancel()

	a, err := c.backend.Stat(ctx, p)
	if err != nil {
		return FileStatus{}, wrapLookup("stat", p, err)
	}
	return statusFromAttr(a), nil
}

// Exists reports whether an entry exists at path.
func (c *Conn) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Mkdir creates the directory at path together with any missing parents.
// An existing directory is not an error.
func (c *Conn) Mkdir(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { c.observe("mkdir", start, err) }()

	p, err := c.begin("mkdir", path)
	if err != nil {
		return err
	}
	ctx, cancel := c.ioContext(ctx)
	defer cancel()

	if err := c.mkdirAll(ctx, p); err != nil {
		return wrap("mkdir", p, err)
	}
	return nil
}

// mkdirAll creates p and its missing parents. Components are walked from
// the top so each Mkdir finds its parent in place.
func (c *Conn) mkdirAll(ctx context.Context, p string) error {
	if p == "/" {
		return nil
	}
	if a, err := c.backend.Stat(ctx, p); err == nil {
		if !a.IsDir() {
			return fmt.Errorf("mkdir %s: %w", p, backend.ErrNotDir)
		}
		return nil
	}

	current := ""
	for _, name := range backend.Components(p) {
		current += "/" + name
		err := c.backend.Mkdir(ctx, current, dirPerm)
		if err == nil {
			continue
		}
		if !errors.Is(err, backend.ErrExists) {
			return err
		}
		a, statErr := c.backend.Stat(ctx, current)
		if statErr != nil {
			return statErr
		}
		if !a.IsDir() {
			return fmt.Errorf("mkdir %s: %w", current, backend.ErrNotDir)
		}
	}
	return nil
}
