package fsclient

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/marmos91/dittoclient/internal/ratelimiter"
	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/spf13/afero"
)

// OverwritePolicy decides what a transfer does when its target exists.
type OverwritePolicy int

const (
	// Overwrite replaces existing targets
	Overwrite OverwritePolicy = iota

	// Exclusive refuses to replace an existing target
	Exclusive
)

func (p OverwritePolicy) String() string {
	if p == Exclusive {
		return "exclusive"
	}
	return "overwrite"
}

// ParseOverwritePolicy converts "overwrite" or "exclusive" (any case).
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch strings.ToLower(s) {
	case "", "overwrite":
		return Overwrite, nil
	case "exclusive":
		return Exclusive, nil
	}
	return Overwrite, fmt.Errorf("unknown overwrite policy %q", s)
}

// Metrics receives client-level observations.
type Metrics interface {
	// ObserveOperation records one client operation with its outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordTransfer records bytes moved in direction "upload" or
	// "download".
	RecordTransfer(direction string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordTransfer(string, int64)                  {}

type options struct {
	stagingDir     string
	policy         OverwritePolicy
	limiter        *ratelimiter.RateLimiter
	metrics        Metrics
	backendMetrics backend.Metrics
	localFs        afero.Fs
	connectTimeout time.Duration
	ioTimeout      time.Duration
	settings       map[string]any
}

func defaultOptions() options {
	return options{
		metrics: noopMetrics{},
		localFs: afero.NewOsFs(),
	}
}

// Option configures a Conn.
type Option func(*options)

// WithStagingDir stages downloads in dir instead of next to the
// destination. dir must be on the same filesystem as the destinations for
// the final rename to succeed.
func WithStagingDir(dir string) Option {
	return func(o *options) { o.stagingDir = dir }
}

// WithOverwritePolicy sets the default policy of Upload and Download.
func WithOverwritePolicy(p OverwritePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithRateLimiter throttles transfers and streams. A nil limiter disables
// throttling.
func WithRateLimiter(l *ratelimiter.RateLimiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithMetrics reports client operations to m. Nil disables reporting.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m == nil {
			m = noopMetrics{}
		}
		o.metrics = m
	}
}

// WithBackendMetrics reports driver operations to m.
func WithBackendMetrics(m backend.Metrics) Option {
	return func(o *options) { o.backendMetrics = m }
}

// WithLocalFs sets the filesystem Upload reads from and Download writes
// to. The default is the host filesystem.
func WithLocalFs(fsys afero.Fs) Option {
	return func(o *options) { o.localFs = fsys }
}

// WithTimeouts bounds connection setup and each request. Zero disables a
// bound.
func WithTimeouts(connect, io time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = connect
		o.ioTimeout = io
	}
}

// WithSettings passes driver-specific settings to the backend.
func WithSettings(settings map[string]any) Option {
	return func(o *options) { o.settings = settings }
}

type transferOptions struct {
	policy   OverwritePolicy
	progress io.Writer
}

// TransferOption adjusts a single Upload or Download.
type TransferOption func(*transferOptions)

// WithPolicy overrides the connection's overwrite policy for one transfer.
func WithPolicy(p OverwritePolicy) TransferOption {
	return func(o *transferOptions) { o.policy = p }
}

// WithProgress copies every transferred chunk's length to w, e.g. a
// progress bar. Only the byte count matters to w.
func WithProgress(w io.Writer) TransferOption {
	return func(o *transferOptions) { o.progress = w }
}

func (c *Conn) transferOptions(opts []TransferOption) transferOptions {
	to := transferOptions{policy: c.opts.policy}
	for _, opt := range opts {
		opt(&to)
	}
	return to
}
