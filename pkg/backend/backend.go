// Package backend defines the storage contract implemented by every driver
// the filesystem client can talk to.
//
// A driver exposes a path-addressed namespace: directories and regular files
// identified by absolute slash-separated paths. Drivers are registered by URI
// scheme and opened through Open.
//
// Drivers do not create intermediate directories and do not walk trees. Those
// policies live in the client so that every driver behaves the same way.
package backend

import (
	"context"
	"io"
	"io/fs"
	"net/url"
	"time"
)

// Attr is the metadata snapshot of one entry in a backend namespace.
type Attr struct {
	// Name is the last path element ("/" for the root).
	Name string

	// Path is the cleaned absolute path of the entry.
	Path string

	// Size is the length of a regular file in bytes. Zero for directories.
	Size int64

	// Mode carries permission bits plus fs.ModeDir for directories.
	Mode fs.FileMode

	// BlockSize is the driver's natural transfer unit for this entry.
	BlockSize int64

	// ModTime is the last modification time, zero when unknown.
	ModTime time.Time

	// Owner identifies the principal or numeric owner, empty when unknown.
	Owner string
}

// IsDir reports whether the entry is a directory.
func (a Attr) IsDir() bool {
	return a.Mode.IsDir()
}

// Backend is a path-addressed storage namespace.
//
// All paths passed to a Backend are already cleaned by Clean. Errors wrap the
// sentinels in errors.go so callers can classify them with errors.Is.
type Backend interface {
	// Name returns the driver name (e.g. "nfs", "s3").
	Name() string

	// Stat returns the attributes of the entry at path.
	Stat(ctx context.Context, path string) (Attr, error)

	// ReadDir returns the entries of the directory at path. Order is
	// driver-defined.
	ReadDir(ctx context.Context, path string) ([]Attr, error)

	// Mkdir creates a single directory. The parent must exist.
	// Returns ErrExists if an entry already exists at path.
	Mkdir(ctx context.Context, path string, perm fs.FileMode) error

	// Open returns a reader over the content of the regular file at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create returns a writer that replaces the file at path. The written
	// content is committed when Close returns nil. The parent must exist.
	// If ctx is done by the time Close is called, nothing is committed and
	// Close returns the context error.
	Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error)

	// Remove deletes a regular file or an empty directory.
	Remove(ctx context.Context, path string) error

	// Close releases the connection to the backing service.
	Close() error
}

// TreeRemover is implemented by drivers that can delete a whole subtree
// more efficiently than a file-by-file walk.
type TreeRemover interface {
	RemoveAll(ctx context.Context, path string) error
}

// Metrics receives per-operation observations from drivers.
type Metrics interface {
	// ObserveOperation records one driver operation with its outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by a read or write.
	RecordBytes(operation string, bytes int64)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (NoopMetrics) RecordBytes(operation string, bytes int64)                            {}

// Options carries everything a driver needs to open a connection.
type Options struct {
	// Endpoint is the parsed endpoint URI. Its scheme selects the driver.
	Endpoint *url.URL

	// Principal is the identity operations are performed as.
	Principal string

	// ConnectTimeout bounds connection establishment. Zero means no limit.
	ConnectTimeout time.Duration

	// IOTimeout bounds each request to the service. Zero means no limit.
	IOTimeout time.Duration

	// Settings holds the driver-specific configuration section, decoded by
	// the driver with mapstructure.
	Settings map[string]any

	// Metrics receives driver observations. Nil disables collection.
	Metrics Metrics
}

// MetricsOrNoop returns o.Metrics, or a no-op implementation when unset.
func (o Options) MetricsOrNoop() Metrics {
	if o.Metrics == nil {
		return NoopMetrics{}
	}
	return o.Metrics
}
