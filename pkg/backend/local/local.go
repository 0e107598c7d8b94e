// Package local implements a backend over a directory tree on an afero
// filesystem, normally the host's disk rooted at the endpoint path.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

const (
	// DefaultBlockSize is reported for every entry unless overridden.
	DefaultBlockSize = 4096

	// tempPrefix marks in-flight writes; such entries are hidden from listings.
	tempPrefix = ".~dittoclient."
)

func init() {
	backend.Register("file", Open)
}

// Config holds the file:// driver settings.
type Config struct {
	// CreateRoot creates the root directory when missing.
	CreateRoot bool `mapstructure:"create_root"`

	// BlockSize overrides the reported block size.
	BlockSize int64 `mapstructure:"block_size"`
}

// Backend serves a namespace rooted at the top of an afero.Fs.
type Backend struct {
	fs        afero.Fs
	blockSize int64
	closed    atomic.Bool
}

// New returns a Backend over fsys. Paths are interpreted relative to the
// root of fsys, so callers normally pass an afero.BasePathFs.
func New(fsys afero.Fs, blockSize int64) *Backend {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Backend{fs: fsys, blockSize: blockSize}
}

// Open is the backend.Opener for file:// endpoints. The endpoint path is the
// root directory on the host.
func Open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := mapstructure.Decode(opts.Settings, &cfg); err != nil {
		return nil, fmt.Errorf("local: %v: %w", err, backend.ErrInvalidOptions)
	}

	root := opts.Endpoint.Path
	if root == "" {
		return nil, fmt.Errorf("local: endpoint path is required: %w", backend.ErrInvalidOptions)
	}

	osFs := afero.NewOsFs()
	if cfg.CreateRoot {
		if err := osFs.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("local: create root: %w", err)
		}
	}

	info, err := osFs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local: root %s: %w", root, mapError(err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local: root %s: %w", root, backend.ErrNotDir)
	}

	return New(afero.NewBasePathFs(osFs, root), cfg.BlockSize), nil
}

func (b *Backend) Name() string {
	return "local"
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return backend.ErrDisconnected
	}
	return ctx.Err()
}

func (b *Backend) attr(path string, info fs.FileInfo) backend.Attr {
	a := backend.Attr{
		Name:      backend.Base(path),
		Path:      path,
		Mode:      info.Mode().Perm(),
		BlockSize: b.blockSize,
		ModTime:   info.ModTime(),
	}
	if info.IsDir() {
		a.Mode |= fs.ModeDir
	} else {
		a.Size = info.Size()
	}
	return a
}

func (b *Backend) stat(path string) (fs.FileInfo, error) {
	info, err := b.fs.Stat(path)
	if err != nil {
		return nil, mapError(err)
	}
	return info, nil
}

// statParent checks that the parent of path is an existing directory.
func (b *Backend) statParent(path string) error {
	dir, _ := backend.Split(path)
	info, err := b.stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return backend.ErrNotDir
	}
	return nil
}

func (b *Backend) Stat(ctx context.Context, path string) (backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return backend.Attr{}, err
	}
	info, err := b.stat(path)
	if err != nil {
		return backend.Attr{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return b.attr(path, info), nil
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	info, err := b.stat(path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("readdir %s: %w", path, backend.ErrNotDir)
	}

	infos, err := afero.ReadDir(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, mapError(err))
	}

	entries := make([]backend.Attr, 0, len(infos))
	for _, fi := range infos {
		if strings.HasPrefix(fi.Name(), tempPrefix) {
			continue
		}
		entries = append(entries, b.attr(joinPath(path, fi.Name()), fi))
	}
	return entries, nil
}

func (b *Backend) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if _, err := b.stat(path); err == nil {
		return fmt.Errorf("mkdir %s: %w", path, backend.ErrExists)
	}
	if err := b.statParent(path); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	if err := b.fs.Mkdir(path, perm.Perm()); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, mapError(err))
	}
	return nil
}

func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	info, err := b.stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open %s: %w", path, backend.ErrIsDir)
	}
	f, err := b.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, mapError(err))
	}
	return f, nil
}

func (b *Backend) Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	if err := b.statParent(path); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if info, err := b.stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("create %s: %w", path, backend.ErrIsDir)
	}

	dir, name := backend.Split(path)
	tmp := joinPath(dir, tempPrefix+name+"."+uuid.NewString())
	f, err := b.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm.Perm())
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, mapError(err))
	}
	return &writer{ctx: ctx, fs: b.fs, file: f, tmp: tmp, path: path, perm: perm.Perm()}, nil
}

func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("remove %s: %w", path, backend.ErrPermission)
	}
	info, err := b.stat(path)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if info.IsDir() {
		infos, err := afero.ReadDir(b.fs, path)
		if err != nil {
			return fmt.Errorf("remove %s: %w", path, mapError(err))
		}
		if len(infos) > 0 {
			return fmt.Errorf("remove %s: %w", path, backend.ErrNotEmpty)
		}
	}
	if err := b.fs.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, mapError(err))
	}
	return nil
}

func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

// writer streams into a temp file and renames it over the target on Close.
type writer struct {
	ctx    context.Context
	fs     afero.Fs
	file   afero.File
	tmp    string
	path   string
	perm   fs.FileMode
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, backend.ErrClosed
	}
	return w.file.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return backend.ErrClosed
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("commit %s: %w", w.path, mapError(err))
	}
	if err := w.ctx.Err(); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("commit %s: %w", w.path, err)
	}
	// OpenFile modes are filtered by the umask.
	if err := w.fs.Chmod(w.tmp, w.perm); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("commit %s: %w", w.path, mapError(err))
	}
	if err := w.fs.Rename(w.tmp, w.path); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("commit %s: %w", w.path, mapError(err))
	}
	return nil
}

// mapError translates OS errors to backend sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%v: %w", err, backend.ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%v: %w", err, backend.ErrExists)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%v: %w", err, backend.ErrPermission)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%v: %w", err, backend.ErrNotDir)
	case errors.Is(err, syscall.ENOTEMPTY):
		return fmt.Errorf("%v: %w", err, backend.ErrNotEmpty)
	case errors.Is(err, syscall.EISDIR):
		return fmt.Errorf("%v: %w", err, backend.ErrIsDir)
	}
	return err
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
