// Package nfs implements a backend that talks NFSv3 over ONC RPC/TCP.
//
// The endpoint has the form nfs://host[:port]/export[/subdir]. The driver
// mounts the export with MOUNT v3 (on the NFS port unless mount_port says
// otherwise), queries FSINFO for transfer sizes and then resolves paths with
// LOOKUP from the export root. Directory handles are cached; file handles are
// always looked up fresh.
//
// Writes go to a hidden temp file in the target directory and are renamed
// over the target when the writer closes, so readers never observe a
// partially written file.
package nfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/mount"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/mitchellh/mapstructure"
)

const (
	// DefaultPort is the standard NFS port.
	DefaultPort = 2049

	// maxTransfer caps READ and WRITE sizes regardless of what the server
	// advertises.
	maxTransfer = 512 * 1024

	// tempPrefix marks in-flight writes; such entries are hidden from listings.
	tempPrefix = ".~dittoclient."

	// READDIRPLUS sizing.
	readDirCount = 8192
	readDirMax   = 64 * 1024

	// maxMachineName is the AUTH_UNIX machine name limit.
	maxMachineName = 255

	unmountTimeout = 5 * time.Second
)

func init() {
	backend.Register("nfs", Open)
}

// Config holds the nfs:// driver settings.
type Config struct {
	// UID and GID are sent in the AUTH_UNIX credential.
	UID uint32 `mapstructure:"uid"`
	GID uint32 `mapstructure:"gid"`

	// MountPort is the MOUNT service port. Zero means the NFS port.
	MountPort int `mapstructure:"mount_port"`

	// ReadSize and WriteSize cap the transfer sizes negotiated via FSINFO.
	ReadSize  uint32 `mapstructure:"read_size"`
	WriteSize uint32 `mapstructure:"write_size"`

	// Export is the path passed to MNT. When set, the endpoint path must
	// start with it and the remainder is a directory inside the export that
	// becomes the root of the namespace. When empty the whole endpoint path
	// is the export.
	Export string `mapstructure:"export"`
}

// Backend is a mounted NFSv3 export.
type Backend struct {
	rpc      *rpc.Client
	mountRPC *rpc.Client
	nfs      *v3.Client
	export   string

	root      []byte
	readSize  uint32
	writeSize uint32
	blockSize int64

	mu      sync.Mutex
	handles map[string][]byte

	closed atomic.Bool
}

// Open is the backend.Opener for nfs:// endpoints.
func Open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	var cfg Config
	if err := mapstructure.Decode(opts.Settings, &cfg); err != nil {
		return nil, fmt.Errorf("nfs: %v: %w", err, backend.ErrInvalidOptions)
	}

	addr, port, err := serverAddr(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	export, subdir, err := splitExport(opts.Endpoint.Path, cfg.Export)
	if err != nil {
		return nil, err
	}

	machine := opts.Principal
	if len(machine) > maxMachineName {
		machine = machine[:maxMachineName]
	}
	cred, err := (&rpc.UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: machine,
		UID:         cfg.UID,
		GID:         cfg.GID,
	}).OpaqueAuth()
	if err != nil {
		return nil, fmt.Errorf("nfs: credentials: %v: %w", err, backend.ErrInvalidOptions)
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	client, err := rpc.Dial(ctx, net.JoinHostPort(addr, strconv.Itoa(port)), cred, opts.IOTimeout)
	if err != nil {
		return nil, fmt.Errorf("nfs: %w: %w", backend.ErrDisconnected, err)
	}

	b := &Backend{
		rpc:     client,
		nfs:     v3.NewClient(client),
		export:  export,
		handles: make(map[string][]byte),
	}
	if cfg.MountPort != 0 && cfg.MountPort != port {
		mountClient, err := rpc.Dial(ctx, net.JoinHostPort(addr, strconv.Itoa(cfg.MountPort)), cred, opts.IOTimeout)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("nfs: mount service: %w: %w", backend.ErrDisconnected, err)
		}
		b.mountRPC = mountClient
	}

	if err := b.mount(ctx, cfg, subdir); err != nil {
		b.closeTransport()
		return nil, err
	}

	logger.Debug("nfs: mounted %s:%d%s (rsize=%d wsize=%d)", addr, port, export, b.readSize, b.writeSize)
	return b, nil
}

func serverAddr(endpoint *url.URL) (string, int, error) {
	host := endpoint.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("nfs: endpoint host is required: %w", backend.ErrInvalidOptions)
	}
	port := DefaultPort
	if p := endpoint.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return "", 0, fmt.Errorf("nfs: invalid port %q: %w", p, backend.ErrInvalidOptions)
		}
		port = n
	}
	return host, port, nil
}

// splitExport separates the export passed to MNT from the directory inside
// it that the namespace is rooted at.
func splitExport(endpointPath, export string) (string, string, error) {
	full := "/"
	if endpointPath != "" {
		var err error
		if full, err = backend.Clean(endpointPath); err != nil {
			return "", "", fmt.Errorf("nfs: %v: %w", err, backend.ErrInvalidOptions)
		}
	}
	if export == "" {
		return full, "/", nil
	}
	if err := mount.ValidateExportPath(export); err != nil {
		return "", "", fmt.Errorf("nfs: %v: %w", err, backend.ErrInvalidOptions)
	}
	export = strings.TrimSuffix(export, "/")
	if export == "" {
		return "/", full, nil
	}
	switch {
	case full == export:
		return export, "/", nil
	case strings.HasPrefix(full, export+"/"):
		return export, strings.TrimPrefix(full, export), nil
	}
	return "", "", fmt.Errorf("nfs: endpoint path %s is outside export %s: %w", full, export, backend.ErrInvalidOptions)
}

func (b *Backend) mountClient() *mount.Client {
	if b.mountRPC != nil {
		return mount.NewClient(b.mountRPC)
	}
	return mount.NewClient(b.rpc)
}

func (b *Backend) mount(ctx context.Context, cfg Config, subdir string) error {
	resp, err := b.mountClient().Mnt(ctx, b.export)
	if err != nil {
		return fmt.Errorf("nfs: mount %s: %w", b.export, mapError(err))
	}
	b.root = resp.FileHandle

	info, err := b.nfs.FsInfo(ctx, b.root)
	if err != nil {
		_ = b.mountClient().Umnt(ctx, b.export)
		return fmt.Errorf("nfs: fsinfo: %w", mapError(err))
	}
	b.readSize = transferSize(info.Rtmax, info.Rtpref, cfg.ReadSize)
	b.writeSize = transferSize(info.Wtmax, info.Wtpref, cfg.WriteSize)
	b.blockSize = int64(info.Wtpref)
	if b.blockSize == 0 {
		b.blockSize = int64(b.writeSize)
	}

	if subdir != "/" {
		handle, err := b.dirHandle(ctx, subdir)
		if err != nil {
			_ = b.mountClient().Umnt(ctx, b.export)
			return fmt.Errorf("nfs: root %s: %w", subdir, mapError(err))
		}
		b.root = handle
		b.resetHandles()
	}
	return nil
}

// transferSize picks the smallest of the server maximum, the configured cap
// and maxTransfer. A server that reports no maximum gets its preferred size.
func transferSize(serverMax, serverPref, configured uint32) uint32 {
	size := uint32(maxTransfer)
	if serverMax == 0 {
		serverMax = serverPref
	}
	if serverMax > 0 && serverMax < size {
		size = serverMax
	}
	if configured > 0 && configured < size {
		size = configured
	}
	return size
}

func (b *Backend) Name() string {
	return "nfs"
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return backend.ErrDisconnected
	}
	return ctx.Err()
}

// ============================================================================
// Handle resolution
// ============================================================================

func (b *Backend) cachedHandle(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[path]
	return h, ok
}

func (b *Backend) cacheHandle(path string, handle []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handles[path] = handle
}

// forget drops path and every cached descendant.
func (b *Backend) forget(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := path + "/"
	for p := range b.handles {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(b.handles, p)
		}
	}
}

func (b *Backend) resetHandles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.handles)
}

// dirHandle resolves the directory at path, filling the cache on the way.
func (b *Backend) dirHandle(ctx context.Context, path string) ([]byte, error) {
	if path == "/" {
		return b.root, nil
	}
	if h, ok := b.cachedHandle(path); ok {
		return h, nil
	}

	parent, name := backend.Split(path)
	ph, err := b.dirHandle(ctx, parent)
	if err != nil {
		return nil, err
	}
	h, attr, err := b.nfs.Lookup(ctx, ph, name)
	if err != nil {
		return nil, err
	}
	if !attr.IsDir() {
		return nil, backend.ErrNotDir
	}
	b.cacheHandle(path, h)
	return h, nil
}

// lookup resolves path to its handle and current attributes.
func (b *Backend) lookup(ctx context.Context, path string) ([]byte, *types.FileAttr, error) {
	if path == "/" {
		attr, err := b.nfs.GetAttr(ctx, b.root)
		if err != nil {
			return nil, nil, err
		}
		return b.root, attr, nil
	}
	parent, name := backend.Split(path)
	ph, err := b.dirHandle(ctx, parent)
	if err != nil {
		return nil, nil, err
	}
	h, attr, err := b.nfs.Lookup(ctx, ph, name)
	if err != nil {
		return nil, nil, err
	}
	if attr.IsDir() {
		b.cacheHandle(path, h)
	}
	return h, attr, nil
}

// retryStale runs fn again with an empty handle cache when a cached handle
// turns out to be stale.
func (b *Backend) retryStale(fn func() error) error {
	err := fn()
	var statusErr *v3.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == v3.NFS3ErrStale {
		logger.Debug("nfs: stale handle, clearing handle cache")
		b.resetHandles()
		err = fn()
	}
	return err
}

func (b *Backend) attr(path string, fa *types.FileAttr) backend.Attr {
	a := backend.Attr{
		Name:      backend.Base(path),
		Path:      path,
		Mode:      fs.FileMode(fa.Mode).Perm(),
		BlockSize: b.blockSize,
		ModTime:   fa.Mtime.Time(),
		Owner:     strconv.FormatUint(uint64(fa.UID), 10),
	}
	if fa.IsDir() {
		a.Mode |= fs.ModeDir
	} else {
		a.Size = int64(fa.Size)
	}
	return a
}

// ============================================================================
// Operations
// ============================================================================

func (b *Backend) Stat(ctx context.Context, path string) (backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return backend.Attr{}, err
	}
	var attr *types.FileAttr
	err := b.retryStale(func() (err error) {
		_, attr, err = b.lookup(ctx, path)
		return err
	})
	if err != nil {
		return backend.Attr{}, fmt.Errorf("stat %s: %w", path, mapError(err))
	}
	return b.attr(path, attr), nil
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	var entries []backend.Attr
	err := b.retryStale(func() error {
		var err error
		entries, err = b.readDir(ctx, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, mapError(err))
	}
	return entries, nil
}

func (b *Backend) readDir(ctx context.Context, path string) ([]backend.Attr, error) {
	handle, attr, err := b.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	if !attr.IsDir() {
		return nil, backend.ErrNotDir
	}

	var (
		entries []backend.Attr
		cookie  uint64
		verf    v3.Verifier
	)
	for {
		resp, err := b.nfs.ReadDirPlus(ctx, &v3.ReadDirPlusRequest{
			Handle:     handle,
			Cookie:     cookie,
			CookieVerf: verf,
			DirCount:   readDirCount,
			MaxCount:   readDirMax,
		})
		if err != nil {
			return nil, err
		}

		for _, e := range resp.Entries {
			cookie = e.Cookie
			if e.Name == "." || e.Name == ".." || strings.HasPrefix(e.Name, tempPrefix) {
				continue
			}
			child := joinPath(path, e.Name)
			fa, err := b.entryAttr(ctx, handle, e)
			if err != nil {
				return nil, err
			}
			if fa.IsDir() && len(e.Handle) > 0 {
				b.cacheHandle(child, e.Handle)
			}
			entries = append(entries, b.attr(child, fa))
		}

		if resp.EOF {
			return entries, nil
		}
		if len(resp.Entries) == 0 {
			return nil, fmt.Errorf("READDIRPLUS returned no entries before eof")
		}
		verf = resp.CookieVerf
	}
}

// entryAttr returns the attributes of a READDIRPLUS entry, fetching them
// when the server left them out.
func (b *Backend) entryAttr(ctx context.Context, dir []byte, e types.DirEntryPlus) (*types.FileAttr, error) {
	if e.Attr != nil {
		return e.Attr, nil
	}
	if len(e.Handle) > 0 {
		return b.nfs.GetAttr(ctx, e.Handle)
	}
	_, attr, err := b.nfs.Lookup(ctx, dir, e.Name)
	return attr, err
}

func (b *Backend) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("mkdir %s: %w", path, backend.ErrExists)
	}
	dir, name := backend.Split(path)
	mode := uint32(perm.Perm())
	err := b.retryStale(func() error {
		ph, err := b.dirHandle(ctx, dir)
		if err != nil {
			return err
		}
		h, _, err := b.nfs.Mkdir(ctx, ph, name, &types.SetAttrs{Mode: &mode})
		if err != nil {
			return err
		}
		b.cacheHandle(path, h)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path, mapError(err))
	}
	return nil
}

func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	var (
		handle []byte
		attr   *types.FileAttr
	)
	err := b.retryStale(func() (err error) {
		handle, attr, err = b.lookup(ctx, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, mapError(err))
	}
	if attr.IsDir() {
		return nil, fmt.Errorf("open %s: %w", path, backend.ErrIsDir)
	}
	return &reader{ctx: ctx, b: b, path: path, handle: handle}, nil
}

func (b *Backend) Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	if path == "/" {
		return nil, fmt.Errorf("create %s: %w", path, backend.ErrIsDir)
	}

	dir, name := backend.Split(path)
	tmp := tempPrefix + uuid.NewString()
	mode := uint32(perm.Perm())
	size := uint64(0)

	var dirHandle, tmpHandle []byte
	err := b.retryStale(func() error {
		var err error
		if dirHandle, err = b.dirHandle(ctx, dir); err != nil {
			return err
		}
		_, attr, err := b.nfs.Lookup(ctx, dirHandle, name)
		switch {
		case err == nil && attr.IsDir():
			return backend.ErrIsDir
		case err != nil && !isStatus(err, v3.NFS3ErrNoEnt):
			return err
		}
		tmpHandle, _, err = b.nfs.Create(ctx, &v3.CreateRequest{
			DirOpArgs: v3.DirOpArgs{Dir: dirHandle, Name: tmp},
			Mode:      v3.CreateGuarded,
			Attr:      &types.SetAttrs{Mode: &mode, Size: &size},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, mapError(err))
	}

	return &writer{
		ctx:    ctx,
		b:      b,
		path:   path,
		dir:    dirHandle,
		name:   name,
		tmp:    tmp,
		handle: tmpHandle,
		buf:    make([]byte, 0, b.writeSize),
	}, nil
}

func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("remove %s: %w", path, backend.ErrPermission)
	}

	dir, name := backend.Split(path)
	err := b.retryStale(func() error {
		ph, err := b.dirHandle(ctx, dir)
		if err != nil {
			return err
		}
		_, attr, err := b.nfs.Lookup(ctx, ph, name)
		if err != nil {
			return err
		}
		if attr.IsDir() {
			return b.nfs.Rmdir(ctx, ph, name)
		}
		return b.nfs.Remove(ctx, ph, name)
	})
	b.forget(path)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, mapError(err))
	}
	return nil
}

// Close unmounts the export and closes the connection. The unmount is best
// effort: servers treat MNT/UMNT as advisory.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
	defer cancel()
	if err := b.mountClient().Umnt(ctx, b.export); err != nil {
		logger.Debug("nfs: unmount %s: %v", b.export, err)
	}
	return b.closeTransport()
}

func (b *Backend) closeTransport() error {
	if b.mountRPC != nil {
		_ = b.mountRPC.Close()
	}
	return b.rpc.Close()
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
