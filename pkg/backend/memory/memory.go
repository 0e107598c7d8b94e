// Package memory implements an in-process backend.
//
// The namespace lives in a Store: a map of cleaned paths to nodes guarded by
// a RWMutex. Endpoints of the form mem://name share one Store per name for
// the lifetime of the process, so a second connection to the same name sees
// what the first one wrote.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/mitchellh/mapstructure"
)

// DefaultBlockSize is reported for every entry unless overridden.
const DefaultBlockSize = 4096

func init() {
	backend.Register("mem", Open)
}

type node struct {
	mode     fs.FileMode
	data     []byte
	modTime  time.Time
	owner    string
	children map[string]struct{}
}

func (n *node) isDir() bool {
	return n.mode.IsDir()
}

// Store is an in-memory namespace.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]*node
	blockSize int64
}

// NewStore creates an empty namespace holding only the root directory.
func NewStore() *Store {
	return &Store{
		nodes: map[string]*node{
			"/": {mode: fs.ModeDir | 0755, modTime: time.Now(), children: map[string]struct{}{}},
		},
		blockSize: DefaultBlockSize,
	}
}

var (
	namedMu sync.Mutex
	named   = make(map[string]*Store)
)

// Named returns the shared Store registered under name, creating it on first use.
func Named(name string) *Store {
	namedMu.Lock()
	defer namedMu.Unlock()

	s, ok := named[name]
	if !ok {
		s = NewStore()
		named[name] = s
	}
	return s
}

// Forget drops the shared Store registered under name.
func Forget(name string) {
	namedMu.Lock()
	defer namedMu.Unlock()
	delete(named, name)
}

// Backend is a connection to a Store.
type Backend struct {
	store     *Store
	principal string
	closed    atomic.Bool
}

// New returns a Backend over store acting as principal.
func New(store *Store, principal string) *Backend {
	return &Backend{store: store, principal: principal}
}

// Open is the backend.Opener for mem:// endpoints.
//
// Settings:
//   - block_size: block size reported in attributes (default 4096)
func Open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var settings struct {
		BlockSize int64 `mapstructure:"block_size"`
	}
	if err := mapstructure.Decode(opts.Settings, &settings); err != nil {
		return nil, fmt.Errorf("memory: %v: %w", err, backend.ErrInvalidOptions)
	}

	store := NewStore()
	if name := opts.Endpoint.Host; name != "" {
		store = Named(name)
	}
	if settings.BlockSize > 0 {
		store.mu.Lock()
		store.blockSize = settings.BlockSize
		store.mu.Unlock()
	}

	return New(store, opts.Principal), nil
}

// Store returns the namespace behind b.
func (b *Backend) Store() *Store {
	return b.store
}

func (b *Backend) Name() string {
	return "memory"
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return backend.ErrDisconnected
	}
	return ctx.Err()
}

func (b *Backend) Stat(ctx context.Context, path string) (backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return backend.Attr{}, err
	}
	return b.store.Stat(path)
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	return b.store.ReadDir(path)
}

func (b *Backend) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	return b.store.Mkdir(path, perm, b.principal)
}

func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	data, err := b.store.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	if err := b.store.checkParent(path); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &writer{ctx: ctx, store: b.store, path: path, perm: perm, owner: b.principal}, nil
}

func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	return b.store.Remove(path)
}

func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

// ============================================================================
// Store operations
// ============================================================================

func (s *Store) attrLocked(path string, n *node) backend.Attr {
	return backend.Attr{
		Name:      backend.Base(path),
		Path:      path,
		Size:      int64(len(n.data)),
		Mode:      n.mode,
		BlockSize: s.blockSize,
		ModTime:   n.modTime,
		Owner:     n.owner,
	}
}

// lookupLocked resolves path, reporting ErrNotDir when a parent is a file.
func (s *Store) lookupLocked(path string) (*node, error) {
	if n, ok := s.nodes[path]; ok {
		return n, nil
	}
	dir, _ := backend.Split(path)
	for dir != "/" {
		if p, ok := s.nodes[dir]; ok {
			if !p.isDir() {
				return nil, backend.ErrNotDir
			}
			break
		}
		dir, _ = backend.Split(dir)
	}
	return nil, backend.ErrNotFound
}

func (s *Store) checkParent(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if path == "/" {
		return backend.ErrIsDir
	}
	dir, _ := backend.Split(path)
	parent, err := s.lookupLocked(dir)
	if err != nil {
		return err
	}
	if !parent.isDir() {
		return backend.ErrNotDir
	}
	if n, ok := s.nodes[path]; ok && n.isDir() {
		return backend.ErrIsDir
	}
	return nil
}

// Stat returns the attributes of path.
func (s *Store) Stat(path string) (backend.Attr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookupLocked(path)
	if err != nil {
		return backend.Attr{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return s.attrLocked(path, n), nil
}

// ReadDir returns the entries of the directory at path sorted by name.
func (s *Store) ReadDir(path string) ([]backend.Attr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookupLocked(path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	if !n.isDir() {
		return nil, fmt.Errorf("readdir %s: %w", path, backend.ErrNotDir)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]backend.Attr, 0, len(names))
	for _, name := range names {
		child := joinPath(path, name)
		entries = append(entries, s.attrLocked(child, s.nodes[child]))
	}
	return entries, nil
}

// Mkdir creates a directory whose parent must exist.
func (s *Store) Mkdir(path string, perm fs.FileMode, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; ok {
		return fmt.Errorf("mkdir %s: %w", path, backend.ErrExists)
	}
	parent, name, err := s.parentLocked(path)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}

	s.nodes[path] = &node{
		mode:     fs.ModeDir | perm.Perm(),
		modTime:  time.Now(),
		owner:    owner,
		children: map[string]struct{}{},
	}
	parent.children[name] = struct{}{}
	parent.modTime = time.Now()
	return nil
}

// ReadFile returns a copy of the content of the regular file at path.
func (s *Store) ReadFile(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.lookupLocked(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if n.isDir() {
		return nil, fmt.Errorf("open %s: %w", path, backend.ErrIsDir)
	}

	dataCopy := make([]byte, len(n.data))
	copy(dataCopy, n.data)
	return dataCopy, nil
}

// WriteFile replaces the content of path, creating the file if needed.
func (s *Store) WriteFile(path string, data []byte, perm fs.FileMode, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[path]; ok {
		if n.isDir() {
			return fmt.Errorf("write %s: %w", path, backend.ErrIsDir)
		}
		n.data = data
		n.modTime = time.Now()
		return nil
	}

	parent, name, err := s.parentLocked(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.nodes[path] = &node{mode: perm.Perm(), data: data, modTime: time.Now(), owner: owner}
	parent.children[name] = struct{}{}
	parent.modTime = time.Now()
	return nil
}

// WriteAt writes data at off inside an existing file, growing it as needed.
func (s *Store) WriteAt(path string, data []byte, off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.lookupLocked(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if n.isDir() {
		return fmt.Errorf("write %s: %w", path, backend.ErrIsDir)
	}

	end := off + int64(len(data))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[off:], data)
	n.modTime = time.Now()
	return nil
}

// Truncate sets the size of a regular file.
func (s *Store) Truncate(path string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.lookupLocked(path)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	if n.isDir() {
		return fmt.Errorf("truncate %s: %w", path, backend.ErrIsDir)
	}
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	n.modTime = time.Now()
	return nil
}

// Remove deletes a file or an empty directory.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "/" {
		return fmt.Errorf("remove %s: %w", path, backend.ErrPermission)
	}
	n, err := s.lookupLocked(path)
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if n.isDir() && len(n.children) > 0 {
		return fmt.Errorf("remove %s: %w", path, backend.ErrNotEmpty)
	}

	dir, name := backend.Split(path)
	parent := s.nodes[dir]
	delete(parent.children, name)
	parent.modTime = time.Now()
	delete(s.nodes, path)
	return nil
}

// Rename moves the regular file at from to to, replacing any file there.
func (s *Store) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.lookupLocked(from)
	if err != nil {
		return fmt.Errorf("rename %s: %w", from, err)
	}
	if n.isDir() {
		return fmt.Errorf("rename %s: %w", from, backend.ErrIsDir)
	}
	if existing, ok := s.nodes[to]; ok && existing.isDir() {
		return fmt.Errorf("rename %s: %w", to, backend.ErrIsDir)
	}
	toParent, toName, err := s.parentLocked(to)
	if err != nil {
		return fmt.Errorf("rename %s: %w", to, err)
	}

	fromDir, fromName := backend.Split(from)
	fromParent := s.nodes[fromDir]
	delete(fromParent.children, fromName)
	delete(s.nodes, from)

	s.nodes[to] = n
	toParent.children[toName] = struct{}{}
	now := time.Now()
	fromParent.modTime, toParent.modTime = now, now
	return nil
}

func (s *Store) parentLocked(path string) (*node, string, error) {
	dir, name := backend.Split(path)
	if name == "" {
		return nil, "", backend.ErrExists
	}
	parent, err := s.lookupLocked(dir)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", backend.ErrNotDir
	}
	return parent, name, nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// writer buffers content and swaps it into the store on Close.
type writer struct {
	ctx    context.Context
	store  *Store
	path   string
	perm   fs.FileMode
	owner  string
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, backend.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return backend.ErrClosed
	}
	w.closed = true
	if err := w.ctx.Err(); err != nil {
		return fmt.Errorf("commit %s: %w", w.path, err)
	}
	return w.store.WriteFile(w.path, w.buf.Bytes(), w.perm, w.owner)
}
