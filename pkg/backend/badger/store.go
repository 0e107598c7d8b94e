// Package badger implements a backend that keeps the whole namespace,
// metadata and content, inside an embedded BadgerDB.
//
// Directories and files are stored as JSON entries keyed by path. A child
// index under each directory supports prefix-scan listings. File content is
// split into fixed-size chunks stored under a content id; a write stages its
// chunks under a fresh id and then swaps the entry in a single transaction,
// so readers see either the old or the new content and never a mix.
package badger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/mitchellh/mapstructure"
)

// DefaultChunkSize is the content chunk size when none is configured.
const DefaultChunkSize = 64 * 1024

func init() {
	backend.Register("badger", Open)
}

// Config holds the badger:// driver settings.
type Config struct {
	// DBPath is the database directory. Taken from the endpoint path when empty.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory only.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ChunkSize is the size of content chunks in bytes, also reported as
	// the block size of every entry.
	ChunkSize int `mapstructure:"chunk_size"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Backend is a namespace stored in BadgerDB.
type Backend struct {
	db        *badger.DB
	chunkSize int
	principal string
	closed    atomic.Bool
}

// Open is the backend.Opener for badger:// endpoints.
func Open(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	var cfg Config
	if err := mapstructure.Decode(opts.Settings, &cfg); err != nil {
		return nil, fmt.Errorf("badger: %v: %w", err, backend.ErrInvalidOptions)
	}
	if cfg.DBPath == "" && opts.Endpoint != nil {
		cfg.DBPath = opts.Endpoint.Path
	}
	return New(ctx, cfg, opts.Principal)
}

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config, principal string) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !cfg.InMemory && cfg.DBPath == "" {
		return nil, fmt.Errorf("badger: db_path is required unless in_memory is set: %w", backend.ErrInvalidOptions)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.BlockCacheSizeMB == 0 {
		cfg.BlockCacheSizeMB = 64
	}
	if cfg.IndexCacheSizeMB == 0 {
		cfg.IndexCacheSizeMB = 32
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DBPath)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithBlockCacheSize(cfg.BlockCacheSizeMB << 20)
	opts = opts.WithIndexCacheSize(cfg.IndexCacheSizeMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", cfg.DBPath, err)
	}

	b := &Backend{db: db, chunkSize: cfg.ChunkSize, principal: principal}
	if err := b.initializeRoot(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("badger: opened database (path=%q in_memory=%v chunk=%d)", cfg.DBPath, cfg.InMemory, cfg.ChunkSize)
	return b, nil
}

func (b *Backend) initializeRoot() error {
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyEntry("/"))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badger: read root: %w", err)
		}
		return putEntry(txn, "/", &entry{Dir: true, Mode: 0755, ModTime: time.Now()})
	})
}

func (b *Backend) Name() string {
	return "badger"
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return backend.ErrDisconnected
	}
	return ctx.Err()
}

func (b *Backend) attr(path string, e *entry) backend.Attr {
	a := backend.Attr{
		Name:      backend.Base(path),
		Path:      path,
		Mode:      e.fileMode(),
		BlockSize: int64(b.chunkSize),
		ModTime:   e.ModTime,
		Owner:     e.Owner,
	}
	if !e.Dir {
		a.Size = e.Size
	}
	return a
}

// ============================================================================
// Transaction helpers
// ============================================================================

func getEntry(txn *badger.Txn, path string) (*entry, error) {
	item, err := txn.Get(keyEntry(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var e *entry
	err = item.Value(func(val []byte) error {
		var derr error
		e, derr = decodeEntry(val)
		return derr
	})
	return e, err
}

func putEntry(txn *badger.Txn, path string, e *entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return txn.Set(keyEntry(path), data)
}

// lookup resolves path, reporting ErrNotDir when an ancestor is a file.
func lookup(txn *badger.Txn, path string) (*entry, error) {
	e, err := getEntry(txn, path)
	if !errors.Is(err, backend.ErrNotFound) {
		return e, err
	}

	dir, _ := backend.Split(path)
	for dir != "/" {
		parent, perr := getEntry(txn, dir)
		if perr == nil {
			if !parent.Dir {
				return nil, backend.ErrNotDir
			}
			break
		}
		if !errors.Is(perr, backend.ErrNotFound) {
			return nil, perr
		}
		dir, _ = backend.Split(dir)
	}
	return nil, backend.ErrNotFound
}

// lookupParent returns the parent entry of path, which must be a directory.
func lookupParent(txn *badger.Txn, path string) (*entry, error) {
	dir, _ := backend.Split(path)
	parent, err := lookup(txn, dir)
	if err != nil {
		return nil, err
	}
	if !parent.Dir {
		return nil, backend.ErrNotDir
	}
	return parent, nil
}

func hasChildren(txn *badger.Txn, path string) bool {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: keyChildPrefix(path)})
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

func deleteChunks(txn *badger.Txn, contentID string, chunks int) error {
	for i := 0; i < chunks; i++ {
		if err := txn.Delete(keyChunk(contentID, i)); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Namespace operations
// ============================================================================

func (b *Backend) Stat(ctx context.Context, path string) (backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return backend.Attr{}, err
	}

	var attr backend.Attr
	err := b.db.View(func(txn *badger.Txn) error {
		e, err := lookup(txn, path)
		if err != nil {
			return err
		}
		attr = b.attr(path, e)
		return nil
	})
	if err != nil {
		return backend.Attr{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return attr, nil
}

func (b *Backend) ReadDir(ctx context.Context, path string) ([]backend.Attr, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	var entries []backend.Attr
	err := b.db.View(func(txn *badger.Txn) error {
		dir, err := lookup(txn, path)
		if err != nil {
			return err
		}
		if !dir.Dir {
			return backend.ErrNotDir
		}

		prefix := keyChildPrefix(path)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: false})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().Key()[len(prefix):])
			child := joinPath(path, name)
			e, err := getEntry(txn, child)
			if err != nil {
				return fmt.Errorf("child %s: %w", child, err)
			}
			entries = append(entries, b.attr(child, e))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	return entries, nil
}

func (b *Backend) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, path); err == nil {
			return backend.ErrExists
		} else if !errors.Is(err, backend.ErrNotFound) {
			return err
		}
		if _, err := lookupParent(txn, path); err != nil {
			return err
		}

		dir, name := backend.Split(path)
		if err := putEntry(txn, path, &entry{
			Dir:     true,
			Mode:    uint32(perm.Perm()),
			ModTime: time.Now(),
			Owner:   b.principal,
		}); err != nil {
			return err
		}
		return txn.Set(keyChild(dir, name), nil)
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, path string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("remove %s: %w", path, backend.ErrPermission)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		e, err := lookup(txn, path)
		if err != nil {
			return err
		}
		if e.Dir && hasChildren(txn, path) {
			return backend.ErrNotEmpty
		}
		if !e.Dir {
			if err := deleteChunks(txn, e.ContentID, e.Chunks); err != nil {
				return err
			}
		}

		dir, name := backend.Split(path)
		if err := txn.Delete(keyChild(dir, name)); err != nil {
			return err
		}
		return txn.Delete(keyEntry(path))
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
