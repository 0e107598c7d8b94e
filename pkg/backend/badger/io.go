package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
)

func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	var e *entry
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = lookup(txn, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if e.Dir {
		return nil, fmt.Errorf("open %s: %w", path, backend.ErrIsDir)
	}

	return &reader{b: b, path: path, contentID: e.ContentID, chunks: e.Chunks}, nil
}

// reader streams a content id chunk by chunk.
type reader struct {
	b         *Backend
	path      string
	contentID string
	chunks    int
	next      int
	buf       []byte
	closed    bool
}

func (r *reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, backend.ErrClosed
	}
	for len(r.buf) == 0 {
		if r.next >= r.chunks {
			return 0, io.EOF
		}
		if err := r.load(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *reader) load() error {
	if r.b.closed.Load() {
		return backend.ErrDisconnected
	}
	err := r.b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyChunk(r.contentID, r.next))
		if err != nil {
			return err
		}
		r.buf, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("read %s: content replaced while reading: %w", r.path, backend.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", r.path, err)
	}
	r.next++
	return nil
}

func (r *reader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}

func (b *Backend) Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := lookupParent(txn, path); err != nil {
			return err
		}
		if e, err := getEntry(txn, path); err == nil && e.Dir {
			return backend.ErrIsDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	return &writer{
		ctx:       ctx,
		b:         b,
		path:      path,
		perm:      perm,
		contentID: uuid.NewString(),
		buf:       make([]byte, 0, b.chunkSize),
	}, nil
}

// writer stages chunks under a fresh content id and swaps the entry on Close.
type writer struct {
	ctx       context.Context
	b         *Backend
	path      string
	perm      fs.FileMode
	contentID string
	buf       []byte
	chunks    int
	size      int64
	closed    bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, backend.ErrClosed
	}

	written := 0
	for len(p) > 0 {
		space := w.b.chunkSize - len(w.buf)
		n := min(space, len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(w.buf) == w.b.chunkSize {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if w.b.closed.Load() {
		return backend.ErrDisconnected
	}

	data := make([]byte, len(w.buf))
	copy(data, w.buf)
	err := w.b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyChunk(w.contentID, w.chunks), data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}

	w.chunks++
	w.size += int64(len(data))
	w.buf = w.buf[:0]
	return nil
}

func (w *writer) Close() error {
	if w.closed {
		return backend.ErrClosed
	}
	w.closed = true

	if err := w.ctx.Err(); err != nil {
		w.discard()
		return fmt.Errorf("commit %s: %w", w.path, err)
	}
	if err := w.flush(); err != nil {
		w.discard()
		return err
	}

	err := w.b.db.Update(func(txn *badger.Txn) error {
		if _, err := lookupParent(txn, w.path); err != nil {
			return err
		}

		old, err := getEntry(txn, w.path)
		switch {
		case err == nil && old.Dir:
			return backend.ErrIsDir
		case err == nil:
			if err := deleteChunks(txn, old.ContentID, old.Chunks); err != nil {
				return err
			}
		case !errors.Is(err, backend.ErrNotFound):
			return err
		}

		if err := putEntry(txn, w.path, &entry{
			Mode:      uint32(w.perm.Perm()),
			Size:      w.size,
			ModTime:   time.Now(),
			Owner:     w.b.principal,
			ContentID: w.contentID,
			Chunks:    w.chunks,
		}); err != nil {
			return err
		}
		dir, name := backend.Split(w.path)
		return txn.Set(keyChild(dir, name), nil)
	})
	if err != nil {
		w.discard()
		return fmt.Errorf("commit %s: %w", w.path, err)
	}
	return nil
}

// discard drops staged chunks after a failed commit.
func (w *writer) discard() {
	if w.chunks == 0 || w.b.closed.Load() {
		return
	}
	err := w.b.db.Update(func(txn *badger.Txn) error {
		return deleteChunks(txn, w.contentID, w.chunks)
	})
	if err != nil {
		logger.Warn("badger: failed to discard staged content %s for %s: %v", w.contentID, w.path, err)
	}
}
