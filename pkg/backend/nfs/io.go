package nfs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittoclient/internal/logger"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// reader streams a file with READ calls of the negotiated read size.
type reader struct {
	ctx    context.Context
	b      *Backend
	path   string
	handle []byte

	offset uint64
	buf    []byte
	eof    bool
	closed bool
}

func (r *reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, backend.ErrClosed
	}
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.b.check(r.ctx); err != nil {
			return 0, fmt.Errorf("read %s: %w", r.path, err)
		}
		data, eof, err := r.b.nfs.Read(r.ctx, r.handle, r.offset, r.b.readSize)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", r.path, mapError(err))
		}
		r.offset += uint64(len(data))
		r.buf = data
		// A short read with no data and no eof would loop forever.
		r.eof = eof || len(data) == 0
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *reader) Close() error {
	if r.closed {
		return backend.ErrClosed
	}
	r.closed = true
	r.buf = nil
	return nil
}

// writer buffers up to the negotiated write size and sends UNSTABLE WRITEs
// to a temp file. Close commits the data and renames the temp file over the
// target.
type writer struct {
	ctx  context.Context
	b    *Backend
	path string

	dir    []byte
	name   string
	tmp    string
	handle []byte

	buf      []byte
	offset   uint64
	verf     v3.Verifier
	unstable bool
	err      error
	closed   bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, backend.ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	written := 0
	for len(p) > 0 {
		n := min(cap(w.buf)-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n

		if len(w.buf) == cap(w.buf) {
			if err := w.flush(); err != nil {
				w.err = err
				return written, err
			}
		}
	}
	return written, nil
}

// flush sends the buffered bytes, resending the tail of short writes.
func (w *writer) flush() error {
	data := w.buf
	for len(data) > 0 {
		if err := w.b.check(w.ctx); err != nil {
			return fmt.Errorf("write %s: %w", w.path, err)
		}
		resp, err := w.b.nfs.Write(w.ctx, w.handle, w.offset, v3.Unstable, data)
		if err != nil {
			return fmt.Errorf("write %s: %w", w.path, mapError(err))
		}
		if resp.Count == 0 {
			return fmt.Errorf("write %s: server accepted no data", w.path)
		}
		if resp.Committed != v3.FileSync {
			if w.unstable && resp.Verf != w.verf {
				return fmt.Errorf("write %s: server restarted during write", w.path)
			}
			w.verf, w.unstable = resp.Verf, true
		}
		w.offset += uint64(resp.Count)
		data = data[resp.Count:]
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *writer) Close() error {
	if w.closed {
		return backend.ErrClosed
	}
	w.closed = true

	err := w.err
	if err == nil {
		err = w.commit()
	}
	if err != nil {
		w.discard()
		return fmt.Errorf("commit %s: %w", w.path, err)
	}
	return nil
}

func (w *writer) commit() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.b.check(w.ctx); err != nil {
		return err
	}
	if w.unstable {
		verf, err := w.b.nfs.Commit(w.ctx, w.handle)
		if err != nil {
			return mapError(err)
		}
		if verf != w.verf {
			return errors.New("server restarted before commit")
		}
	}
	if err := w.b.nfs.Rename(w.ctx, w.dir, w.tmp, w.dir, w.name); err != nil {
		return mapError(err)
	}
	return nil
}

// discard removes the temp file. The connection may already be gone, so
// failures are only logged.
func (w *writer) discard() {
	ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
	defer cancel()
	if err := w.b.nfs.Remove(ctx, w.dir, w.tmp); err != nil {
		logger.Debug("nfs: remove temp file %s for %s: %v", w.tmp, w.path, err)
	}
}
