package fsclient

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittoclient/pkg/backend"
)

// OpenRead opens the remote file at path for reading. The caller must
// Close the returned stream. A directory fails with KindIO wrapping
// backend.ErrIsDir.
//
// ctx governs the whole stream, not only the open.
func (c *Conn) OpenRead(ctx context.Context, path string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { c.observe("open_read", start, err) }()

	p, err := c.begin("open_read", path)
	if err != nil {
		return nil, err
	}

	r, err := c.backend.Open(ctx, p)
	if err != nil {
		return nil, wrapLookup("open_read", p, err)
	}
	return &Reader{
		conn: c,
		path: p,
		rc:   r,
		r:    c.opts.limiter.Reader(ctx, r),
	}, nil
}

// OpenWrite opens a stream that replaces the remote file at path, creating
// missing directories. Nothing is visible at path until Close returns nil;
// the error from Close reports whether the content was committed.
func (c *Conn) OpenWrite(ctx context.Context, path string) (w *Writer, err error) {
	start := time.Now()
	defer func() { c.observe("open_write", start, err) }()

	p, err := c.begin("open_write", path)
	if err != nil {
		return nil, err
	}

	dir, _ := backend.Split(p)
	if err := c.mkdirAll(ctx, dir); err != nil {
		return nil, wrap("open_write", p, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	bw, err := c.backend.Create(wctx, p, filePerm)
	if err != nil {
		cancel()
		return nil, wrap("open_write", p, err)
	}
	return &Writer{
		conn:   c,
		path:   p,
		wc:     bw,
		w:      c.opts.limiter.Writer(wctx, bw),
		cancel: cancel,
	}, nil
}

// Reader is a read stream returned by OpenRead.
type Reader struct {
	conn *Conn
	path string
	rc   io.ReadCloser
	r    io.Reader
	n    int64

	once     sync.Once
	closeErr error
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += int64(n)
	if err != nil && err != io.EOF {
		return n, wrap("read", r.path, err)
	}
	return n, err
}

// Close releases the stream. Calling Close more than once returns the
// first result.
func (r *Reader) Close() error {
	r.once.Do(func() {
		r.conn.opts.metrics.RecordTransfer("download", r.n)
		r.closeErr = wrap("close", r.path, r.rc.Close())
	})
	return r.closeErr
}

// Writer is a write stream returned by OpenWrite.
type Writer struct {
	conn   *Conn
	path   string
	wc     io.WriteCloser
	w      io.Writer
	cancel context.CancelFunc
	n      int64

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return 0, newError(KindIO, "write", w.path, backend.ErrClosed)
	}

	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, wrap("write", w.path, err)
	}
	return n, nil
}

// Close commits the written content. Calling Close more than once returns
// the first result.
func (w *Writer) Close() error {
	return w.finish(false)
}

// Abort closes the stream without committing. The previous content at the
// path, if any, is left in place.
func (w *Writer) Abort() {
	_ = w.finish(true)
}

func (w *Writer) finish(abort bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.closeErr
	}
	w.closed = true

	if abort {
		w.cancel()
		_ = w.wc.Close()
		w.closeErr = newError(KindIO, "close", w.path, context.Canceled)
		return nil
	}

	err := w.wc.Close()
	w.cancel()
	if err != nil {
		w.closeErr = wrap("close", w.path, err)
		return w.closeErr
	}
	w.conn.opts.metrics.RecordTransfer("upload", w.n)
	return nil
}
