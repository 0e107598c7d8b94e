package backend

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// Instrument wraps b so that every operation is reported to m. Stream byte
// counts are recorded under "read" and "write" when the stream closes.
// A nil m returns b unchanged.
func Instrument(b Backend, m Metrics) Backend {
	if m == nil {
		return b
	}
	if _, ok := m.(NoopMetrics); ok {
		return b
	}
	ib := &instrumented{Backend: b, metrics: m}
	if tr, ok := b.(TreeRemover); ok {
		return &instrumentedTree{instrumented: ib, tree: tr}
	}
	return ib
}

type instrumented struct {
	Backend
	metrics Metrics
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.metrics.ObserveOperation(op, time.Since(start), err)
}

func (i *instrumented) Stat(ctx context.Context, path string) (Attr, error) {
	start := time.Now()
	a, err := i.Backend.Stat(ctx, path)
	i.observe("stat", start, err)
	return a, err
}

func (i *instrumented) ReadDir(ctx context.Context, path string) ([]Attr, error) {
	start := time.Now()
	entries, err := i.Backend.ReadDir(ctx, path)
	i.observe("readdir", start, err)
	return entries, err
}

func (i *instrumented) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	start := time.Now()
	err := i.Backend.Mkdir(ctx, path, perm)
	i.observe("mkdir", start, err)
	return err
}

func (i *instrumented) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	start := time.Now()
	r, err := i.Backend.Open(ctx, path)
	i.observe("open", start, err)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: r, metrics: i.metrics, start: time.Now()}, nil
}

func (i *instrumented) Create(ctx context.Context, path string, perm fs.FileMode) (io.WriteCloser, error) {
	start := time.Now()
	w, err := i.Backend.Create(ctx, path, perm)
	i.observe("create", start, err)
	if err != nil {
		return nil, err
	}
	return &countingWriter{WriteCloser: w, metrics: i.metrics, start: time.Now()}, nil
}

func (i *instrumented) Remove(ctx context.Context, path string) error {
	start := time.Now()
	err := i.Backend.Remove(ctx, path)
	i.observe("remove", start, err)
	return err
}

// Unwrap returns the instrumented backend.
func (i *instrumented) Unwrap() Backend {
	return i.Backend
}

type instrumentedTree struct {
	*instrumented
	tree TreeRemover
}

func (i *instrumentedTree) RemoveAll(ctx context.Context, path string) error {
	start := time.Now()
	err := i.tree.RemoveAll(ctx, path)
	i.observe("remove_all", start, err)
	return err
}

type countingReader struct {
	io.ReadCloser
	metrics Metrics
	start   time.Time
	n       int64
	err     error
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}

func (r *countingReader) Close() error {
	err := r.ReadCloser.Close()
	if r.err == nil {
		r.err = err
	}
	r.metrics.RecordBytes("read", r.n)
	r.metrics.ObserveOperation("read", time.Since(r.start), r.err)
	return err
}

type countingWriter struct {
	io.WriteCloser
	metrics Metrics
	start   time.Time
	n       int64
	err     error
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	w.n += int64(n)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *countingWriter) Close() error {
	err := w.WriteCloser.Close()
	if w.err == nil {
		w.err = err
	}
	w.metrics.RecordBytes("write", w.n)
	w.metrics.ObserveOperation("write", time.Since(w.start), w.err)
	return err
}
