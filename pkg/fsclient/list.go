package fsclient

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// ErrListingConsumed is the cause reported when a listing is ranged over a
// second time.
var ErrListingConsumed = errors.New("listing already consumed")

// ListEntries lists the entries under path.
//
// The sequence is lazy: each directory is read from the service only when
// the iteration reaches it. Entries of a directory come in name order; with
// recursive set, subtrees follow depth-first, each directory yielded before
// its contents. Listing a file yields the file itself. The first error ends
// the sequence, so a missing path yields a single KindNotFound error.
//
// The sequence can be ranged over once. A second range yields a single
// KindIO error wrapping ErrListingConsumed.
func (c *Conn) ListEntries(ctx context.Context, path string, recursive bool) iter.Seq2[FileStatus, error] {
	var used atomic.Bool

	return func(yield func(FileStatus, error) bool) {
		if used.Swap(true) {
			yield(FileStatus{}, newError(KindIO, "list", path, ErrListingConsumed))
			return
		}

		start := time.Now()
		var (
			count int
			err   error
		)
		defer func() {
			c.observe("list", start, err)
			logger.Debug("Listed %s (recursive=%t): %d entries", path, recursive, count)
		}()

		p, err := c.begin("list", path)
		if err != nil {
			yield(FileStatus{}, err)
			return
		}

		l := &lister{conn: c, recursive: recursive, yield: yield}
		l.list(ctx, p)
		count, err = l.count, l.err
	}
}

// List collects ListEntries into a slice.
func (c *Conn) List(ctx context.Context, path string, recursive bool) ([]FileStatus, error) {
	var out []FileStatus
	for fi, err := range c.ListEntries(ctx, path, recursive) {
		if err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, nil
}

type lister struct {
	conn      *Conn
	recursive bool
	yield     func(FileStatus, error) bool

	count   int
	err     error
	stopped bool
}

// emit forwards one entry and records whether the consumer stopped.
func (l *lister) emit(fi FileStatus) bool {
	l.count++
	if !l.yield(fi, nil) {
		l.stopped = true
	}
	return !l.stopped
}

func (l *lister) fail(path string, err error) {
	l.err = wrapLookup("list", path, err)
	l.stopped = true
	l.yield(FileStatus{}, l.err)
}

func (l *lister) list(ctx context.Context, p string) {
	rctx, cancel := l.conn.ioContext(ctx)
	a, err := l.conn.backend.Stat(rctx, p)
	cancel()
	if err != nil {
		l.fail(p, err)
		return
	}
	if !a.IsDir() {
		l.emit(statusFromAttr(a))
		return
	}
	l.walk(ctx, p)
}

// walk yields the entries of dir, descending into subdirectories when
// recursive. Each directory is read just before its entries are needed.
func (l *lister) walk(ctx context.Context, dir string) {
	if err := ctx.Err(); err != nil {
		l.fail(dir, err)
		return
	}

	rctx, cancel := l.conn.ioContext(ctx)
	entries, err := l.conn.backend.ReadDir(rctx, dir)
	cancel()
	if err != nil {
		l.fail(dir, err)
		return
	}
	slices.SortFunc(entries, func(a, b backend.Attr) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, e := range entries {
		if !l.emit(statusFromAttr(e)) {
			return
		}
		if l.recursive && e.IsDir() {
			l.walk(ctx, e.Path)
			if l.stopped {
				return
			}
		}
	}
}
