package fsclient

import (
	"context"
	"time"

	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// Delete removes the file or empty directory at path. With recursive set a
// directory is removed together with everything below it; for "/" only the
// contents are removed.
//
// Deleting a path that does not exist succeeds, including one below a
// regular file. A non-empty directory
// without recursive fails with KindIO wrapping backend.ErrNotEmpty.
func (c *Conn) Delete(ctx context.Context, path string, recursive bool) (err error) {
	start := time.Now()
	defer func() { c.observe("delete", start, err) }()

	p, err := c.begin("delete", path)
	if err != nil {
		return err
	}

	if recursive {
		err = c.removeTree(ctx, p)
	} else {
		err = c.remove(ctx, p)
	}
	if absent(err) {
		logger.Debug("Delete %s: already absent", p)
		return nil
	}
	if err != nil {
		return wrap("delete", p, err)
	}
	logger.Debug("Deleted %s (recursive=%t)", p, recursive)
	return nil
}

func (c *Conn) remove(ctx context.Context, p string) error {
	rctx, cancel := c.ioContext(ctx)
	defer cancel()
	return c.backend.Remove(rctx, p)
}

func (c *Conn) removeTree(ctx context.Context, p string) error {
	if tr, ok := c.backend.(backend.TreeRemover); ok {
		return tr.RemoveAll(ctx, p)
	}

	rctx, cancel := c.ioContext(ctx)
	a, err := c.backend.Stat(rctx, p)
	cancel()
	if err != nil {
		return err
	}
	if !a.IsDir() {
		return c.remove(ctx, p)
	}
	if err := c.removeContents(ctx, p); err != nil {
		return err
	}
	if p == "/" {
		return nil
	}
	return c.remove(ctx, p)
}

// removeContents deletes everything below dir, depth first.
func (c *Conn) removeContents(ctx context.Context, dir string) error {
	rctx, cancel := c.ioContext(ctx)
	entries, err := c.backend.ReadDir(rctx, dir)
	cancel()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			if err := c.removeContents(ctx, e.Path); err != nil {
				return err
			}
		}
		if err := c.remove(ctx, e.Path); err != nil && !absent(err) {
			return err
		}
	}
	return nil
}
