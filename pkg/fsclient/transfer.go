package fsclient

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// Upload copies the local file at localPath to remotePath, creating missing
// remote directories.
//
// An existing remote file is replaced unless the Exclusive policy is in
// effect, in which case Upload fails with KindIO wrapping
// backend.ErrExists. A missing local file fails with KindNotFound. The
// remote file is only replaced once the whole content has been sent; a
// failed upload leaves the previous content in place.
func (c *Conn) Upload(ctx context.Context, localPath, remotePath string, opts ...TransferOption) (err error) {
	start := time.Now()
	defer func() { c.observe("upload", start, err) }()

	p, err := c.begin("upload", remotePath)
	if err != nil {
		return err
	}
	to := c.transferOptions(opts)

	src, err := c.opts.localFs.Open(localPath)
	if err != nil {
		return localError("upload", localPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return localError("upload", localPath, err)
	}
	if info.IsDir() {
		return newError(KindIO, "upload", localPath, backend.ErrIsDir)
	}

	if to.policy == Exclusive {
		if err := c.ensureAbsent(ctx, p); err != nil {
			return wrap("upload", p, err)
		}
	}

	dir, _ := backend.Split(p)
	if err := c.mkdirAll(ctx, dir); err != nil {
		return wrap("upload", p, err)
	}

	// Cancelling wctx before Close discards whatever was written.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.backend.Create(wctx, p, filePerm)
	if err != nil {
		return wrap("upload", p, err)
	}

	var r io.Reader = src
	if to.progress != nil {
		r = io.TeeReader(r, to.progress)
	}
	n, err := io.Copy(c.opts.limiter.Writer(wctx, w), r)
	if err != nil {
		cancel()
		_ = w.Close()
		return wrap("upload", p, err)
	}
	if err := w.Close(); err != nil {
		return wrap("upload", p, err)
	}

	c.opts.metrics.RecordTransfer("upload", n)
	logger.Info("Uploaded %s to %s (%d bytes in %s)", localPath, p, n, time.Since(start).Round(time.Millisecond))
	return nil
}

// Download copies the remote file at remotePath to localPath, creating
// missing local directories.
//
// The content is staged in a temporary file, in the staging directory when
// one is configured and next to localPath otherwise, and renamed into place
// once complete. A failed download leaves no file at localPath. A missing
// remote file fails with KindNotFound. Under the Exclusive policy an
// existing localPath fails with KindIO wrapping backend.ErrExists.
func (c *Conn) Download(ctx context.Context, remotePath, localPath string, opts ...TransferOption) (err error) {
	start := time.Now()
	defer func() { c.observe("download", start, err) }()

	p, err := c.begin("download", remotePath)
	if err != nil {
		return err
	}
	to := c.transferOptions(opts)
	lfs := c.opts.localFs

	if to.policy == Exclusive {
		if _, err := lfs.Stat(localPath); err == nil {
			return newError(KindIO, "download", localPath, backend.ErrExists)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return localError("download", localPath, err)
		}
	}

	rc, err := c.backend.Open(ctx, p)
	if err != nil {
		return wrapLookup("download", p, err)
	}
	defer rc.Close()

	stagingDir := c.opts.stagingDir
	if stagingDir == "" {
		stagingDir = filepath.Dir(localPath)
	}
	for _, dir := range []string{filepath.Dir(localPath), stagingDir} {
		if err := lfs.MkdirAll(dir, 0755); err != nil {
			return localError("download", dir, err)
		}
	}

	tmp := filepath.Join(stagingDir, "."+filepath.Base(localPath)+"."+uuid.NewString()+".part")
	f, err := lfs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return localError("download", tmp, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			if rmErr := lfs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.Warn("Failed to remove staging file %s: %v", tmp, rmErr)
			}
		}
	}()

	var dst io.Writer = f
	if to.progress != nil {
		dst = io.MultiWriter(f, to.progress)
	}
	n, err := io.Copy(dst, c.opts.limiter.Reader(ctx, rc))
	if err != nil {
		return wrap("download", p, err)
	}
	if err := f.Sync(); err != nil {
		return localError("download", tmp, err)
	}
	if err := f.Close(); err != nil {
		return localError("download", tmp, err)
	}
	if err := lfs.Rename(tmp, localPath); err != nil {
		return localError("download", localPath, err)
	}
	committed = true

	c.opts.metrics.RecordTransfer("download", n)
	logger.Info("Downloaded %s to %s (%d bytes in %s)", p, localPath, n, time.Since(start).Round(time.Millisecond))
	return nil
}

// ReadFile returns the whole content of the remote file at path.
func (c *Conn) ReadFile(ctx context.Context, path string) ([]byte, error) {
	r, err := c.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile replaces the remote file at path with data, creating missing
// directories.
func (c *Conn) WriteFile(ctx context.Context, path string, data []byte) error {
	w, err := c.OpenWrite(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// ensureAbsent fails with backend.ErrExists when p exists.
func (c *Conn) ensureAbsent(ctx context.Context, p string) error {
	_, err := c.backend.Stat(ctx, p)
	switch {
	case err == nil:
		return backend.ErrExists
	case absent(err):
		return nil
	default:
		return err
	}
}

// localError classifies a failure on the local side of a transfer.
func localError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return newError(KindNotFound, op, path, err)
	}
	return newError(KindIO, op, path, err)
}
