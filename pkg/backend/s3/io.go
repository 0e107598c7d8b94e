package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/backend"
)

type reader struct {
	body   io.ReadCloser
	path   string
	closed bool
}

func (r *reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, backend.ErrClosed
	}
	n, err := r.body.Read(p)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read %s: %w", r.path, mapError(err))
	}
	return n, err
}

func (r *reader) Close() error {
	if r.closed {
		return backend.ErrClosed
	}
	r.closed = true
	return r.body.Close()
}

// writer buffers one part at a time. Nothing is visible in the bucket until
// Close: either a single PutObject or the completion of the multipart upload
// started when the first part filled up.
type writer struct {
	ctx  context.Context
	b    *Backend
	path string
	key  string

	buf      []byte
	uploadID string
	parts    []types.CompletedPart
	err      error
	closed   bool
}

func newWriter(ctx context.Context, b *Backend, path string) *writer {
	return &writer{
		ctx:  ctx,
		b:    b,
		path: path,
		key:  b.objectKey(path),
		buf:  make([]byte, 0, b.partSize),
	}
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

		// Keep the last full part buffered so Close always has one to send.
		if len(w.buf) == cap(w.buf) && len(p) > 0 {
			if err := w.uploadPart(); err != nil {
				w.err = fmt.Errorf("write %s: %w", w.path, mapError(err))
				return written, w.err
			}
		}
	}
	return written, nil
}

func (w *writer) uploadPart() error {
	if err := w.b.check(w.ctx); err != nil {
		return err
	}
	if w.uploadID == "" {
		start := time.Now()
		out, err := w.b.api.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket:   aws.String(w.b.bucket),
			Key:      aws.String(w.key),
			Metadata: w.b.metadata(),
		})
		w.b.observe("CreateMultipartUpload", start, err)
		if err != nil {
			return err
		}
		w.uploadID = aws.ToString(out.UploadId)
		logger.Debug("s3: started multipart upload %s for %s", w.uploadID, w.key)
	}

	partNumber := int32(len(w.parts) + 1)
	if partNumber > maxParts {
		return fmt.Errorf("object exceeds %d parts of %d bytes", maxParts, w.b.partSize)
	}

	start := time.Now()
	out, err := w.b.api.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.b.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(w.buf),
	})
	w.b.observe("UploadPart", start, err)
	if err != nil {
		return err
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	w.buf = w.buf[:0]
	return nil
}

func (w *writer) Close() error {
	if w.closed {
		return backend.ErrClosed
	}
	w.closed = true
	defer func() { w.buf = nil }()

	if w.err != nil {
		w.abort()
		return w.err
	}
	if err := w.commit(); err != nil {
		w.abort()
		return fmt.Errorf("commit %s: %w", w.path, mapError(err))
	}
	return nil
}

func (w *writer) commit() error {
	if err := w.b.check(w.ctx); err != nil {
		return err
	}
	if w.uploadID == "" {
		start := time.Now()
		_, err := w.b.api.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.b.bucket),
			Key:           aws.String(w.key),
			Body:          bytes.NewReader(w.buf),
			ContentLength: aws.Int64(int64(len(w.buf))),
			Metadata:      w.b.metadata(),
		})
		w.b.observe("PutObject", start, err)
		return err
	}

	if len(w.buf) > 0 {
		if err := w.uploadPart(); err != nil {
			return err
		}
	}

	start := time.Now()
	_, err := w.b.api.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.b.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	w.b.observe("CompleteMultipartUpload", start, err)
	return err
}

// abort releases the parts of an unfinished multipart upload. The request
// context may already be cancelled, so a fresh one is used.
func (w *writer) abort() {
	if w.uploadID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	start := time.Now()
	_, err := w.b.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.b.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	w.b.observe("AbortMultipartUpload", start, err)
	if err != nil {
		logger.Warn("s3: abort multipart upload %s for %s: %v", w.uploadID, w.key, err)
	}
}
