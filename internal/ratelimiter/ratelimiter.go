// Package ratelimiter throttles transfer bandwidth.
package ratelimiter

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits the number of bytes per second moved through the
// readers and writers it wraps.
//
// It wraps golang.org/x/time/rate with a token bucket where one token is one
// byte:
//   - The bucket refills at the configured bytes per second
//   - Burst is the largest amount that can move without waiting
//   - Requests larger than the burst are split and paid for in pieces
//
// A nil *RateLimiter never waits, so callers can hold one unconditionally.
//
// Thread safety:
// All methods are safe for concurrent use. Concurrent transfers share the
// same budget.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing bytesPerSecond sustained throughput.
//
// burst is the bucket capacity in bytes. When zero it defaults to one
// second worth of tokens.
//
// Special cases:
//   - bytesPerSecond = 0: returns nil (unlimited)
//
// Example:
//
//	// 10 MiB/s, bursts of 1 MiB
//	limiter := New(10<<20, 1<<20)
func New(bytesPerSecond, burst uint) *RateLimiter {
	if bytesPerSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = bytesPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// WaitN blocks until n bytes may be transferred or ctx is done.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil {
		return ctx.Err()
	}
	burst := r.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := r.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Allow reports whether n bytes may be transferred right now, consuming the
// tokens if so.
func (r *RateLimiter) Allow(n int) bool {
	if r == nil {
		return true
	}
	return r.limiter.AllowN(time.Now(), n)
}

// Burst returns the bucket capacity in bytes, zero when unlimited.
func (r *RateLimiter) Burst() int {
	if r == nil {
		return 0
	}
	return r.limiter.Burst()
}

// Tokens returns the bytes currently available without waiting.
//
// This is primarily useful for tests and debugging; the value may change
// immediately after the call.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return 0
	}
	return r.limiter.Tokens()
}

// Reader returns src throttled by r. Bytes are paid for after each Read.
func (r *RateLimiter) Reader(ctx context.Context, src io.Reader) io.Reader {
	if r == nil {
		return src
	}
	return &reader{ctx: ctx, limiter: r, src: src}
}

// Writer returns dst throttled by r. Bytes are paid for before they are
// written, in pieces no larger than the burst.
func (r *RateLimiter) Writer(ctx context.Context, dst io.Writer) io.Writer {
	if r == nil {
		return dst
	}
	return &writer{ctx: ctx, limiter: r, dst: dst}
}

type reader struct {
	ctx     context.Context
	limiter *RateLimiter
	src     io.Reader
}

func (r *reader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.src.Read(p)
	if n > 0 {
		if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

type writer struct {
	ctx     context.Context
	limiter *RateLimiter
	dst     io.Writer
}

func (w *writer) Write(p []byte) (int, error) {
	burst := w.limiter.Burst()
	written := 0
	for len(p) > 0 {
		chunk := p[:min(len(p), burst)]
		if err := w.limiter.WaitN(w.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := w.dst.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
