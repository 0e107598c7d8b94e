package ratelimiter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond uint
		burst          uint
		wantNil        bool
		wantBurst      int
	}{
		{name: "explicit burst", bytesPerSecond: 1000, burst: 100, wantBurst: 100},
		{name: "default burst", bytesPerSecond: 1000, wantBurst: 1000},
		{name: "unlimited", bytesPerSecond: 0, burst: 10, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond, tt.burst)
			if tt.wantNil {
				assert.Nil(t, limiter)
				return
			}
			require.NotNil(t, limiter)
			assert.Equal(t, tt.wantBurst, limiter.Burst())
		})
	}
}

func TestNilLimiterNeverWaits(t *testing.T) {
	var limiter *RateLimiter
	ctx := context.Background()

	assert.NoError(t, limiter.WaitN(ctx, 1<<30))
	assert.True(t, limiter.Allow(1<<30))
	assert.Zero(t, limiter.Burst())

	src := bytes.NewReader([]byte("x"))
	assert.Same(t, src, limiter.Reader(ctx, src))

	var dst bytes.Buffer
	assert.Equal(t, io.Writer(&dst), limiter.Writer(ctx, &dst))
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	assert.True(t, limiter.Allow(10))
	assert.False(t, limiter.Allow(1))

	// 100ms at 10 bytes/s buys one byte.
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(1))
}

func TestWaitNLargerThanBurst(t *testing.T) {
	// 1000 bytes/s with a 100 byte bucket: 300 bytes needs ~200ms after the
	// initial burst.
	limiter := New(1000, 100)

	start := time.Now()
	require.NoError(t, limiter.WaitN(context.Background(), 300))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWaitNContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.WaitN(ctx, 1))
}

func TestReader(t *testing.T) {
	limiter := New(1000, 100)
	data := bytes.Repeat([]byte("a"), 300)

	start := time.Now()
	got, err := io.ReadAll(limiter.Reader(context.Background(), bytes.NewReader(data)))
	require.NoError(t, err)

	assert.Equal(t, data, got)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWriter(t *testing.T) {
	limiter := New(1000, 100)
	data := bytes.Repeat([]byte("b"), 300)

	var dst bytes.Buffer
	start := time.Now()
	n, err := limiter.Writer(context.Background(), &dst).Write(data)
	require.NoError(t, err)

	assert.Equal(t, 300, n)
	assert.Equal(t, data, dst.Bytes())
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWriterCancelled(t *testing.T) {
	limiter := New(10, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	n, err := limiter.Writer(ctx, &dst).Write([]byte("0123456789abcdef"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestTokens(t *testing.T) {
	limiter := New(10, 10)
	assert.InDelta(t, 10, limiter.Tokens(), 1)

	require.True(t, limiter.Allow(5))
	assert.InDelta(t, 5, limiter.Tokens(), 1)
}

func BenchmarkWriter(b *testing.B) {
	limiter := New(1<<40, 1<<20)
	w := limiter.Writer(context.Background(), io.Discard)
	buf := make([]byte, 32*1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = w.Write(buf)
	}
}
