package backend_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/marmos91/dittoclient/pkg/backend/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu     sync.Mutex
	ops    []string
	failed map[string]int
	bytes  map[string]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failed: map[string]int{}, bytes: map[string]int64{}}
}

func (m *recordingMetrics) ObserveOperation(op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	if err != nil {
		m.failed[op]++
	}
}

func (m *recordingMetrics) RecordBytes(op string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[op] += n
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	m := newRecordingMetrics()
	b := backend.Instrument(memory.New(memory.NewStore(), "tester"), m)

	w, err := b.Create(ctx, "/write.log", 0644)
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader([]byte("Writing test")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := b.Open(ctx, "/write.log")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "Writing test", string(data))

	_, err = b.Stat(ctx, "/missing")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	assert.Equal(t, []string{"create", "write", "open", "read", "stat"}, m.ops)
	assert.Equal(t, 1, m.failed["stat"])
	assert.EqualValues(t, 12, m.bytes["write"])
	assert.EqualValues(t, 12, m.bytes["read"])
}

func TestInstrumentNoop(t *testing.T) {
	b := memory.New(memory.NewStore(), "")
	assert.Same(t, b, backend.Instrument(b, nil))
	assert.Same(t, b, backend.Instrument(b, backend.NoopMetrics{}))
}
