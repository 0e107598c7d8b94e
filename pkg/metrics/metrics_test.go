package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/marmos91/dittoclient/pkg/fsclient"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-wide, so every test enables it and uses label
// values no other test touches.

func TestBackendMetrics(t *testing.T) {
	InitRegistry()
	m := NewBackendMetrics("mem")
	require.NotNil(t, m)

	m.ObserveOperation("stat", time.Millisecond, nil)
	m.ObserveOperation("stat", time.Millisecond, backend.ErrNotFound)
	m.RecordBytes("write", 12)
	m.RecordBytes("write", 30)

	vecs := getBackendCollectors()
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("mem", "stat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("mem", "stat", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.errorsTotal.WithLabelValues("mem", "stat")))
	assert.Equal(t, 42.0, testutil.ToFloat64(vecs.bytesTransferred.WithLabelValues("mem", "write")))
}

func TestBackendMetricsShareCollectors(t *testing.T) {
	InitRegistry()
	a := NewBackendMetrics("driver-a")
	b := NewBackendMetrics("driver-b")

	a.RecordBytes("read", 5)
	b.RecordBytes("read", 7)

	vecs := getBackendCollectors()
	assert.Equal(t, 5.0, testutil.ToFloat64(vecs.bytesTransferred.WithLabelValues("driver-a", "read")))
	assert.Equal(t, 7.0, testutil.ToFloat64(vecs.bytesTransferred.WithLabelValues("driver-b", "read")))
}

func TestClientMetrics(t *testing.T) {
	InitRegistry()
	m := NewClientMetrics()
	require.NotNil(t, m)
	assert.Same(t, m, NewClientMetrics())

	notFound := &fsclient.Error{Kind: fsclient.KindNotFound, Op: "download", Path: "/nope", Err: backend.ErrNotFound}
	m.ObserveOperation("download", time.Millisecond, notFound)
	m.ObserveOperation("upload", time.Millisecond, nil)
	m.RecordTransfer("upload", 100)

	vecs := m.(*clientMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("download", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("upload", "success")))
	assert.Equal(t, 100.0, testutil.ToFloat64(vecs.bytesTransferred.WithLabelValues("upload")))

	m.ObserveOperation("list", time.Millisecond, errors.New("plain"))
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("list", "io")))
}

func TestServer(t *testing.T) {
	InitRegistry()
	NewBackendMetrics("server-test").ObserveOperation("readdir", time.Millisecond, nil)

	srv, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `dittoclient_backend_operations_total{driver="server-test",operation="readdir",status="success"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
