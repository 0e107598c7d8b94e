package testing

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"sort"
	"testing"

	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/stretchr/testify/require"
)

// WriteFile creates path on b with data and commits it.
func WriteFile(t *testing.T, ctx context.Context, b backend.Backend, path string, data []byte) {
	t.Helper()
	w, err := b.Create(ctx, path, 0644)
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

// ReadFile returns the full content of path on b.
func ReadFile(t *testing.T, ctx context.Context, b backend.Backend, path string) []byte {
	t.Helper()
	r, err := b.Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// Names returns the sorted names of attrs.
func Names(attrs []backend.Attr) []string {
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// RandomBytes returns n pseudo-random bytes from a fixed seed.
func RandomBytes(n int) []byte {
	buf := make([]byte, n)
	rnd := rand.New(rand.NewSource(int64(n)))
	_, _ = rnd.Read(buf)
	return buf
}
