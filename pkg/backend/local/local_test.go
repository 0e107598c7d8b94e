package local

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittoclient/pkg/backend"
	backendtesting "github.com/marmos91/dittoclient/pkg/backend/testing"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendOnDisk(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			b, err := Open(context.Background(), backend.Options{
				Endpoint: &url.URL{Scheme: "file", Path: t.TempDir()},
			})
			require.NoError(t, err)
			return b
		},
	}
	suite.Run(t)
}

func TestLocalBackendInMemory(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			return New(afero.NewMemMapFs(), 0)
		},
		LargeFileSize: 256 * 1024,
	}
	suite.Run(t)
}

func TestOpenCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")

	_, err := Open(context.Background(), backend.Options{
		Endpoint: &url.URL{Scheme: "file", Path: root},
	})
	assert.ErrorIs(t, err, backend.ErrNotFound)

	b, err := Open(context.Background(), backend.Options{
		Endpoint: &url.URL{Scheme: "file", Path: root},
		Settings: map[string]any{"create_root": true, "block_size": 8192},
	})
	require.NoError(t, err)
	defer b.Close()

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	attr, err := b.Stat(context.Background(), "/")
	require.NoError(t, err)
	assert.EqualValues(t, 8192, attr.BlockSize)
}

func TestOpenRejectsFileRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0644))

	_, err := Open(context.Background(), backend.Options{
		Endpoint: &url.URL{Scheme: "file", Path: root},
	})
	assert.ErrorIs(t, err, backend.ErrNotDir)
}

func TestInFlightWritesAreHidden(t *testing.T) {
	ctx := context.Background()
	b := New(afero.NewMemMapFs(), 0)

	w, err := b.Create(ctx, "/pending.txt", 0644)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	entries, err := b.ReadDir(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = b.Stat(ctx, "/pending.txt")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, w.Close())
	entries, err = b.ReadDir(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending.txt"}, backendtesting.Names(entries))
}

func TestEscapingPathsStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	outer := t.TempDir()
	root := filepath.Join(outer, "root")
	require.NoError(t, os.Mkdir(root, 0755))

	b, err := Open(ctx, backend.Options{Endpoint: &url.URL{Scheme: "file", Path: root}})
	require.NoError(t, err)

	cleaned, err := backend.Clean("../escape.txt")
	require.NoError(t, err)
	backendtesting.WriteFile(t, ctx, b, cleaned, []byte("x"))

	_, err = os.Stat(filepath.Join(outer, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}
