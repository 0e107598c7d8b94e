package testing

import (
	"context"
	"io"
	"testing"

	"github.com/marmos91/dittoclient/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStatTests covers Stat on the root, on missing paths and on files.
func (suite *BackendTestSuite) RunStatTests(t *testing.T) {
	t.Run("Root", func(t *testing.T) {
		b := suite.open(t)
		attr, err := b.Stat(testContext(), "/")
		require.NoError(t, err)
		assert.True(t, attr.IsDir())
	})

	t.Run("Missing", func(t *testing.T) {
		b := suite.open(t)
		_, err := b.Stat(testContext(), "/does-not-exist")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("File", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		WriteFile(t, ctx, b, "/heart.csv", RandomBytes(100))

		attr, err := b.Stat(ctx, "/heart.csv")
		require.NoError(t, err)
		assert.False(t, attr.IsDir())
		assert.Equal(t, "heart.csv", attr.Name)
		assert.Equal(t, "/heart.csv", attr.Path)
		assert.EqualValues(t, 100, attr.Size)
		assert.Positive(t, attr.BlockSize)
	})
}

// RunDirectoryTests covers Mkdir and ReadDir.
func (suite *BackendTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("MkdirAndStat", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/test", 0755))

		attr, err := b.Stat(ctx, "/test")
		require.NoError(t, err)
		assert.True(t, attr.IsDir())
		assert.Equal(t, "test", attr.Name)
	})

	t.Run("MkdirExisting", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/test", 0755))
		assert.ErrorIs(t, b.Mkdir(ctx, "/test", 0755), backend.ErrExists)
	})

	t.Run("MkdirMissingParent", func(t *testing.T) {
		b := suite.open(t)
		err := b.Mkdir(testContext(), "/missing/child", 0755)
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("ReadDirEmpty", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/empty", 0755))

		entries, err := b.ReadDir(ctx, "/empty")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("ReadDirEntries", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/test", 0755))
		require.NoError(t, b.Mkdir(ctx, "/test/sub", 0755))
		WriteFile(t, ctx, b, "/test/a.txt", []byte("a"))
		WriteFile(t, ctx, b, "/test/b.txt", []byte("bb"))
		WriteFile(t, ctx, b, "/test/sub/c.txt", []byte("ccc"))

		entries, err := b.ReadDir(ctx, "/test")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "b.txt", "sub"}, Names(entries))

		for _, e := range entries {
			switch e.Name {
			case "sub":
				assert.True(t, e.IsDir())
				assert.Equal(t, "/test/sub", e.Path)
			case "b.txt":
				assert.EqualValues(t, 2, e.Size)
				assert.Equal(t, "/test/b.txt", e.Path)
			}
		}
	})

	t.Run("ReadDirMissing", func(t *testing.T) {
		b := suite.open(t)
		_, err := b.ReadDir(testContext(), "/nope")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("ReadDirOnFile", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		WriteFile(t, ctx, b, "/file", []byte("x"))
		_, err := b.ReadDir(ctx, "/file")
		assert.ErrorIs(t, err, backend.ErrNotDir)
	})
}

// RunFileTests covers Create and Open.
func (suite *BackendTestSuite) RunFileTests(t *testing.T) {
	t.Run("WriteRead", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/test", 0755))
		WriteFile(t, ctx, b, "/test/write.log", []byte("Writing test"))

		assert.Equal(t, "Writing test", string(ReadFile(t, ctx, b, "/test/write.log")))
	})

	t.Run("EmptyFile", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		WriteFile(t, ctx, b, "/empty", nil)

		attr, err := b.Stat(ctx, "/empty")
		require.NoError(t, err)
		assert.Zero(t, attr.Size)
		assert.Empty(t, ReadFile(t, ctx, b, "/empty"))
	})

	t.Run("Overwrite", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		WriteFile(t, ctx, b, "/f", []byte("a much longer original body"))
		WriteFile(t, ctx, b, "/f", []byte("short"))

		assert.Equal(t, "short", string(ReadFile(t, ctx, b, "/f")))
		attr, err := b.Stat(ctx, "/f")
		require.NoError(t, err)
		assert.EqualValues(t, 5, attr.Size)
	})

	t.Run("LargeRoundTrip", func(t *testing.T) {
		size := suite.LargeFileSize
		if size == 0 {
			size = 3*1024*1024 + 17
		}
		b := suite.open(t)
		ctx := testContext()
		data := RandomBytes(size)
		WriteFile(t, ctx, b, "/large.bin", data)

		got := ReadFile(t, ctx, b, "/large.bin")
		require.Equal(t, len(data), len(got))
		assert.Equal(t, data, got)
	})

	t.Run("OpenMissing", func(t *testing.T) {
		b := suite.open(t)
		_, err := b.Open(testContext(), "/nope")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("OpenDirectory", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/dir", 0755))
		_, err := b.Open(ctx, "/dir")
		assert.ErrorIs(t, err, backend.ErrIsDir)
	})

	t.Run("CreateMissingParent", func(t *testing.T) {
		b := suite.open(t)
		w, err := b.Create(testContext(), "/missing/file", 0644)
		if err == nil {
			_, _ = w.Write([]byte("x"))
			err = w.Close()
		}
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("WriteAfterClose", func(t *testing.T) {
		b := suite.open(t)
		w, err := b.Create(testContext(), "/closed", 0644)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = w.Write([]byte("late"))
		assert.ErrorIs(t, err, backend.ErrClosed)
	})

	t.Run("CancelledBeforeClose", func(t *testing.T) {
		b := suite.open(t)
		ctx, cancel := context.WithCancel(testContext())
		w, err := b.Create(ctx, "/cancelled", 0644)
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		require.NoError(t, err)

		cancel()
		assert.ErrorIs(t, w.Close(), context.Canceled)

		_, err = b.Stat(testContext(), "/cancelled")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("ChunkedWrites", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		w, err := b.Create(ctx, "/chunks", 0644)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			_, err := w.Write([]byte("0123456789"))
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())

		r, err := b.Open(ctx, "/chunks")
		require.NoError(t, err)
		defer r.Close()
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Len(t, got, 100)
	})
}

// RunRemoveTests covers Remove on files and directories.
func (suite *BackendTestSuite) RunRemoveTests(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		WriteFile(t, ctx, b, "/f", []byte("x"))
		require.NoError(t, b.Remove(ctx, "/f"))

		_, err := b.Stat(ctx, "/f")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("Missing", func(t *testing.T) {
		b := suite.open(t)
		assert.ErrorIs(t, b.Remove(testContext(), "/nope"), backend.ErrNotFound)
	})

	t.Run("EmptyDirectory", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/d", 0755))
		require.NoError(t, b.Remove(ctx, "/d"))

		_, err := b.Stat(ctx, "/d")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("NonEmptyDirectory", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/d", 0755))
		WriteFile(t, ctx, b, "/d/f", []byte("x"))

		assert.ErrorIs(t, b.Remove(ctx, "/d"), backend.ErrNotEmpty)
	})

	t.Run("RemovedFromListing", func(t *testing.T) {
		b := suite.open(t)
		ctx := testContext()
		require.NoError(t, b.Mkdir(ctx, "/test", 0755))
		WriteFile(t, ctx, b, "/test/heart.csv", RandomBytes(100))
		require.NoError(t, b.Remove(ctx, "/test/heart.csv"))

		entries, err := b.ReadDir(ctx, "/test")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
