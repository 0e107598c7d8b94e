package nfs

import (
	"context"
	"net"
	"net/url"
	"strings"
	"testing"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/nfstest"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/pkg/backend"
	backendtesting "github.com/marmos91/dittoclient/pkg/backend/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts ...nfstest.Option) *nfstest.Server {
	t.Helper()
	srv := nfstest.New(opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func endpoint(srv *nfstest.Server, path string) *url.URL {
	return &url.URL{Scheme: "nfs", Host: srv.Addr(), Path: path}
}

func openBackend(t *testing.T, srv *nfstest.Server, settings map[string]any) *Backend {
	t.Helper()
	b, err := Open(context.Background(), backend.Options{
		Endpoint:  endpoint(srv, srv.Export()),
		Principal: "dr.who",
		Settings:  settings,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b.(*Backend)
}

func TestNFSBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			srv := startServer(t, nfstest.WithPageSize(2))
			b, err := Open(context.Background(), backend.Options{
				Endpoint:  endpoint(srv, srv.Export()),
				Principal: "dr.who",
				Settings:  map[string]any{"uid": 1000, "gid": 1000},
			})
			require.NoError(t, err)
			return b
		},
		LargeFileSize: 512*1024 + 17,
	}
	suite.Run(t)
}

func TestOpenNegotiatesTransferSize(t *testing.T) {
	srv := startServer(t, nfstest.WithMaxTransfer(8192))
	b := openBackend(t, srv, map[string]any{"write_size": 4096})

	assert.Equal(t, uint32(8192), b.readSize)
	assert.Equal(t, uint32(4096), b.writeSize)
	assert.EqualValues(t, 8192, b.blockSize)
	assert.Equal(t, 1, srv.Mounts())
	assert.Equal(t, 1, srv.Calls("FSINFO"))
}

func TestOpenUnknownExport(t *testing.T) {
	srv := startServer(t)
	_, err := Open(context.Background(), backend.Options{
		Endpoint:  endpoint(srv, "/nope"),
		Principal: "dr.who",
	})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestOpenUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = Open(context.Background(), backend.Options{
		Endpoint:  &url.URL{Scheme: "nfs", Host: addr, Path: "/export"},
		Principal: "dr.who",
	})
	assert.ErrorIs(t, err, backend.ErrDisconnected)
}

func TestOpenInvalidOptions(t *testing.T) {
	_, err := Open(context.Background(), backend.Options{
		Endpoint: &url.URL{Scheme: "nfs", Path: "/export"},
	})
	assert.ErrorIs(t, err, backend.ErrInvalidOptions)

	_, err = Open(context.Background(), backend.Options{
		Endpoint: &url.URL{Scheme: "nfs", Host: "127.0.0.1:1", Path: "/export"},
		Settings: map[string]any{"uid": "root"},
	})
	assert.ErrorIs(t, err, backend.ErrInvalidOptions)
}

func TestSubdirectoryRoot(t *testing.T) {
	srv := startServer(t)
	require.NoError(t, srv.Store().Mkdir("/data", 0o755, ""))

	raw, err := Open(context.Background(), backend.Options{
		Endpoint:  endpoint(srv, srv.Export()+"/data"),
		Principal: "dr.who",
		Settings:  map[string]any{"export": srv.Export()},
	})
	require.NoError(t, err)
	defer raw.Close()

	ctx := context.Background()
	backendtesting.WriteFile(t, ctx, raw, "/heart.csv", backendtesting.RandomBytes(100))

	stored, err := srv.Store().ReadFile("/data/heart.csv")
	require.NoError(t, err)
	assert.Len(t, stored, 100)

	entries, err := raw.ReadDir(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"heart.csv"}, backendtesting.Names(entries))
}

func TestWriteIsInvisibleUntilClose(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	b := openBackend(t, srv, nil)

	w, err := b.Create(ctx, "/write.log", 0o644)
	require.NoError(t, err)
	_, err = w.Write([]byte("Writing test"))
	require.NoError(t, err)

	entries, err := b.ReadDir(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = b.Stat(ctx, "/write.log")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, w.Close())

	raw, err := srv.Store().ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"write.log"}, backendtesting.Names(raw))
	assert.Equal(t, "Writing test", string(backendtesting.ReadFile(t, ctx, b, "/write.log")))
	assert.Equal(t, 1, srv.Calls("COMMIT"))
	assert.Equal(t, 1, srv.Calls("RENAME"))
}

func TestFailedWriteKeepsTarget(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	require.NoError(t, srv.Store().WriteFile("/heart.csv", []byte("original"), 0o644, ""))
	b := openBackend(t, srv, nil)

	w, err := b.Create(ctx, "/heart.csv", 0o644)
	require.NoError(t, err)
	_, err = w.Write([]byte("replacement"))
	require.NoError(t, err)

	srv.InjectStatus("WRITE", v3.NFS3ErrNoSpc)
	err = w.Close()
	require.Error(t, err)

	data, err := srv.Store().ReadFile("/heart.csv")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	raw, err := srv.Store().ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"heart.csv"}, backendtesting.Names(raw))
}

func TestCreateOverDirectory(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	b := openBackend(t, srv, nil)
	require.NoError(t, b.Mkdir(ctx, "/test", 0o755))

	_, err := b.Create(ctx, "/test", 0o644)
	assert.ErrorIs(t, err, backend.ErrIsDir)
}

func TestStaleHandleRetry(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	b := openBackend(t, srv, nil)
	require.NoError(t, b.Mkdir(ctx, "/a", 0o755))
	backendtesting.WriteFile(t, ctx, b, "/a/f", []byte("x"))

	_, err := b.Stat(ctx, "/a/f")
	require.NoError(t, err)
	_, cached := b.cachedHandle("/a")
	require.True(t, cached)

	require.NoError(t, srv.Store().Remove("/a/f"))
	require.NoError(t, srv.Store().Remove("/a"))

	_, err = b.Stat(ctx, "/a/f")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	_, cached = b.cachedHandle("/a")
	assert.False(t, cached)
}

func TestRemoveForgetsHandles(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	b := openBackend(t, srv, nil)
	require.NoError(t, b.Mkdir(ctx, "/d", 0o755))
	require.NoError(t, b.Mkdir(ctx, "/d/e", 0o755))
	require.NoError(t, b.Remove(ctx, "/d/e"))

	_, cached := b.cachedHandle("/d/e")
	assert.False(t, cached)
	_, cached = b.cachedHandle("/d")
	assert.True(t, cached)

	assert.ErrorIs(t, b.Remove(ctx, "/"), backend.ErrPermission)
}

func TestDroppedConnection(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	b := openBackend(t, srv, nil)

	srv.DropConnections()
	_, err := b.Stat(ctx, "/")
	assert.ErrorIs(t, err, backend.ErrDisconnected)
}

func TestCloseUnmounts(t *testing.T) {
	srv := startServer(t)
	b := openBackend(t, srv, nil)
	require.Equal(t, 1, srv.Mounts())

	require.NoError(t, b.Close())
	assert.Equal(t, 0, srv.Mounts())
	require.NoError(t, b.Close())

	_, err := b.Stat(context.Background(), "/")
	assert.ErrorIs(t, err, backend.ErrDisconnected)
}

func TestOwnerFromCredential(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	b := openBackend(t, srv, map[string]any{"uid": 1234, "gid": 1234})
	backendtesting.WriteFile(t, ctx, b, "/f", []byte("x"))

	attr, err := b.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "1234", attr.Owner)
}

func TestSplitExport(t *testing.T) {
	tests := []struct {
		name         string
		path, export string
		wantExport   string
		wantSubdir   string
		wantErr      bool
	}{
		{name: "WholePath", path: "/export", wantExport: "/export", wantSubdir: "/"},
		{name: "EmptyPath", path: "", wantExport: "/", wantSubdir: "/"},
		{name: "Subdir", path: "/export/a/b", export: "/export", wantExport: "/export", wantSubdir: "/a/b"},
		{name: "ExactExport", path: "/export/", export: "/export/", wantExport: "/export", wantSubdir: "/"},
		{name: "RootExport", path: "/a", export: "/", wantExport: "/", wantSubdir: "/a"},
		{name: "Outside", path: "/exported", export: "/export", wantErr: true},
		{name: "RelativeExport", path: "/export", export: "export", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			export, subdir, err := splitExport(tt.path, tt.export)
			if tt.wantErr {
				assert.ErrorIs(t, err, backend.ErrInvalidOptions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExport, export)
			assert.Equal(t, tt.wantSubdir, subdir)
		})
	}
}

func TestTransferSize(t *testing.T) {
	assert.Equal(t, uint32(65536), transferSize(65536, 32768, 0))
	assert.Equal(t, uint32(4096), transferSize(65536, 32768, 4096))
	assert.Equal(t, uint32(maxTransfer), transferSize(1<<20, 1<<20, 0))
	assert.Equal(t, uint32(32768), transferSize(0, 32768, 0))
}

func TestMapError(t *testing.T) {
	err := mapError(&v3.StatusError{Proc: "LOOKUP", Status: v3.NFS3ErrNoEnt})
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.True(t, strings.Contains(err.Error(), "NFS3ERR_NOENT"))

	err = mapError(&v3.StatusError{Proc: "WRITE", Status: v3.NFS3ErrNoSpc})
	assert.NotErrorIs(t, err, backend.ErrNotFound)
	assert.True(t, isStatus(err, v3.NFS3ErrNoSpc))
}
