package nfstest

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/mount"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	srv  *Server
	rpc  *rpc.Client
	nfs  *v3.Client
	root []byte
}

func newSession(t *testing.T, opts ...Option) *session {
	t.Helper()
	srv := New(opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })

	cred, err := (&rpc.UnixAuth{MachineName: "tester", UID: 1000, GID: 1000}).OpaqueAuth()
	require.NoError(t, err)

	client, err := rpc.Dial(context.Background(), srv.Addr(), cred, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	resp, err := mount.NewClient(client).Mnt(context.Background(), srv.Export())
	require.NoError(t, err)

	return &session{srv: srv, rpc: client, nfs: v3.NewClient(client), root: resp.FileHandle}
}

func nfsStatus(t *testing.T, err error) uint32 {
	t.Helper()
	var statusErr *v3.StatusError
	require.True(t, errors.As(err, &statusErr), "expected *v3.StatusError, got %v", err)
	return statusErr.Status
}

func TestMount(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, 1, s.srv.Mounts())

	_, err := mount.NewClient(s.rpc).Mnt(context.Background(), "/other")
	var statusErr *mount.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, uint32(mount.MountErrNoEnt), statusErr.Status)

	require.NoError(t, mount.NewClient(s.rpc).Umnt(context.Background(), s.srv.Export()))
	assert.Equal(t, 0, s.srv.Mounts())
}

func TestFsInfo(t *testing.T) {
	s := newSession(t, WithMaxTransfer(4096))
	info, err := s.nfs.FsInfo(context.Background(), s.root)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), info.Rtmax)
	assert.Equal(t, uint32(4096), info.Wtmax)
}

func TestCreateWriteRead(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	handle, attr, err := s.nfs.Create(ctx, &v3.CreateRequest{
		DirOpArgs: v3.DirOpArgs{Dir: s.root, Name: "heart.csv"},
		Mode:      v3.CreateUnchecked,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), attr.Size)
	assert.Equal(t, uint32(1000), attr.UID)

	_, err = s.nfs.Write(ctx, handle, 0, v3.Unstable, []byte("age,chol\n"))
	require.NoError(t, err)
	_, err = s.nfs.Write(ctx, handle, 9, v3.Unstable, []byte("63,233\n"))
	require.NoError(t, err)
	_, err = s.nfs.Commit(ctx, handle)
	require.NoError(t, err)

	data, eof, err := s.nfs.Read(ctx, handle, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "age,", string(data))
	assert.False(t, eof)

	data, eof, err = s.nfs.Read(ctx, handle, 4, 1024)
	require.NoError(t, err)
	assert.Equal(t, "chol\n63,233\n", string(data))
	assert.True(t, eof)

	stored, err := s.srv.Store().ReadFile("/heart.csv")
	require.NoError(t, err)
	assert.Equal(t, "age,chol\n63,233\n", string(stored))
	assert.Equal(t, 2, s.srv.Calls("WRITE"))
}

func TestGuardedCreateExisting(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, s.srv.Store().WriteFile("/a", []byte("x"), 0o644, ""))

	_, _, err := s.nfs.Create(ctx, &v3.CreateRequest{
		DirOpArgs: v3.DirOpArgs{Dir: s.root, Name: "a"},
		Mode:      v3.CreateGuarded,
	})
	assert.Equal(t, uint32(v3.NFS3ErrExist), nfsStatus(t, err))
}

func TestLookupAndStaleHandle(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	store := s.srv.Store()
	require.NoError(t, store.Mkdir("/dir", 0o755, ""))
	require.NoError(t, store.WriteFile("/dir/f", []byte("data"), 0o644, ""))

	dir, attr, err := s.nfs.Lookup(ctx, s.root, "dir")
	require.NoError(t, err)
	assert.True(t, attr.IsDir())

	file, attr, err := s.nfs.Lookup(ctx, dir, "f")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attr.Size)

	_, _, err = s.nfs.Lookup(ctx, dir, "missing")
	assert.Equal(t, uint32(v3.NFS3ErrNoEnt), nfsStatus(t, err))

	_, _, err = s.nfs.Lookup(ctx, file, "x")
	assert.Equal(t, uint32(v3.NFS3ErrNotDir), nfsStatus(t, err))

	require.NoError(t, s.nfs.Remove(ctx, dir, "f"))
	_, err = s.nfs.GetAttr(ctx, file)
	assert.Equal(t, uint32(v3.NFS3ErrStale), nfsStatus(t, err))
}

func TestRemoveAndRmdir(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	store := s.srv.Store()
	require.NoError(t, store.Mkdir("/full", 0o755, ""))
	require.NoError(t, store.WriteFile("/full/f", nil, 0o644, ""))

	err := s.nfs.Rmdir(ctx, s.root, "full")
	assert.Equal(t, uint32(v3.NFS3ErrNotEmpty), nfsStatus(t, err))

	err = s.nfs.Remove(ctx, s.root, "full")
	assert.Equal(t, uint32(v3.NFS3ErrIsDir), nfsStatus(t, err))

	dir, _, err := s.nfs.Lookup(ctx, s.root, "full")
	require.NoError(t, err)
	err = s.nfs.Rmdir(ctx, dir, "f")
	assert.Equal(t, uint32(v3.NFS3ErrNotDir), nfsStatus(t, err))

	require.NoError(t, s.nfs.Remove(ctx, dir, "f"))
	require.NoError(t, s.nfs.Rmdir(ctx, s.root, "full"))

	_, err = store.Stat("/full")
	assert.Error(t, err)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	store := s.srv.Store()
	require.NoError(t, store.Mkdir("/logs", 0o755, ""))
	require.NoError(t, store.WriteFile("/logs/write.log", []byte("old"), 0o644, ""))
	require.NoError(t, store.WriteFile("/logs/.tmp", []byte("new"), 0o644, ""))

	dir, _, err := s.nfs.Lookup(ctx, s.root, "logs")
	require.NoError(t, err)
	tmp, _, err := s.nfs.Lookup(ctx, dir, ".tmp")
	require.NoError(t, err)
	target, _, err := s.nfs.Lookup(ctx, dir, "write.log")
	require.NoError(t, err)

	require.NoError(t, s.nfs.Rename(ctx, dir, ".tmp", dir, "write.log"))

	data, err := store.ReadFile("/logs/write.log")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	attr, err := s.nfs.GetAttr(ctx, tmp)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), attr.Size)

	_, err = s.nfs.GetAttr(ctx, target)
	assert.Error(t, err)

	err = s.nfs.Rename(ctx, dir, "missing", dir, "x")
	assert.Equal(t, uint32(v3.NFS3ErrNoEnt), nfsStatus(t, err))

	err = s.nfs.Rename(ctx, s.root, "logs", s.root, "moved")
	assert.Equal(t, uint32(v3.NFS3ErrIsDir), nfsStatus(t, err))
}

func TestReadDirPlusPaging(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, WithPageSize(2))
	store := s.srv.Store()
	for _, name := range []string{"e", "d", "c", "b", "a"} {
		require.NoError(t, store.WriteFile("/"+name, []byte(name), 0o644, ""))
	}

	var (
		names  []string
		cookie uint64
		verf   v3.Verifier
		pages  int
	)
	for {
		resp, err := s.nfs.ReadDirPlus(ctx, &v3.ReadDirPlusRequest{
			Handle: s.root, Cookie: cookie, CookieVerf: verf, DirCount: 4096, MaxCount: 32768,
		})
		require.NoError(t, err)
		pages++
		for _, entry := range resp.Entries {
			names = append(names, entry.Name)
			assert.NotEmpty(t, entry.Handle)
			require.NotNil(t, entry.Attr)
			cookie = entry.Cookie
		}
		verf = resp.CookieVerf
		if resp.EOF {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
	assert.Equal(t, 3, pages)
}

func TestReadDirPlusBadCookie(t *testing.T) {
	s := newSession(t)
	_, err := s.nfs.ReadDirPlus(context.Background(), &v3.ReadDirPlusRequest{
		Handle: s.root, Cookie: 5, CookieVerf: v3.Verifier{1}, DirCount: 4096, MaxCount: 32768,
	})
	assert.Equal(t, uint32(v3.NFS3ErrBadCookie), nfsStatus(t, err))
}

func TestMkdirAndSetAttr(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)

	dir, attr, err := s.nfs.Mkdir(ctx, s.root, "sub", nil)
	require.NoError(t, err)
	assert.True(t, attr.IsDir())

	_, _, err = s.nfs.Mkdir(ctx, s.root, "sub", nil)
	assert.Equal(t, uint32(v3.NFS3ErrExist), nfsStatus(t, err))

	require.NoError(t, s.srv.Store().WriteFile("/sub/f", []byte("0123456789"), 0o644, ""))
	file, _, err := s.nfs.Lookup(ctx, dir, "f")
	require.NoError(t, err)

	size := uint64(3)
	after, err := s.nfs.SetAttr(ctx, file, &types.SetAttrs{Size: &size})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), after.Size)

	a, err := s.srv.Store().Stat("/sub")
	require.NoError(t, err)
	assert.Equal(t, fs.ModeDir, a.Mode&fs.ModeDir)
}

func TestInjectStatus(t *testing.T) {
	s := newSession(t)
	s.srv.InjectStatus("GETATTR", v3.NFS3ErrIO)

	_, err := s.nfs.GetAttr(context.Background(), s.root)
	assert.Equal(t, uint32(v3.NFS3ErrIO), nfsStatus(t, err))

	_, err = s.nfs.GetAttr(context.Background(), s.root)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.srv.Calls("GETATTR"))
}

func TestUnknownProcedure(t *testing.T) {
	s := newSession(t)
	_, err := s.rpc.Call(context.Background(), rpc.ProgramNFS, v3.Version, 99, nil)
	var acceptErr *rpc.AcceptError
	require.True(t, errors.As(err, &acceptErr))
	assert.Equal(t, uint32(rpc.RPCProcUnavail), acceptErr.Stat)

	_, err = s.rpc.Call(context.Background(), rpc.ProgramNFS, 4, v3.ProcNull, nil)
	require.True(t, errors.As(err, &acceptErr))
	assert.Equal(t, uint32(rpc.RPCProgMismatch), acceptErr.Stat)
	assert.Equal(t, uint32(3), acceptErr.Low)
}

func TestDropConnections(t *testing.T) {
	s := newSession(t)
	s.srv.DropConnections()

	err := s.nfs.Null(context.Background())
	assert.ErrorIs(t, err, rpc.ErrBroken)
}
