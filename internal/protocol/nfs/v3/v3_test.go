package v3

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileAttr(kind uint32, size uint64) *types.FileAttr {
	return &types.FileAttr{
		Type:   kind,
		Mode:   0o644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   size,
		Used:   size,
		Fsid:   1,
		Fileid: 42,
		Atime:  types.TimeVal{Seconds: 1700000000},
		Mtime:  types.TimeVal{Seconds: 1700000001, Nseconds: 5},
		Ctime:  types.TimeVal{Seconds: 1700000002},
	}
}

// fakeCaller answers every call with reply and records the last call.
type fakeCaller struct {
	procs []uint32
	args  [][]byte
	reply func(proc uint32, args []byte) []byte
}

func (f *fakeCaller) Call(_ context.Context, program, version, procedure uint32, args []byte) ([]byte, error) {
	if program != rpc.ProgramNFS || version != Version {
		return nil, &rpc.AcceptError{Stat: rpc.RPCProgUnavail}
	}
	f.procs = append(f.procs, procedure)
	f.args = append(f.args, args)
	return f.reply(procedure, args), nil
}

func mustEncode(t *testing.T, e encoder) []byte {
	t.Helper()
	data, err := e.Encode()
	require.NoError(t, err)
	return data
}

// ============================================================================
// Codec Tests
// ============================================================================

func TestLookupCodec(t *testing.T) {
	req := &LookupRequest{DirOpArgs{Dir: []byte("dir-handle"), Name: "heart.csv"}}
	decodedReq, err := DecodeLookupRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)

	t.Run("Success", func(t *testing.T) {
		resp := &LookupResponse{
			ResponseBase: ResponseBase{Status: NFS3OK},
			Handle:       []byte("file-handle"),
			Attr:         fileAttr(types.NF3REG, 10),
			DirAttr:      fileAttr(types.NF3DIR, 0),
		}
		decoded, err := DecodeLookupResponse(mustEncode(t, resp))
		require.NoError(t, err)
		assert.Equal(t, resp, decoded)
	})

	t.Run("NotFound", func(t *testing.T) {
		resp := &LookupResponse{ResponseBase: ResponseBase{Status: NFS3ErrNoEnt}}
		decoded, err := DecodeLookupResponse(mustEncode(t, resp))
		require.NoError(t, err)
		assert.Equal(t, uint32(NFS3ErrNoEnt), decoded.Status)
		assert.Nil(t, decoded.Handle)
	})
}

func TestLookupRejectsLongName(t *testing.T) {
	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	data := mustEncode(t, &LookupRequest{DirOpArgs{Dir: []byte("d"), Name: string(long)}})
	_, err := DecodeLookupRequest(data)
	assert.Error(t, err)
}

func TestHandleValidation(t *testing.T) {
	_, err := (&GetAttrRequest{}).Encode()
	assert.Error(t, err)

	_, err = (&ReadRequest{Handle: make([]byte, MaxHandleSize+1)}).Encode()
	assert.Error(t, err)
}

func TestReadCodec(t *testing.T) {
	req := &ReadRequest{Handle: []byte("fh"), Offset: 1 << 33, Count: 4096}
	decodedReq, err := DecodeReadRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)

	resp := &ReadResponse{
		ResponseBase: ResponseBase{Status: NFS3OK},
		Attr:         fileAttr(types.NF3REG, 5),
		EOF:          true,
		Data:         []byte("hello"),
	}
	decoded, err := DecodeReadResponse(mustEncode(t, resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestWriteCodec(t *testing.T) {
	req := &WriteRequest{Handle: []byte("fh"), Offset: 7, Stable: Unstable, Data: []byte("abc")}
	decodedReq, err := DecodeWriteRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)

	resp := &WriteResponse{
		ResponseBase: ResponseBase{Status: NFS3OK},
		After:        fileAttr(types.NF3REG, 10),
		Count:        3,
		Committed:    Unstable,
		Verf:         Verifier{1, 2, 3, 4, 5, 6, 7, 8},
	}
	decoded, err := DecodeWriteResponse(mustEncode(t, resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestWriteRejectsBadStable(t *testing.T) {
	data := mustEncode(t, &WriteRequest{Handle: []byte("fh"), Stable: 9, Data: []byte("x")})
	_, err := DecodeWriteRequest(data)
	assert.Error(t, err)
}

func TestCreateCodec(t *testing.T) {
	mode := uint32(0o600)
	size := uint64(0)

	t.Run("Unchecked", func(t *testing.T) {
		req := &CreateRequest{
			DirOpArgs: DirOpArgs{Dir: []byte("dir"), Name: "write.log"},
			Mode:      CreateUnchecked,
			Attr:      &types.SetAttrs{Mode: &mode, Size: &size},
		}
		decoded, err := DecodeCreateRequest(mustEncode(t, req))
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	})

	t.Run("Exclusive", func(t *testing.T) {
		req := &CreateRequest{
			DirOpArgs: DirOpArgs{Dir: []byte("dir"), Name: "x"},
			Mode:      CreateExclusive,
			Verf:      Verifier{9, 9, 9, 9, 9, 9, 9, 9},
		}
		decoded, err := DecodeCreateRequest(mustEncode(t, req))
		require.NoError(t, err)
		assert.Equal(t, req.Verf, decoded.Verf)
		assert.Nil(t, decoded.Attr)
	})

	t.Run("InvalidMode", func(t *testing.T) {
		_, err := (&CreateRequest{DirOpArgs: DirOpArgs{Dir: []byte("d"), Name: "x"}, Mode: 7}).Encode()
		assert.Error(t, err)
	})

	t.Run("ResponseWithoutHandle", func(t *testing.T) {
		resp := &CreateResponse{
			ResponseBase: ResponseBase{Status: NFS3OK},
			DirAfter:     fileAttr(types.NF3DIR, 0),
		}
		decoded, err := DecodeCreateResponse(mustEncode(t, resp))
		require.NoError(t, err)
		assert.Empty(t, decoded.Handle)
		assert.Nil(t, decoded.Attr)
		assert.Equal(t, resp.DirAfter, decoded.DirAfter)
	})
}

func TestMkdirCodec(t *testing.T) {
	mode := uint32(0o755)
	req := &MkdirRequest{DirOpArgs: DirOpArgs{Dir: []byte("dir"), Name: "sub"}, Attr: &types.SetAttrs{Mode: &mode}}
	decoded, err := DecodeMkdirRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestSetAttrCodec(t *testing.T) {
	size := uint64(0)
	req := &SetAttrRequest{
		Handle:     []byte("fh"),
		Attr:       &types.SetAttrs{Size: &size, MtimeServer: true},
		GuardCtime: &types.TimeVal{Seconds: 12},
	}
	decoded, err := DecodeSetAttrRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestReadDirPlusCodec(t *testing.T) {
	req := &ReadDirPlusRequest{Handle: []byte("dir"), Cookie: 3, CookieVerf: Verifier{1}, DirCount: 4096, MaxCount: 32768}
	decodedReq, err := DecodeReadDirPlusRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)

	resp := &ReadDirPlusResponse{
		ResponseBase: ResponseBase{Status: NFS3OK},
		DirAttr:      fileAttr(types.NF3DIR, 0),
		CookieVerf:   Verifier{1},
		Entries: []types.DirEntryPlus{
			{Fileid: 2, Name: "a", Cookie: 1, Attr: fileAttr(types.NF3REG, 1), Handle: []byte("ha")},
			{Fileid: 3, Name: "bb", Cookie: 2},
		},
		EOF: true,
	}
	decoded, err := DecodeReadDirPlusResponse(mustEncode(t, resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestFsInfoCodec(t *testing.T) {
	resp := &FsInfoResponse{
		ResponseBase: ResponseBase{Status: NFS3OK},
		Info: &types.FSInfo{
			Rtmax: 65536, Rtpref: 65536, Rtmult: 4096,
			Wtmax: 65536, Wtpref: 65536, Wtmult: 4096,
			Dtpref: 8192, MaxFileSize: 1 << 40,
			TimeDelta:  types.TimeVal{Nseconds: 1},
			Properties: types.FSFHomogeneous | types.FSFCanSetTime,
		},
	}
	decoded, err := DecodeFsInfoResponse(mustEncode(t, resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestRenameCodec(t *testing.T) {
	req := &RenameRequest{
		From: DirOpArgs{Dir: []byte("src"), Name: ".~tmp"},
		To:   DirOpArgs{Dir: []byte("dst"), Name: "write.log"},
	}
	decodedReq, err := DecodeRenameRequest(mustEncode(t, req))
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)

	resp := &RenameResponse{
		ResponseBase: ResponseBase{Status: NFS3OK},
		FromAfter:    fileAttr(types.NF3DIR, 4096),
		ToBefore:     &types.WccAttr{Size: 4096},
	}
	decodedResp, err := DecodeRenameResponse(mustEncode(t, resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decodedResp)
}

func TestCommitCodec(t *testing.T) {
	resp := &CommitResponse{ResponseBase: ResponseBase{Status: NFS3OK}, Verf: Verifier{8, 7, 6, 5, 4, 3, 2, 1}}
	decoded, err := DecodeCommitResponse(mustEncode(t, resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

// ============================================================================
// Client Tests
// ============================================================================

func TestClientStatusError(t *testing.T) {
	caller := &fakeCaller{reply: func(uint32, []byte) []byte {
		data, _ := (&RemoveResponse{ResponseBase: ResponseBase{Status: NFS3ErrNotEmpty}}).Encode()
		return data
	}}

	err := NewClient(caller).Rmdir(context.Background(), []byte("dir"), "full")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, uint32(NFS3ErrNotEmpty), statusErr.Status)
	assert.Equal(t, "nfs3 RMDIR: NFS3ERR_NOTEMPTY", err.Error())
	assert.Equal(t, []uint32{ProcRmdir}, caller.procs)
}

func TestClientCreateFallsBackToLookup(t *testing.T) {
	caller := &fakeCaller{reply: func(proc uint32, _ []byte) []byte {
		var data []byte
		switch proc {
		case ProcCreate:
			data, _ = (&CreateResponse{ResponseBase: ResponseBase{Status: NFS3OK}}).Encode()
		case ProcLookup:
			data, _ = (&LookupResponse{
				ResponseBase: ResponseBase{Status: NFS3OK},
				Handle:       []byte("new"),
				Attr:         fileAttr(types.NF3REG, 0),
			}).Encode()
		}
		return data
	}}

	handle, attr, err := NewClient(caller).Create(context.Background(), &CreateRequest{
		DirOpArgs: DirOpArgs{Dir: []byte("dir"), Name: "f"},
		Mode:      CreateUnchecked,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), handle)
	assert.Equal(t, uint64(0), attr.Size)
	assert.Equal(t, []uint32{ProcCreate, ProcLookup}, caller.procs)
}

func TestClientWriteOverAck(t *testing.T) {
	caller := &fakeCaller{reply: func(uint32, []byte) []byte {
		data, _ := (&WriteResponse{ResponseBase: ResponseBase{Status: NFS3OK}, Count: 10}).Encode()
		return data
	}}

	_, err := NewClient(caller).Write(context.Background(), []byte("fh"), 0, Unstable, []byte("abc"))
	assert.Error(t, err)
}

func TestStatusToString(t *testing.T) {
	assert.Equal(t, "NFS3_OK", StatusToString(NFS3OK))
	assert.Equal(t, "NFS3ERR_NOENT", StatusToString(NFS3ErrNoEnt))
	assert.Equal(t, "UNKNOWN_999", StatusToString(999))
}
