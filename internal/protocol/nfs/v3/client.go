package v3

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
)

// Caller issues a single RPC. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, program, version, procedure uint32, args []byte) ([]byte, error)
}

type encoder interface {
	Encode() ([]byte, error)
}

// Client issues NFSv3 procedures. Non-OK statuses are returned as
// *StatusError.
type Client struct {
	rpc Caller
}

// NewClient returns a Client using c for transport.
func NewClient(c Caller) *Client {
	return &Client{rpc: c}
}

func (c *Client) call(ctx context.Context, proc uint32, req encoder) ([]byte, error) {
	var args []byte
	if req != nil {
		var err error
		if args, err = req.Encode(); err != nil {
			return nil, err
		}
	}
	return c.rpc.Call(ctx, rpc.ProgramNFS, Version, proc, args)
}

func check(proc string, status uint32) error {
	if status != NFS3OK {
		return &StatusError{Proc: proc, Status: status}
	}
	return nil
}

// Null pings the server.
func (c *Client) Null(ctx context.Context) error {
	_, err := c.call(ctx, ProcNull, nil)
	return err
}

// GetAttr returns the attributes of handle.
func (c *Client) GetAttr(ctx context.Context, handle []byte) (*types.FileAttr, error) {
	data, err := c.call(ctx, ProcGetAttr, &GetAttrRequest{Handle: handle})
	if err != nil {
		return nil, err
	}
	resp, err := DecodeGetAttrResponse(data)
	if err != nil {
		return nil, err
	}
	if err := check("GETATTR", resp.Status); err != nil {
		return nil, err
	}
	return resp.Attr, nil
}

// SetAttr changes the attributes of handle.
func (c *Client) SetAttr(ctx context.Context, handle []byte, attr *types.SetAttrs) (*types.FileAttr, error) {
	data, err := c.call(ctx, ProcSetAttr, &SetAttrRequest{Handle: handle, Attr: attr})
	if err != nil {
		return nil, err
	}
	resp, err := DecodeSetAttrResponse(data)
	if err != nil {
		return nil, err
	}
	if err := check("SETATTR", resp.Status); err != nil {
		return nil, err
	}
	return resp.After, nil
}

// Lookup resolves name in dir.
func (c *Client) Lookup(ctx context.Context, dir []byte, name string) ([]byte, *types.FileAttr, error) {
	data, err := c.call(ctx, ProcLookup, &LookupRequest{DirOpArgs{Dir: dir, Name: name}})
	if err != nil {
		return nil, nil, err
	}
	resp, err := DecodeLookupResponse(data)
	if err != nil {
		return nil, nil, err
	}
	if err := check("LOOKUP", resp.Status); err != nil {
		return nil, nil, err
	}
	attr := resp.Attr
	if attr == nil {
		if attr, err = c.GetAttr(ctx, resp.Handle); err != nil {
			return nil, nil, err
		}
	}
	return resp.Handle, attr, nil
}

// Read reads up to count bytes at offset.
func (c *Client) Read(ctx context.Context, handle []byte, offset uint64, count uint32) ([]byte, bool, error) {
	data, err := c.call(ctx, ProcRead, &ReadRequest{Handle: handle, Offset: offset, Count: count})
	if err != nil {
		return nil, false, err
	}
	resp, err := DecodeReadResponse(data)
	if err != nil {
		return nil, false, err
	}
	if err := check("READ", resp.Status); err != nil {
		return nil, false, err
	}
	return resp.Data, resp.EOF, nil
}

// Write writes data at offset and returns the server's response.
func (c *Client) Write(ctx context.Context, handle []byte, offset uint64, stable uint32, data []byte) (*WriteResponse, error) {
	raw, err := c.call(ctx, ProcWrite, &WriteRequest{Handle: handle, Offset: offset, Stable: stable, Data: data})
	if err != nil {
		return nil, err
	}
	resp, err := DecodeWriteResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := check("WRITE", resp.Status); err != nil {
		return nil, err
	}
	if resp.Count > uint32(len(data)) {
		return nil, fmt.Errorf("nfs3 WRITE: server acknowledged %d bytes of %d", resp.Count, len(data))
	}
	return resp, nil
}

// Commit flushes unstable writes to stable storage and returns the write
// verifier.
func (c *Client) Commit(ctx context.Context, handle []byte) (Verifier, error) {
	data, err := c.call(ctx, ProcCommit, &CommitRequest{Handle: handle})
	if err != nil {
		return Verifier{}, err
	}
	resp, err := DecodeCommitResponse(data)
	if err != nil {
		return Verifier{}, err
	}
	if err := check("COMMIT", resp.Status); err != nil {
		return Verifier{}, err
	}
	return resp.Verf, nil
}

// Create creates name in dir. When the server omits the new handle it is
// resolved with LOOKUP.
func (c *Client) Create(ctx context.Context, req *CreateRequest) ([]byte, *types.FileAttr, error) {
	data, err := c.call(ctx, ProcCreate, req)
	if err != nil {
		return nil, nil, err
	}
	resp, err := DecodeCreateResponse(data)
	if err != nil {
		return nil, nil, err
	}
	if err := check("CREATE", resp.Status); err != nil {
		return nil, nil, err
	}
	return c.resolveCreated(ctx, req.DirOpArgs, resp)
}

// Mkdir creates directory name in dir.
func (c *Client) Mkdir(ctx context.Context, dir []byte, name string, attr *types.SetAttrs) ([]byte, *types.FileAttr, error) {
	args := DirOpArgs{Dir: dir, Name: name}
	data, err := c.call(ctx, ProcMkdir, &MkdirRequest{DirOpArgs: args, Attr: attr})
	if err != nil {
		return nil, nil, err
	}
	resp, err := DecodeMkdirResponse(data)
	if err != nil {
		return nil, nil, err
	}
	if err := check("MKDIR", resp.Status); err != nil {
		return nil, nil, err
	}
	return c.resolveCreated(ctx, args, resp)
}

func (c *Client) resolveCreated(ctx context.Context, args DirOpArgs, resp *CreateResponse) ([]byte, *types.FileAttr, error) {
	if len(resp.Handle) == 0 {
		return c.Lookup(ctx, args.Dir, args.Name)
	}
	if resp.Attr == nil {
		attr, err := c.GetAttr(ctx, resp.Handle)
		if err != nil {
			return nil, nil, err
		}
		return resp.Handle, attr, nil
	}
	return resp.Handle, resp.Attr, nil
}

// Remove removes the non-directory name from dir.
func (c *Client) Remove(ctx context.Context, dir []byte, name string) error {
	return c.remove(ctx, ProcRemove, "REMOVE", dir, name)
}

// Rmdir removes the empty directory name from dir.
func (c *Client) Rmdir(ctx context.Context, dir []byte, name string) error {
	return c.remove(ctx, ProcRmdir, "RMDIR", dir, name)
}

func (c *Client) remove(ctx context.Context, proc uint32, procName string, dir []byte, name string) error {
	data, err := c.call(ctx, proc, &RemoveRequest{DirOpArgs{Dir: dir, Name: name}})
	if err != nil {
		return err
	}
	resp, err := DecodeRemoveResponse(data)
	if err != nil {
		return err
	}
	return check(procName, resp.Status)
}

// Rename moves fromName in fromDir to toName in toDir, replacing any
// existing target.
func (c *Client) Rename(ctx context.Context, fromDir []byte, fromName string, toDir []byte, toName string) error {
	data, err := c.call(ctx, ProcRename, &RenameRequest{
		From: DirOpArgs{Dir: fromDir, Name: fromName},
		To:   DirOpArgs{Dir: toDir, Name: toName},
	})
	if err != nil {
		return err
	}
	resp, err := DecodeRenameResponse(data)
	if err != nil {
		return err
	}
	return check("RENAME", resp.Status)
}

// ReadDirPlus reads one page of directory entries.
func (c *Client) ReadDirPlus(ctx context.Context, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error) {
	data, err := c.call(ctx, ProcReadDirPlus, req)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeReadDirPlusResponse(data)
	if err != nil {
		return nil, err
	}
	if err := check("READDIRPLUS", resp.Status); err != nil {
		return nil, err
	}
	return resp, nil
}

// FsInfo returns the static file system information for the export.
func (c *Client) FsInfo(ctx context.Context, root []byte) (*types.FSInfo, error) {
	data, err := c.call(ctx, ProcFsInfo, &FsInfoRequest{Handle: root})
	if err != nil {
		return nil, err
	}
	resp, err := DecodeFsInfoResponse(data)
	if err != nil {
		return nil, err
	}
	if err := check("FSINFO", resp.Status); err != nil {
		return nil, err
	}
	return resp.Info, nil
}
