package v3

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

// ============================================================================
// CREATE
// ============================================================================

// CreateRequest is CREATE3args.
//
// Mode selects the createhow3 arm: UNCHECKED and GUARDED carry Attr,
// EXCLUSIVE carries Verf.
type CreateRequest struct {
	DirOpArgs
	Mode uint32
	Attr *types.SetAttrs
	Verf Verifier
}

// CreateResponse is CREATE3res. MKDIR3res has the same shape.
type CreateResponse struct {
	ResponseBase

	// Handle and Attr are optional even on NFS3_OK; callers fall back to
	// LOOKUP when Handle is empty.
	Handle []byte
	Attr   *types.FileAttr

	DirBefore *types.WccAttr
	DirAfter  *types.FileAttr
}

// Encode marshals the request arguments.
func (req *CreateRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	req.encode(buf)
	xdr.WriteUint32(buf, req.Mode)

	switch req.Mode {
	case CreateUnchecked, CreateGuarded:
		xdr.EncodeSetAttrs(buf, req.Attr)
	case CreateExclusive:
		buf.Write(req.Verf[:])
	default:
		return nil, fmt.Errorf("invalid create mode %d", req.Mode)
	}
	return buf.Bytes(), nil
}

// DecodeCreateRequest decodes CREATE3args.
func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	r := bytes.NewReader(data)
	args, err := decodeDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode create: %w", err)
	}
	req := &CreateRequest{DirOpArgs: args}

	if req.Mode, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read create mode: %w", err)
	}

	switch req.Mode {
	case CreateUnchecked, CreateGuarded:
		if req.Attr, err = xdr.DecodeSetAttrs(r); err != nil {
			return nil, fmt.Errorf("decode create attributes: %w", err)
		}
	case CreateExclusive:
		if req.Verf, err = decodeVerifier(r); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid create mode %d", req.Mode)
	}
	return req, nil
}

// Encode marshals the response.
func (resp *CreateResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)

	if resp.Status == NFS3OK {
		xdr.EncodeOptionalOpaque(buf, resp.Handle)
		if err := xdr.EncodeOptionalFileAttr(buf, resp.Attr); err != nil {
			return nil, err
		}
	}
	if err := xdr.EncodeWccData(buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCreateResponse decodes CREATE3res.
func DecodeCreateResponse(data []byte) (*CreateResponse, error) {
	return decodeCreateLike(bytes.NewReader(data))
}

func decodeCreateLike(r io.Reader) (*CreateResponse, error) {
	resp := &CreateResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Status == NFS3OK {
		if resp.Handle, err = decodeOptionalHandle(r); err != nil {
			return nil, err
		}
		if resp.Attr, err = xdr.DecodeOptionalFileAttr(r); err != nil {
			return nil, err
		}
	}
	if resp.DirBefore, resp.DirAfter, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	return resp, nil
}

// ============================================================================
// MKDIR
// ============================================================================

// MkdirRequest is MKDIR3args.
type MkdirRequest struct {
	DirOpArgs
	Attr *types.SetAttrs
}

// MkdirResponse is MKDIR3res.
type MkdirResponse = CreateResponse

// Encode marshals the request arguments.
func (req *MkdirRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	req.encode(buf)
	xdr.EncodeSetAttrs(buf, req.Attr)
	return buf.Bytes(), nil
}

// DecodeMkdirRequest decodes MKDIR3args.
func DecodeMkdirRequest(data []byte) (*MkdirRequest, error) {
	r := bytes.NewReader(data)
	args, err := decodeDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode mkdir: %w", err)
	}
	attr, err := xdr.DecodeSetAttrs(r)
	if err != nil {
		return nil, fmt.Errorf("decode mkdir attributes: %w", err)
	}
	return &MkdirRequest{DirOpArgs: args, Attr: attr}, nil
}

// DecodeMkdirResponse decodes MKDIR3res.
func DecodeMkdirResponse(data []byte) (*MkdirResponse, error) {
	return decodeCreateLike(bytes.NewReader(data))
}

// ============================================================================
// REMOVE / RMDIR
// ============================================================================

// RemoveRequest is REMOVE3args. RMDIR3args has the same shape.
type RemoveRequest struct {
	DirOpArgs
}

// RemoveResponse is REMOVE3res (and RMDIR3res).
type RemoveResponse struct {
	ResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.FileAttr
}

// Encode marshals the request arguments.
func (req *RemoveRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	req.encode(buf)
	return buf.Bytes(), nil
}

// DecodeRemoveRequest decodes REMOVE3args or RMDIR3args.
func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	args, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode remove: %w", err)
	}
	return &RemoveRequest{DirOpArgs: args}, nil
}

// Encode marshals the response.
func (resp *RemoveResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeWccData(buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRemoveResponse decodes REMOVE3res or RMDIR3res.
func DecodeRemoveResponse(data []byte) (*RemoveResponse, error) {
	r := bytes.NewReader(data)
	resp := &RemoveResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.DirBefore, resp.DirAfter, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	return resp, nil
}

// ============================================================================
// RENAME
// ============================================================================

// RenameRequest is RENAME3args.
type RenameRequest struct {
	From DirOpArgs
	To   DirOpArgs
}

// RenameResponse is RENAME3res.
type RenameResponse struct {
	ResponseBase
	FromBefore *types.WccAttr
	FromAfter  *types.FileAttr
	ToBefore   *types.WccAttr
	ToAfter    *types.FileAttr
}

// Encode marshals the request arguments.
func (req *RenameRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	req.From.encode(buf)
	req.To.encode(buf)
	return buf.Bytes(), nil
}

// DecodeRenameRequest decodes RENAME3args.
func DecodeRenameRequest(data []byte) (*RenameRequest, error) {
	r := bytes.NewReader(data)
	from, err := decodeDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode rename from: %w", err)
	}
	to, err := decodeDirOpArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode rename to: %w", err)
	}
	return &RenameRequest{From: from, To: to}, nil
}

// Encode marshals the response.
func (resp *RenameResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeWccData(buf, resp.FromBefore, resp.FromAfter); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(buf, resp.ToBefore, resp.ToAfter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRenameResponse decodes RENAME3res.
func DecodeRenameResponse(data []byte) (*RenameResponse, error) {
	r := bytes.NewReader(data)
	resp := &RenameResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.FromBefore, resp.FromAfter, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	if resp.ToBefore, resp.ToAfter, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	return resp, nil
}
