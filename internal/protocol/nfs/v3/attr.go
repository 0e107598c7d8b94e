package v3

import (
	"bytes"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
	xdrlib "github.com/rasky/go-xdr/xdr2"
)

// ============================================================================
// GETATTR
// ============================================================================

// GetAttrRequest is GETATTR3args.
type GetAttrRequest struct {
	Handle []byte
}

// GetAttrResponse is GETATTR3res. Attr is set only on NFS3_OK.
type GetAttrResponse struct {
	ResponseBase
	Attr *types.FileAttr
}

// Encode marshals the request arguments.
func (req *GetAttrRequest) Encode() ([]byte, error) {
	return encodeHandleOnly(req.Handle)
}

// DecodeGetAttrRequest decodes GETATTR3args.
func DecodeGetAttrRequest(data []byte) (*GetAttrRequest, error) {
	handle, err := decodeHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode getattr: %w", err)
	}
	return &GetAttrRequest{Handle: handle}, nil
}

// Encode marshals the response.
func (resp *GetAttrResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if resp.Status == NFS3OK {
		if err := xdr.EncodeFileAttr(buf, resp.Attr); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeGetAttrResponse decodes GETATTR3res.
func DecodeGetAttrResponse(data []byte) (*GetAttrResponse, error) {
	r := bytes.NewReader(data)
	resp := &GetAttrResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Status != NFS3OK {
		return resp, nil
	}
	if resp.Attr, err = xdr.DecodeFileAttr(r); err != nil {
		return nil, err
	}
	return resp, nil
}

// ============================================================================
// SETATTR
// ============================================================================

// SetAttrRequest is SETATTR3args. A nil GuardCtime disables the guard.
type SetAttrRequest struct {
	Handle     []byte
	Attr       *types.SetAttrs
	GuardCtime *types.TimeVal
}

// SetAttrResponse is SETATTR3res.
type SetAttrResponse struct {
	ResponseBase
	Before *types.WccAttr
	After  *types.FileAttr
}

// Encode marshals the request arguments.
func (req *SetAttrRequest) Encode() ([]byte, error) {
	if len(req.Handle) == 0 || len(req.Handle) > MaxHandleSize {
		return nil, fmt.Errorf("invalid file handle length %d", len(req.Handle))
	}
	buf := new(bytes.Buffer)
	xdr.WriteOpaque(buf, req.Handle)
	xdr.EncodeSetAttrs(buf, req.Attr)
	if req.GuardCtime == nil {
		xdr.WriteBool(buf, false)
	} else {
		xdr.WriteBool(buf, true)
		xdr.WriteUint32(buf, req.GuardCtime.Seconds)
		xdr.WriteUint32(buf, req.GuardCtime.Nseconds)
	}
	return buf.Bytes(), nil
}

// DecodeSetAttrRequest decodes SETATTR3args.
func DecodeSetAttrRequest(data []byte) (*SetAttrRequest, error) {
	r := bytes.NewReader(data)
	req := &SetAttrRequest{}

	var err error
	if req.Handle, err = decodeHandle(r); err != nil {
		return nil, fmt.Errorf("decode setattr: %w", err)
	}
	if req.Attr, err = xdr.DecodeSetAttrs(r); err != nil {
		return nil, fmt.Errorf("decode setattr: %w", err)
	}

	check, err := xdr.DecodeBool(r)
	if err != nil {
		return nil, fmt.Errorf("read guard check: %w", err)
	}
	if check {
		req.GuardCtime = &types.TimeVal{}
		if _, err := xdrlib.Unmarshal(r, req.GuardCtime); err != nil {
			return nil, fmt.Errorf("read guard ctime: %w", err)
		}
	}
	return req, nil
}

// Encode marshals the response.
func (resp *SetAttrResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeWccData(buf, resp.Before, resp.After); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSetAttrResponse decodes SETATTR3res.
func DecodeSetAttrResponse(data []byte) (*SetAttrResponse, error) {
	r := bytes.NewReader(data)
	resp := &SetAttrResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Before, resp.After, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	return resp, nil
}

// ============================================================================
// FSINFO
// ============================================================================

// FsInfoRequest is FSINFO3args.
type FsInfoRequest struct {
	Handle []byte
}

// FsInfoResponse is FSINFO3res. Info is set only on NFS3_OK.
type FsInfoResponse struct {
	ResponseBase
	Attr *types.FileAttr
	Info *types.FSInfo
}

// Encode marshals the request arguments.
func (req *FsInfoRequest) Encode() ([]byte, error) {
	return encodeHandleOnly(req.Handle)
}

// DecodeFsInfoRequest decodes FSINFO3args.
func DecodeFsInfoRequest(data []byte) (*FsInfoRequest, error) {
	handle, err := decodeHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode fsinfo: %w", err)
	}
	return &FsInfoRequest{Handle: handle}, nil
}

// Encode marshals the response.
func (resp *FsInfoResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(buf, resp.Attr); err != nil {
		return nil, err
	}
	if resp.Status == NFS3OK {
		if resp.Info == nil {
			return nil, fmt.Errorf("fsinfo: missing info on success")
		}
		if _, err := xdrlib.Marshal(buf, resp.Info); err != nil {
			return nil, fmt.Errorf("marshal fsinfo: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeFsInfoResponse decodes FSINFO3res.
func DecodeFsInfoResponse(data []byte) (*FsInfoResponse, error) {
	r := bytes.NewReader(data)
	resp := &FsInfoResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Attr, err = xdr.DecodeOptionalFileAttr(r); err != nil {
		return nil, err
	}
	if resp.Status != NFS3OK {
		return resp, nil
	}
	resp.Info = &types.FSInfo{}
	if _, err := xdrlib.Unmarshal(r, resp.Info); err != nil {
		return nil, fmt.Errorf("unmarshal fsinfo: %w", err)
	}
	return resp, nil
}
