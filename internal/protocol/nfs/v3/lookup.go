package v3

import (
	"bytes"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

// LookupRequest is LOOKUP3args: a directory handle and a single name.
// LOOKUP resolves one path component; full paths are walked by the caller.
type LookupRequest struct {
	DirOpArgs
}

// LookupResponse is LOOKUP3res.
type LookupResponse struct {
	ResponseBase

	// Handle and Attr describe the found object (NFS3_OK only).
	Handle []byte
	Attr   *types.FileAttr

	// DirAttr is optional on both success and failure.
	DirAttr *types.FileAttr
}

// Encode marshals the request arguments.
func (req *LookupRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	req.encode(buf)
	return buf.Bytes(), nil
}

// DecodeLookupRequest decodes LOOKUP3args.
func DecodeLookupRequest(data []byte) (*LookupRequest, error) {
	args, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode lookup: %w", err)
	}
	return &LookupRequest{DirOpArgs: args}, nil
}

// Encode marshals the response.
func (resp *LookupResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)

	if resp.Status == NFS3OK {
		xdr.WriteOpaque(buf, resp.Handle)
		if err := xdr.EncodeOptionalFileAttr(buf, resp.Attr); err != nil {
			return nil, err
		}
	}
	if err := xdr.EncodeOptionalFileAttr(buf, resp.DirAttr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLookupResponse decodes LOOKUP3res.
func DecodeLookupResponse(data []byte) (*LookupResponse, error) {
	r := bytes.NewReader(data)
	resp := &LookupResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Status == NFS3OK {
		if resp.Handle, err = decodeHandle(r); err != nil {
			return nil, err
		}
		if resp.Attr, err = xdr.DecodeOptionalFileAttr(r); err != nil {
			return nil, err
		}
	}
	if resp.DirAttr, err = xdr.DecodeOptionalFileAttr(r); err != nil {
		return nil, err
	}
	return resp, nil
}
