package v3

import (
	"bytes"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

// ============================================================================
// READ
// ============================================================================

// ReadRequest is READ3args.
type ReadRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
}

// ReadResponse is READ3res.
type ReadResponse struct {
	ResponseBase
	Attr *types.FileAttr
	EOF  bool
	Data []byte
}

// Encode marshals the request arguments.
func (req *ReadRequest) Encode() ([]byte, error) {
	if len(req.Handle) == 0 || len(req.Handle) > MaxHandleSize {
		return nil, fmt.Errorf("invalid file handle length %d", len(req.Handle))
	}
	buf := new(bytes.Buffer)
	xdr.WriteOpaque(buf, req.Handle)
	xdr.WriteUint64(buf, req.Offset)
	xdr.WriteUint32(buf, req.Count)
	return buf.Bytes(), nil
}

// DecodeReadRequest decodes READ3args.
func DecodeReadRequest(data []byte) (*ReadRequest, error) {
	r := bytes.NewReader(data)
	req := &ReadRequest{}

	var err error
	if req.Handle, err = decodeHandle(r); err != nil {
		return nil, fmt.Errorf("decode read: %w", err)
	}
	if req.Offset, err = xdr.DecodeUint64(r); err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	if req.Count, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	return req, nil
}

// Encode marshals the response.
func (resp *ReadResponse) Encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128+len(resp.Data)))
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(buf, resp.Attr); err != nil {
		return nil, err
	}
	if resp.Status == NFS3OK {
		xdr.WriteUint32(buf, uint32(len(resp.Data)))
		xdr.WriteBool(buf, resp.EOF)
		xdr.WriteOpaque(buf, resp.Data)
	}
	return buf.Bytes(), nil
}

// DecodeReadResponse decodes READ3res.
func DecodeReadResponse(data []byte) (*ReadResponse, error) {
	r := bytes.NewReader(data)
	resp := &ReadResponse{}

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

	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if resp.EOF, err = xdr.DecodeBool(r); err != nil {
		return nil, fmt.Errorf("read eof: %w", err)
	}
	if resp.Data, err = xdr.DecodeOpaque(r); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if uint32(len(resp.Data)) != count {
		return nil, fmt.Errorf("read count %d does not match data length %d", count, len(resp.Data))
	}
	return resp, nil
}

// ============================================================================
// WRITE
// ============================================================================

// WriteRequest is WRITE3args.
type WriteRequest struct {
	Handle []byte
	Offset uint64
	Stable uint32
	Data   []byte
}

// WriteResponse is WRITE3res.
type WriteResponse struct {
	ResponseBase
	Before    *types.WccAttr
	After     *types.FileAttr
	Count     uint32
	Committed uint32
	Verf      Verifier
}

// Encode marshals the request arguments.
func (req *WriteRequest) Encode() ([]byte, error) {
	if len(req.Handle) == 0 || len(req.Handle) > MaxHandleSize {
		return nil, fmt.Errorf("invalid file handle length %d", len(req.Handle))
	}
	buf := bytes.NewBuffer(make([]byte, 0, 96+len(req.Data)))
	xdr.WriteOpaque(buf, req.Handle)
	xdr.WriteUint64(buf, req.Offset)
	xdr.WriteUint32(buf, uint32(len(req.Data)))
	xdr.WriteUint32(buf, req.Stable)
	xdr.WriteOpaque(buf, req.Data)
	return buf.Bytes(), nil
}

// DecodeWriteRequest decodes WRITE3args.
func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
	r := bytes.NewReader(data)
	req := &WriteRequest{}

	var err error
	if req.Handle, err = decodeHandle(r); err != nil {
		return nil, fmt.Errorf("decode write: %w", err)
	}
	if req.Offset, err = xdr.DecodeUint64(r); err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if req.Stable, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read stable: %w", err)
	}
	if req.Stable > FileSync {
		return nil, fmt.Errorf("invalid stable_how %d", req.Stable)
	}
	if req.Data, err = xdr.DecodeOpaque(r); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if uint32(len(req.Data)) != count {
		return nil, fmt.Errorf("write count %d does not match data length %d", count, len(req.Data))
	}
	return req, nil
}

// Encode marshals the response.
func (resp *WriteResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeWccData(buf, resp.Before, resp.After); err != nil {
		return nil, err
	}
	if resp.Status == NFS3OK {
		xdr.WriteUint32(buf, resp.Count)
		xdr.WriteUint32(buf, resp.Committed)
		buf.Write(resp.Verf[:])
	}
	return buf.Bytes(), nil
}

// DecodeWriteResponse decodes WRITE3res.
func DecodeWriteResponse(data []byte) (*WriteResponse, error) {
	r := bytes.NewReader(data)
	resp := &WriteResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Before, resp.After, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	if resp.Status != NFS3OK {
		return resp, nil
	}
	if resp.Count, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if resp.Committed, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read committed: %w", err)
	}
	if resp.Verf, err = decodeVerifier(r); err != nil {
		return nil, err
	}
	return resp, nil
}

// ============================================================================
// COMMIT
// ============================================================================

// CommitRequest is COMMIT3args. A zero Count commits from Offset to the end
// of the file.
type CommitRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
}

// CommitResponse is COMMIT3res.
type CommitResponse struct {
	ResponseBase
	Before *types.WccAttr
	After  *types.FileAttr
	Verf   Verifier
}

// Encode marshals the request arguments.
func (req *CommitRequest) Encode() ([]byte, error) {
	if len(req.Handle) == 0 || len(req.Handle) > MaxHandleSize {
		return nil, fmt.Errorf("invalid file handle length %d", len(req.Handle))
	}
	buf := new(bytes.Buffer)
	xdr.WriteOpaque(buf, req.Handle)
	xdr.WriteUint64(buf, req.Offset)
	xdr.WriteUint32(buf, req.Count)
	return buf.Bytes(), nil
}

// DecodeCommitRequest decodes COMMIT3args.
func DecodeCommitRequest(data []byte) (*CommitRequest, error) {
	r := bytes.NewReader(data)
	req := &CommitRequest{}

	var err error
	if req.Handle, err = decodeHandle(r); err != nil {
		return nil, fmt.Errorf("decode commit: %w", err)
	}
	if req.Offset, err = xdr.DecodeUint64(r); err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}
	if req.Count, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	return req, nil
}

// Encode marshals the response.
func (resp *CommitResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeWccData(buf, resp.Before, resp.After); err != nil {
		return nil, err
	}
	if resp.Status == NFS3OK {
		buf.Write(resp.Verf[:])
	}
	return buf.Bytes(), nil
}

// DecodeCommitResponse decodes COMMIT3res.
func DecodeCommitResponse(data []byte) (*CommitResponse, error) {
	r := bytes.NewReader(data)
	resp := &CommitResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Before, resp.After, err = xdr.DecodeWccData(r); err != nil {
		return nil, err
	}
	if resp.Status != NFS3OK {
		return resp, nil
	}
	if resp.Verf, err = decodeVerifier(r); err != nil {
		return nil, err
	}
	return resp, nil
}
