package v3

import (
	"bytes"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

// maxDirEntries bounds the entries accepted from a single READDIRPLUS reply.
const maxDirEntries = 1 << 16

// ReadDirPlusRequest is READDIRPLUS3args.
//
// Paging: the first call uses Cookie 0 and a zero CookieVerf; subsequent
// calls pass the cookie of the last entry received and the verifier from
// the previous reply.
type ReadDirPlusRequest struct {
	Handle     []byte
	Cookie     uint64
	CookieVerf Verifier
	DirCount   uint32
	MaxCount   uint32
}

// ReadDirPlusResponse is READDIRPLUS3res.
type ReadDirPlusResponse struct {
	ResponseBase
	DirAttr    *types.FileAttr
	CookieVerf Verifier
	Entries    []types.DirEntryPlus
	EOF        bool
}

// Encode marshals the request arguments.
func (req *ReadDirPlusRequest) Encode() ([]byte, error) {
	if len(req.Handle) == 0 || len(req.Handle) > MaxHandleSize {
		return nil, fmt.Errorf("invalid file handle length %d", len(req.Handle))
	}
	buf := new(bytes.Buffer)
	xdr.WriteOpaque(buf, req.Handle)
	xdr.WriteUint64(buf, req.Cookie)
	buf.Write(req.CookieVerf[:])
	xdr.WriteUint32(buf, req.DirCount)
	xdr.WriteUint32(buf, req.MaxCount)
	return buf.Bytes(), nil
}

// DecodeReadDirPlusRequest decodes READDIRPLUS3args.
func DecodeReadDirPlusRequest(data []byte) (*ReadDirPlusRequest, error) {
	r := bytes.NewReader(data)
	req := &ReadDirPlusRequest{}

	var err error
	if req.Handle, err = decodeHandle(r); err != nil {
		return nil, fmt.Errorf("decode readdirplus: %w", err)
	}
	if req.Cookie, err = xdr.DecodeUint64(r); err != nil {
		return nil, fmt.Errorf("read cookie: %w", err)
	}
	if req.CookieVerf, err = decodeVerifier(r); err != nil {
		return nil, err
	}
	if req.DirCount, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read dircount: %w", err)
	}
	if req.MaxCount, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read maxcount: %w", err)
	}
	return req, nil
}

// Encode marshals the response.
func (resp *ReadDirPlusResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(buf, resp.DirAttr); err != nil {
		return nil, err
	}
	if resp.Status != NFS3OK {
		return buf.Bytes(), nil
	}

	buf.Write(resp.CookieVerf[:])
	for i := range resp.Entries {
		entry := &resp.Entries[i]
		xdr.WriteBool(buf, true)
		xdr.WriteUint64(buf, entry.Fileid)
		xdr.WriteString(buf, entry.Name)
		xdr.WriteUint64(buf, entry.Cookie)
		if err := xdr.EncodeOptionalFileAttr(buf, entry.Attr); err != nil {
			return nil, fmt.Errorf("encode entry %q: %w", entry.Name, err)
		}
		xdr.EncodeOptionalOpaque(buf, entry.Handle)
	}
	xdr.WriteBool(buf, false)
	xdr.WriteBool(buf, resp.EOF)
	return buf.Bytes(), nil
}

// DecodeReadDirPlusResponse decodes READDIRPLUS3res.
func DecodeReadDirPlusResponse(data []byte) (*ReadDirPlusResponse, error) {
	r := bytes.NewReader(data)
	resp := &ReadDirPlusResponse{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.DirAttr, err = xdr.DecodeOptionalFileAttr(r); err != nil {
		return nil, err
	}
	if resp.Status != NFS3OK {
		return resp, nil
	}
	if resp.CookieVerf, err = decodeVerifier(r); err != nil {
		return nil, err
	}

	for {
		follows, err := xdr.DecodeBool(r)
		if err != nil {
			return nil, fmt.Errorf("read value_follows: %w", err)
		}
		if !follows {
			break
		}
		if len(resp.Entries) >= maxDirEntries {
			return nil, fmt.Errorf("too many directory entries in reply")
		}

		var entry types.DirEntryPlus
		if entry.Fileid, err = xdr.DecodeUint64(r); err != nil {
			return nil, fmt.Errorf("read fileid: %w", err)
		}
		if entry.Name, err = xdr.DecodeString(r); err != nil {
			return nil, fmt.Errorf("read name: %w", err)
		}
		if entry.Cookie, err = xdr.DecodeUint64(r); err != nil {
			return nil, fmt.Errorf("read cookie: %w", err)
		}
		if entry.Attr, err = xdr.DecodeOptionalFileAttr(r); err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
		}
		if entry.Handle, err = decodeOptionalHandle(r); err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
		}
		resp.Entries = append(resp.Entries, entry)
	}

	if resp.EOF, err = xdr.DecodeBool(r); err != nil {
		return nil, fmt.Errorf("read eof: %w", err)
	}
	return resp, nil
}
