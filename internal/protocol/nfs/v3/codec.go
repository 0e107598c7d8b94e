package v3

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

func decodeHandle(r io.Reader) ([]byte, error) {
	handle, err := xdr.DecodeOpaque(r)
	if err != nil {
		return nil, fmt.Errorf("read handle: %w", err)
	}
	if len(handle) == 0 {
		return nil, fmt.Errorf("empty file handle")
	}
	if len(handle) > MaxHandleSize {
		return nil, fmt.Errorf("file handle length %d exceeds maximum %d", len(handle), MaxHandleSize)
	}
	return handle, nil
}

func decodeOptionalHandle(r io.Reader) ([]byte, error) {
	handle, err := xdr.DecodeOptionalOpaque(r)
	if err != nil {
		return nil, fmt.Errorf("read post_op_fh3: %w", err)
	}
	if len(handle) > MaxHandleSize {
		return nil, fmt.Errorf("file handle length %d exceeds maximum %d", len(handle), MaxHandleSize)
	}
	return handle, nil
}

// DirOpArgs is diropargs3: a directory handle and a name within it.
type DirOpArgs struct {
	Dir  []byte
	Name string
}

func (a *DirOpArgs) encode(buf *bytes.Buffer) {
	xdr.WriteOpaque(buf, a.Dir)
	xdr.WriteString(buf, a.Name)
}

func decodeDirOpArgs(r io.Reader) (DirOpArgs, error) {
	dir, err := decodeHandle(r)
	if err != nil {
		return DirOpArgs{}, fmt.Errorf("decode directory handle: %w", err)
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return DirOpArgs{}, fmt.Errorf("decode name: %w", err)
	}
	if len(name) > MaxNameLength {
		return DirOpArgs{}, fmt.Errorf("name length %d exceeds maximum %d", len(name), MaxNameLength)
	}
	return DirOpArgs{Dir: dir, Name: name}, nil
}

func decodeVerifier(r io.Reader) (Verifier, error) {
	var v Verifier
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return v, fmt.Errorf("read verifier: %w", err)
	}
	return v, nil
}

// encodeHandleOnly encodes arguments that consist of a single file handle
// (GETATTR, FSINFO).
func encodeHandleOnly(handle []byte) ([]byte, error) {
	if len(handle) == 0 || len(handle) > MaxHandleSize {
		return nil, fmt.Errorf("invalid file handle length %d", len(handle))
	}
	buf := new(bytes.Buffer)
	xdr.WriteOpaque(buf, handle)
	return buf.Bytes(), nil
}
