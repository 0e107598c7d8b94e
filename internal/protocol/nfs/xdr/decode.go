// Package xdr provides the XDR (RFC 4506) primitives used by the NFSv3 and
// MOUNT codecs: big-endian integers, opaque data with 4-byte padding,
// optional values, and the fattr3/sattr3/wcc_data compound types.
package xdr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// MaxOpaqueLength bounds variable-length opaque data accepted from the wire.
const MaxOpaqueLength = 1024 * 1024 // 1 MB

// Padding returns the number of zero bytes that follow length bytes of
// opaque data.
func Padding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}

// DecodeUint32 reads an unsigned 32-bit integer.
func DecodeUint32(reader io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeUint64 reads an unsigned 64-bit integer.
func DecodeUint64(reader io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeBool reads an XDR boolean.
func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// DecodeOpaque reads variable-length opaque data and skips its padding.
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	length, err := DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	if length > MaxOpaqueLength {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, MaxOpaqueLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	if padding := Padding(length); padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}

	return data, nil
}

// DecodeString reads an XDR string.
func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeOptionalOpaque reads an optional opaque value (post_op_fh3).
// Returns nil when the value is absent.
func DecodeOptionalOpaque(reader io.Reader) ([]byte, error) {
	present, err := DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("read present flag: %w", err)
	}
	if !present {
		return nil, nil
	}
	return DecodeOpaque(reader)
}

// DecodeFileAttr reads a fattr3.
func DecodeFileAttr(reader io.Reader) (*types.FileAttr, error) {
	attr := &types.FileAttr{}
	if _, err := xdr.Unmarshal(reader, attr); err != nil {
		return nil, fmt.Errorf("unmarshal fattr3: %w", err)
	}
	return attr, nil
}

// DecodeOptionalFileAttr reads a post_op_attr. Returns nil when absent.
func DecodeOptionalFileAttr(reader io.Reader) (*types.FileAttr, error) {
	present, err := DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("read attributes_follow: %w", err)
	}
	if !present {
		return nil, nil
	}
	return DecodeFileAttr(reader)
}

// DecodeWccData reads a wcc_data and returns the post-operation attributes.
// The pre-operation attributes are only needed for cache consistency, which
// this client does not keep.
func DecodeWccData(reader io.Reader) (*types.WccAttr, *types.FileAttr, error) {
	var before *types.WccAttr

	present, err := DecodeBool(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("read before present: %w", err)
	}
	if present {
		before = &types.WccAttr{}
		if _, err := xdr.Unmarshal(reader, before); err != nil {
			return nil, nil, fmt.Errorf("unmarshal wcc_attr: %w", err)
		}
	}

	after, err := DecodeOptionalFileAttr(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("decode after attributes: %w", err)
	}
	return before, after, nil
}

// DecodeSetAttrs reads a sattr3.
func DecodeSetAttrs(reader io.Reader) (*types.SetAttrs, error) {
	attr := &types.SetAttrs{}

	readOptional32 := func(name string) (*uint32, error) {
		set, err := DecodeBool(reader)
		if err != nil {
			return nil, fmt.Errorf("read set_%s: %w", name, err)
		}
		if !set {
			return nil, nil
		}
		v, err := DecodeUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return &v, nil
	}

	var err error
	if attr.Mode, err = readOptional32("mode"); err != nil {
		return nil, err
	}
	if attr.UID, err = readOptional32("uid"); err != nil {
		return nil, err
	}
	if attr.GID, err = readOptional32("gid"); err != nil {
		return nil, err
	}

	setSize, err := DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("read set_size: %w", err)
	}
	if setSize {
		size, err := DecodeUint64(reader)
		if err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
		attr.Size = &size
	}

	if attr.Atime, attr.AtimeServer, err = decodeSetTime(reader, "atime"); err != nil {
		return nil, err
	}
	if attr.Mtime, attr.MtimeServer, err = decodeSetTime(reader, "mtime"); err != nil {
		return nil, err
	}

	return attr, nil
}

func decodeSetTime(reader io.Reader, name string) (*types.TimeVal, bool, error) {
	how, err := DecodeUint32(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read set_%s: %w", name, err)
	}

	switch how {
	case timeDontChange:
		return nil, false, nil
	case timeSetToServer:
		return nil, true, nil
	case timeSetToClient:
		tv := &types.TimeVal{}
		if _, err := xdr.Unmarshal(reader, tv); err != nil {
			return nil, false, fmt.Errorf("read %s: %w", name, err)
		}
		return tv, false, nil
	default:
		return nil, false, fmt.Errorf("invalid set_%s value: %d", name, how)
	}
}
