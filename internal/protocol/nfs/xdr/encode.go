package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// time_how values for sattr3 atime/mtime.
const (
	timeDontChange  = 0
	timeSetToServer = 1
	timeSetToClient = 2
)

// WriteUint32 appends a big-endian uint32.
func WriteUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// WriteUint64 appends a big-endian uint64.
func WriteUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// WriteBool appends an XDR boolean.
func WriteBool(buf *bytes.Buffer, v bool) {
	if v {
		WriteUint32(buf, 1)
	} else {
		WriteUint32(buf, 0)
	}
}

// WriteOpaque appends variable-length opaque data followed by its padding.
func WriteOpaque(buf *bytes.Buffer, data []byte) {
	length := uint32(len(data))
	WriteUint32(buf, length)
	buf.Write(data)
	for range Padding(length) {
		buf.WriteByte(0)
	}
}

// WriteString appends an XDR string.
func WriteString(buf *bytes.Buffer, s string) {
	WriteOpaque(buf, []byte(s))
}

// EncodeOptionalOpaque appends an optional opaque value (post_op_fh3).
// Empty data is encoded as "not present".
func EncodeOptionalOpaque(buf *bytes.Buffer, data []byte) {
	if len(data) == 0 {
		WriteBool(buf, false)
		return
	}
	WriteBool(buf, true)
	WriteOpaque(buf, data)
}

// EncodeFileAttr appends a fattr3.
func EncodeFileAttr(buf *bytes.Buffer, attr *types.FileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}
	if _, err := xdr.Marshal(buf, attr); err != nil {
		return fmt.Errorf("marshal fattr3: %w", err)
	}
	return nil
}

// EncodeOptionalFileAttr appends a post_op_attr.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *types.FileAttr) error {
	if attr == nil {
		WriteBool(buf, false)
		return nil
	}
	WriteBool(buf, true)
	return EncodeFileAttr(buf, attr)
}

// EncodeWccData appends a wcc_data.
func EncodeWccData(buf *bytes.Buffer, before *types.WccAttr, after *types.FileAttr) error {
	if before != nil {
		WriteBool(buf, true)
		if _, err := xdr.Marshal(buf, before); err != nil {
			return fmt.Errorf("marshal wcc_attr: %w", err)
		}
	} else {
		WriteBool(buf, false)
	}

	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}
	return nil
}

// EncodeSetAttrs appends a sattr3.
func EncodeSetAttrs(buf *bytes.Buffer, attr *types.SetAttrs) {
	if attr == nil {
		attr = &types.SetAttrs{}
	}

	writeOptional32 := func(v *uint32) {
		if v == nil {
			WriteBool(buf, false)
			return
		}
		WriteBool(buf, true)
		WriteUint32(buf, *v)
	}

	writeOptional32(attr.Mode)
	writeOptional32(attr.UID)
	writeOptional32(attr.GID)

	if attr.Size == nil {
		WriteBool(buf, false)
	} else {
		WriteBool(buf, true)
		WriteUint64(buf, *attr.Size)
	}

	encodeSetTime(buf, attr.Atime, attr.AtimeServer)
	encodeSetTime(buf, attr.Mtime, attr.MtimeServer)
}

func encodeSetTime(buf *bytes.Buffer, tv *types.TimeVal, server bool) {
	switch {
	case server:
		WriteUint32(buf, timeSetToServer)
	case tv != nil:
		WriteUint32(buf, timeSetToClient)
		WriteUint32(buf, tv.Seconds)
		WriteUint32(buf, tv.Nseconds)
	default:
		WriteUint32(buf, timeDontChange)
	}
}

// CaptureWccAttr returns the pre-operation snapshot of attr.
func CaptureWccAttr(attr *types.FileAttr) *types.WccAttr {
	if attr == nil {
		return nil
	}
	return &types.WccAttr{
		Size:  attr.Size,
		Mtime: attr.Mtime,
		Ctime: attr.Ctime,
	}
}
