// Package types holds the NFSv3 wire structures shared by the client codecs
// and the in-process test server.
//
// Fixed-layout structures (FileAttr, WccAttr, FSInfo) are marshaled with
// go-xdr directly; their field order is the RFC 1813 wire order and must not
// be changed.
package types

import "time"

// File types (ftype3).
const (
	NF3REG  = 1
	NF3DIR  = 2
	NF3BLK  = 3
	NF3CHR  = 4
	NF3LNK  = 5
	NF3SOCK = 6
	NF3FIFO = 7
)

// TimeVal is nfstime3.
type TimeVal struct {
	Seconds  uint32
	Nseconds uint32
}

// NewTimeVal converts a time.Time to nfstime3.
func NewTimeVal(t time.Time) TimeVal {
	return TimeVal{
		Seconds:  uint32(t.Unix()),
		Nseconds: uint32(t.Nanosecond()),
	}
}

// Time converts nfstime3 to a time.Time.
func (tv TimeVal) Time() time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

// SpecData is specdata3 (device numbers).
type SpecData struct {
	Major uint32
	Minor uint32
}

// FileAttr is fattr3.
type FileAttr struct {
	Type   uint32
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	Fsid   uint64
	Fileid uint64
	Atime  TimeVal
	Mtime  TimeVal
	Ctime  TimeVal
}

// IsDir reports whether the attributes describe a directory.
func (a *FileAttr) IsDir() bool {
	return a.Type == NF3DIR
}

// WccAttr is the pre-operation part of wcc_data.
type WccAttr struct {
	Size  uint64
	Mtime TimeVal
	Ctime TimeVal
}

// SetAttrs is sattr3. Nil pointers mean "don't change".
type SetAttrs struct {
	Mode *uint32
	UID  *uint32
	GID  *uint32
	Size *uint64

	// Atime and Mtime set an explicit client time. AtimeServer and
	// MtimeServer ask the server to use its own clock instead.
	Atime *TimeVal
	Mtime *TimeVal

	AtimeServer bool
	MtimeServer bool
}

// DirEntryPlus is one entryplus3 from READDIRPLUS.
type DirEntryPlus struct {
	Fileid uint64
	Name   string
	Cookie uint64
	Attr   *FileAttr
	Handle []byte
}

// FSInfo is the body of a successful FSINFO3resok after the post-op attributes.
type FSInfo struct {
	Rtmax       uint32
	Rtpref      uint32
	Rtmult      uint32
	Wtmax       uint32
	Wtpref      uint32
	Wtmult      uint32
	Dtpref      uint32
	MaxFileSize uint64
	TimeDelta   TimeVal
	Properties  uint32
}

// FSINFO properties bits.
const (
	FSFLink        = 0x0001
	FSFSymlink     = 0x0002
	FSFHomogeneous = 0x0008
	FSFCanSetTime  = 0x0010
)
