// Package v3 implements the NFSv3 (RFC 1813) procedure codecs used by the
// NFS backend and by the in-process test server.
//
// Every procedure has a Request and a Response type. Requests are encoded by
// the client and decoded by the server; responses the other way around. Only
// the procedures the client issues are implemented.
package v3

// Version is the NFS protocol version spoken by this package.
const Version = 3

// Procedure numbers (RFC 1813 Section 3.3).
const (
	// ProcNull - Do nothing (connectivity test)
	ProcNull = 0

	// ProcGetAttr - Get file attributes
	ProcGetAttr = 1

	// ProcSetAttr - Set file attributes
	ProcSetAttr = 2

	// ProcLookup - Lookup filename
	ProcLookup = 3

	// ProcRead - Read from file
	ProcRead = 6

	// ProcWrite - Write to file
	ProcWrite = 7

	// ProcCreate - Create a file
	ProcCreate = 8

	// ProcMkdir - Create a directory
	ProcMkdir = 9

	// ProcRemove - Remove a file
	ProcRemove = 12

	// ProcRmdir - Remove a directory
	ProcRmdir = 13

	// ProcRename - Rename a file or directory
	ProcRename = 14

	// ProcReadDirPlus - Extended read directory (with attributes)
	ProcReadDirPlus = 17

	// ProcFsInfo - Get static file system information
	ProcFsInfo = 19

	// ProcCommit - Commit cached data to stable storage
	ProcCommit = 21
)

// Status codes (RFC 1813 Section 2.6).
const (
	NFS3OK             = 0
	NFS3ErrPerm        = 1
	NFS3ErrNoEnt       = 2
	NFS3ErrIO          = 5
	NFS3ErrNXIO        = 6
	NFS3ErrAcces       = 13
	NFS3ErrExist       = 17
	NFS3ErrXDev        = 18
	NFS3ErrNoDev       = 19
	NFS3ErrNotDir      = 20
	NFS3ErrIsDir       = 21
	NFS3ErrInval       = 22
	NFS3ErrFBig        = 27
	NFS3ErrNoSpc       = 28
	NFS3ErrRofs        = 30
	NFS3ErrMLink       = 31
	NFS3ErrNameTooLong = 63
	NFS3ErrNotEmpty    = 66
	NFS3ErrDQuot       = 69
	NFS3ErrStale       = 70
	NFS3ErrRemote      = 71
	NFS3ErrBadHandle   = 10001
	NFS3ErrNotSync     = 10002
	NFS3ErrBadCookie   = 10003
	NFS3ErrNotSupp     = 10004
	NFS3ErrTooSmall    = 10005
	NFS3ErrServerFault = 10006
	NFS3ErrBadType     = 10007
	NFS3ErrJukebox     = 10008
)

// stable_how values for WRITE.
const (
	Unstable = 0
	DataSync = 1
	FileSync = 2
)

// createmode3 values for CREATE.
const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)

const (
	// MaxHandleSize is NFS3_FHSIZE.
	MaxHandleSize = 64

	// MaxNameLength bounds a single path component.
	MaxNameLength = 255

	// VerifierSize is NFS3_WRITEVERFSIZE / NFS3_COOKIEVERFSIZE / NFS3_CREATEVERFSIZE.
	VerifierSize = 8
)

// Verifier is an 8-byte write, cookie or create verifier.
type Verifier [VerifierSize]byte
