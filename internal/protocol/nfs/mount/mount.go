package mount

import (
	"bytes"
	"context"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
	xdrlib "github.com/rasky/go-xdr/xdr2"
)

// Version is the MOUNT protocol version paired with NFSv3.
const Version = 3

// Procedures.
const (
	ProcNull = 0
	ProcMnt  = 1
	ProcUmnt = 3
)

// Status codes (mountstat3).
const (
	MountOK             = 0
	MountErrPerm        = 1
	MountErrNoEnt       = 2
	MountErrIO          = 5
	MountErrAccess      = 13
	MountErrNotDir      = 20
	MountErrInval       = 22
	MountErrNameTooLong = 63
	MountErrNotSupp     = 10004
	MountErrServerFault = 10006
)

const (
	maxPathLength  = 1024
	maxHandleSize  = 64
	maxAuthFlavors = 16
)

// StatusToString converts a mountstat3 to its RFC name.
func StatusToString(status uint32) string {
	switch status {
	case MountOK:
		return "MNT3_OK"
	case MountErrPerm:
		return "MNT3ERR_PERM"
	case MountErrNoEnt:
		return "MNT3ERR_NOENT"
	case MountErrIO:
		return "MNT3ERR_IO"
	case MountErrAccess:
		return "MNT3ERR_ACCES"
	case MountErrNotDir:
		return "MNT3ERR_NOTDIR"
	case MountErrInval:
		return "MNT3ERR_INVAL"
	case MountErrNameTooLong:
		return "MNT3ERR_NAMETOOLONG"
	case MountErrNotSupp:
		return "MNT3ERR_NOTSUPP"
	case MountErrServerFault:
		return "MNT3ERR_SERVERFAULT"
	default:
		return fmt.Sprintf("MOUNT_UNKNOWN_%d", status)
	}
}

// StatusError is returned when MNT fails.
type StatusError struct {
	DirPath string
	Status  uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mount %s: %s", e.DirPath, StatusToString(e.Status))
}

// ValidateExportPath checks that path is a plausible export path.
func ValidateExportPath(path string) error {
	if path == "" {
		return fmt.Errorf("export path cannot be empty")
	}
	if path[0] != '/' {
		return fmt.Errorf("export path must be absolute (start with /)")
	}
	if len(path) > maxPathLength {
		return fmt.Errorf("export path too long (max %d characters)", maxPathLength)
	}
	return nil
}

// ============================================================================
// MNT / UMNT codecs
// ============================================================================

// Request is the argument of MNT and UMNT: the export path.
type Request struct {
	DirPath string
}

// Encode marshals the request.
func (req *Request) Encode() ([]byte, error) {
	if err := ValidateExportPath(req.DirPath); err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if _, err := xdrlib.Marshal(buf, req); err != nil {
		return nil, fmt.Errorf("marshal mount request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest decodes a MNT or UMNT argument.
func DecodeRequest(data []byte) (*Request, error) {
	req := &Request{}
	if _, err := xdrlib.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mount request: %w", err)
	}
	if err := ValidateExportPath(req.DirPath); err != nil {
		return nil, fmt.Errorf("invalid export path: %w", err)
	}
	return req, nil
}

// Response is mountres3.
type Response struct {
	Status      uint32
	FileHandle  []byte
	AuthFlavors []uint32
}

// Encode marshals the response. Only the status is sent on failure.
func (resp *Response) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, resp.Status)
	if resp.Status != MountOK {
		return buf.Bytes(), nil
	}

	xdr.WriteOpaque(buf, resp.FileHandle)
	xdr.WriteUint32(buf, uint32(len(resp.AuthFlavors)))
	for _, flavor := range resp.AuthFlavors {
		xdr.WriteUint32(buf, flavor)
	}
	return buf.Bytes(), nil
}

// DecodeResponse decodes mountres3.
func DecodeResponse(data []byte) (*Response, error) {
	r := bytes.NewReader(data)
	resp := &Response{}

	var err error
	if resp.Status, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.Status != MountOK {
		return resp, nil
	}

	if resp.FileHandle, err = xdr.DecodeOpaque(r); err != nil {
		return nil, fmt.Errorf("read file handle: %w", err)
	}
	if len(resp.FileHandle) == 0 || len(resp.FileHandle) > maxHandleSize {
		return nil, fmt.Errorf("invalid root handle length %d", len(resp.FileHandle))
	}

	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read auth flavor count: %w", err)
	}
	if count > maxAuthFlavors {
		return nil, fmt.Errorf("too many auth flavors: %d", count)
	}
	resp.AuthFlavors = make([]uint32, count)
	for i := range resp.AuthFlavors {
		if resp.AuthFlavors[i], err = xdr.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read auth flavor: %w", err)
		}
	}
	return resp, nil
}

// ============================================================================
// Client
// ============================================================================

// Caller issues a single RPC. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, program, version, procedure uint32, args []byte) ([]byte, error)
}

// Client speaks MOUNT v3.
type Client struct {
	rpc Caller
}

// NewClient returns a Client using c for transport.
func NewClient(c Caller) *Client {
	return &Client{rpc: c}
}

// Mnt mounts dirPath and returns the root file handle and the
// authentication flavors the server accepts for it.
func (c *Client) Mnt(ctx context.Context, dirPath string) (*Response, error) {
	args, err := (&Request{DirPath: dirPath}).Encode()
	if err != nil {
		return nil, err
	}
	data, err := c.rpc.Call(ctx, rpc.ProgramMount, Version, ProcMnt, args)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, err
	}
	if resp.Status != MountOK {
		return nil, &StatusError{DirPath: dirPath, Status: resp.Status}
	}
	return resp, nil
}

// Umnt tells the server the client no longer uses dirPath. UMNT has no
// result.
func (c *Client) Umnt(ctx context.Context, dirPath string) error {
	args, err := (&Request{DirPath: dirPath}).Encode()
	if err != nil {
		return err
	}
	_, err = c.rpc.Call(ctx, rpc.ProgramMount, Version, ProcUmnt, args)
	return err
}
