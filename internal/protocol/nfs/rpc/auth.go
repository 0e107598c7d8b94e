package rpc

import (
	"bytes"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

const (
	maxMachineNameLen = 255
	maxAuthGIDs       = 16
)

// UnixAuth is the body of an AUTH_UNIX (AUTH_SYS) credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// Encode returns the XDR body of the credential.
func (a *UnixAuth) Encode() ([]byte, error) {
	if len(a.MachineName) > maxMachineNameLen {
		return nil, fmt.Errorf("machine name too long: %d > %d", len(a.MachineName), maxMachineNameLen)
	}
	if len(a.GIDs) > maxAuthGIDs {
		return nil, fmt.Errorf("too many gids: %d > %d", len(a.GIDs), maxAuthGIDs)
	}

	buf := new(bytes.Buffer)
	xdr.WriteUint32(buf, a.Stamp)
	xdr.WriteString(buf, a.MachineName)
	xdr.WriteUint32(buf, a.UID)
	xdr.WriteUint32(buf, a.GID)
	xdr.WriteUint32(buf, uint32(len(a.GIDs)))
	for _, gid := range a.GIDs {
		xdr.WriteUint32(buf, gid)
	}
	return buf.Bytes(), nil
}

// OpaqueAuth wraps the credential for a call header.
func (a *UnixAuth) OpaqueAuth() (OpaqueAuth, error) {
	body, err := a.Encode()
	if err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: AuthUnix, Body: body}, nil
}

// NullAuth returns an AUTH_NULL credential or verifier.
func NullAuth() OpaqueAuth {
	return OpaqueAuth{Flavor: AuthNull, Body: []byte{}}
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	r := bytes.NewReader(body)
	auth := &UnixAuth{}

	var err error
	if auth.Stamp, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}
	if auth.MachineName, err = xdr.DecodeString(r); err != nil {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	if len(auth.MachineName) > maxMachineNameLen {
		return nil, fmt.Errorf("machine name too long: %d", len(auth.MachineName))
	}
	if auth.UID, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if auth.GID, err = xdr.DecodeUint32(r); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read gid count: %w", err)
	}
	if count > maxAuthGIDs {
		return nil, fmt.Errorf("too many gids: %d", count)
	}
	auth.GIDs = make([]uint32, count)
	for i := range auth.GIDs {
		if auth.GIDs[i], err = xdr.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read gid[%d]: %w", i, err)
		}
	}

	return auth, nil
}
