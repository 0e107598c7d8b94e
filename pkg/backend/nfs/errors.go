package nfs

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/mount"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// mapError attaches the backend sentinel matching an NFS, MOUNT or
// transport failure. The original error stays in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr *v3.StatusError
	if errors.As(err, &statusErr) {
		if sentinel := statusSentinel(statusErr.Status); sentinel != nil {
			return fmt.Errorf("%w: %w", err, sentinel)
		}
		return err
	}

	var mountErr *mount.StatusError
	if errors.As(err, &mountErr) {
		if sentinel := mountSentinel(mountErr.Status); sentinel != nil {
			return fmt.Errorf("%w: %w", err, sentinel)
		}
		return err
	}

	if errors.Is(err, rpc.ErrBroken) {
		return fmt.Errorf("%w: %w", backend.ErrDisconnected, err)
	}
	return err
}

func statusSentinel(status uint32) error {
	switch status {
	case v3.NFS3ErrNoEnt:
		return backend.ErrNotFound
	case v3.NFS3ErrExist:
		return backend.ErrExists
	case v3.NFS3ErrNotDir:
		return backend.ErrNotDir
	case v3.NFS3ErrIsDir:
		return backend.ErrIsDir
	case v3.NFS3ErrNotEmpty:
		return backend.ErrNotEmpty
	case v3.NFS3ErrAcces, v3.NFS3ErrPerm, v3.NFS3ErrRofs:
		return backend.ErrPermission
	case v3.NFS3ErrInval, v3.NFS3ErrNameTooLong:
		return backend.ErrInvalidPath
	}
	return nil
}

func mountSentinel(status uint32) error {
	switch status {
	case mount.MountErrNoEnt:
		return backend.ErrNotFound
	case mount.MountErrNotDir:
		return backend.ErrNotDir
	case mount.MountErrPerm, mount.MountErrAccess:
		return backend.ErrPermission
	}
	return nil
}

func isStatus(err error, status uint32) bool {
	var statusErr *v3.StatusError
	return errors.As(err, &statusErr) && statusErr.Status == status
}
