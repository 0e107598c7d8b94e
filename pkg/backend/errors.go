package backend

import "errors"

// ============================================================================
// Standard Backend Errors
// ============================================================================

// Drivers wrap these with the operation and path:
//
//	return fmt.Errorf("stat %s: %w", path, backend.ErrNotFound)
//
// The client classifies failures with errors.Is against these values.

var (
	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExists indicates an entry already exists at the path.
	ErrExists = errors.New("file exists")

	// ErrNotDir indicates a directory was required but a file was found,
	// either at the path itself or at one of its parents.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir indicates a regular file was required but a directory was found.
	ErrIsDir = errors.New("is a directory")

	// ErrNotEmpty indicates a directory cannot be removed because it has entries.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrPermission indicates the principal is not allowed to perform the operation.
	ErrPermission = errors.New("permission denied")

	// ErrInvalidPath indicates a malformed or empty path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrDisconnected indicates the connection to the service is closed or broken.
	ErrDisconnected = errors.New("not connected")

	// ErrClosed indicates use of a stream after Close.
	ErrClosed = errors.New("stream closed")

	// ErrUnknownScheme indicates no driver is registered for an endpoint scheme.
	ErrUnknownScheme = errors.New("unknown endpoint scheme")

	// ErrInvalidOptions indicates driver settings could not be decoded or are
	// missing required values.
	ErrInvalidOptions = errors.New("invalid driver options")
)
