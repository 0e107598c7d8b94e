package fsclient

import (
	"errors"

	"github.com/marmos91/dittoclient/pkg/backend"
)

// Kind is the category of a client error.
//
// Callers branch on the kind; the wrapped cause carries the detail (for
// example backend.ErrNotEmpty inside a KindIO error).
type Kind int

const (
	// KindIO indicates a transfer, stream or remote operation failed
	KindIO Kind = iota

	// KindNotFound indicates the path does not exist where existence was
	// required
	KindNotFound

	// KindConnection indicates the connection could not be established or
	// is no longer usable
	KindConnection

	// KindConfiguration indicates an invalid or missing option
	KindConfiguration
)

// String returns the label form used in metrics.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNotFound:
		return "not_found"
	case KindConnection:
		return "connection"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

func (k Kind) describe() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConnection:
		return "connection error"
	case KindConfiguration:
		return "configuration error"
	default:
		return "I/O error"
	}
}

// kindSentinel lets errors.Is match an *Error by kind alone.
type kindSentinel Kind

func (s kindSentinel) Error() string {
	return Kind(s).describe()
}

// Sentinels matching any *Error of the corresponding kind:
//
//	if errors.Is(err, fsclient.ErrNotFound) { ... }
var (
	ErrIO            error = kindSentinel(KindIO)
	ErrNotFound      error = kindSentinel(KindNotFound)
	ErrConnection    error = kindSentinel(KindConnection)
	ErrConfiguration error = kindSentinel(KindConfiguration)
)

// Error is returned by every Conn operation. It records the kind, the
// operation and the remote (or local) path that triggered it.
type Error struct {
	Kind Kind

	// Op is the client operation, e.g. "upload" or "list"
	Op string

	// Path is the path the operation was acting on, empty for connect
	Path string

	// Err is the underlying cause
	Err error
}

// Error renders "<op> <path>: <kind>: <cause>".
func (e *Error) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	s += ": " + e.Kind.describe()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s, ok := target.(kindSentinel)
	return ok && Kind(s) == e.Kind
}

// KindOf returns the kind of err. Errors that did not come from this
// package are classified the way driver errors are.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConnection(err error) bool    { return errors.Is(err, ErrConnection) }
func IsIO(err error) bool            { return errors.Is(err, ErrIO) }
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// classify maps a driver error to a kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, backend.ErrDisconnected):
		return KindConnection
	case errors.Is(err, backend.ErrNotFound):
		return KindNotFound
	case errors.Is(err, backend.ErrUnknownScheme), errors.Is(err, backend.ErrInvalidOptions):
		return KindConfiguration
	default:
		return KindIO
	}
}

// absent reports whether err from resolving a path means nothing is there:
// the entry is missing or one of its ancestors is a file.
func absent(err error) bool {
	return errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrNotDir)
}

// wrapLookup is wrap for operations that resolve an existing entry. A file
// in the middle of the path makes the entry not found rather than an I/O
// failure.
func wrapLookup(op, path string, err error) error {
	var e *Error
	if errors.Is(err, backend.ErrNotDir) && !errors.As(err, &e) && classify(err) == KindIO {
		return &Error{Kind: KindNotFound, Op: op, Path: path, Err: err}
	}
	return wrap(op, path, err)
}

// wrap translates err into an *Error for op on path. Errors that already
// are *Error pass through unchanged.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Path: path, Err: err}
}

// newError builds an *Error of an explicit kind.
func newError(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
