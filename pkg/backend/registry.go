package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Opener opens a driver connection.
type Opener func(ctx context.Context, opts Options) (Backend, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// Register makes a driver available under an endpoint scheme.
// It panics if the scheme is registered twice.
func Register(scheme string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if open == nil {
		panic("backend: Register opener is nil")
	}
	if _, dup := drivers[scheme]; dup {
		panic("backend: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = open
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	schemes := make([]string, 0, len(drivers))
	for s := range drivers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open opens the driver registered for opts.Endpoint's scheme.
func Open(ctx context.Context, opts Options) (Backend, error) {
	if opts.Endpoint == nil {
		return nil, fmt.Errorf("endpoint is required: %w", ErrInvalidOptions)
	}

	driversMu.RLock()
	open, ok := drivers[opts.Endpoint.Scheme]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", opts.Endpoint.Scheme, ErrUnknownScheme)
	}
	return open(ctx, opts)
}
