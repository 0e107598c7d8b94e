package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittoclient/pkg/backend"
)

// BackendTestSuite exercises the backend.Backend contract. It is shared by
// every driver so that they all classify errors the same way.
//
// Usage:
//
//	func TestMyDriver(t *testing.T) {
//	    suite := &backendtesting.BackendTestSuite{
//	        NewBackend: func(t *testing.T) backend.Backend {
//	            return mydriver.New(...)
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend returns a fresh, empty backend for each test. The suite
	// closes it when the test ends.
	NewBackend func(t *testing.T) backend.Backend

	// LargeFileSize overrides the size used by the large round-trip test.
	LargeFileSize int
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("Stat", suite.RunStatTests)
	t.Run("Directories", suite.RunDirectoryTests)
	t.Run("Files", suite.RunFileTests)
	t.Run("Remove", suite.RunRemoveTests)
}

func (suite *BackendTestSuite) open(t *testing.T) backend.Backend {
	t.Helper()
	b := suite.NewBackend(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testContext() context.Context {
	return context.Background()
}
