package fsclient

// Drivers register their endpoint scheme on import.
import (
	_ "github.com/marmos91/dittoclient/pkg/backend/badger"
	_ "github.com/marmos91/dittoclient/pkg/backend/local"
	_ "github.com/marmos91/dittoclient/pkg/backend/memory"
	_ "github.com/marmos91/dittoclient/pkg/backend/nfs"
	_ "github.com/marmos91/dittoclient/pkg/backend/s3"
)
