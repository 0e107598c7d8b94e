package s3

import (
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// mapError attaches the backend sentinel matching an S3 failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := sentinelFor(err); sentinel != nil {
		return fmt.Errorf("%w: %w", err, sentinel)
	}
	return err
}

func sentinelFor(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return backend.ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return backend.ErrNotFound
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return backend.ErrPermission
		}
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return backend.ErrDisconnected
	}
	return nil
}

// connectError classifies a failure to reach the bucket. Anything that is
// not a definite answer from S3 means the service could not be reached.
func connectError(err error) error {
	if sentinel := sentinelFor(err); sentinel != nil {
		return fmt.Errorf("%w: %w", err, sentinel)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%w: %w", err, backend.ErrDisconnected)
}

func isNotFound(err error) bool {
	return errors.Is(sentinelFor(err), backend.ErrNotFound)
}
