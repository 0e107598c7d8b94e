// Command dittoctl moves files to and from remote filesystems.
//
//	dittoctl --endpoint nfs://server/export ls -r /
//	dittoctl --endpoint s3://bucket/prefix put ./heart.csv /test/heart.csv
//	dittoctl get /test/heart.csv ./heart.csv --progress
//
// Settings not given on the command line come from DITTOCLIENT_* variables
// and the configuration file written by "dittoctl init".
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittoclient/pkg/fsclient"
)

// Exit codes by error kind.
const (
	exitFailure       = 1
	exitNotFound      = 2
	exitConfiguration = 3
	exitConnection    = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "dittoctl: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var e *fsclient.Error
	if !errors.As(err, &e) {
		return exitFailure
	}
	switch e.Kind {
	case fsclient.KindNotFound:
		return exitNotFound
	case fsclient.KindConfiguration:
		return exitConfiguration
	case fsclient.KindConnection:
		return exitConnection
	default:
		return exitFailure
	}
}
