package nfstest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"

	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/mount"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
)

type connection struct {
	server *Server
	conn   net.Conn
}

func newConnection(server *Server, conn net.Conn) *connection {
	return &connection{server: server, conn: conn}
}

// serve handles RPC requests until the client disconnects or the server
// shuts down.
func (c *connection) serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("nfstest: panic in connection handler from %s: %v", c.conn.RemoteAddr(), r)
		}
		_ = c.conn.Close()
	}()

	clientAddr := c.conn.RemoteAddr().String()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.handleRequest(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug("nfstest: connection from %s closed", clientAddr)
			} else {
				logger.Debug("nfstest: error handling request from %s: %v", clientAddr, err)
			}
			return
		}
	}
}

func (c *connection) handleRequest() error {
	message, err := rpc.ReadRecord(c.conn)
	if err != nil {
		return err
	}

	call, args, err := rpc.ReadCall(message)
	if err != nil {
		// Malformed call: nothing sensible to reply to.
		logger.Debug("nfstest: error parsing RPC call: %v", err)
		return nil
	}

	logger.Debug("nfstest: RPC call xid=0x%x program=%d version=%d procedure=%d",
		call.XID, call.Program, call.Version, call.Procedure)

	reply, err := c.dispatch(call, args)
	if err != nil {
		return err
	}
	return rpc.WriteRecord(c.conn, reply)
}

func (c *connection) dispatch(call *rpc.RPCCallMessage, args []byte) ([]byte, error) {
	var (
		table   map[uint32]procedure
		version uint32
	)
	switch call.Program {
	case rpc.ProgramNFS:
		table, version = nfsProcedures, v3.Version
	case rpc.ProgramMount:
		table, version = mountProcedures, mount.Version
	default:
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}

	if call.Version != version {
		return progMismatch(call.XID, version)
	}

	proc, ok := table[call.Procedure]
	if !ok {
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	auth := extractAuth(call, proc.name)
	results, err := proc.handler(c.server, auth, args)
	if err != nil {
		logger.Debug("nfstest: %s: garbage args: %v", proc.name, err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}
	return rpc.MakeSuccessReply(call.XID, results)
}

func progMismatch(xid, version uint32) ([]byte, error) {
	reply, err := rpc.MakeErrorReply(xid, rpc.RPCProgMismatch)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(reply)
	xdr.WriteUint32(buf, version)
	xdr.WriteUint32(buf, version)
	return buf.Bytes(), nil
}

// authInfo is the caller identity extracted from the credential.
type authInfo struct {
	flavor  uint32
	uid     uint32
	gid     uint32
	machine string
}

func extractAuth(call *rpc.RPCCallMessage, procedure string) authInfo {
	auth := authInfo{flavor: call.Cred.Flavor}
	if auth.flavor != rpc.AuthUnix {
		return auth
	}

	unixAuth, err := rpc.ParseUnixAuth(call.Cred.Body)
	if err != nil {
		logger.Warn("nfstest: %s: failed to parse AUTH_UNIX credentials: %v", procedure, err)
		return auth
	}
	auth.uid, auth.gid, auth.machine = unixAuth.UID, unixAuth.GID, unixAuth.MachineName
	return auth
}
