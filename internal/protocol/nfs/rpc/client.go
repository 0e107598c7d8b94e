package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoclient/internal/logger"
)

// ErrBroken is returned once the transport has failed; the client must be
// re-dialed.
var ErrBroken = errors.New("rpc: connection broken")

// Client issues ONC RPC calls over a single stream connection.
//
// Calls are serialized: one request is in flight at a time and replies with
// an unexpected XID (late answers to abandoned calls) are discarded.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	cred      OpaqueAuth
	ioTimeout time.Duration
	xid       uint32
	broken    error
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string, cred OpaqueAuth, ioTimeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn, cred, ioTimeout), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, cred OpaqueAuth, ioTimeout time.Duration) *Client {
	return &Client{
		conn:      conn,
		cred:      cred,
		ioTimeout: ioTimeout,
		xid:       uuid.New().ID(),
	}
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Call invokes a procedure and returns its results.
//
// Transport failures mark the client broken and are returned wrapped in
// ErrBroken. RPC-level rejections are returned as *AcceptError or
// *DeniedError and leave the client usable.
func (c *Client) Call(ctx context.Context, program, version, procedure uint32, args []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, c.broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.xid++
	xid := c.xid

	call := &RPCCallMessage{
		XID:        xid,
		MsgType:    RPCCall,
		RPCVersion: RPCVersion,
		Program:    program,
		Version:    version,
		Procedure:  procedure,
		Cred:       c.cred,
		Verf:       NullAuth(),
	}
	msg, err := EncodeCall(call, args)
	if err != nil {
		return nil, err
	}

	c.setDeadline(ctx)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteRecord(c.conn, msg); err != nil {
		return nil, c.fail(ctx, "write", err)
	}

	for {
		record, err := ReadRecord(c.conn)
		if err != nil {
			return nil, c.fail(ctx, "read", err)
		}

		replyXID, results, err := ParseReply(record)
		if len(record) < 4 {
			// No xid, so the reply cannot be matched to any call.
			return nil, c.fail(ctx, "parse", err)
		}
		if replyXID != xid {
			logger.Debug("rpc: discarding reply for xid 0x%x (waiting for 0x%x)", replyXID, xid)
			continue
		}
		if err != nil {
			return nil, err
		}
		return results, nil
	}
}

func (c *Client) setDeadline(ctx context.Context) {
	var deadline time.Time
	if c.ioTimeout > 0 {
		deadline = time.Now().Add(c.ioTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
}

// fail marks the client broken. A cancelled context is reported as such
// since the connection state after an interrupted exchange is unknown.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	c.broken = fmt.Errorf("%w: %s: %v", ErrBroken, op, err)
	_ = c.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", c.broken, ctxErr)
	}
	return c.broken
}

// Close closes the connection. Further calls fail with ErrBroken.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil
	}
	c.broken = fmt.Errorf("%w: closed", ErrBroken)
	return c.conn.Close()
}
