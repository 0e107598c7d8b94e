package rpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/xdr"
	xdrlib "github.com/rasky/go-xdr/xdr2"
)

// ============================================================================
// Calls
// ============================================================================

// EncodeCall marshals a call header followed by the procedure arguments.
func EncodeCall(call *RPCCallMessage, args []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 64+len(call.Cred.Body)+len(args)))
	if _, err := xdrlib.Marshal(buf, call); err != nil {
		return nil, fmt.Errorf("marshal call: %w", err)
	}
	buf.Write(args)
	return buf.Bytes(), nil
}

// ReadCall decodes a call header and returns it together with the
// procedure arguments that follow it.
func ReadCall(data []byte) (*RPCCallMessage, []byte, error) {
	r := bytes.NewReader(data)
	call := &RPCCallMessage{}

	if _, err := xdrlib.Unmarshal(r, call); err != nil {
		return nil, nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}
	if call.MsgType != RPCCall {
		return nil, nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}

	args := data[len(data)-r.Len():]
	return call, args, nil
}

// ============================================================================
// Replies
// ============================================================================

// MakeSuccessReply builds an accepted SUCCESS reply carrying results.
func MakeSuccessReply(xid uint32, results []byte) ([]byte, error) {
	return makeAcceptedReply(xid, RPCSuccess, results)
}

// MakeErrorReply builds an accepted reply with a non-success accept_stat.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	return makeAcceptedReply(xid, acceptStat, nil)
}

func makeAcceptedReply(xid, acceptStat uint32, results []byte) ([]byte, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf:       NullAuth(),
		AcceptStat: acceptStat,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 24+len(results)))
	if _, err := xdrlib.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(results)
	return buf.Bytes(), nil
}

// AcceptError reports an accepted reply whose accept_stat is not SUCCESS.
type AcceptError struct {
	Stat uint32

	// Low and High are set for PROG_MISMATCH.
	Low, High uint32
}

func (e *AcceptError) Error() string {
	switch e.Stat {
	case RPCProgUnavail:
		return "rpc: program unavailable"
	case RPCProgMismatch:
		return fmt.Sprintf("rpc: program version mismatch (supported %d-%d)", e.Low, e.High)
	case RPCProcUnavail:
		return "rpc: procedure unavailable"
	case RPCGarbageArgs:
		return "rpc: server could not decode arguments"
	case RPCSystemErr:
		return "rpc: server system error"
	}
	return fmt.Sprintf("rpc: accept_stat %d", e.Stat)
}

// DeniedError reports a MSG_DENIED reply.
type DeniedError struct {
	RejectStat uint32

	// AuthStat is set when RejectStat is AUTH_ERROR.
	AuthStat uint32
}

func (e *DeniedError) Error() string {
	if e.RejectStat == RPCAuthErr {
		return fmt.Sprintf("rpc: call denied: authentication error %d", e.AuthStat)
	}
	return "rpc: call denied: rpc version mismatch"
}

// ErrNotReply is returned when a record is not an RPC reply.
var ErrNotReply = errors.New("rpc: message is not a reply")

// ParseReply decodes a reply record. It returns the XID and, for SUCCESS,
// the procedure results. Non-success replies return *AcceptError or
// *DeniedError together with the XID.
func ParseReply(data []byte) (uint32, []byte, error) {
	r := bytes.NewReader(data)

	xid, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read xid: %w", err)
	}
	msgType, err := xdr.DecodeUint32(r)
	if err != nil {
		return xid, nil, fmt.Errorf("read msg_type: %w", err)
	}
	if msgType != RPCReply {
		return xid, nil, ErrNotReply
	}

	state, err := xdr.DecodeUint32(r)
	if err != nil {
		return xid, nil, fmt.Errorf("read reply_stat: %w", err)
	}

	if state == RPCMsgDenied {
		return xid, nil, parseDenied(r)
	}
	if state != RPCMsgAccepted {
		return xid, nil, fmt.Errorf("invalid reply_stat %d", state)
	}

	// Verifier: flavor + opaque body.
	if _, err := xdr.DecodeUint32(r); err != nil {
		return xid, nil, fmt.Errorf("read verifier flavor: %w", err)
	}
	if _, err := xdr.DecodeOpaque(r); err != nil {
		return xid, nil, fmt.Errorf("read verifier body: %w", err)
	}

	stat, err := xdr.DecodeUint32(r)
	if err != nil {
		return xid, nil, fmt.Errorf("read accept_stat: %w", err)
	}

	switch stat {
	case RPCSuccess:
		return xid, data[len(data)-r.Len():], nil
	case RPCProgMismatch:
		e := &AcceptError{Stat: stat}
		e.Low, _ = xdr.DecodeUint32(r)
		e.High, _ = xdr.DecodeUint32(r)
		return xid, nil, e
	default:
		return xid, nil, &AcceptError{Stat: stat}
	}
}

func parseDenied(r io.Reader) error {
	rejectStat, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("read reject_stat: %w", err)
	}
	denied := &DeniedError{RejectStat: rejectStat}
	if rejectStat == RPCAuthErr {
		denied.AuthStat, _ = xdr.DecodeUint32(r)
	}
	return denied
}
