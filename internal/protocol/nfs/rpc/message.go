package rpc

// RPCCallMessage is the header of an RPC call.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (transaction identifier)
//   - MsgType:    4 bytes (0 for CALL)
//   - RPCVersion: 4 bytes (2)
//   - Program:    4 bytes
//   - Version:    4 bytes
//   - Procedure:  4 bytes
//   - Cred:       variable
//   - Verf:       variable
//   - [procedure-specific arguments follow]
//
// Reference: RFC 5531 Section 9
type RPCCallMessage struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// RPCReplyMessage is the header of an accepted RPC reply.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (echoed from the call)
//   - MsgType:    4 bytes (1 for REPLY)
//   - ReplyState: 4 bytes (0=MSG_ACCEPTED, 1=MSG_DENIED)
//   - [if MSG_ACCEPTED:]
//   - Verf:       variable
//   - AcceptStat: 4 bytes
//   - [if SUCCESS: procedure results follow]
//   - [if PROG_MISMATCH: low and high versions follow]
//
// Denied replies carry a reject_stat instead of Verf/AcceptStat and are
// parsed field by field in ParseReply.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// OpaqueAuth is opaque_auth: an authentication flavor and its body.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}
