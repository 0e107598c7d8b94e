package rpc

// RPC program numbers.
const (
	ProgramPortmap = 100000
	ProgramNFS     = 100003
	ProgramMount   = 100005
)

// RPCVersion is the only ONC RPC version in use (RFC 5531).
const RPCVersion = 2

// Message types.
const (
	RPCCall  = 0
	RPCReply = 1
)

// Reply states.
const (
	RPCMsgAccepted = 0
	RPCMsgDenied   = 1
)

// Accept states.
const (
	RPCSuccess      = 0
	RPCProgUnavail  = 1
	RPCProgMismatch = 2
	RPCProcUnavail  = 3
	RPCGarbageArgs  = 4
	RPCSystemErr    = 5
)

// Reject states.
const (
	RPCMismatch = 0
	RPCAuthErr  = 1
)

// Authentication flavors.
const (
	AuthNull = 0
	AuthUnix = 1
)

// Record marking.
const (
	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF

	// MaxFragmentSize bounds a single fragment accepted from the wire.
	MaxFragmentSize = 1 << 20

	// MaxRecordSize bounds a reassembled multi-fragment record.
	MaxRecordSize = 4 << 20
)
