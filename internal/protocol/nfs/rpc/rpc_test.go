package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validAuthUnixCredentials() *UnixAuth {
	return &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: "dr.who",
		UID:         1000,
		GID:         1000,
		GIDs:        []uint32{4, 24, 27, 30},
	}
}

// serveOnce answers every call on conn with handler until conn closes.
func serveOnce(t *testing.T, conn net.Conn, handler func(call *RPCCallMessage, args []byte) [][]byte) {
	t.Helper()
	go func() {
		defer conn.Close()
		for {
			record, err := ReadRecord(conn)
			if err != nil {
				return
			}
			call, args, err := ReadCall(record)
			if err != nil {
				return
			}
			for _, reply := range handler(call, args) {
				if err := WriteRecord(conn, reply); err != nil {
					return
				}
			}
		}
	}()
}

// ============================================================================
// UnixAuth Tests
// ============================================================================

func TestUnixAuth(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		original := validAuthUnixCredentials()
		body, err := original.Encode()
		require.NoError(t, err)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("RejectsTooManyGIDs", func(t *testing.T) {
		auth := validAuthUnixCredentials()
		auth.GIDs = make([]uint32, 17)
		_, err := auth.Encode()
		assert.Error(t, err)
	})

	t.Run("RejectsTruncatedBody", func(t *testing.T) {
		body, err := validAuthUnixCredentials().Encode()
		require.NoError(t, err)
		_, err = ParseUnixAuth(body[:len(body)-2])
		assert.Error(t, err)
	})

	t.Run("OpaqueAuthFlavor", func(t *testing.T) {
		oa, err := validAuthUnixCredentials().OpaqueAuth()
		require.NoError(t, err)
		assert.Equal(t, uint32(AuthUnix), oa.Flavor)
	})
}

// ============================================================================
// Record Marking Tests
// ============================================================================

func TestRecordMarking(t *testing.T) {
	t.Run("SingleFragment", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteRecord(buf, []byte("hello")))

		header := binary.BigEndian.Uint32(buf.Bytes()[:4])
		assert.Equal(t, uint32(0x80000005), header)

		record, err := ReadRecord(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(record))
	})

	t.Run("MultipleFragments", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(3))
		buf.WriteString("abc")
		_ = binary.Write(buf, binary.BigEndian, uint32(0x80000002))
		buf.WriteString("de")

		record, err := ReadRecord(buf)
		require.NoError(t, err)
		assert.Equal(t, "abcde", string(record))
	})

	t.Run("RejectsOversizedFragment", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(0x80000000|(MaxFragmentSize+1)))

		_, err := ReadRecord(buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum")
	})
}

// ============================================================================
// Call / Reply Tests
// ============================================================================

func TestCallRoundTrip(t *testing.T) {
	cred, err := validAuthUnixCredentials().OpaqueAuth()
	require.NoError(t, err)

	call := &RPCCallMessage{
		XID:        42,
		MsgType:    RPCCall,
		RPCVersion: RPCVersion,
		Program:    ProgramNFS,
		Version:    3,
		Procedure:  1,
		Cred:       cred,
		Verf:       NullAuth(),
	}
	data, err := EncodeCall(call, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	decoded, args, err := ReadCall(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), decoded.XID)
	assert.Equal(t, uint32(ProgramNFS), decoded.Program)
	assert.Equal(t, cred.Body, decoded.Cred.Body)
	assert.Equal(t, []byte{1, 2, 3, 4}, args)
}

func TestReadCallRejectsReply(t *testing.T) {
	reply, err := MakeSuccessReply(1, nil)
	require.NoError(t, err)
	_, _, err = ReadCall(reply)
	assert.Error(t, err)
}

func TestParseReply(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		reply, err := MakeSuccessReply(7, []byte{0, 0, 0, 9})
		require.NoError(t, err)

		xid, results, err := ParseReply(reply)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), xid)
		assert.Equal(t, []byte{0, 0, 0, 9}, results)
	})

	t.Run("ProcUnavail", func(t *testing.T) {
		reply, err := MakeErrorReply(8, RPCProcUnavail)
		require.NoError(t, err)

		xid, _, err := ParseReply(reply)
		assert.Equal(t, uint32(8), xid)
		var acceptErr *AcceptError
		require.True(t, errors.As(err, &acceptErr))
		assert.Equal(t, uint32(RPCProcUnavail), acceptErr.Stat)
	})

	t.Run("Denied", func(t *testing.T) {
		buf := new(bytes.Buffer)
		for _, v := range []uint32{9, RPCReply, RPCMsgDenied, RPCAuthErr, 1} {
			_ = binary.Write(buf, binary.BigEndian, v)
		}

		_, _, err := ParseReply(buf.Bytes())
		var denied *DeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, uint32(1), denied.AuthStat)
	})

	t.Run("NotAReply", func(t *testing.T) {
		data, err := EncodeCall(&RPCCallMessage{XID: 1, Cred: NullAuth(), Verf: NullAuth()}, nil)
		require.NoError(t, err)
		_, _, err = ParseReply(data)
		assert.ErrorIs(t, err, ErrNotReply)
	})
}

// ============================================================================
// Client Tests
// ============================================================================

func TestClientCall(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serveOnce(t, serverConn, func(call *RPCCallMessage, args []byte) [][]byte {
		reply, _ := MakeSuccessReply(call.XID, append([]byte{}, args...))
		return [][]byte{reply}
	})

	client := NewClient(clientConn, NullAuth(), time.Second)
	defer client.Close()

	results, err := client.Call(context.Background(), ProgramNFS, 3, 0, []byte{0, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1}, results)
}

func TestClientDiscardsStaleReplies(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serveOnce(t, serverConn, func(call *RPCCallMessage, args []byte) [][]byte {
		stale, _ := MakeSuccessReply(call.XID-1, []byte{0xff, 0xff, 0xff, 0xff})
		good, _ := MakeSuccessReply(call.XID, []byte{0, 0, 0, 2})
		return [][]byte{stale, good}
	})

	client := NewClient(clientConn, NullAuth(), time.Second)
	defer client.Close()

	results, err := client.Call(context.Background(), ProgramNFS, 3, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 2}, results)
}

func TestClientAcceptErrorKeepsConnection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serveOnce(t, serverConn, func(call *RPCCallMessage, args []byte) [][]byte {
		if call.Procedure == 99 {
			reply, _ := MakeErrorReply(call.XID, RPCProcUnavail)
			return [][]byte{reply}
		}
		reply, _ := MakeSuccessReply(call.XID, nil)
		return [][]byte{reply}
	})

	client := NewClient(clientConn, NullAuth(), time.Second)
	defer client.Close()

	_, err := client.Call(context.Background(), ProgramNFS, 3, 99, nil)
	var acceptErr *AcceptError
	require.True(t, errors.As(err, &acceptErr))

	_, err = client.Call(context.Background(), ProgramNFS, 3, 0, nil)
	assert.NoError(t, err)
}

func TestClientBrokenTransport(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	require.NoError(t, serverConn.Close())

	client := NewClient(clientConn, NullAuth(), time.Second)
	_, err := client.Call(context.Background(), ProgramNFS, 3, 0, nil)
	assert.ErrorIs(t, err, ErrBroken)

	_, err = client.Call(context.Background(), ProgramNFS, 3, 0, nil)
	assert.ErrorIs(t, err, ErrBroken)
}

func TestClientTruncatedReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serveOnce(t, serverConn, func(call *RPCCallMessage, args []byte) [][]byte {
		return [][]byte{{0x00, 0x01}}
	})

	// No io timeout: a reply that cannot be matched must not block forever.
	client := NewClient(clientConn, NullAuth(), 0)
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), ProgramNFS, 3, 0, nil)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBroken)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after a truncated reply")
	}
}

func TestClientTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	go func() {
		// Read the call but never answer.
		_, _ = ReadRecord(serverConn)
	}()

	client := NewClient(clientConn, NullAuth(), 50*time.Millisecond)
	_, err := client.Call(context.Background(), ProgramNFS, 3, 0, nil)
	assert.ErrorIs(t, err, ErrBroken)
}

func TestClientContextCancel(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	go func() {
		_, _ = ReadRecord(serverConn)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := NewClient(clientConn, NullAuth(), 0)
	_, err := client.Call(ctx, ProgramNFS, 3, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	client := NewClient(clientConn, NullAuth(), time.Second)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Call(context.Background(), ProgramNFS, 3, 0, nil)
	assert.ErrorIs(t, err, ErrBroken)
}
