// Package nfstest provides an in-process NFSv3 and MOUNT server for tests.
//
// The server listens on a loopback TCP port and serves both programs on the
// same port. Its namespace is a memory.Store, so tests can seed and inspect
// content directly. File handles are 8-byte identifiers assigned per path;
// removing a path invalidates its handle (NFS3ERR_STALE).
package nfstest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/pkg/backend/memory"
)

// DefaultExport is the export path served when none is configured.
const DefaultExport = "/export"

// Server is an NFSv3 test server.
type Server struct {
	store    *memory.Store
	export   string
	pageSize int
	fsinfo   types.FSInfo
	verf     v3.Verifier

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	byPath   map[string]uint64
	byID     map[uint64]string
	nextID   uint64
	calls    map[string]int
	injected map[string]uint32
	mounts   int
}

// Option configures a Server.
type Option func(*Server)

// WithExport sets the export path clients must mount.
func WithExport(path string) Option {
	return func(s *Server) { s.export = path }
}

// WithStore serves an existing store.
func WithStore(store *memory.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithPageSize limits the entries returned by one READDIRPLUS reply.
func WithPageSize(n int) Option {
	return func(s *Server) { s.pageSize = n }
}

// WithMaxTransfer sets rtmax and wtmax reported by FSINFO.
func WithMaxTransfer(n uint32) Option {
	return func(s *Server) {
		s.fsinfo.Rtmax, s.fsinfo.Rtpref = n, n
		s.fsinfo.Wtmax, s.fsinfo.Wtpref = n, n
	}
}

// New returns an unstarted server.
func New(opts ...Option) *Server {
	s := &Server{
		export:   DefaultExport,
		pageSize: 64,
		fsinfo: types.FSInfo{
			Rtmax:       64 * 1024,
			Rtpref:      64 * 1024,
			Rtmult:      4096,
			Wtmax:       64 * 1024,
			Wtpref:      64 * 1024,
			Wtmult:      4096,
			Dtpref:      8192,
			MaxFileSize: 1 << 40,
			TimeDelta:   types.TimeVal{Nseconds: 1},
			Properties:  types.FSFHomogeneous | types.FSFCanSetTime,
		},
		verf:     v3.Verifier{'d', 'i', 't', 't', 'o', 't', 's', 't'},
		conns:    make(map[net.Conn]struct{}),
		byPath:   make(map[string]uint64),
		byID:     make(map[uint64]string),
		calls:    make(map[string]int),
		injected: make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = memory.NewStore()
	}
	return s
}

// Start listens on a loopback port and serves connections until Close.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	logger.Debug("nfstest: serving %s on %s", s.export, listener.Addr())
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("nfstest: accept: %v", err)
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newConnection(s, conn).serve(ctx)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Export returns the export path.
func (s *Server) Export() string {
	return s.export
}

// Store returns the namespace served by the server.
func (s *Server) Store() *memory.Store {
	return s.store
}

// Close stops the server and closes every connection.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	s.cancel()
	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

// DropConnections closes every open client connection while the server keeps
// listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// InjectStatus makes the next call of the named procedure (e.g. "WRITE",
// "MNT") fail with status.
func (s *Server) InjectStatus(proc string, status uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected[proc] = status
}

// Calls returns how many times the named procedure was invoked.
func (s *Server) Calls(proc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[proc]
}

// Mounts returns the number of currently active mounts.
func (s *Server) Mounts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounts
}

// record counts a call and returns an injected failure, if any.
func (s *Server) record(proc string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[proc]++
	status, ok := s.injected[proc]
	if ok {
		delete(s.injected, proc)
	}
	return status, ok
}

// ============================================================================
// File handles
// ============================================================================

func (s *Server) handleFor(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPath[path]
	if !ok {
		s.nextID++
		id = s.nextID
		s.byPath[path] = id
		s.byID[id] = path
	}
	handle := make([]byte, 8)
	binary.BigEndian.PutUint64(handle, id)
	return handle
}

func (s *Server) pathFor(handle []byte) (string, uint64, bool) {
	if len(handle) != 8 {
		return "", 0, false
	}
	id := binary.BigEndian.Uint64(handle)

	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.byID[id]
	return path, id, ok
}

func (s *Server) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPath[path]; ok {
		delete(s.byPath, path)
		delete(s.byID, id)
	}
}

// move transfers the handle of from to to. The replaced target's handle
// goes stale.
func (s *Server) move(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPath[to]; ok {
		delete(s.byPath, to)
		delete(s.byID, id)
	}
	if id, ok := s.byPath[from]; ok {
		delete(s.byPath, from)
		s.byPath[to] = id
		s.byID[id] = to
	}
}
