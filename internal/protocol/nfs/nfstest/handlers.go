package nfstest

import (
	"errors"
	"io/fs"
	"path"
	"strconv"

	"github.com/marmos91/dittoclient/internal/protocol/nfs/mount"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/rpc"
	"github.com/marmos91/dittoclient/internal/protocol/nfs/types"
	v3 "github.com/marmos91/dittoclient/internal/protocol/nfs/v3"
	"github.com/marmos91/dittoclient/pkg/backend"
)

// approxEntrySize is the READDIRPLUS budget charged per entry against
// maxcount.
const approxEntrySize = 160

type procedure struct {
	name string

	// handler returns the encoded procedure results. An error means the
	// arguments could not be decoded (GARBAGE_ARGS).
	handler func(s *Server, auth authInfo, args []byte) ([]byte, error)
}

type encoder interface {
	Encode() ([]byte, error)
}

var nfsProcedures = map[uint32]procedure{
	v3.ProcNull:        {"NULL", handleNull},
	v3.ProcGetAttr:     {"GETATTR", handleGetAttr},
	v3.ProcSetAttr:     {"SETATTR", handleSetAttr},
	v3.ProcLookup:      {"LOOKUP", handleLookup},
	v3.ProcRead:        {"READ", handleRead},
	v3.ProcWrite:       {"WRITE", handleWrite},
	v3.ProcCreate:      {"CREATE", handleCreate},
	v3.ProcMkdir:       {"MKDIR", handleMkdir},
	v3.ProcRemove:      {"REMOVE", handleRemove},
	v3.ProcRmdir:       {"RMDIR", handleRmdir},
	v3.ProcRename:      {"RENAME", handleRename},
	v3.ProcReadDirPlus: {"READDIRPLUS", handleReadDirPlus},
	v3.ProcFsInfo:      {"FSINFO", handleFsInfo},
	v3.ProcCommit:      {"COMMIT", handleCommit},
}

var mountProcedures = map[uint32]procedure{
	mount.ProcNull: {"NULL", handleNull},
	mount.ProcMnt:  {"MNT", handleMnt},
	mount.ProcUmnt: {"UMNT", handleUmnt},
}

// statusFor maps store errors to NFS status codes.
func statusFor(err error) uint32 {
	switch {
	case err == nil:
		return v3.NFS3OK
	case errors.Is(err, backend.ErrNotFound):
		return v3.NFS3ErrNoEnt
	case errors.Is(err, backend.ErrExists):
		return v3.NFS3ErrExist
	case errors.Is(err, backend.ErrNotDir):
		return v3.NFS3ErrNotDir
	case errors.Is(err, backend.ErrIsDir):
		return v3.NFS3ErrIsDir
	case errors.Is(err, backend.ErrNotEmpty):
		return v3.NFS3ErrNotEmpty
	case errors.Is(err, backend.ErrPermission):
		return v3.NFS3ErrAcces
	case errors.Is(err, backend.ErrInvalidPath):
		return v3.NFS3ErrInval
	default:
		return v3.NFS3ErrIO
	}
}

func (s *Server) attrFor(p string) (*types.FileAttr, error) {
	a, err := s.store.Stat(p)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.byPath[p]
	s.mu.Unlock()

	attr := &types.FileAttr{
		Type:   types.NF3REG,
		Mode:   uint32(a.Mode.Perm()),
		Nlink:  1,
		Size:   uint64(a.Size),
		Used:   uint64(a.Size),
		Fsid:   1,
		Fileid: id,
		Atime:  types.NewTimeVal(a.ModTime),
		Mtime:  types.NewTimeVal(a.ModTime),
		Ctime:  types.NewTimeVal(a.ModTime),
	}
	if a.IsDir() {
		attr.Type = types.NF3DIR
		attr.Nlink = 2
		attr.Size, attr.Used = 4096, 4096
	}
	if uid, err := strconv.ParseUint(a.Owner, 10, 32); err == nil {
		attr.UID = uint32(uid)
		attr.GID = uint32(uid)
	}
	return attr, nil
}

// optionalAttr returns post-operation attributes, nil when unavailable.
func (s *Server) optionalAttr(p string) *types.FileAttr {
	attr, err := s.attrFor(p)
	if err != nil {
		return nil
	}
	return attr
}

// resolve maps a handle to a live path. ok is false with status set when
// the handle is unknown or its path no longer exists.
func (s *Server) resolve(handle []byte) (string, uint32, bool) {
	p, _, ok := s.pathFor(handle)
	if !ok {
		return "", v3.NFS3ErrBadHandle, false
	}
	if _, err := s.store.Stat(p); err != nil {
		s.forget(p)
		return "", v3.NFS3ErrStale, false
	}
	return p, v3.NFS3OK, true
}

func (s *Server) resolveDir(handle []byte) (string, uint32, bool) {
	p, status, ok := s.resolve(handle)
	if !ok {
		return "", status, false
	}
	a, err := s.store.Stat(p)
	if err != nil {
		return "", statusFor(err), false
	}
	if !a.IsDir() {
		return "", v3.NFS3ErrNotDir, false
	}
	return p, v3.NFS3OK, true
}

func childPath(dir, name string) (string, uint32) {
	switch {
	case name == "" || len(name) > v3.MaxNameLength:
		return "", v3.NFS3ErrInval
	case name == ".":
		return dir, v3.NFS3OK
	case name == "..":
		parent, _ := backend.Split(dir)
		return parent, v3.NFS3OK
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return "", v3.NFS3ErrInval
		}
	}
	return path.Join(dir, name), v3.NFS3OK
}

func encode(e encoder) ([]byte, error) {
	return e.Encode()
}

// ============================================================================
// NFS procedures
// ============================================================================

func handleNull(*Server, authInfo, []byte) ([]byte, error) {
	return []byte{}, nil
}

func handleGetAttr(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeGetAttrRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.GetAttrResponse{}
	if status, injected := s.record("GETATTR"); injected {
		resp.Status = status
		return encode(resp)
	}

	p, status, ok := s.resolve(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	resp.Attr, err = s.attrFor(p)
	resp.Status = statusFor(err)
	return encode(resp)
}

func handleSetAttr(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeSetAttrRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.SetAttrResponse{}
	if status, injected := s.record("SETATTR"); injected {
		resp.Status = status
		return encode(resp)
	}

	p, status, ok := s.resolve(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	if req.Attr != nil && req.Attr.Size != nil {
		if err := s.store.Truncate(p, int64(*req.Attr.Size)); err != nil {
			resp.Status = statusFor(err)
			return encode(resp)
		}
	}
	resp.After = s.optionalAttr(p)
	return encode(resp)
}

func handleLookup(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeLookupRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.LookupResponse{}
	if status, injected := s.record("LOOKUP"); injected {
		resp.Status = status
		return encode(resp)
	}

	dir, status, ok := s.resolveDir(req.Dir)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	resp.DirAttr = s.optionalAttr(dir)

	child, status := childPath(dir, req.Name)
	if status != v3.NFS3OK {
		resp.Status = status
		return encode(resp)
	}
	resp.Handle = s.handleFor(child)
	if resp.Attr, err = s.attrFor(child); err != nil {
		s.forget(child)
		resp.Handle = nil
		resp.Status = statusFor(err)
	}
	return encode(resp)
}

func handleRead(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeReadRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.ReadResponse{}
	if status, injected := s.record("READ"); injected {
		resp.Status = status
		return encode(resp)
	}

	p, status, ok := s.resolve(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	data, err := s.store.ReadFile(p)
	if err != nil {
		resp.Status = statusFor(err)
		return encode(resp)
	}

	count := min(req.Count, s.fsinfo.Rtmax)
	size := uint64(len(data))
	start := min(req.Offset, size)
	end := min(start+uint64(count), size)

	resp.Data = data[start:end]
	resp.EOF = end == size
	resp.Attr = s.optionalAttr(p)
	return encode(resp)
}

func handleWrite(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeWriteRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.WriteResponse{}
	if status, injected := s.record("WRITE"); injected {
		resp.Status = status
		return encode(resp)
	}

	p, status, ok := s.resolve(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	if uint32(len(req.Data)) > s.fsinfo.Wtmax {
		resp.Status = v3.NFS3ErrInval
		return encode(resp)
	}

	resp.Before = captureWcc(s.optionalAttr(p))
	if err := s.store.WriteAt(p, req.Data, int64(req.Offset)); err != nil {
		resp.Status = statusFor(err)
		return encode(resp)
	}
	resp.After = s.optionalAttr(p)
	resp.Count = uint32(len(req.Data))
	resp.Committed = req.Stable
	resp.Verf = s.verf
	return encode(resp)
}

func handleCommit(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeCommitRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.CommitResponse{}
	if status, injected := s.record("COMMIT"); injected {
		resp.Status = status
		return encode(resp)
	}

	p, status, ok := s.resolve(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	resp.After = s.optionalAttr(p)
	resp.Verf = s.verf
	return encode(resp)
}

func handleCreate(s *Server, auth authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeCreateRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.CreateResponse{}
	if status, injected := s.record("CREATE"); injected {
		resp.Status = status
		return encode(resp)
	}

	dir, status, ok := s.resolveDir(req.Dir)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	child, status := childPath(dir, req.Name)
	if status != v3.NFS3OK {
		resp.Status = status
		return encode(resp)
	}
	resp.DirBefore = captureWcc(s.optionalAttr(dir))

	perm := fs.FileMode(0o644)
	if req.Attr != nil && req.Attr.Mode != nil {
		perm = fs.FileMode(*req.Attr.Mode).Perm()
	}

	existing, statErr := s.store.Stat(child)
	switch {
	case statErr == nil && req.Mode != v3.CreateUnchecked:
		resp.Status = v3.NFS3ErrExist
	case statErr == nil && existing.IsDir():
		resp.Status = v3.NFS3ErrIsDir
	case statErr == nil:
		if req.Attr != nil && req.Attr.Size != nil {
			err = s.store.Truncate(child, int64(*req.Attr.Size))
		}
		resp.Status = statusFor(err)
	default:
		err = s.store.WriteFile(child, []byte{}, perm, strconv.FormatUint(uint64(auth.uid), 10))
		resp.Status = statusFor(err)
	}

	if resp.Status == v3.NFS3OK {
		resp.Handle = s.handleFor(child)
		resp.Attr = s.optionalAttr(child)
	}
	resp.DirAfter = s.optionalAttr(dir)
	return encode(resp)
}

func handleMkdir(s *Server, auth authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeMkdirRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.MkdirResponse{}
	if status, injected := s.record("MKDIR"); injected {
		resp.Status = status
		return encode(resp)
	}

	dir, status, ok := s.resolveDir(req.Dir)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	child, status := childPath(dir, req.Name)
	if status != v3.NFS3OK {
		resp.Status = status
		return encode(resp)
	}
	resp.DirBefore = captureWcc(s.optionalAttr(dir))

	perm := fs.FileMode(0o755)
	if req.Attr != nil && req.Attr.Mode != nil {
		perm = fs.FileMode(*req.Attr.Mode).Perm()
	}
	err = s.store.Mkdir(child, perm, strconv.FormatUint(uint64(auth.uid), 10))
	resp.Status = statusFor(err)
	if err == nil {
		resp.Handle = s.handleFor(child)
		resp.Attr = s.optionalAttr(child)
	}
	resp.DirAfter = s.optionalAttr(dir)
	return encode(resp)
}

func handleRemove(s *Server, _ authInfo, args []byte) ([]byte, error) {
	return removeEntry(s, "REMOVE", args, false)
}

func handleRmdir(s *Server, _ authInfo, args []byte) ([]byte, error) {
	return removeEntry(s, "RMDIR", args, true)
}

func removeEntry(s *Server, name string, args []byte, wantDir bool) ([]byte, error) {
	req, err := v3.DecodeRemoveRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.RemoveResponse{}
	if status, injected := s.record(name); injected {
		resp.Status = status
		return encode(resp)
	}

	dir, status, ok := s.resolveDir(req.Dir)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	child, status := childPath(dir, req.Name)
	if status != v3.NFS3OK || child == dir || req.Name == ".." {
		if status == v3.NFS3OK {
			status = v3.NFS3ErrInval
		}
		resp.Status = status
		return encode(resp)
	}
	resp.DirBefore = captureWcc(s.optionalAttr(dir))

	a, err := s.store.Stat(child)
	switch {
	case err != nil:
		resp.Status = statusFor(err)
	case wantDir && !a.IsDir():
		resp.Status = v3.NFS3ErrNotDir
	case !wantDir && a.IsDir():
		resp.Status = v3.NFS3ErrIsDir
	default:
		resp.Status = statusFor(s.store.Remove(child))
	}
	resp.DirAfter = s.optionalAttr(dir)
	return encode(resp)
}

// handleRename supports regular files only, which is all the client needs.
func handleRename(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeRenameRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.RenameResponse{}
	if status, injected := s.record("RENAME"); injected {
		resp.Status = status
		return encode(resp)
	}

	fromDir, status, ok := s.resolveDir(req.From.Dir)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	toDir, status, ok := s.resolveDir(req.To.Dir)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	from, fromStatus := childPath(fromDir, req.From.Name)
	to, toStatus := childPath(toDir, req.To.Name)
	if fromStatus != v3.NFS3OK || toStatus != v3.NFS3OK || from == fromDir || to == toDir {
		resp.Status = v3.NFS3ErrInval
		return encode(resp)
	}

	resp.FromBefore = captureWcc(s.optionalAttr(fromDir))
	resp.ToBefore = captureWcc(s.optionalAttr(toDir))
	if err := s.store.Rename(from, to); err != nil {
		resp.Status = statusFor(err)
	} else {
		s.move(from, to)
	}
	resp.FromAfter = s.optionalAttr(fromDir)
	resp.ToAfter = s.optionalAttr(toDir)
	return encode(resp)
}

func handleReadDirPlus(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeReadDirPlusRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.ReadDirPlusResponse{}
	if status, injected := s.record("READDIRPLUS"); injected {
		resp.Status = status
		return encode(resp)
	}

	dir, status, ok := s.resolveDir(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	resp.DirAttr = s.optionalAttr(dir)

	if req.Cookie != 0 && req.CookieVerf != s.verf {
		resp.Status = v3.NFS3ErrBadCookie
		return encode(resp)
	}

	entries, err := s.store.ReadDir(dir)
	if err != nil {
		resp.Status = statusFor(err)
		return encode(resp)
	}

	limit := s.pageSize
	if budget := int(req.MaxCount / approxEntrySize); budget < limit {
		limit = budget
	}
	if limit < 1 {
		resp.Status = v3.NFS3ErrTooSmall
		return encode(resp)
	}

	// Cookies are 1-based positions in the sorted listing.
	start := min(int(req.Cookie), len(entries))
	end := min(start+limit, len(entries))
	for i := start; i < end; i++ {
		entry := entries[i]
		handle := s.handleFor(entry.Path)
		attr := s.optionalAttr(entry.Path)
		fileid := uint64(0)
		if attr != nil {
			fileid = attr.Fileid
		}
		resp.Entries = append(resp.Entries, types.DirEntryPlus{
			Fileid: fileid,
			Name:   entry.Name,
			Cookie: uint64(i + 1),
			Attr:   attr,
			Handle: handle,
		})
	}
	resp.CookieVerf = s.verf
	resp.EOF = end == len(entries)
	return encode(resp)
}

func handleFsInfo(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := v3.DecodeFsInfoRequest(args)
	if err != nil {
		return nil, err
	}
	resp := &v3.FsInfoResponse{}
	if status, injected := s.record("FSINFO"); injected {
		resp.Status = status
		return encode(resp)
	}

	p, status, ok := s.resolve(req.Handle)
	if !ok {
		resp.Status = status
		return encode(resp)
	}
	info := s.fsinfo
	resp.Info = &info
	resp.Attr = s.optionalAttr(p)
	return encode(resp)
}

func captureWcc(attr *types.FileAttr) *types.WccAttr {
	if attr == nil {
		return nil
	}
	return &types.WccAttr{Size: attr.Size, Mtime: attr.Mtime, Ctime: attr.Ctime}
}

// ============================================================================
// MOUNT procedures
// ============================================================================

func handleMnt(s *Server, auth authInfo, args []byte) ([]byte, error) {
	req, err := mount.DecodeRequest(args)
	if err != nil {
		return nil, err
	}
	if status, injected := s.record("MNT"); injected {
		return encode(&mount.Response{Status: status})
	}
	if req.DirPath != s.export {
		return encode(&mount.Response{Status: mount.MountErrNoEnt})
	}

	s.mu.Lock()
	s.mounts++
	s.mu.Unlock()

	return encode(&mount.Response{
		Status:      mount.MountOK,
		FileHandle:  s.handleFor("/"),
		AuthFlavors: []uint32{rpc.AuthUnix, rpc.AuthNull},
	})
}

func handleUmnt(s *Server, _ authInfo, args []byte) ([]byte, error) {
	req, err := mount.DecodeRequest(args)
	if err != nil {
		return nil, err
	}
	s.record("UMNT")
	if req.DirPath == s.export {
		s.mu.Lock()
		if s.mounts > 0 {
			s.mounts--
		}
		s.mu.Unlock()
	}
	return []byte{}, nil
}
