// Copyright 2026 The storevfs Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fuseserver exports a VFS as a kernel mount through FUSE. The
// kernel speaks inode ids; this bridge keeps an id-to-path table with
// lookup counts the way the kernel expects, and translates each op onto
// the path-addressed VFS surface.
package fuseserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// NewServer wraps the VFS in a fuse.Server ready for fuse.Mount.
func NewServer(vfs *fs.VFS) fuse.Server {
	srv := &fuseServer{
		vfs:     vfs,
		inodes:  make(map[fuseops.InodeID]*trackedInode),
		byPath:  make(map[string]fuseops.InodeID),
		handles: make(map[fuseops.HandleID]any),
		nextID:  fuseops.RootInodeID + 1,
	}

	root := &trackedInode{path: "/", lookupCount: 1}
	srv.inodes[fuseops.RootInodeID] = root
	srv.byPath["/"] = fuseops.RootInodeID

	return fuseutil.NewFileSystemServer(srv)
}

// trackedInode binds a kernel inode id to a VFS path.
type trackedInode struct {
	path        string
	lookupCount uint64
}

// dirHandle snapshots a directory at open time, as readdir positions must
// stay stable across calls.
type dirHandle struct {
	entries []fuseutil.Dirent
}

type fuseServer struct {
	fuseutil.NotImplementedFileSystem

	vfs *fs.VFS

	mu sync.Mutex

	// INVARIANT: byPath[inodes[id].path] == id for all live ids
	//
	// GUARDED_BY(mu)
	inodes map[fuseops.InodeID]*trackedInode
	byPath map[string]fuseops.InodeID

	// Values are *fs.Handle for files and *dirHandle for directories.
	//
	// GUARDED_BY(mu)
	handles      map[fuseops.HandleID]any
	nextID       fuseops.InodeID
	nextHandleID fuseops.HandleID
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// errno translates VFS errors into kernel errnos.
func errno(err error) error {
	if err == nil {
		return nil
	}

	var e *syserr.Error
	if errors.As(err, &e) {
		return unix.Errno(e.Errno)
	}

	return unix.EIO
}

func (srv *fuseServer) pathFor(id fuseops.InodeID) (string, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	in, ok := srv.inodes[id]
	if !ok {
		return "", unix.ESTALE
	}

	return in.path, nil
}

// trackPath hands out the id for a path, minting one on first lookup and
// bumping the lookup count.
func (srv *fuseServer) trackPath(p string) fuseops.InodeID {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if id, ok := srv.byPath[p]; ok {
		srv.inodes[id].lookupCount++
		return id
	}

	id := srv.nextID
	srv.nextID++
	srv.inodes[id] = &trackedInode{path: p, lookupCount: 1}
	srv.byPath[p] = id

	return id
}

// forgetPath drops any id bound to a path that no longer exists.
func (srv *fuseServer) forgetPath(p string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if id, ok := srv.byPath[p]; ok {
		delete(srv.byPath, p)
		delete(srv.inodes, id)
	}
}

func (srv *fuseServer) storeHandle(h any) fuseops.HandleID {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	id := srv.nextHandleID
	srv.nextHandleID++
	srv.handles[id] = h

	return id
}

func (srv *fuseServer) handleFor(id fuseops.HandleID) (any, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	h, ok := srv.handles[id]
	if !ok {
		return nil, unix.EBADF
	}

	return h, nil
}

func (srv *fuseServer) dropHandle(id fuseops.HandleID) any {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	h := srv.handles[id]
	delete(srv.handles, id)

	return h
}

// attributes converts an inode record for the kernel.
func attributes(st *inode.Inode) fuseops.InodeAttributes {
	mode := os.FileMode(st.Mode.Perm() & 0o777)
	switch st.Mode.FileType() {
	case inode.TypeDirectory:
		mode |= os.ModeDir
	case inode.TypeSymlink:
		mode |= os.ModeSymlink
	case inode.TypeCharDev:
		mode |= os.ModeDevice | os.ModeCharDevice
	}

	return fuseops.InodeAttributes{
		Size:   st.Size,
		Nlink:  st.Nlink,
		Mode:   mode,
		Atime:  inode.FromMillis(st.Atime),
		Mtime:  inode.FromMillis(st.Mtime),
		Ctime:  inode.FromMillis(st.Ctime),
		Crtime: inode.FromMillis(st.Birthtime),
		Uid:    st.Uid,
		Gid:    st.Gid,
	}
}

func direntType(m inode.Mode) fuseutil.DirentType {
	switch m.FileType() {
	case inode.TypeDirectory:
		return fuseutil.DT_Directory
	case inode.TypeSymlink:
		return fuseutil.DT_Link
	case inode.TypeCharDev:
		return fuseutil.DT_Char
	default:
		return fuseutil.DT_File
	}
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem
////////////////////////////////////////////////////////////////////////

func (srv *fuseServer) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	st, err := srv.vfs.StatFS(ctx, "/")
	if err != nil {
		return errno(err)
	}

	op.BlockSize = uint32(st.BlockSize)
	op.IoSize = uint32(st.BlockSize)
	return nil
}

func (srv *fuseServer) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	st, err := srv.vfs.Lstat(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Entry.Child = srv.trackPath(p)
	op.Entry.Attributes = attributes(st)
	return nil
}

func (srv *fuseServer) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	st, err := srv.vfs.Lstat(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Attributes = attributes(st)
	return nil
}

func (srv *fuseServer) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	if op.Size != nil {
		if err := srv.vfs.Truncate(ctx, p, int64(*op.Size)); err != nil {
			return errno(err)
		}
	}

	if op.Mode != nil {
		if err := srv.vfs.Chmod(ctx, p, inode.Mode((*op.Mode).Perm())); err != nil {
			return errno(err)
		}
	}

	if op.Atime != nil || op.Mtime != nil {
		st, err := srv.vfs.Lstat(ctx, p)
		if err != nil {
			return errno(err)
		}

		atime := inode.FromMillis(st.Atime)
		mtime := inode.FromMillis(st.Mtime)
		if op.Atime != nil {
			atime = *op.Atime
		}
		if op.Mtime != nil {
			mtime = *op.Mtime
		}

		if err := srv.vfs.Utimes(ctx, p, atime, mtime); err != nil {
			return errno(err)
		}
	}

	st, err := srv.vfs.Lstat(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Attributes = attributes(st)
	return nil
}

func (srv *fuseServer) ForgetInode(_ context.Context, op *fuseops.ForgetInodeOp) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	in, ok := srv.inodes[op.Inode]
	if !ok {
		return nil
	}

	if in.lookupCount <= op.N {
		delete(srv.inodes, op.Inode)
		if srv.byPath[in.path] == op.Inode {
			delete(srv.byPath, in.path)
		}
		return nil
	}

	in.lookupCount -= op.N
	return nil
}

func (srv *fuseServer) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	if err := srv.vfs.Mkdir(ctx, p, inode.Mode(op.Mode.Perm())); err != nil {
		return errno(err)
	}

	st, err := srv.vfs.Lstat(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Entry.Child = srv.trackPath(p)
	op.Entry.Attributes = attributes(st)
	return nil
}

func (srv *fuseServer) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	h, err := srv.vfs.OpenHandle(ctx, p, fs.O_CREAT|fs.O_EXCL|fs.O_RDWR, inode.Mode(op.Mode.Perm()), fs.OpenOptions{})
	if err != nil {
		return errno(err)
	}

	op.Entry.Child = srv.trackPath(p)
	op.Entry.Attributes = attributes(h.Stat())
	op.Handle = srv.storeHandle(h)
	return nil
}

func (srv *fuseServer) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	if err := srv.vfs.Symlink(ctx, op.Target, p); err != nil {
		return errno(err)
	}

	st, err := srv.vfs.Lstat(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Entry.Child = srv.trackPath(p)
	op.Entry.Attributes = attributes(st)
	return nil
}

func (srv *fuseServer) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	target, err := srv.vfs.Readlink(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Target = target
	return nil
}

func (srv *fuseServer) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}
	target, err := srv.pathFor(op.Target)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	if err := srv.vfs.Link(ctx, target, p); err != nil {
		return errno(err)
	}

	st, err := srv.vfs.Lstat(ctx, p)
	if err != nil {
		return errno(err)
	}

	op.Entry.Child = srv.trackPath(p)
	op.Entry.Attributes = attributes(st)
	return nil
}

func (srv *fuseServer) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParent, err := srv.pathFor(op.OldParent)
	if err != nil {
		return errno(err)
	}
	newParent, err := srv.pathFor(op.NewParent)
	if err != nil {
		return errno(err)
	}

	oldPath := path.Join(oldParent, op.OldName)
	newPath := path.Join(newParent, op.NewName)

	if err := srv.vfs.Rename(ctx, oldPath, newPath); err != nil {
		return errno(err)
	}

	// Ids bound to either name are stale now; the kernel will look up
	// fresh ones.
	srv.forgetPath(oldPath)
	srv.forgetPath(newPath)
	return nil
}

func (srv *fuseServer) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	if err := srv.vfs.Rmdir(ctx, p); err != nil {
		return errno(err)
	}

	srv.forgetPath(p)
	return nil
}

func (srv *fuseServer) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parent, err := srv.pathFor(op.Parent)
	if err != nil {
		return errno(err)
	}

	p := path.Join(parent, op.Name)
	if err := srv.vfs.Unlink(ctx, p); err != nil {
		return errno(err)
	}

	srv.forgetPath(p)
	return nil
}

func (srv *fuseServer) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	entries, err := srv.vfs.ReadDirEntries(ctx, p)
	if err != nil {
		return errno(err)
	}

	dh := &dirHandle{}
	for i, e := range entries {
		dh.entries = append(dh.entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  srv.trackPath(path.Join(p, e.Name)),
			Name:   e.Name,
			Type:   direntType(e.Stats.Mode),
		})
	}

	op.Handle = srv.storeHandle(dh)
	return nil
}

func (srv *fuseServer) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	raw, err := srv.handleFor(op.Handle)
	if err != nil {
		return errno(err)
	}

	dh, ok := raw.(*dirHandle)
	if !ok {
		return unix.EBADF
	}

	index := int(op.Offset)
	if index > len(dh.entries) {
		return unix.EINVAL
	}

	for _, e := range dh.entries[index:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}

	return nil
}

func (srv *fuseServer) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	srv.dropHandle(op.Handle)
	return nil
}

func (srv *fuseServer) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	h, err := srv.vfs.OpenHandle(ctx, p, fs.O_RDWR, 0, fs.OpenOptions{})
	if err != nil {
		// Retry read-only so 0444 files and read-only mounts still open.
		if !syserr.IsCode(err, syserr.EACCES) && !syserr.IsCode(err, syserr.EROFS) {
			return errno(err)
		}
		if h, err = srv.vfs.OpenHandle(ctx, p, fs.O_RDONLY, 0, fs.OpenOptions{}); err != nil {
			return errno(err)
		}
	}

	op.Handle = srv.storeHandle(h)
	op.KeepPageCache = false
	return nil
}

func (srv *fuseServer) fileHandle(id fuseops.HandleID) (*fs.Handle, error) {
	raw, err := srv.handleFor(id)
	if err != nil {
		return nil, err
	}

	h, ok := raw.(*fs.Handle)
	if !ok {
		return nil, unix.EBADF
	}

	return h, nil
}

func (srv *fuseServer) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, err := srv.fileHandle(op.Handle)
	if err != nil {
		return errno(err)
	}

	n, err := h.ReadAt(ctx, op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.EOF) {
		return errno(err)
	}

	return nil
}

func (srv *fuseServer) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	h, err := srv.fileHandle(op.Handle)
	if err != nil {
		return errno(err)
	}

	if _, err := h.WriteAt(ctx, op.Data, op.Offset); err != nil {
		return errno(err)
	}

	return nil
}

func (srv *fuseServer) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	h, err := srv.fileHandle(op.Handle)
	if err != nil {
		return errno(err)
	}

	return errno(h.Sync(ctx))
}

func (srv *fuseServer) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	h, err := srv.fileHandle(op.Handle)
	if err != nil {
		return errno(err)
	}

	return errno(h.Sync(ctx))
}

func (srv *fuseServer) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	raw := srv.dropHandle(op.Handle)
	if h, ok := raw.(*fs.Handle); ok {
		return errno(h.Close(ctx))
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

func (srv *fuseServer) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	val, err := srv.vfs.GetXattr(ctx, p, op.Name)
	if err != nil {
		return errno(err)
	}

	op.BytesRead = len(val)
	if len(op.Dst) == 0 {
		return nil
	}
	if len(op.Dst) < len(val) {
		return unix.ERANGE
	}

	copy(op.Dst, val)
	return nil
}

func (srv *fuseServer) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	names, err := srv.vfs.ListXattr(ctx, p)
	if err != nil {
		return errno(err)
	}

	var needed int
	for _, name := range names {
		needed += len(name) + 1
	}

	op.BytesRead = needed
	if len(op.Dst) == 0 {
		return nil
	}
	if len(op.Dst) < needed {
		return unix.ERANGE
	}

	off := 0
	for _, name := range names {
		off += copy(op.Dst[off:], name)
		op.Dst[off] = 0
		off++
	}

	return nil
}

func (srv *fuseServer) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	flags := 0
	switch op.Flags {
	case 0x1:
		flags = fs.XattrCreate
	case 0x2:
		flags = fs.XattrReplace
	}

	return errno(srv.vfs.SetXattr(ctx, p, op.Name, op.Value, flags))
}

func (srv *fuseServer) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	p, err := srv.pathFor(op.Inode)
	if err != nil {
		return errno(err)
	}

	return errno(srv.vfs.RemoveXattr(ctx, p, op.Name))
}

////////////////////////////////////////////////////////////////////////
// Mounting
////////////////////////////////////////////////////////////////////////

// Mount serves the VFS at mountPoint until the mount is interrupted or
// unmounted.
func Mount(ctx context.Context, vfs *fs.VFS, mountPoint, fsName string) (*fuse.MountedFileSystem, error) {
	cfg := &fuse.MountConfig{
		FSName:   fsName,
		ReadOnly: false,
	}

	mfs, err := fuse.Mount(mountPoint, NewServer(vfs), cfg)
	if err != nil {
		return nil, fmt.Errorf("fuse.Mount: %w", err)
	}

	return mfs, nil
}

// Unmount asks the kernel to release the mount.
func Unmount(mountPoint string) error {
	return fuse.Unmount(mountPoint)
}
