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

package fs

import (
	"context"
	"io"
	"sync"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// Seek whence values, matching io.Seeker.
const (
	SeekSet = io.SeekStart
	SeekCur = io.SeekCurrent
	SeekEnd = io.SeekEnd
)

// Handle is the per-open state: flags, cursor, a reference to the inode
// snapshot, and dirty/closed bits.
type Handle struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	vfs   *VFS
	ent   *mountEntry
	path  string
	local string
	flag  OpenFlags

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// The inode snapshot this handle acts on. Metadata edits accumulate
	// here until a sync writes them back.
	//
	// GUARDED_BY(mu)
	st *inode.Inode

	// GUARDED_BY(mu)
	pos    int64
	dirty  bool
	closed bool
}

// Path returns the user path the handle was opened at.
func (h *Handle) Path() string {
	return h.path
}

// Stat returns a copy of the handle's inode snapshot.
func (h *Handle) Stat() *inode.Inode {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.st.Clone()
}

// effectivePos implements append semantics: a handle opened with O_APPEND
// always observes the end of file as its position.
//
// LOCKS_REQUIRED(h.mu)
func (h *Handle) effectivePos() int64 {
	if h.flag&FlagAppend != 0 {
		return int64(h.st.Size)
	}

	return h.pos
}

//
// LOCKS_REQUIRED(h.mu)
func (h *Handle) checkOpen(syscall string) error {
	if h.closed {
		return syserr.WithSyscall(syserr.EBADF, h.path, syscall)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Reading
////////////////////////////////////////////////////////////////////////

// Read fills buf from the cursor, advancing it. Returns io.EOF at end of
// file.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.readLocked(ctx, buf, h.effectivePos(), true)
}

// ReadAt reads at an explicit offset without moving the cursor.
func (h *Handle) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off < 0 {
		return 0, syserr.WithSyscall(syserr.EINVAL, h.path, "read")
	}

	return h.readLocked(ctx, buf, off, false)
}

// Readv scatters one contiguous read across bufs.
func (h *Handle) Readv(ctx context.Context, bufs [][]byte) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var total int64
	for _, buf := range bufs {
		n, err := h.readLocked(ctx, buf, h.effectivePos(), true)
		total += int64(n)
		if err != nil {
			if err == io.EOF && total > 0 {
				return total, nil
			}
			return total, err
		}
		if n < len(buf) {
			break
		}
	}

	return total, nil
}

// LOCKS_REQUIRED(h.mu)
func (h *Handle) readLocked(ctx context.Context, buf []byte, off int64, advance bool) (int, error) {
	if err := h.checkOpen("read"); err != nil {
		return 0, err
	}
	if !h.flag.MayRead() {
		return 0, syserr.WithSyscall(syserr.EPERM, h.path, "read")
	}

	// Character devices have no meaningful size; the driver decides how
	// much a read yields.
	want := int64(len(buf))
	if !h.st.Mode.IsCharDev() {
		size := int64(h.st.Size)
		if off >= size {
			if len(buf) == 0 {
				return 0, nil
			}
			return 0, io.EOF
		}
		if off+want > size {
			want = size - off
		}
	}

	h.ent.lock()
	n, err := h.ent.fs.ReadAt(ctx, h.local, buf[:want], off)
	h.ent.unlock()

	if err != nil {
		return n, rewriteErr(err, h.path)
	}

	if advance {
		h.pos = off + int64(n)
	}

	if h.ent.fs.Attrs().NoAtime || h.st.Flags&inode.FlagNoAtime != 0 {
		return n, nil
	}

	h.st.TouchAccessed(h.vfs.s.clock)
	h.dirty = true

	if h.flag&FlagSync != 0 {
		if err := h.syncLocked(ctx, nil); err != nil {
			return n, err
		}
	}

	return n, nil
}

////////////////////////////////////////////////////////////////////////
// Writing
////////////////////////////////////////////////////////////////////////

// Write stores buf at the cursor (or end of file for append handles).
func (h *Handle) Write(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.writeLocked(ctx, buf, h.effectivePos(), true)
}

// WriteAt writes at an explicit offset without moving the cursor.
func (h *Handle) WriteAt(ctx context.Context, buf []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off < 0 {
		return 0, syserr.WithSyscall(syserr.EINVAL, h.path, "write")
	}

	return h.writeLocked(ctx, buf, off, false)
}

// Writev gathers bufs into sequential writes at the cursor.
func (h *Handle) Writev(ctx context.Context, bufs [][]byte) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var total int64
	for _, buf := range bufs {
		n, err := h.writeLocked(ctx, buf, h.effectivePos(), true)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// LOCKS_REQUIRED(h.mu)
func (h *Handle) writeLocked(ctx context.Context, buf []byte, off int64, advance bool) (int, error) {
	if err := h.checkOpen("write"); err != nil {
		return 0, err
	}
	if !h.flag.MayWrite() {
		return 0, syserr.WithSyscall(syserr.EPERM, h.path, "write")
	}
	if h.ent.fs.Attrs().ReadOnly {
		return 0, syserr.WithSyscall(syserr.EROFS, h.path, "write")
	}
	if h.st.Flags&inode.FlagImmutable != 0 {
		return 0, syserr.WithSyscall(syserr.EPERM, h.path, "write")
	}
	if h.st.Flags&inode.FlagAppendOnly != 0 && off != int64(h.st.Size) {
		return 0, syserr.WithSyscall(syserr.EPERM, h.path, "write")
	}

	h.ent.lock()
	n, err := h.ent.fs.WriteAt(ctx, h.local, buf, off)
	h.ent.unlock()

	if err != nil {
		return n, rewriteErr(err, h.path)
	}

	end := off + int64(n)
	if advance {
		h.pos = end
	}
	if uint64(end) > h.st.Size {
		h.st.Size = uint64(end)
	}
	h.st.TouchModified(h.vfs.s.clock)
	h.dirty = true

	if h.flag&FlagSync != 0 {
		if err := h.syncLocked(ctx, nil); err != nil {
			return n, err
		}
	}

	return n, nil
}

////////////////////////////////////////////////////////////////////////
// Cursor and size
////////////////////////////////////////////////////////////////////////

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkOpen("lseek"); err != nil {
		return 0, err
	}

	var next int64
	switch whence {
	case SeekSet:
		next = offset
	case SeekCur:
		next = h.effectivePos() + offset
	case SeekEnd:
		next = int64(h.st.Size) + offset
	default:
		return 0, syserr.WithSyscall(syserr.EINVAL, h.path, "lseek")
	}

	if next < 0 {
		return 0, syserr.WithSyscall(syserr.EINVAL, h.path, "lseek")
	}

	h.pos = next
	return next, nil
}

// Truncate sets the file's size; extended regions read back as zeros.
func (h *Handle) Truncate(ctx context.Context, size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkOpen("ftruncate"); err != nil {
		return err
	}
	if size < 0 {
		return syserr.WithSyscall(syserr.EINVAL, h.path, "ftruncate")
	}
	if !h.flag.MayWrite() {
		return syserr.WithSyscall(syserr.EPERM, h.path, "ftruncate")
	}
	if h.st.Flags&inode.FlagImmutable != 0 {
		return syserr.WithSyscall(syserr.EPERM, h.path, "ftruncate")
	}

	data := make([]byte, size)
	readLen := int64(h.st.Size)
	if readLen > size {
		readLen = size
	}

	if readLen > 0 {
		h.ent.lock()
		_, err := h.ent.fs.ReadAt(ctx, h.local, data[:readLen], 0)
		h.ent.unlock()
		if err != nil {
			return rewriteErr(err, h.path)
		}
	}

	h.st.Size = uint64(size)
	h.st.TouchModified(h.vfs.s.clock)
	h.dirty = false

	h.ent.lock()
	defer h.ent.unlock()

	return rewriteErr(h.ent.fs.Sync(ctx, h.local, data, h.st), h.path)
}

////////////////////////////////////////////////////////////////////////
// Lifecycle
////////////////////////////////////////////////////////////////////////

// Sync flushes accumulated metadata to the backend.
func (h *Handle) Sync(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkOpen("fsync"); err != nil {
		return err
	}

	return h.syncLocked(ctx, nil)
}

// LOCKS_REQUIRED(h.mu)
func (h *Handle) syncLocked(ctx context.Context, data []byte) error {
	if h.ent.fs.Attrs().ReadOnly {
		// Nothing to write back; atime bookkeeping on a read-only mount
		// stays in memory.
		h.dirty = false
		return nil
	}

	h.ent.lock()
	err := h.ent.fs.Sync(ctx, h.local, data, h.st)
	h.ent.unlock()

	if err != nil {
		return rewriteErr(err, h.path)
	}

	h.dirty = false
	return nil
}

// Close flushes dirty state and invalidates the handle. A second close
// reports EBADF.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return syserr.WithSyscall(syserr.EBADF, h.path, "close")
	}

	if h.dirty {
		if err := h.syncLocked(ctx, nil); err != nil {
			return err
		}
	}

	h.closed = true
	return nil
}
