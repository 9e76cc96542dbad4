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
	"path"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// OpenOptions tweaks the open state machine beyond the flag word.
type OpenOptions struct {
	// PreserveSymlinks opens the link itself rather than its target.
	PreserveSymlinks bool
}

// Open opens or creates p and returns a descriptor into this view's table.
func (v *VFS) Open(ctx context.Context, p string, rawFlag int, mode inode.Mode) (int, error) {
	h, err := v.OpenHandle(ctx, p, rawFlag, mode, OpenOptions{})
	if err != nil {
		return -1, err
	}

	return v.s.allocFD(h), nil
}

// OpenHandle runs the open state machine and returns the handle without
// binding a descriptor.
func (v *VFS) OpenHandle(ctx context.Context, p string, rawFlag int, mode inode.Mode, opts OpenOptions) (h *Handle, err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "open", start, err) }()

	flag, err := ParseOpenFlags(rawFlag)
	if err != nil {
		return nil, rewriteErr(err, p)
	}

	res, err := v.resolve(ctx, p, opts.PreserveSymlinks)
	if err != nil {
		return nil, err
	}

	if res.stats == nil {
		return v.openMissing(ctx, res, flag, mode)
	}

	return v.openExisting(ctx, res, flag)
}

// openMissing creates the file when the flags allow it.
func (v *VFS) openMissing(ctx context.Context, res *resolved, flag OpenFlags, mode inode.Mode) (*Handle, error) {
	if flag&FlagCreate == 0 {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "open")
	}

	if res.ent.fs.Attrs().ReadOnly {
		return nil, syserr.New(syserr.EROFS, res.path)
	}

	cred := v.cred

	res.ent.lock()
	defer res.ent.unlock()

	// The parent directory gates creation; set-id bits on it shape the
	// new file's ownership inside the backend.
	parentLocal := path.Dir(res.local)
	parent, err := res.ent.fs.Stat(ctx, parentLocal)
	if err != nil {
		return nil, rewriteErr(err, path.Dir(res.path))
	}
	if !inode.Check(cred, parent, inode.MayWrite|inode.MayExec) {
		return nil, syserr.WithSyscall(syserr.EACCES, res.path, "open")
	}
	if parent.Mode&inode.SetUid != 0 {
		cred.Uid = parent.Uid
	}

	st, err := res.ent.fs.CreateFile(ctx, res.local, mode.Perm()|inode.TypeRegular, cred, nil)
	if err != nil {
		return nil, rewriteErr(err, res.path)
	}

	return v.newHandle(res, flag, st), nil
}

// openExisting validates flags and permissions against the resolved inode.
func (v *VFS) openExisting(ctx context.Context, res *resolved, flag OpenFlags) (*Handle, error) {
	st := res.stats

	if flag&FlagCreate != 0 && flag&FlagExcl != 0 {
		return nil, syserr.WithSyscall(syserr.EEXIST, res.path, "open")
	}

	if st.Mode.IsDir() && flag.MayWrite() {
		return nil, syserr.WithSyscall(syserr.EISDIR, res.path, "open")
	}

	if flag.MayWrite() {
		if res.ent.fs.Attrs().ReadOnly {
			return nil, syserr.New(syserr.EROFS, res.path)
		}
		if st.Flags&inode.FlagImmutable != 0 {
			return nil, syserr.WithSyscall(syserr.EPERM, res.path, "open")
		}
	}

	if !inode.Check(v.cred, st, flag.AccessMask()) {
		return nil, syserr.WithSyscall(syserr.EACCES, res.path, "open")
	}

	h := v.newHandle(res, flag, st)

	if flag&FlagTrunc != 0 && st.Size != 0 {
		if err := h.Truncate(ctx, 0); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (v *VFS) newHandle(res *resolved, flag OpenFlags, st *inode.Inode) *Handle {
	return &Handle{
		vfs:   v,
		ent:   res.ent,
		path:  res.path,
		local: res.local,
		flag:  flag,
		st:    st,
	}
}

////////////////////////////////////////////////////////////////////////
// Descriptor table
////////////////////////////////////////////////////////////////////////

// allocFD binds h to the next free descriptor, never reusing a slot below
// minFD.
func (s *state) allocFD(h *Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd := minFD
	for k := range s.fds {
		if k >= fd {
			fd = k + 1
		}
	}

	s.fds[fd] = h
	return fd
}

// Handle returns the open handle bound to fd.
func (v *VFS) Handle(fd int) (*Handle, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.fds[fd]
	if !ok {
		return nil, syserr.WithSyscall(syserr.EBADF, "", "fcntl")
	}

	return h, nil
}

// Close flushes and closes the handle bound to fd and frees the slot.
func (v *VFS) Close(ctx context.Context, fd int) error {
	s := v.s

	s.mu.Lock()
	h, ok := s.fds[fd]
	if ok {
		delete(s.fds, fd)
	}
	s.mu.Unlock()

	if !ok {
		return syserr.WithSyscall(syserr.EBADF, "", "close")
	}

	return h.Close(ctx)
}

// Read reads from the descriptor's cursor.
func (v *VFS) Read(ctx context.Context, fd int, buf []byte) (int, error) {
	h, err := v.Handle(fd)
	if err != nil {
		return 0, err
	}

	return h.Read(ctx, buf)
}

// Write writes at the descriptor's cursor.
func (v *VFS) Write(ctx context.Context, fd int, buf []byte) (int, error) {
	h, err := v.Handle(fd)
	if err != nil {
		return 0, err
	}

	return h.Write(ctx, buf)
}

// Seek repositions the descriptor's cursor.
func (v *VFS) Seek(ctx context.Context, fd int, offset int64, whence int) (int64, error) {
	h, err := v.Handle(fd)
	if err != nil {
		return 0, err
	}

	return h.Seek(offset, whence)
}

// OpenFDs reports the live descriptors, for diagnostics and tests.
func (v *VFS) OpenFDs() []int {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.fds))
	for fd := range s.fds {
		out = append(out, fd)
	}

	return out
}
