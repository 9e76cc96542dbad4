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
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// Concurrent workers used by the recursive remove and copy helpers.
const recursiveParallelism = 8

////////////////////////////////////////////////////////////////////////
// Stat family
////////////////////////////////////////////////////////////////////////

// Stat returns the inode record of p, following symlinks.
func (v *VFS) Stat(ctx context.Context, p string) (st *inode.Inode, err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "stat", start, err) }()

	res, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if res.stats == nil {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "stat")
	}

	return res.stats, nil
}

// Lstat stats the link itself.
func (v *VFS) Lstat(ctx context.Context, p string) (*inode.Inode, error) {
	res, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	if res.stats == nil {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "lstat")
	}

	return res.stats, nil
}

// Exists reports whether p resolves to anything.
func (v *VFS) Exists(ctx context.Context, p string) bool {
	res, err := v.resolve(ctx, p, false)
	return err == nil && res.stats != nil
}

// Access checks whether the view's credential may access p with mask (a
// combination of inode.MayRead/MayWrite/MayExec; zero checks existence
// only).
func (v *VFS) Access(ctx context.Context, p string, mask uint32) error {
	res, err := v.resolve(ctx, p, false)
	if err != nil {
		return err
	}
	if res.stats == nil {
		return syserr.WithSyscall(syserr.ENOENT, res.path, "access")
	}

	if !inode.Check(v.cred, res.stats, mask) {
		return syserr.WithSyscall(syserr.EACCES, res.path, "access")
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

// ReadDir lists the child names of p, sorted by the backend.
func (v *VFS) ReadDir(ctx context.Context, p string) (names []string, err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "readdir", start, err) }()

	res, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if res.stats == nil {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "readdir")
	}
	if !res.stats.Mode.IsDir() {
		return nil, syserr.WithSyscall(syserr.ENOTDIR, res.path, "readdir")
	}
	if !inode.Check(v.cred, res.stats, inode.MayRead) {
		return nil, syserr.WithSyscall(syserr.EACCES, res.path, "readdir")
	}

	res.ent.lock()
	names, err = res.ent.fs.ReadDir(ctx, res.local)
	res.ent.unlock()

	return names, rewriteErr(err, res.path)
}

// DirEntry pairs a child name with its stats.
type DirEntry struct {
	Name  string
	Stats *inode.Inode
}

// ReadDirEntries lists children with their stats. Entries that vanish
// between the listing and the stat are dropped rather than surfaced as
// errors.
func (v *VFS) ReadDirEntries(ctx context.Context, p string) ([]DirEntry, error) {
	names, err := v.ReadDir(ctx, p)
	if err != nil {
		return nil, err
	}

	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		st, err := v.Lstat(ctx, joinPath(p, name))
		if err != nil {
			if syserr.IsCode(err, syserr.ENOENT) {
				continue
			}
			return nil, err
		}
		entries = append(entries, DirEntry{Name: name, Stats: st})
	}

	return entries, nil
}

// Mkdir creates a single directory; the parent must exist.
func (v *VFS) Mkdir(ctx context.Context, p string, mode inode.Mode) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "mkdir", start, err) }()

	res, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	if res.stats != nil {
		return syserr.WithSyscall(syserr.EEXIST, res.path, "mkdir")
	}
	if res.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, res.path)
	}

	res.ent.lock()
	_, err = res.ent.fs.Mkdir(ctx, res.local, mode, v.cred)
	res.ent.unlock()

	return rewriteErr(err, res.path)
}

// MkdirAll creates p and any missing ancestors, like mkdir -p.
func (v *VFS) MkdirAll(ctx context.Context, p string, mode inode.Mode) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	if p == "/" {
		return nil
	}

	parts := strings.Split(p[1:], "/")
	cur := ""
	for _, part := range parts {
		cur += "/" + part

		st, err := v.Stat(ctx, cur)
		if err == nil {
			if !st.Mode.IsDir() {
				return syserr.WithSyscall(syserr.ENOTDIR, cur, "mkdir")
			}
			continue
		}
		if !syserr.IsCode(err, syserr.ENOENT) {
			return err
		}

		if err := v.Mkdir(ctx, cur, mode); err != nil && !syserr.IsCode(err, syserr.EEXIST) {
			return err
		}
	}

	return nil
}

// Rmdir removes an empty directory.
func (v *VFS) Rmdir(ctx context.Context, p string) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "rmdir", start, err) }()

	res, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	if res.stats == nil {
		return syserr.WithSyscall(syserr.ENOENT, res.path, "rmdir")
	}
	if res.local == "/" {
		return syserr.WithSyscall(syserr.EBUSY, res.path, "rmdir")
	}
	if res.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, res.path)
	}

	res.ent.lock()
	err = res.ent.fs.Rmdir(ctx, res.local, v.cred)
	res.ent.unlock()

	return rewriteErr(err, res.path)
}

////////////////////////////////////////////////////////////////////////
// Names
////////////////////////////////////////////////////////////////////////

// Unlink removes a non-directory name.
func (v *VFS) Unlink(ctx context.Context, p string) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "unlink", start, err) }()

	res, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	if res.stats == nil {
		return syserr.WithSyscall(syserr.ENOENT, res.path, "unlink")
	}
	if res.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, res.path)
	}
	if res.stats.Flags&inode.FlagImmutable != 0 {
		return syserr.WithSyscall(syserr.EPERM, res.path, "unlink")
	}

	res.ent.lock()
	err = res.ent.fs.Unlink(ctx, res.local, v.cred)
	res.ent.unlock()

	return rewriteErr(err, res.path)
}

// Rename moves oldPath to newPath within one mount; crossing mounts is
// EXDEV, the caller gets no copy+unlink emulation here.
func (v *VFS) Rename(ctx context.Context, oldPath, newPath string) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "rename", start, err) }()

	oldRes, err := v.resolve(ctx, oldPath, true)
	if err != nil {
		return err
	}
	newRes, err := v.resolve(ctx, newPath, true)
	if err != nil {
		return err
	}

	if oldRes.ent != newRes.ent {
		return syserr.WithSyscall(syserr.EXDEV, newRes.path, "rename")
	}
	if oldRes.stats == nil {
		return syserr.WithSyscall(syserr.ENOENT, oldRes.path, "rename")
	}
	if oldRes.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, oldRes.path)
	}

	oldRes.ent.lock()
	err = oldRes.ent.fs.Rename(ctx, oldRes.local, newRes.local, v.cred)
	oldRes.ent.unlock()

	return rewriteErr(err, oldRes.path)
}

// Link creates a hard link newPath referring to oldPath's inode.
func (v *VFS) Link(ctx context.Context, oldPath, newPath string) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "link", start, err) }()

	oldRes, err := v.resolve(ctx, oldPath, true)
	if err != nil {
		return err
	}
	newRes, err := v.resolve(ctx, newPath, true)
	if err != nil {
		return err
	}

	if oldRes.ent != newRes.ent {
		return syserr.WithSyscall(syserr.EXDEV, newRes.path, "link")
	}
	if oldRes.stats == nil {
		return syserr.WithSyscall(syserr.ENOENT, oldRes.path, "link")
	}
	if oldRes.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, oldRes.path)
	}

	oldRes.ent.lock()
	err = oldRes.ent.fs.Link(ctx, oldRes.local, newRes.local, v.cred)
	oldRes.ent.unlock()

	return rewriteErr(err, newRes.path)
}

// Symlink creates newPath pointing at target. The target may dangle.
func (v *VFS) Symlink(ctx context.Context, target, newPath string) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "symlink", start, err) }()

	res, err := v.resolve(ctx, newPath, true)
	if err != nil {
		return err
	}
	if res.stats != nil {
		return syserr.WithSyscall(syserr.EEXIST, res.path, "symlink")
	}
	if res.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, res.path)
	}

	res.ent.lock()
	_, err = res.ent.fs.CreateFile(ctx, res.local, inode.TypeSymlink|0o777, v.cred, []byte(target))
	res.ent.unlock()

	return rewriteErr(err, res.path)
}

// Readlink returns the target of a symlink.
func (v *VFS) Readlink(ctx context.Context, p string) (string, error) {
	res, err := v.resolve(ctx, p, true)
	if err != nil {
		return "", err
	}
	if res.stats == nil {
		return "", syserr.WithSyscall(syserr.ENOENT, res.path, "readlink")
	}
	if !res.stats.Mode.IsSymlink() {
		return "", syserr.WithSyscall(syserr.EINVAL, res.path, "readlink")
	}

	return v.readlinkResolved(ctx, res)
}

////////////////////////////////////////////////////////////////////////
// Whole-file convenience
////////////////////////////////////////////////////////////////////////

// ReadFile returns the full contents of p.
func (v *VFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	h, err := v.OpenHandle(ctx, p, O_RDONLY, 0, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer h.Close(ctx)

	st := h.Stat()
	buf := make([]byte, st.Size)
	if len(buf) == 0 {
		return buf, nil
	}

	n, err := h.ReadAt(ctx, buf, 0)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

// WriteFile replaces the contents of p, creating it with mode if needed.
func (v *VFS) WriteFile(ctx context.Context, p string, data []byte, mode inode.Mode) error {
	h, err := v.OpenHandle(ctx, p, O_WRONLY|O_CREAT|O_TRUNC, mode, OpenOptions{})
	if err != nil {
		return err
	}

	if _, err := h.Write(ctx, data); err != nil {
		h.Close(ctx)
		return err
	}

	return h.Close(ctx)
}

// AppendFile appends data to p, creating it with mode if needed.
func (v *VFS) AppendFile(ctx context.Context, p string, data []byte, mode inode.Mode) error {
	h, err := v.OpenHandle(ctx, p, O_WRONLY|O_CREAT|O_APPEND, mode, OpenOptions{})
	if err != nil {
		return err
	}

	if _, err := h.Write(ctx, data); err != nil {
		h.Close(ctx)
		return err
	}

	return h.Close(ctx)
}

// Truncate sets the size of p; extended regions read back as zeros.
func (v *VFS) Truncate(ctx context.Context, p string, size int64) error {
	h, err := v.OpenHandle(ctx, p, O_RDWR, 0, OpenOptions{})
	if err != nil {
		return err
	}

	if err := h.Truncate(ctx, size); err != nil {
		h.Close(ctx)
		return err
	}

	return h.Close(ctx)
}

// CopyFile copies src's contents and permission bits to dst.
func (v *VFS) CopyFile(ctx context.Context, src, dst string) error {
	st, err := v.Stat(ctx, src)
	if err != nil {
		return err
	}
	if st.Mode.IsDir() {
		return syserr.WithSyscall(syserr.EISDIR, src, "copyfile")
	}

	data, err := v.ReadFile(ctx, src)
	if err != nil {
		return err
	}

	return v.WriteFile(ctx, dst, data, st.Mode.Perm())
}

////////////////////////////////////////////////////////////////////////
// Recursive helpers
////////////////////////////////////////////////////////////////////////

// RemoveAll removes p and, for directories, everything beneath it.
// Children of a directory are removed concurrently.
func (v *VFS) RemoveAll(ctx context.Context, p string) error {
	st, err := v.Lstat(ctx, p)
	if err != nil {
		if syserr.IsCode(err, syserr.ENOENT) {
			return nil
		}
		return err
	}

	if !st.Mode.IsDir() {
		return v.Unlink(ctx, p)
	}

	names, err := v.ReadDir(ctx, p)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(recursiveParallelism)
	for _, name := range names {
		child := joinPath(p, name)
		group.Go(func() error {
			return v.RemoveAll(groupCtx, child)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	return v.Rmdir(ctx, p)
}

// CopyAll copies src to dst recursively, like cp -r.
func (v *VFS) CopyAll(ctx context.Context, src, dst string) error {
	st, err := v.Lstat(ctx, src)
	if err != nil {
		return err
	}

	if st.Mode.IsSymlink() {
		target, err := v.Readlink(ctx, src)
		if err != nil {
			return err
		}
		return v.Symlink(ctx, target, dst)
	}

	if !st.Mode.IsDir() {
		return v.CopyFile(ctx, src, dst)
	}

	if err := v.MkdirAll(ctx, dst, st.Mode.Perm()); err != nil {
		return err
	}

	names, err := v.ReadDir(ctx, src)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(recursiveParallelism)
	for _, name := range names {
		from, to := joinPath(src, name), joinPath(dst, name)
		group.Go(func() error {
			return v.CopyAll(groupCtx, from, to)
		})
	}

	return group.Wait()
}

// MkdirTemp creates a fresh directory under dir. A "*" in pattern is
// replaced by a random suffix; otherwise the suffix is appended.
func (v *VFS) MkdirTemp(ctx context.Context, dir, pattern string) (string, error) {
	if dir == "" {
		dir = "/"
	}

	prefix, suffix := pattern, ""
	if i := strings.LastIndexByte(pattern, '*'); i >= 0 {
		prefix, suffix = pattern[:i], pattern[i+1:]
	}

	for attempt := 0; attempt < 3; attempt++ {
		var b [6]byte
		if _, err := rand.Read(b[:]); err != nil {
			return "", syserr.New(syserr.EIO, dir)
		}

		p := joinPath(dir, prefix+hex.EncodeToString(b[:])+suffix)
		err := v.Mkdir(ctx, p, 0o700)
		if err == nil {
			return p, nil
		}
		if !syserr.IsCode(err, syserr.EEXIST) {
			return "", err
		}
	}

	return "", syserr.New(syserr.EEXIST, dir)
}

func joinPath(dir, name string) string {
	return cleanPath(path.Join(dir, name))
}
