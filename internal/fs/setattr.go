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
	"time"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// setattr resolves p, applies mutate to the record, and writes the record
// back through the backend.
func (v *VFS) setattr(ctx context.Context, p string, follow bool, syscall string, mutate func(st *inode.Inode) error) error {
	res, err := v.resolve(ctx, p, !follow)
	if err != nil {
		return err
	}
	if res.stats == nil {
		return syserr.WithSyscall(syserr.ENOENT, res.path, syscall)
	}
	if res.ent.fs.Attrs().ReadOnly {
		return syserr.New(syserr.EROFS, res.path)
	}
	if res.stats.Flags&inode.FlagImmutable != 0 {
		return syserr.WithSyscall(syserr.EPERM, res.path, syscall)
	}

	if err := mutate(res.stats); err != nil {
		return rewriteErr(err, res.path)
	}
	res.stats.TouchChanged(v.s.clock)

	res.ent.lock()
	err = res.ent.fs.Sync(ctx, res.local, nil, res.stats)
	res.ent.unlock()

	return rewriteErr(err, res.path)
}

// ownerOrRoot gates metadata edits on the record's owner.
func (v *VFS) ownerOrRoot(st *inode.Inode, p, syscall string) error {
	if v.cred.Uid != 0 && v.cred.Uid != st.Uid {
		return syserr.WithSyscall(syserr.EPERM, p, syscall)
	}

	return nil
}

func (v *VFS) chmod(ctx context.Context, p string, mode inode.Mode, follow bool) error {
	return v.setattr(ctx, p, follow, "chmod", func(st *inode.Inode) error {
		if err := v.ownerOrRoot(st, p, "chmod"); err != nil {
			return err
		}

		st.Mode = st.Mode.FileType() | mode.Perm()
		return nil
	})
}

// Chmod replaces the permission bits of p's target.
func (v *VFS) Chmod(ctx context.Context, p string, mode inode.Mode) error {
	return v.chmod(ctx, p, mode, true)
}

// Lchmod operates on the link itself.
func (v *VFS) Lchmod(ctx context.Context, p string, mode inode.Mode) error {
	return v.chmod(ctx, p, mode, false)
}

func (v *VFS) chown(ctx context.Context, p string, uid, gid uint32, follow bool) error {
	return v.setattr(ctx, p, follow, "chown", func(st *inode.Inode) error {
		// Only root reassigns ownership; an owner may move the file to
		// another of its groups.
		if v.cred.Uid != 0 {
			if uid != st.Uid || v.cred.Uid != st.Uid {
				return syserr.WithSyscall(syserr.EPERM, p, "chown")
			}
			if gid != st.Gid && gid != v.cred.Gid {
				return syserr.WithSyscall(syserr.EPERM, p, "chown")
			}
		}

		st.Uid = uid
		st.Gid = gid
		return nil
	})
}

func (v *VFS) Chown(ctx context.Context, p string, uid, gid uint32) error {
	return v.chown(ctx, p, uid, gid, true)
}

func (v *VFS) Lchown(ctx context.Context, p string, uid, gid uint32) error {
	return v.chown(ctx, p, uid, gid, false)
}

func (v *VFS) utimes(ctx context.Context, p string, atime, mtime time.Time, follow bool) error {
	return v.setattr(ctx, p, follow, "utimes", func(st *inode.Inode) error {
		if err := v.ownerOrRoot(st, p, "utimes"); err != nil {
			return err
		}

		st.Atime = inode.TimeMillis(atime)
		st.Mtime = inode.TimeMillis(mtime)
		return nil
	})
}

func (v *VFS) Utimes(ctx context.Context, p string, atime, mtime time.Time) error {
	return v.utimes(ctx, p, atime, mtime, true)
}

func (v *VFS) Lutimes(ctx context.Context, p string, atime, mtime time.Time) error {
	return v.utimes(ctx, p, atime, mtime, false)
}

////////////////////////////////////////////////////////////////////////
// Handle variants
////////////////////////////////////////////////////////////////////////

// setattrLocked is the handle-side mirror of VFS.setattr: mutate the
// snapshot and mark it dirty for the next sync.
func (h *Handle) setattrLocked(ctx context.Context, syscall string, mutate func(st *inode.Inode) error) error {
	if err := h.checkOpen(syscall); err != nil {
		return err
	}
	if h.ent.fs.Attrs().ReadOnly {
		return syserr.WithSyscall(syserr.EROFS, h.path, syscall)
	}
	if h.st.Flags&inode.FlagImmutable != 0 {
		return syserr.WithSyscall(syserr.EPERM, h.path, syscall)
	}

	if err := mutate(h.st); err != nil {
		return err
	}

	h.st.TouchChanged(h.vfs.s.clock)
	h.dirty = true

	return h.syncLocked(ctx, nil)
}

func (h *Handle) Chmod(ctx context.Context, mode inode.Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.setattrLocked(ctx, "fchmod", func(st *inode.Inode) error {
		if err := h.vfs.ownerOrRoot(st, h.path, "fchmod"); err != nil {
			return err
		}
		st.Mode = st.Mode.FileType() | mode.Perm()
		return nil
	})
}

func (h *Handle) Chown(ctx context.Context, uid, gid uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.setattrLocked(ctx, "fchown", func(st *inode.Inode) error {
		if h.vfs.cred.Uid != 0 {
			if uid != st.Uid || h.vfs.cred.Uid != st.Uid {
				return syserr.WithSyscall(syserr.EPERM, h.path, "fchown")
			}
		}
		st.Uid = uid
		st.Gid = gid
		return nil
	})
}

func (h *Handle) Utimes(ctx context.Context, atime, mtime time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.setattrLocked(ctx, "futimes", func(st *inode.Inode) error {
		if err := h.vfs.ownerOrRoot(st, h.path, "futimes"); err != nil {
			return err
		}
		st.Atime = inode.TimeMillis(atime)
		st.Mtime = inode.TimeMillis(mtime)
		return nil
	})
}

////////////////////////////////////////////////////////////////////////
// StatFS
////////////////////////////////////////////////////////////////////////

// StatFS describes the file system serving a path.
type StatFS struct {
	BlockSize int64
	NameMax   int64
	FSName    string
	Label     string
	UUID      string
	ReadOnly  bool
}

func (v *VFS) StatFS(ctx context.Context, p string) (*StatFS, error) {
	p, err := normalize(p)
	if err != nil {
		return nil, err
	}

	ent, _, err := v.s.resolveMount(p)
	if err != nil {
		return nil, err
	}

	attrs := ent.fs.Attrs()
	return &StatFS{
		BlockSize: 4096,
		NameMax:   255,
		FSName:    attrs.Name,
		Label:     attrs.Label,
		UUID:      attrs.UUID,
		ReadOnly:  attrs.ReadOnly,
	}, nil
}
