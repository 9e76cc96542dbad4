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

// Package fs implements the virtual file system layer: the mount table,
// path resolution with symlink following, the open-file state machine,
// and the POSIX-like surface dispatched to pluggable backends.
package fs

import (
	"context"

	"github.com/storevfs/storevfs/internal/fs/inode"
)

// Attributes describes a backend to the VFS layer.
type Attributes struct {
	// Name identifies the backend type ("storefs", "overlayfs", ...).
	Name string

	// Label is the user-settable volume label (ioctl get/set label).
	Label string

	// UUID identifies this file system instance.
	UUID string

	// ReadOnly backends reject every mutation with EROFS at the VFS layer.
	ReadOnly bool

	// NoAtime suppresses access-time maintenance for the whole mount.
	NoAtime bool
}

// FileSystem is the contract every backend implements. Paths are absolute,
// normalized, and local to the backend (mount-prefix already stripped).
// Backends return *syserr.Error values; the VFS layer rewrites the error
// path from the backend-local path back to the user path.
//
// The VFS layer serializes calls per mount, so implementations may assume
// at most one mutating call is in flight at a time.
type FileSystem interface {
	Attrs() Attributes

	// Stat returns the inode record for the path. Symlinks are not
	// followed; following happens above, in the resolver.
	Stat(ctx context.Context, p string) (*inode.Inode, error)

	// OpenFile returns the inode for an existing path, with flag telling
	// the backend the caller's intent (overlay uses it to decide on
	// copy-up).
	OpenFile(ctx context.Context, p string, flag OpenFlags) (*inode.Inode, error)

	// CreateFile creates a non-directory inode carrying the given initial
	// data. Symlinks are regular creations with TypeSymlink mode whose
	// data is the target path.
	CreateFile(ctx context.Context, p string, mode inode.Mode, cred inode.Cred, data []byte) (*inode.Inode, error)

	Mkdir(ctx context.Context, p string, mode inode.Mode, cred inode.Cred) (*inode.Inode, error)
	Unlink(ctx context.Context, p string, cred inode.Cred) error
	Rmdir(ctx context.Context, p string, cred inode.Cred) error
	Rename(ctx context.Context, oldPath, newPath string, cred inode.Cred) error
	Link(ctx context.Context, target, link string, cred inode.Cred) error

	// ReadDir returns the child names of a directory, sorted.
	ReadDir(ctx context.Context, p string) ([]string, error)

	// ReadAt fills dst from the file's data blob starting at off and
	// returns the byte count, which is short at end of file.
	ReadAt(ctx context.Context, p string, dst []byte, off int64) (int, error)

	// WriteAt stores src at off, extending the blob as needed, updating
	// size/mtime/version in the same transaction.
	WriteAt(ctx context.Context, p string, src []byte, off int64) (int, error)

	// Sync persists the caller's view of the inode. A nil data slice means
	// metadata only; otherwise data replaces the blob wholesale.
	Sync(ctx context.Context, p string, data []byte, st *inode.Inode) error

	// Exists is a convenience stat that swallows ENOENT.
	Exists(ctx context.Context, p string) bool
}
