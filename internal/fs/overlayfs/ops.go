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

package overlayfs

import (
	"context"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

////////////////////////////////////////////////////////////////////////
// Read path
////////////////////////////////////////////////////////////////////////

func (ov *OverlayFS) Stat(ctx context.Context, p string) (*inode.Inode, error) {
	if err := ov.checkEntry(p); err != nil {
		return nil, err
	}

	st, err := ov.upper.Stat(ctx, p)
	if err == nil || !syserr.IsCode(err, syserr.ENOENT) {
		return st, err
	}

	if ov.isDeleted(p) {
		return nil, syserr.New(syserr.ENOENT, p)
	}

	st, err = ov.lower.Stat(ctx, p)
	if err != nil {
		return nil, err
	}

	// Lower-layer nodes present as writable; the write path copies up.
	st.Mode |= 0o222
	return st, nil
}

func (ov *OverlayFS) OpenFile(ctx context.Context, p string, flag fs.OpenFlags) (*inode.Inode, error) {
	if err := ov.checkEntry(p); err != nil {
		return nil, err
	}

	if ov.upper.Exists(ctx, p) {
		return ov.upper.OpenFile(ctx, p, flag)
	}

	if ov.isDeleted(p) {
		return nil, syserr.New(syserr.ENOENT, p)
	}

	// Writers need an upper copy now; readers get served from the lower
	// layer until something mutates the path.
	if flag.MayWrite() {
		if err := ov.copyUp(ctx, p); err != nil {
			return nil, err
		}
		return ov.upper.OpenFile(ctx, p, flag)
	}

	st, err := ov.lower.OpenFile(ctx, p, flag)
	if err != nil {
		return nil, err
	}
	st.Mode |= 0o222

	return st, nil
}

func (ov *OverlayFS) Exists(ctx context.Context, p string) bool {
	if p == DeletionLogPath {
		return false
	}

	return ov.visible(ctx, p)
}

func (ov *OverlayFS) ReadDir(ctx context.Context, p string) ([]string, error) {
	if err := ov.checkEntry(p); err != nil {
		return nil, err
	}

	upperNames, upperErr := ov.upper.ReadDir(ctx, p)
	lowerNames, lowerErr := ov.lower.ReadDir(ctx, p)

	if upperErr != nil && lowerErr != nil {
		if ov.isDeleted(p) {
			return nil, syserr.New(syserr.ENOENT, p)
		}
		return nil, upperOrLowerErr(upperErr, lowerErr)
	}
	if upperErr == nil && lowerErr != nil && !syserr.IsCode(lowerErr, syserr.ENOENT) {
		if !syserr.IsCode(lowerErr, syserr.ENOTDIR) {
			return nil, lowerErr
		}
	}

	// Union, upper first, deduplicated preserving first occurrence, minus
	// deleted paths and the reserved log.
	seen := make(map[string]struct{})
	var names []string
	appendNames := func(src []string) {
		for _, name := range src {
			full := join(p, name)
			if full == DeletionLogPath || ov.isDeleted(full) {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	if upperErr == nil {
		appendNames(upperNames)
	}
	if lowerErr == nil {
		appendNames(lowerNames)
	}

	return names, nil
}

func upperOrLowerErr(upperErr, lowerErr error) error {
	if syserr.IsCode(upperErr, syserr.ENOENT) {
		return lowerErr
	}

	return upperErr
}

func (ov *OverlayFS) ReadAt(ctx context.Context, p string, dst []byte, off int64) (int, error) {
	if err := ov.checkEntry(p); err != nil {
		return 0, err
	}

	if ov.upper.Exists(ctx, p) {
		return ov.upper.ReadAt(ctx, p, dst, off)
	}

	if ov.isDeleted(p) {
		return 0, syserr.New(syserr.ENOENT, p)
	}

	return ov.lower.ReadAt(ctx, p, dst, off)
}

////////////////////////////////////////////////////////////////////////
// Write path
////////////////////////////////////////////////////////////////////////

func (ov *OverlayFS) CreateFile(ctx context.Context, p string, mode inode.Mode, cred inode.Cred, data []byte) (*inode.Inode, error) {
	if err := ov.checkEntry(p); err != nil {
		return nil, err
	}

	if ov.visible(ctx, p) {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	if err := ov.ensureParents(ctx, p); err != nil {
		return nil, err
	}

	return ov.upper.CreateFile(ctx, p, mode, cred, data)
}

func (ov *OverlayFS) Mkdir(ctx context.Context, p string, mode inode.Mode, cred inode.Cred) (*inode.Inode, error) {
	if err := ov.checkEntry(p); err != nil {
		return nil, err
	}

	if ov.visible(ctx, p) {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	if err := ov.ensureParents(ctx, p); err != nil {
		return nil, err
	}

	return ov.upper.Mkdir(ctx, p, mode, cred)
}

// removeCommon deletes p from the upper layer if present, and hides the
// lower-layer copy behind the deletion log if one shows through.
func (ov *OverlayFS) removeCommon(ctx context.Context, p string, cred inode.Cred, wantDir bool) error {
	if err := ov.checkEntry(p); err != nil {
		return err
	}

	st, err := ov.Stat(ctx, p)
	if err != nil {
		return err
	}

	if wantDir {
		if !st.Mode.IsDir() {
			return syserr.New(syserr.ENOTDIR, p)
		}

		children, err := ov.ReadDir(ctx, p)
		if err != nil {
			return err
		}
		if len(children) != 0 {
			return syserr.New(syserr.ENOTEMPTY, p)
		}
	} else if st.Mode.IsDir() {
		return syserr.New(syserr.EISDIR, p)
	}

	if ov.upper.Exists(ctx, p) {
		if wantDir {
			err = ov.upper.Rmdir(ctx, p, cred)
		} else {
			err = ov.upper.Unlink(ctx, p, cred)
		}
		if err != nil {
			return err
		}
	}

	if ov.lower.Exists(ctx, p) {
		ov.markDeleted(p)
	}

	return nil
}

func (ov *OverlayFS) Unlink(ctx context.Context, p string, cred inode.Cred) error {
	return ov.removeCommon(ctx, p, cred, false)
}

func (ov *OverlayFS) Rmdir(ctx context.Context, p string, cred inode.Cred) error {
	return ov.removeCommon(ctx, p, cred, true)
}

func (ov *OverlayFS) Rename(ctx context.Context, oldPath, newPath string, cred inode.Cred) error {
	if err := ov.checkEntry(oldPath); err != nil {
		return err
	}
	if newPath == DeletionLogPath {
		return syserr.New(syserr.EPERM, newPath)
	}

	if !ov.visible(ctx, oldPath) {
		return syserr.New(syserr.ENOENT, oldPath)
	}

	if newSt, err := ov.Stat(ctx, newPath); err == nil && newSt.Mode.IsDir() {
		return syserr.New(syserr.EPERM, newPath)
	}

	if err := ov.copyUp(ctx, oldPath); err != nil {
		return err
	}
	if err := ov.ensureParents(ctx, newPath); err != nil {
		return err
	}

	if err := ov.upper.Rename(ctx, oldPath, newPath, cred); err != nil {
		return err
	}

	if ov.lower.Exists(ctx, oldPath) {
		ov.markDeleted(oldPath)
	}

	return nil
}

func (ov *OverlayFS) Link(ctx context.Context, target, link string, cred inode.Cred) error {
	if err := ov.checkEntry(target); err != nil {
		return err
	}
	if link == DeletionLogPath {
		return syserr.New(syserr.EPERM, link)
	}

	if !ov.visible(ctx, target) {
		return syserr.New(syserr.ENOENT, target)
	}
	if ov.visible(ctx, link) {
		return syserr.New(syserr.EEXIST, link)
	}

	if err := ov.copyUp(ctx, target); err != nil {
		return err
	}
	if err := ov.ensureParents(ctx, link); err != nil {
		return err
	}

	return ov.upper.Link(ctx, target, link, cred)
}

func (ov *OverlayFS) WriteAt(ctx context.Context, p string, src []byte, off int64) (int, error) {
	if err := ov.checkEntry(p); err != nil {
		return 0, err
	}

	if !ov.visible(ctx, p) {
		return 0, syserr.New(syserr.ENOENT, p)
	}

	if err := ov.copyUp(ctx, p); err != nil {
		return 0, err
	}

	return ov.upper.WriteAt(ctx, p, src, off)
}

func (ov *OverlayFS) Sync(ctx context.Context, p string, data []byte, st *inode.Inode) error {
	if err := ov.checkEntry(p); err != nil {
		return err
	}

	if !ov.visible(ctx, p) {
		return syserr.New(syserr.ENOENT, p)
	}

	if err := ov.copyUp(ctx, p); err != nil {
		return err
	}

	return ov.upper.Sync(ctx, p, data, st)
}
