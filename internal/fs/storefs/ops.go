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

package storefs

import (
	"context"
	"sort"
	"strings"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/logger"
	"github.com/storevfs/storevfs/internal/store"
	"github.com/storevfs/storevfs/internal/syserr"
)

// inTx runs fn inside a transaction, committing on success and rolling
// back every touched key on failure.
func (sfs *StoreFS) inTx(ctx context.Context, fn func(tx store.Transaction) error) error {
	tx := sfs.store.Begin()

	if err := fn(tx); err != nil {
		if abortErr := tx.Abort(ctx); abortErr != nil {
			logger.Warnf("aborting transaction on %s: %v", sfs.store.Name(), abortErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return syserr.Convert(err, "")
	}

	return nil
}

func (sfs *StoreFS) checkWritable(p string) error {
	if sfs.readOnly {
		return syserr.New(syserr.EROFS, p)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Read surface
////////////////////////////////////////////////////////////////////////

func (sfs *StoreFS) Stat(ctx context.Context, p string) (*inode.Inode, error) {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	return sfs.walk(ctx, sfs.store, p)
}

func (sfs *StoreFS) OpenFile(ctx context.Context, p string, _ fs.OpenFlags) (*inode.Inode, error) {
	return sfs.Stat(ctx, p)
}

func (sfs *StoreFS) Exists(ctx context.Context, p string) bool {
	_, err := sfs.Stat(ctx, p)
	return err == nil
}

func (sfs *StoreFS) ReadDir(ctx context.Context, p string) ([]string, error) {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	dir, err := sfs.walk(ctx, sfs.store, p)
	if err != nil {
		return nil, err
	}

	if !dir.Mode.IsDir() {
		return nil, syserr.New(syserr.ENOTDIR, p)
	}

	listing, err := sfs.loadListing(ctx, sfs.store, dir, p)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(listing))
	for name := range listing {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (sfs *StoreFS) ReadAt(ctx context.Context, p string, dst []byte, off int64) (int, error) {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	in, err := sfs.walk(ctx, sfs.store, p)
	if err != nil {
		return 0, err
	}

	if in.Mode.IsDir() {
		return 0, syserr.New(syserr.EISDIR, p)
	}

	raw, found, err := sfs.store.Get(ctx, in.Data)
	if err != nil {
		return 0, syserr.Convert(err, p)
	}
	if !found {
		return 0, syserr.New(syserr.EIO, p)
	}

	if off < 0 || off >= int64(len(raw)) {
		return 0, nil
	}

	return copy(dst, raw[off:]), nil
}

////////////////////////////////////////////////////////////////////////
// Creation
////////////////////////////////////////////////////////////////////////

// commitNewInode is the shared create path for files, symlinks, and
// directories: one transaction allocating the data blob, the inode record,
// and the parent listing entry.
func (sfs *StoreFS) commitNewInode(ctx context.Context, p string, mode inode.Mode, cred inode.Cred, data []byte) (*inode.Inode, error) {
	if p == "/" || p == "" {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	dirPath, base := split(p)
	if !validName(base) {
		return nil, syserr.New(syserr.EINVAL, p)
	}

	var created *inode.Inode
	err := sfs.inTx(ctx, func(tx store.Transaction) error {
		parent, err := sfs.walk(ctx, tx, dirPath)
		if err != nil {
			return err
		}

		if !parent.Mode.IsDir() {
			return syserr.New(syserr.ENOTDIR, dirPath)
		}
		if !inode.Check(cred, parent, inode.MayWrite|inode.MayExec) {
			return syserr.New(syserr.EACCES, p)
		}

		listing, err := sfs.loadListing(ctx, tx, parent, dirPath)
		if err != nil {
			return err
		}
		if _, ok := listing[base]; ok {
			return syserr.New(syserr.EEXIST, p)
		}

		dataIno, err := sfs.allocate(ctx, tx, p, func(inode.Ino) ([]byte, error) {
			return data, nil
		})
		if err != nil {
			return err
		}

		in := inode.New(mode, cred.Uid, cred.Gid, uint64(len(data)), sfs.clock)
		in.Data = dataIno

		// A set-gid parent hands its group down; new directories keep the
		// bit so the behavior propagates.
		if parent.Mode&inode.SetGid != 0 {
			in.Gid = parent.Gid
			if mode.IsDir() {
				in.Mode |= inode.SetGid
			}
		}

		recordIno, err := sfs.allocate(ctx, tx, p, func(candidate inode.Ino) ([]byte, error) {
			in.Ino = candidate
			return inode.Marshal(in)
		})
		if err != nil {
			return err
		}
		in.Ino = recordIno

		listing[base] = in.Ino
		if err := sfs.saveListing(ctx, tx, parent, listing, dirPath); err != nil {
			return err
		}

		created = in
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (sfs *StoreFS) CreateFile(ctx context.Context, p string, mode inode.Mode, cred inode.Cred, data []byte) (*inode.Inode, error) {
	if err := sfs.checkWritable(p); err != nil {
		return nil, err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	if mode.FileType() == 0 {
		mode |= inode.TypeRegular
	}
	if mode.IsDir() {
		return nil, syserr.New(syserr.EISDIR, p)
	}

	return sfs.commitNewInode(ctx, p, mode, cred, data)
}

func (sfs *StoreFS) Mkdir(ctx context.Context, p string, mode inode.Mode, cred inode.Cred) (*inode.Inode, error) {
	if err := sfs.checkWritable(p); err != nil {
		return nil, err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	empty, err := encodeListing(map[string]inode.Ino{})
	if err != nil {
		return nil, syserr.New(syserr.EIO, p)
	}

	return sfs.commitNewInode(ctx, p, mode.Perm()|inode.TypeDirectory, cred, empty)
}

////////////////////////////////////////////////////////////////////////
// Removal
////////////////////////////////////////////////////////////////////////

// removeEntry deletes a directory entry, dropping the inode and its data
// blob when the link count reaches zero.
func (sfs *StoreFS) removeEntry(ctx context.Context, p string, cred inode.Cred, wantDir bool) error {
	dirPath, base := split(p)
	if p == "/" || !validName(base) {
		return syserr.New(syserr.EBUSY, p)
	}

	return sfs.inTx(ctx, func(tx store.Transaction) error {
		parent, err := sfs.walk(ctx, tx, dirPath)
		if err != nil {
			return err
		}

		listing, err := sfs.loadListing(ctx, tx, parent, dirPath)
		if err != nil {
			return err
		}

		targetIno, ok := listing[base]
		if !ok {
			return syserr.New(syserr.ENOENT, p)
		}

		target, err := sfs.loadInode(ctx, tx, targetIno, p)
		if err != nil {
			return err
		}

		if !inode.Check(cred, target, inode.MayWrite) {
			return syserr.New(syserr.EACCES, p)
		}

		if wantDir && !target.Mode.IsDir() {
			return syserr.New(syserr.ENOTDIR, p)
		}
		if !wantDir && target.Mode.IsDir() {
			return syserr.New(syserr.EISDIR, p)
		}

		if wantDir {
			children, err := sfs.loadListing(ctx, tx, target, p)
			if err != nil {
				return err
			}
			if len(children) != 0 {
				return syserr.New(syserr.ENOTEMPTY, p)
			}
		}

		delete(listing, base)
		if err := sfs.saveListing(ctx, tx, parent, listing, dirPath); err != nil {
			return err
		}

		return sfs.dropLink(ctx, tx, target, p)
	})
}

// dropLink decrements the target's link count, removing the record and its
// data blob when it reaches zero. Directories always drop straight to zero.
func (sfs *StoreFS) dropLink(ctx context.Context, tx store.Transaction, target *inode.Inode, p string) error {
	if !target.Mode.IsDir() && target.Nlink > 1 {
		target.Nlink--
		target.TouchChanged(sfs.clock)
		return sfs.writeInode(ctx, tx, target, p)
	}

	if err := tx.Remove(ctx, target.Data); err != nil {
		return syserr.Convert(err, p)
	}
	if err := tx.Remove(ctx, target.Ino); err != nil {
		return syserr.Convert(err, p)
	}

	return nil
}

func (sfs *StoreFS) Unlink(ctx context.Context, p string, cred inode.Cred) error {
	if err := sfs.checkWritable(p); err != nil {
		return err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	return sfs.removeEntry(ctx, p, cred, false)
}

func (sfs *StoreFS) Rmdir(ctx context.Context, p string, cred inode.Cred) error {
	if err := sfs.checkWritable(p); err != nil {
		return err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	return sfs.removeEntry(ctx, p, cred, true)
}

////////////////////////////////////////////////////////////////////////
// Rename and link
////////////////////////////////////////////////////////////////////////

func (sfs *StoreFS) Rename(ctx context.Context, oldPath, newPath string, cred inode.Cred) error {
	if err := sfs.checkWritable(oldPath); err != nil {
		return err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	if oldPath == "/" {
		return syserr.New(syserr.EBUSY, oldPath)
	}
	if oldPath == newPath {
		return nil
	}

	oldDir, oldBase := split(oldPath)
	newDir, newBase := split(newPath)
	if !validName(newBase) {
		return syserr.New(syserr.EINVAL, newPath)
	}

	// A directory cannot move into its own subtree.
	if strings.HasPrefix(newDir+"/", oldPath+"/") {
		return syserr.New(syserr.EBUSY, newPath)
	}

	return sfs.inTx(ctx, func(tx store.Transaction) error {
		oldParent, err := sfs.walk(ctx, tx, oldDir)
		if err != nil {
			return err
		}
		if !inode.Check(cred, oldParent, inode.MayWrite|inode.MayExec) {
			return syserr.New(syserr.EACCES, oldPath)
		}

		oldListing, err := sfs.loadListing(ctx, tx, oldParent, oldDir)
		if err != nil {
			return err
		}

		movedIno, ok := oldListing[oldBase]
		if !ok {
			return syserr.New(syserr.ENOENT, oldPath)
		}

		sameParent := oldDir == newDir

		newParent := oldParent
		newListing := oldListing
		if !sameParent {
			if newParent, err = sfs.walk(ctx, tx, newDir); err != nil {
				return err
			}
			if !newParent.Mode.IsDir() {
				return syserr.New(syserr.ENOTDIR, newDir)
			}
			if newListing, err = sfs.loadListing(ctx, tx, newParent, newDir); err != nil {
				return err
			}
		}

		if !inode.Check(cred, newParent, inode.MayWrite|inode.MayExec) {
			return syserr.New(syserr.EACCES, newPath)
		}

		// An existing regular file at the destination is replaced; an
		// existing directory is never overwritten by rename.
		if existingIno, ok := newListing[newBase]; ok {
			existing, err := sfs.loadInode(ctx, tx, existingIno, newPath)
			if err != nil {
				return err
			}
			if existing.Mode.IsDir() {
				return syserr.New(syserr.EPERM, newPath)
			}
			if err := sfs.dropLink(ctx, tx, existing, newPath); err != nil {
				return err
			}
		}

		delete(oldListing, oldBase)
		newListing[newBase] = movedIno

		if err := sfs.saveListing(ctx, tx, oldParent, oldListing, oldDir); err != nil {
			return err
		}
		if !sameParent {
			if err := sfs.saveListing(ctx, tx, newParent, newListing, newDir); err != nil {
				return err
			}
		}

		return nil
	})
}

func (sfs *StoreFS) Link(ctx context.Context, target, link string, cred inode.Cred) error {
	if err := sfs.checkWritable(link); err != nil {
		return err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	linkDir, linkBase := split(link)
	if !validName(linkBase) {
		return syserr.New(syserr.EINVAL, link)
	}

	return sfs.inTx(ctx, func(tx store.Transaction) error {
		in, err := sfs.walk(ctx, tx, target)
		if err != nil {
			return err
		}
		if in.Mode.IsDir() {
			return syserr.New(syserr.EPERM, target)
		}

		parent, err := sfs.walk(ctx, tx, linkDir)
		if err != nil {
			return err
		}
		if !parent.Mode.IsDir() {
			return syserr.New(syserr.ENOTDIR, linkDir)
		}
		if !inode.Check(cred, parent, inode.MayWrite|inode.MayExec) {
			return syserr.New(syserr.EACCES, link)
		}

		listing, err := sfs.loadListing(ctx, tx, parent, linkDir)
		if err != nil {
			return err
		}
		if _, ok := listing[linkBase]; ok {
			return syserr.New(syserr.EEXIST, link)
		}

		in.Nlink++
		in.TouchChanged(sfs.clock)
		if err := sfs.writeInode(ctx, tx, in, target); err != nil {
			return err
		}

		listing[linkBase] = in.Ino
		return sfs.saveListing(ctx, tx, parent, listing, linkDir)
	})
}

////////////////////////////////////////////////////////////////////////
// Data plane
////////////////////////////////////////////////////////////////////////

func (sfs *StoreFS) WriteAt(ctx context.Context, p string, src []byte, off int64) (int, error) {
	if err := sfs.checkWritable(p); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, syserr.New(syserr.EINVAL, p)
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	var n int
	err := sfs.inTx(ctx, func(tx store.Transaction) error {
		in, err := sfs.walk(ctx, tx, p)
		if err != nil {
			return err
		}
		if in.Mode.IsDir() {
			return syserr.New(syserr.EISDIR, p)
		}

		raw, found, err := tx.Get(ctx, in.Data)
		if err != nil {
			return syserr.Convert(err, p)
		}
		if !found {
			return syserr.New(syserr.EIO, p)
		}

		end := off + int64(len(src))
		if end > int64(len(raw)) {
			grown := make([]byte, end)
			copy(grown, raw)
			raw = grown
		}
		n = copy(raw[off:], src)

		if _, err := tx.Put(ctx, in.Data, raw, true); err != nil {
			return syserr.Convert(err, p)
		}

		in.Size = uint64(len(raw))
		in.TouchModified(sfs.clock)
		return sfs.writeInode(ctx, tx, in, p)
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// Sync persists handle state: a full data blob replacement when data is
// non-nil, plus the caller's inode snapshot. Link count stays whatever the
// store says, since the snapshot may predate a concurrent link or unlink.
func (sfs *StoreFS) Sync(ctx context.Context, p string, data []byte, st *inode.Inode) error {
	if err := sfs.checkWritable(p); err != nil {
		return err
	}

	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	return sfs.inTx(ctx, func(tx store.Transaction) error {
		cur, err := sfs.walk(ctx, tx, p)
		if err != nil {
			return err
		}

		merged := st.Clone()
		merged.Ino = cur.Ino
		merged.Data = cur.Data
		merged.Nlink = cur.Nlink

		if data != nil {
			if _, err := tx.Put(ctx, cur.Data, data, true); err != nil {
				return syserr.Convert(err, p)
			}
			merged.Size = uint64(len(data))
		}

		return sfs.writeInode(ctx, tx, merged, p)
	})
}
