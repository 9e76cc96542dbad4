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

// Package storefs turns a flat key-value store into a hierarchical file
// system: inode records and data blobs keyed by random 64-bit ids,
// JSON directory listings, hard links, and transactional multi-step
// mutations with rollback.
package storefs

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/store"
	"github.com/storevfs/storevfs/internal/syserr"
)

// Random-id allocation retries this many times before giving up with EIO.
const maxAllocAttempts = 5

// Path walks give up past this many distinct inodes, catching reference
// cycles in a corrupted store.
const maxWalkInodes = 4096

type Options struct {
	// Label is the volume label reported through Attrs and the label
	// ioctls.
	Label string

	// RootMode is the permission set given to a freshly-bootstrapped root
	// directory. Zero means 0o777.
	RootMode inode.Mode

	// Uid and Gid own the bootstrapped root.
	Uid uint32
	Gid uint32

	// ReadOnly rejects every mutation with EROFS.
	ReadOnly bool

	// NoAtime suppresses access-time maintenance on this file system.
	NoAtime bool
}

// StoreFS implements the backend contract on top of a key-value store.
type StoreFS struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	store store.Store
	clock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	uuid     string
	readOnly bool
	noAtime  bool

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Serializes multi-step mutations against this file system. The VFS
	// layer additionally serializes per mount; this lock keeps the backend
	// safe when driven directly.
	mu sync.Mutex

	// GUARDED_BY(mu)
	label string
}

var _ fs.FileSystem = &StoreFS{}

// New returns a StoreFS over the supplied store, bootstrapping the root
// directory if the store has never been mounted before.
func New(ctx context.Context, s store.Store, clock timeutil.Clock, opts Options) (*StoreFS, error) {
	sfs := &StoreFS{
		store:    s,
		clock:    clock,
		uuid:     uuid.NewString(),
		readOnly: opts.ReadOnly,
		noAtime:  opts.NoAtime,
		label:    opts.Label,
	}

	if err := sfs.ensureRoot(ctx, opts); err != nil {
		return nil, fmt.Errorf("bootstrapping root: %w", err)
	}

	return sfs, nil
}

func (sfs *StoreFS) Attrs() fs.Attributes {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	return fs.Attributes{
		Name:     "storefs",
		Label:    sfs.label,
		UUID:     sfs.uuid,
		ReadOnly: sfs.readOnly,
		NoAtime:  sfs.noAtime,
	}
}

// SetLabel updates the volume label (set-label ioctl).
func (sfs *StoreFS) SetLabel(label string) {
	sfs.mu.Lock()
	defer sfs.mu.Unlock()

	sfs.label = label
}

// Store exposes the backing store for invariant-checking tests.
func (sfs *StoreFS) Store() store.Store {
	return sfs.store
}

////////////////////////////////////////////////////////////////////////
// Store plumbing
////////////////////////////////////////////////////////////////////////

// getter is the read surface shared by the raw store and transactions.
type getter interface {
	Get(ctx context.Context, ino inode.Ino) ([]byte, bool, error)
}

// putter adds the write surface; satisfied by both as well.
type putter interface {
	getter
	Put(ctx context.Context, ino inode.Ino, val []byte, overwrite bool) (bool, error)
}

func (sfs *StoreFS) loadInode(ctx context.Context, g getter, ino inode.Ino, p string) (*inode.Inode, error) {
	raw, found, err := g.Get(ctx, ino)
	if err != nil {
		return nil, syserr.Convert(err, p)
	}
	if !found {
		return nil, syserr.New(syserr.ENOENT, p)
	}

	in, err := inode.Unmarshal(raw)
	if err != nil {
		return nil, syserr.New(syserr.EIO, p)
	}

	return in, nil
}

func (sfs *StoreFS) loadListing(ctx context.Context, g getter, dir *inode.Inode, p string) (map[string]inode.Ino, error) {
	raw, found, err := g.Get(ctx, dir.Data)
	if err != nil {
		return nil, syserr.Convert(err, p)
	}
	if !found {
		return nil, syserr.New(syserr.EIO, p)
	}

	listing, err := decodeListing(raw)
	if err != nil {
		return nil, syserr.New(syserr.EIO, p)
	}

	return listing, nil
}

func (sfs *StoreFS) writeInode(ctx context.Context, pt putter, in *inode.Inode, p string) error {
	raw, err := inode.Marshal(in)
	if err != nil {
		return syserr.New(syserr.EIO, p)
	}

	if _, err := pt.Put(ctx, in.Ino, raw, true); err != nil {
		return syserr.Convert(err, p)
	}

	return nil
}

// saveListing rewrites a directory's listing blob and the directory record
// that owns it.
func (sfs *StoreFS) saveListing(ctx context.Context, pt putter, dir *inode.Inode, listing map[string]inode.Ino, p string) error {
	raw, err := encodeListing(listing)
	if err != nil {
		return syserr.New(syserr.EIO, p)
	}

	if _, err := pt.Put(ctx, dir.Data, raw, true); err != nil {
		return syserr.Convert(err, p)
	}

	dir.Size = uint64(len(raw))
	dir.TouchModified(sfs.clock)

	return sfs.writeInode(ctx, pt, dir, p)
}

// allocate finds an unused random id and atomically inserts the payload
// under it. The payload callback sees the candidate id so records can embed
// their own key.
func (sfs *StoreFS) allocate(ctx context.Context, pt putter, p string, payload func(inode.Ino) ([]byte, error)) (inode.Ino, error) {
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		ino := randomIno()
		if ino == inode.RootIno {
			continue
		}

		raw, err := payload(ino)
		if err != nil {
			return 0, syserr.New(syserr.EIO, p)
		}

		done, err := pt.Put(ctx, ino, raw, false)
		if err != nil {
			return 0, syserr.Convert(err, p)
		}
		if done {
			return ino, nil
		}
	}

	return 0, syserr.New(syserr.EIO, p)
}

func randomIno() inode.Ino {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}

	return inode.Ino(binary.LittleEndian.Uint64(b[:]))
}

////////////////////////////////////////////////////////////////////////
// Path walking
////////////////////////////////////////////////////////////////////////

// walk resolves an absolute backend-local path to its inode record,
// reading through g. It does not follow symlinks.
func (sfs *StoreFS) walk(ctx context.Context, g getter, p string) (*inode.Inode, error) {
	cur, err := sfs.loadInode(ctx, g, inode.RootIno, "/")
	if err != nil {
		return nil, err
	}

	if p == "/" || p == "" {
		return cur, nil
	}

	visited := map[inode.Ino]struct{}{cur.Ino: {}}

	rest := p[1:]
	for rest != "" {
		var name string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name, rest = rest[:i], rest[i+1:]
		} else {
			name, rest = rest, ""
		}

		if !cur.Mode.IsDir() {
			return nil, syserr.New(syserr.ENOTDIR, p)
		}

		listing, err := sfs.loadListing(ctx, g, cur, p)
		if err != nil {
			return nil, err
		}

		childIno, ok := listing[name]
		if !ok {
			return nil, syserr.New(syserr.ENOENT, p)
		}

		// A listing entry pointing at a missing record means the store is
		// inconsistent, not that the path is absent.
		child, err := sfs.loadInode(ctx, g, childIno, p)
		if err != nil {
			if syserr.IsCode(err, syserr.ENOENT) {
				return nil, syserr.New(syserr.EIO, p)
			}
			return nil, err
		}

		if _, seen := visited[child.Ino]; seen {
			return nil, syserr.New(syserr.EIO, p)
		}
		visited[child.Ino] = struct{}{}
		if len(visited) > maxWalkInodes {
			return nil, syserr.New(syserr.EIO, p)
		}

		cur = child
	}

	return cur, nil
}

func split(p string) (dir, base string) {
	return path.Dir(p), path.Base(p)
}

////////////////////////////////////////////////////////////////////////
// Bootstrap
////////////////////////////////////////////////////////////////////////

func (sfs *StoreFS) ensureRoot(ctx context.Context, opts Options) error {
	_, found, err := sfs.store.Get(ctx, inode.RootIno)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	mode := opts.RootMode
	if mode == 0 {
		mode = 0o777
	}
	mode = mode.Perm() | inode.TypeDirectory

	raw, err := encodeListing(map[string]inode.Ino{})
	if err != nil {
		return err
	}

	dataIno, err := sfs.allocate(ctx, sfs.store, "/", func(inode.Ino) ([]byte, error) {
		return raw, nil
	})
	if err != nil {
		return err
	}

	root := inode.New(mode, opts.Uid, opts.Gid, uint64(len(raw)), sfs.clock)
	root.Ino = inode.RootIno
	root.Data = dataIno

	rootRaw, err := inode.Marshal(root)
	if err != nil {
		return err
	}

	// A concurrent mount may have bootstrapped between our check and this
	// insert; losing the race is fine, the store then already has a root.
	if _, err := sfs.store.Put(ctx, inode.RootIno, rootRaw, false); err != nil {
		return err
	}

	return nil
}
