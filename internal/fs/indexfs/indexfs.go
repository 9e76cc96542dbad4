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

// Package indexfs is the backend variant whose metadata lives in an
// in-memory index keyed by path, with file contents read and written by
// path through a pluggable data layer. It suits pre-seeded images and
// backends whose native addressing is path-shaped rather than inode-shaped.
package indexfs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// DataFS supplies the contents behind the index.
type DataFS interface {
	ReadFile(ctx context.Context, p string) ([]byte, error)
	WriteFile(ctx context.Context, p string, data []byte) error
	RemoveFile(ctx context.Context, p string) error
}

// indexFormatVersion is bumped whenever the serialized index layout
// changes incompatibly.
const indexFormatVersion = 1

// indexImage is the serialized form used to seed read-only images.
type indexImage struct {
	Version int                      `json:"version"`
	Entries map[string]*indexedEntry `json:"entries"`
}

type indexedEntry struct {
	Size  uint64 `json:"size"`
	Mode  uint32 `json:"mode"`
	Uid   uint32 `json:"uid"`
	Gid   uint32 `json:"gid"`
	Mtime int64  `json:"mtime"`
}

// IndexFS implements the backend contract over an Index plus a DataFS.
type IndexFS struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	data  DataFS
	clock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	uuid     string
	readOnly bool

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// Path → inode record, including "/". Directory sizes track nothing;
	// listings are derived from path prefixes.
	//
	// INVARIANT: entries["/"] exists and is a directory
	// INVARIANT: for every non-root key, the parent path is also a key
	//
	// GUARDED_BY(mu)
	entries map[string]*inode.Inode

	// GUARDED_BY(mu)
	label string
}

var _ fs.FileSystem = &IndexFS{}

type Options struct {
	Label    string
	ReadOnly bool
}

func New(data DataFS, clock timeutil.Clock, opts Options) *IndexFS {
	root := inode.New(0o777|inode.TypeDirectory, 0, 0, 0, clock)
	root.Ino = inode.RootIno

	return &IndexFS{
		data:     data,
		clock:    clock,
		uuid:     uuid.NewString(),
		readOnly: opts.ReadOnly,
		entries:  map[string]*inode.Inode{"/": root},
		label:    opts.Label,
	}
}

// LoadImage replaces the index with a serialized image, typically to mount
// a pre-built read-only tree.
func (ifs *IndexFS) LoadImage(raw []byte) error {
	var img indexImage
	if err := json.Unmarshal(raw, &img); err != nil {
		return fmt.Errorf("decoding index image: %w", err)
	}
	if img.Version != indexFormatVersion {
		return fmt.Errorf("unsupported index version: %d", img.Version)
	}

	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	entries := make(map[string]*inode.Inode, len(img.Entries)+1)
	for p, e := range img.Entries {
		in := inode.New(inode.Mode(e.Mode), e.Uid, e.Gid, e.Size, ifs.clock)
		in.Mtime = e.Mtime
		in.Ino = pathIno(p)
		entries[p] = in
	}

	if _, ok := entries["/"]; !ok {
		root := inode.New(0o777|inode.TypeDirectory, 0, 0, 0, ifs.clock)
		root.Ino = inode.RootIno
		entries["/"] = root
	}

	ifs.entries = entries
	return nil
}

// SaveImage serializes the index for seeding.
func (ifs *IndexFS) SaveImage() ([]byte, error) {
	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	img := indexImage{
		Version: indexFormatVersion,
		Entries: make(map[string]*indexedEntry, len(ifs.entries)),
	}
	for p, in := range ifs.entries {
		img.Entries[p] = &indexedEntry{
			Size:  in.Size,
			Mode:  uint32(in.Mode),
			Uid:   in.Uid,
			Gid:   in.Gid,
			Mtime: in.Mtime,
		}
	}

	return json.Marshal(img)
}

// pathIno derives a stable synthetic id for a path-addressed entry.
func pathIno(p string) inode.Ino {
	if p == "/" {
		return inode.RootIno
	}

	// FNV-1a, inlined so the id derivation is pinned independent of
	// library changes.
	var h uint64 = 14695981039346656037
	for i := 0; i < len(p); i++ {
		h ^= uint64(p[i])
		h *= 1099511628211
	}
	if h == uint64(inode.RootIno) {
		h = 1
	}

	return inode.Ino(h)
}

func (ifs *IndexFS) Attrs() fs.Attributes {
	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	return fs.Attributes{
		Name:     "indexfs",
		Label:    ifs.label,
		UUID:     ifs.uuid,
		ReadOnly: ifs.readOnly,
	}
}

func (ifs *IndexFS) checkWritable(p string) error {
	if ifs.readOnly {
		return syserr.New(syserr.EROFS, p)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// FileSystem implementation
////////////////////////////////////////////////////////////////////////

func (ifs *IndexFS) Stat(_ context.Context, p string) (*inode.Inode, error) {
	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	in, ok := ifs.entries[p]
	if !ok {
		return nil, syserr.New(syserr.ENOENT, p)
	}

	return in.Clone(), nil
}

func (ifs *IndexFS) OpenFile(ctx context.Context, p string, _ fs.OpenFlags) (*inode.Inode, error) {
	return ifs.Stat(ctx, p)
}

func (ifs *IndexFS) Exists(_ context.Context, p string) bool {
	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	_, ok := ifs.entries[p]
	return ok
}

func (ifs *IndexFS) ReadDir(_ context.Context, p string) ([]string, error) {
	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	dir, ok := ifs.entries[p]
	if !ok {
		return nil, syserr.New(syserr.ENOENT, p)
	}
	if !dir.Mode.IsDir() {
		return nil, syserr.New(syserr.ENOTDIR, p)
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	var names []string
	for candidate := range ifs.entries {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := candidate[len(prefix):]
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)

	return names, nil
}

func (ifs *IndexFS) parentDir(p string) (*inode.Inode, error) {
	parent, ok := ifs.entries[path.Dir(p)]
	if !ok {
		return nil, syserr.New(syserr.ENOENT, p)
	}
	if !parent.Mode.IsDir() {
		return nil, syserr.New(syserr.ENOTDIR, p)
	}

	return parent, nil
}

func (ifs *IndexFS) CreateFile(ctx context.Context, p string, mode inode.Mode, cred inode.Cred, data []byte) (*inode.Inode, error) {
	if err := ifs.checkWritable(p); err != nil {
		return nil, err
	}

	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	if _, ok := ifs.entries[p]; ok {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	parent, err := ifs.parentDir(p)
	if err != nil {
		return nil, err
	}
	if !inode.Check(cred, parent, inode.MayWrite|inode.MayExec) {
		return nil, syserr.New(syserr.EACCES, p)
	}

	if mode.FileType() == 0 {
		mode |= inode.TypeRegular
	}

	if err := ifs.data.WriteFile(ctx, p, data); err != nil {
		return nil, syserr.Convert(err, p)
	}

	in := inode.New(mode, cred.Uid, cred.Gid, uint64(len(data)), ifs.clock)
	in.Ino = pathIno(p)
	ifs.entries[p] = in

	return in.Clone(), nil
}

func (ifs *IndexFS) Mkdir(_ context.Context, p string, mode inode.Mode, cred inode.Cred) (*inode.Inode, error) {
	if err := ifs.checkWritable(p); err != nil {
		return nil, err
	}

	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	if _, ok := ifs.entries[p]; ok {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	parent, err := ifs.parentDir(p)
	if err != nil {
		return nil, err
	}
	if !inode.Check(cred, parent, inode.MayWrite|inode.MayExec) {
		return nil, syserr.New(syserr.EACCES, p)
	}

	in := inode.New(mode.Perm()|inode.TypeDirectory, cred.Uid, cred.Gid, 0, ifs.clock)
	in.Ino = pathIno(p)
	ifs.entries[p] = in

	return in.Clone(), nil
}

func (ifs *IndexFS) childCount(p string) int {
	prefix := p + "/"
	n := 0
	for candidate := range ifs.entries {
		if strings.HasPrefix(candidate, prefix) {
			n++
		}
	}

	return n
}

func (ifs *IndexFS) Unlink(ctx context.Context, p string, cred inode.Cred) error {
	if err := ifs.checkWritable(p); err != nil {
		return err
	}

	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	in, ok := ifs.entries[p]
	if !ok {
		return syserr.New(syserr.ENOENT, p)
	}
	if in.Mode.IsDir() {
		return syserr.New(syserr.EISDIR, p)
	}
	if !inode.Check(cred, in, inode.MayWrite) {
		return syserr.New(syserr.EACCES, p)
	}

	if err := ifs.data.RemoveFile(ctx, p); err != nil {
		return syserr.Convert(err, p)
	}

	delete(ifs.entries, p)
	return nil
}

func (ifs *IndexFS) Rmdir(_ context.Context, p string, cred inode.Cred) error {
	if err := ifs.checkWritable(p); err != nil {
		return err
	}

	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	in, ok := ifs.entries[p]
	if !ok {
		return syserr.New(syserr.ENOENT, p)
	}
	if !in.Mode.IsDir() {
		return syserr.New(syserr.ENOTDIR, p)
	}
	if p == "/" {
		return syserr.New(syserr.EBUSY, p)
	}
	if !inode.Check(cred, in, inode.MayWrite) {
		return syserr.New(syserr.EACCES, p)
	}
	if ifs.childCount(p) != 0 {
		return syserr.New(syserr.ENOTEMPTY, p)
	}

	delete(ifs.entries, p)
	return nil
}

func (ifs *IndexFS) Rename(ctx context.Context, oldPath, newPath string, cred inode.Cred) error {
	if err := ifs.checkWritable(oldPath); err != nil {
		return err
	}

	ifs.mu.Lock()
	defer ifs.mu.Unlock()

	in, ok := ifs.entries[oldPath]
	if !ok {
		return syserr.New(syserr.ENOENT, oldPath)
	}
	if strings.HasPrefix(path.Dir(newPath)+"/", oldPath+"/") {
		return syserr.New(syserr.EBUSY, newPath)
	}
	if existing, ok := ifs.entries[newPath]; ok {
		if existing.Mode.IsDir() {
			return syserr.New(syserr.EPERM, newPath)
		}
	}
	if _, err := ifs.parentDir(newPath); err != nil {
		return err
	}

	// Move the entry and, for directories, every entry beneath it. Data
	// follows by read/write/remove through the data layer.
	moved := map[string]string{oldPath: newPath}
	if in.Mode.IsDir() {
		prefix := oldPath + "/"
		for candidate := range ifs.entries {
			if strings.HasPrefix(candidate, prefix) {
				moved[candidate] = newPath + candidate[len(oldPath):]
			}
		}
	}

	for from, to := range moved {
		entry := ifs.entries[from]
		if !entry.Mode.IsDir() {
			contents, err := ifs.data.ReadFile(ctx, from)
			if err != nil {
				return syserr.Convert(err, from)
			}
			if err := ifs.data.WriteFile(ctx, to, contents); err != nil {
				return syserr.Convert(err, to)
			}
			if err := ifs.data.RemoveFile(ctx, from); err != nil {
				return syserr.Convert(err, from)
			}
		}

		delete(ifs.entries, from)
		entry.Ino = pathIno(to)
		ifs.entries[to] = entry
	}

	in.TouchChanged(ifs.clock)
	return nil
}

// Link is not supported: a path-keyed index has no second name for the
// same record.
func (ifs *IndexFS) Link(_ context.Context, target, _ string, _ inode.Cred) error {
	return syserr.New(syserr.ENOTSUP, target)
}

func (ifs *IndexFS) ReadAt(ctx context.Context, p string, dst []byte, off int64) (int, error) {
	ifs.mu.Lock()
	in, ok := ifs.entries[p]
	if !ok {
		ifs.mu.Unlock()
		return 0, syserr.New(syserr.ENOENT, p)
	}
	if in.Mode.IsDir() {
		ifs.mu.Unlock()
		return 0, syserr.New(syserr.EISDIR, p)
	}
	ifs.mu.Unlock()

	contents, err := ifs.data.ReadFile(ctx, p)
	if err != nil {
		return 0, syserr.Convert(err, p)
	}

	if off < 0 || off >= int64(len(contents)) {
		return 0, nil
	}

	return copy(dst, contents[off:]), nil
}

func (ifs *IndexFS) WriteAt(ctx context.Context, p string, src []byte, off int64) (int, error) {
	if err := ifs.checkWritable(p); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, syserr.New(syserr.EINVAL, p)
	}

	ifs.mu.Lock()
	in, ok := ifs.entries[p]
	if !ok {
		ifs.mu.Unlock()
		return 0, syserr.New(syserr.ENOENT, p)
	}
	if in.Mode.IsDir() {
		ifs.mu.Unlock()
		return 0, syserr.New(syserr.EISDIR, p)
	}
	ifs.mu.Unlock()

	contents, err := ifs.data.ReadFile(ctx, p)
	if err != nil {
		return 0, syserr.Convert(err, p)
	}

	end := off + int64(len(src))
	if end > int64(len(contents)) {
		grown := make([]byte, end)
		copy(grown, contents)
		contents = grown
	}
	n := copy(contents[off:], src)

	if err := ifs.data.WriteFile(ctx, p, contents); err != nil {
		return 0, syserr.Convert(err, p)
	}

	ifs.mu.Lock()
	in.Size = uint64(len(contents))
	in.TouchModified(ifs.clock)
	ifs.mu.Unlock()

	return n, nil
}

func (ifs *IndexFS) Sync(ctx context.Context, p string, data []byte, st *inode.Inode) error {
	if err := ifs.checkWritable(p); err != nil {
		return err
	}

	ifs.mu.Lock()
	in, ok := ifs.entries[p]
	if !ok {
		ifs.mu.Unlock()
		return syserr.New(syserr.ENOENT, p)
	}
	ifs.mu.Unlock()

	if data != nil {
		if err := ifs.data.WriteFile(ctx, p, data); err != nil {
			return syserr.Convert(err, p)
		}
	}

	ifs.mu.Lock()
	merged := st.Clone()
	merged.Ino = in.Ino
	if data != nil {
		merged.Size = uint64(len(data))
	}
	ifs.entries[p] = merged
	ifs.mu.Unlock()

	return nil
}
