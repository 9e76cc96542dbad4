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

// Package inode defines the metadata record describing a file system
// object, its on-store wire format, and the mode/flag/permission helpers
// shared by every backend.
package inode

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Ino is the 64-bit key under which an inode record or data blob is stored.
type Ino uint64

// RootIno is the reserved id of the root directory. Every other inode gets
// a cryptographically random id at creation time.
const RootIno Ino = 0

// Inode is the fixed-layout metadata record for a file system object.
//
// INVARIANT: Size equals the byte length of the data blob stored under Data.
// INVARIANT: Nlink >= 1 while the record exists.
type Inode struct {
	// Self id, and the id of this inode's data blob. For directories the
	// blob is the serialized directory listing; for regular files and
	// symlinks it is the raw contents.
	Ino  Ino
	Data Ino

	// Size of the data blob, in bytes.
	Size uint64

	// File-type bits in the top half, permission bits in the low 12.
	Mode Mode

	// Hard-link count. Directories keep Nlink == 1 in this model.
	Nlink uint32

	Uid uint32
	Gid uint32

	// Milliseconds since the Unix epoch.
	Atime     int64
	Mtime     int64
	Ctime     int64
	Birthtime int64

	// Behavioral flag bits, see flags.go.
	Flags uint32

	// Monotonic per-inode modification counter.
	Version uint64

	// Extended attributes, keyed by fully-qualified name ("user.foo").
	// Nil when the inode has none.
	Attributes map[string][]byte
}

// Cred identifies the caller for permission checking.
type Cred struct {
	Uid uint32
	Gid uint32
}

// RootCred bypasses permission checks the way uid 0 does.
var RootCred = Cred{Uid: 0, Gid: 0}

// TimeMillis converts a wall-clock time to the record's millisecond
// representation.
func TimeMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a record timestamp back to a wall-clock time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// New returns a fresh record with link count 1 and all four timestamps set
// from the clock. The caller fills in Ino and Data once ids are allocated.
func New(mode Mode, uid, gid uint32, size uint64, clock timeutil.Clock) *Inode {
	now := TimeMillis(clock.Now())
	return &Inode{
		Size:      size,
		Mode:      mode,
		Nlink:     1,
		Uid:       uid,
		Gid:       gid,
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
		Birthtime: now,
	}
}

// TouchAccessed updates the access time unless the no-atime flag is set.
func (in *Inode) TouchAccessed(clock timeutil.Clock) {
	if in.Flags&FlagNoAtime != 0 {
		return
	}

	in.Atime = TimeMillis(clock.Now())
	in.Version++
}

// TouchModified updates the modification and change times and bumps the
// version counter.
func (in *Inode) TouchModified(clock timeutil.Clock) {
	now := TimeMillis(clock.Now())
	in.Mtime = now
	in.Ctime = now
	in.Version++
}

// TouchChanged updates the change time only (metadata edits: chmod, chown,
// link count, xattrs).
func (in *Inode) TouchChanged(clock timeutil.Clock) {
	in.Ctime = TimeMillis(clock.Now())
	in.Version++
}

// Clone returns a deep copy, including the attribute map.
func (in *Inode) Clone() *Inode {
	dup := *in
	if in.Attributes != nil {
		dup.Attributes = make(map[string][]byte, len(in.Attributes))
		for k, v := range in.Attributes {
			dup.Attributes[k] = append([]byte(nil), v...)
		}
	}

	return &dup
}
