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

// Package overlayfs composes a read-only lower file system with a writable
// upper one. Reads fall through to the lower layer, mutations copy the
// target up first, and deletions of lower-layer paths are recorded in a
// persistent log on the upper layer.
package overlayfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storevfs/storevfs/clock"
	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/logger"
	"github.com/storevfs/storevfs/internal/syserr"
)

// DeletionLogPath is the reserved upper-layer file recording deleted
// lower-layer paths, one "d<path>" record per line. User operations on it
// are rejected.
const DeletionLogPath = "/.deleted"

// A failed log write is retried once after this delay before staying
// latched.
const logRetryDelay = 100 * time.Millisecond

// OverlayFS composes upper (writable) over lower (read-only).
type OverlayFS struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	upper fs.FileSystem
	lower fs.FileSystem
	clock clock.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	uuid string

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// Lower-layer paths hidden from view.
	//
	// INVARIANT: a path is visible iff the upper layer has it, or the
	// lower layer has it and it is not in this set.
	//
	// GUARDED_BY(mu)
	deleted map[string]struct{}

	// Deletion-log writer state. Mutations push full-log snapshots onto
	// logQueue; a single writer goroutine drains it, discarding every
	// snapshot but the newest.
	//
	// GUARDED_BY(mu)
	logQueue   snapshotQueue
	logPending bool

	// A persistent log-write failure, re-raised at the next entry point.
	//
	// GUARDED_BY(mu)
	logErr error

	// Signaled whenever logPending drops; FlushLog waits on it.
	logIdle *sync.Cond
}

var _ fs.FileSystem = &OverlayFS{}

// New builds an overlay. The upper layer must be writable; a missing
// deletion log reads as empty.
func New(ctx context.Context, upper, lower fs.FileSystem, clk clock.Clock) (*OverlayFS, error) {
	if upper.Attrs().ReadOnly {
		return nil, syserr.New(syserr.EINVAL, "")
	}

	ov := &OverlayFS{
		upper:   upper,
		lower:   lower,
		clock:   clk,
		uuid:    uuid.NewString(),
		deleted: make(map[string]struct{}),
	}
	ov.logIdle = sync.NewCond(&ov.mu)

	if err := ov.loadLog(ctx); err != nil {
		return nil, err
	}

	return ov, nil
}

func (ov *OverlayFS) Attrs() fs.Attributes {
	return fs.Attributes{
		Name:    "overlayfs",
		Label:   ov.upper.Attrs().Label,
		UUID:    ov.uuid,
		NoAtime: ov.lower.Attrs().NoAtime && ov.upper.Attrs().NoAtime,
	}
}

////////////////////////////////////////////////////////////////////////
// Deletion log
////////////////////////////////////////////////////////////////////////

func (ov *OverlayFS) loadLog(ctx context.Context) error {
	st, err := ov.upper.Stat(ctx, DeletionLogPath)
	if err != nil {
		if syserr.IsCode(err, syserr.ENOENT) {
			return nil
		}
		return err
	}

	raw := make([]byte, st.Size)
	if _, err := ov.upper.ReadAt(ctx, DeletionLogPath, raw, 0); err != nil {
		return err
	}

	for _, line := range strings.Split(string(raw), "\n") {
		// Records are "d<path>"; anything else is skipped so future
		// record types stay backward compatible.
		if strings.HasPrefix(line, "d") {
			ov.deleted[line[1:]] = struct{}{}
		}
	}

	return nil
}

// isDeleted reports membership in the deletion set.
func (ov *OverlayFS) isDeleted(p string) bool {
	ov.mu.Lock()
	defer ov.mu.Unlock()

	_, ok := ov.deleted[p]
	return ok
}

// markDeleted records p and schedules a log rewrite.
//
// LOCKS_EXCLUDED(ov.mu)
func (ov *OverlayFS) markDeleted(p string) {
	ov.mu.Lock()
	defer ov.mu.Unlock()

	ov.deleted[p] = struct{}{}
	ov.queueLogUpdate()
}

// snapshotLocked renders the full log contents.
//
// LOCKS_REQUIRED(ov.mu)
func (ov *OverlayFS) snapshotLocked() []byte {
	paths := make([]string, 0, len(ov.deleted))
	for p := range ov.deleted {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString("d")
		b.WriteString(p)
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// queueLogUpdate enqueues a fresh snapshot and wakes the writer if none is
// running.
//
// LOCKS_REQUIRED(ov.mu)
func (ov *OverlayFS) queueLogUpdate() {
	ov.logQueue.push(ov.snapshotLocked())
	if ov.logPending {
		return
	}

	ov.logPending = true
	go ov.writeLog()
}

// writeLog is the single writer task: it drains the queue, skipping every
// snapshot but the newest, until no further update is waiting.
//
// LOCKS_EXCLUDED(ov.mu)
func (ov *OverlayFS) writeLog() {
	for {
		ov.mu.Lock()
		if ov.logQueue.empty() {
			ov.logPending = false
			ov.logIdle.Broadcast()
			ov.mu.Unlock()
			return
		}

		snapshot := ov.logQueue.takeNewest()
		ov.mu.Unlock()

		err := ov.persistLog(snapshot)
		if err != nil {
			logger.Warnf("overlay deletion log write failed, retrying: %v", err)
			<-ov.clock.After(logRetryDelay)
			err = ov.persistLog(snapshot)
		}

		ov.mu.Lock()
		if err != nil {
			ov.logErr = err
		} else {
			ov.logErr = nil
		}
		ov.mu.Unlock()
	}
}

func (ov *OverlayFS) persistLog(snapshot []byte) error {
	ctx := context.Background()

	st, err := ov.upper.Stat(ctx, DeletionLogPath)
	if err != nil {
		if !syserr.IsCode(err, syserr.ENOENT) {
			return err
		}
		_, err = ov.upper.CreateFile(ctx, DeletionLogPath, inode.TypeRegular|0o600, inode.RootCred, snapshot)
		return err
	}

	return ov.upper.Sync(ctx, DeletionLogPath, snapshot, st)
}

// FlushLog blocks until no log rewrite is in flight, returning the latched
// error, if any.
func (ov *OverlayFS) FlushLog() error {
	ov.mu.Lock()
	defer ov.mu.Unlock()

	for ov.logPending {
		ov.logIdle.Wait()
	}

	return ov.logErr
}

// checkEntry gates every API entry point: the reserved path is off limits,
// and a latched log failure surfaces here.
func (ov *OverlayFS) checkEntry(p string) error {
	if p == DeletionLogPath {
		return syserr.New(syserr.EPERM, p)
	}

	ov.mu.Lock()
	defer ov.mu.Unlock()

	if ov.logErr != nil {
		err := ov.logErr
		ov.logErr = nil
		return syserr.Convert(err, p)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Visibility and copy-up
////////////////////////////////////////////////////////////////////////

func (ov *OverlayFS) visible(ctx context.Context, p string) bool {
	if ov.upper.Exists(ctx, p) {
		return true
	}

	return ov.lower.Exists(ctx, p) && !ov.isDeleted(p)
}

// ensureParents materializes every missing ancestor of p on the upper
// layer, taking modes from the lower layer where it has them.
func (ov *OverlayFS) ensureParents(ctx context.Context, p string) error {
	parts := strings.Split(strings.Trim(p, "/"), "/")

	dir := ""
	for i := 0; i < len(parts)-1; i++ {
		dir = dir + "/" + parts[i]
		if ov.upper.Exists(ctx, dir) {
			continue
		}

		mode := inode.Mode(0o777)
		if st, err := ov.lower.Stat(ctx, dir); err == nil {
			mode = st.Mode.Perm() | 0o222
		}

		if _, err := ov.upper.Mkdir(ctx, dir, mode, inode.RootCred); err != nil {
			if !syserr.IsCode(err, syserr.EEXIST) {
				return err
			}
		}
	}

	return nil
}

// copyUp materializes p on the upper layer: parents first, then the node
// itself, recursing into directories. Copied nodes gain write permission.
func (ov *OverlayFS) copyUp(ctx context.Context, p string) error {
	if p == "/" || ov.upper.Exists(ctx, p) {
		return nil
	}

	st, err := ov.lower.Stat(ctx, p)
	if err != nil {
		return err
	}

	if err := ov.ensureParents(ctx, p); err != nil {
		return err
	}

	if st.Mode.IsDir() {
		if _, err := ov.upper.Mkdir(ctx, p, st.Mode.Perm()|0o222, inode.RootCred); err != nil {
			return err
		}

		children, err := ov.lower.ReadDir(ctx, p)
		if err != nil {
			return err
		}

		for _, name := range children {
			child := join(p, name)
			if ov.isDeleted(child) {
				continue
			}
			if err := ov.copyUp(ctx, child); err != nil {
				return err
			}
		}
	} else {
		data := make([]byte, st.Size)
		if _, err := ov.lower.ReadAt(ctx, p, data, 0); err != nil {
			return err
		}

		if _, err := ov.upper.CreateFile(ctx, p, st.Mode|0o222, inode.RootCred, data); err != nil {
			return err
		}
	}

	// Carry mode, ownership, and times over; the create above ran as root.
	// Size and blob bookkeeping stay whatever the upper layer computed.
	upSt, err := ov.upper.Stat(ctx, p)
	if err != nil {
		return err
	}
	upSt.Mode = st.Mode | 0o222
	upSt.Uid = st.Uid
	upSt.Gid = st.Gid
	upSt.Atime = st.Atime
	upSt.Mtime = st.Mtime
	upSt.Birthtime = st.Birthtime
	return ov.upper.Sync(ctx, p, nil, upSt)
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}

	return dir + "/" + name
}
