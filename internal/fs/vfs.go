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
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/storevfs/storevfs/common"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// Symlink resolution gives up past this many hops.
const maxSymlinkHops = 40

// File descriptors below this value are reserved for stdio-like slots.
const minFD = 4

// LOCK ORDERING
//
// Let S be the shared-state lock (s.mu) and M any per-mount lock. We
// acquire S only for mount-table and FD-table bookkeeping and never call
// into a backend while holding it. M is held across the backend calls of a
// single operation. Never acquire S while holding M, and never hold two
// mount locks at once (cross-mount operations fail with EXDEV before
// locking).

// state is the mount table, FD table, and configuration shared by every
// credential view of one VFS.
type state struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	clock   timeutil.Clock
	metrics common.MetricHandle

	/////////////////////////
	// Constant data
	/////////////////////////

	// Extended-attribute namespaces callers may touch, e.g. ["user."].
	xattrNamespaces []string

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// Mounts, addressed by longest matching prefix.
	//
	// INVARIANT: prefixes are unique
	// INVARIANT: every prefix is "/" or a cleaned absolute path
	//
	// GUARDED_BY(mu)
	mounts []*mountEntry

	// Open handles by descriptor.
	//
	// INVARIANT: every key >= minFD
	//
	// GUARDED_BY(mu)
	fds map[int]*Handle
}

type mountEntry struct {
	prefix string
	fs     FileSystem

	// Serializes operations against this mount.
	mu sync.Mutex
}

func newMountEntry(prefix string, backend FileSystem) *mountEntry {
	return &mountEntry{
		prefix: prefix,
		fs:     backend,
	}
}

func (ent *mountEntry) lock() {
	ent.mu.Lock()
}

func (ent *mountEntry) unlock() {
	ent.mu.Unlock()
}

// VFS is one credential's view onto the shared mount and descriptor state.
// Views from the same New call share everything but the credential.
type VFS struct {
	s    *state
	cred inode.Cred
}

type Options struct {
	// Clock stamps inode times. Nil means the real clock.
	Clock timeutil.Clock

	// Cred is the default credential for the root view.
	Cred inode.Cred

	// XattrNamespaces overrides the allowed extended-attribute prefixes.
	// Nil means ["user."].
	XattrNamespaces []string

	// Metrics receives per-op telemetry. Nil means none.
	Metrics common.MetricHandle
}

func New(opts Options) *VFS {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock()
	}
	if opts.XattrNamespaces == nil {
		opts.XattrNamespaces = []string{"user."}
	}
	if opts.Metrics == nil {
		opts.Metrics = common.NewNoopMetrics()
	}

	s := &state{
		clock:           opts.Clock,
		metrics:         opts.Metrics,
		xattrNamespaces: opts.XattrNamespaces,
		fds:             make(map[int]*Handle),
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	return &VFS{s: s, cred: opts.Cred}
}

// View returns a VFS sharing this one's mounts and descriptors but acting
// as cred.
func (v *VFS) View(cred inode.Cred) *VFS {
	return &VFS{s: v.s, cred: cred}
}

// Cred returns the credential this view acts as.
func (v *VFS) Cred() inode.Cred {
	return v.cred
}

func (s *state) checkInvariants() {
	seen := make(map[string]struct{})
	for _, ent := range s.mounts {
		if _, ok := seen[ent.prefix]; ok {
			panic(fmt.Sprintf("Duplicate mount prefix: %q", ent.prefix))
		}
		seen[ent.prefix] = struct{}{}
	}

	for fd := range s.fds {
		if fd < minFD {
			panic(fmt.Sprintf("Illegal fd: %d", fd))
		}
	}
}

////////////////////////////////////////////////////////////////////////
// Mount table
////////////////////////////////////////////////////////////////////////

// Mount registers backend at the given prefix. The root mount may be
// replaced; any other occupied prefix reports EBUSY.
func (v *VFS) Mount(p string, backend FileSystem) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}

	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ent := range s.mounts {
		if ent.prefix != p {
			continue
		}
		if p != "/" {
			return syserr.New(syserr.EBUSY, p)
		}
		s.mounts[i] = newMountEntry(p, backend)
		return nil
	}

	s.mounts = append(s.mounts, newMountEntry(p, backend))
	sort.Slice(s.mounts, func(i, j int) bool {
		return s.mounts[i].prefix < s.mounts[j].prefix
	})

	return nil
}

// Umount removes the mount registered exactly at p.
func (v *VFS) Umount(p string) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}

	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ent := range s.mounts {
		if ent.prefix == p {
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			return nil
		}
	}

	return syserr.New(syserr.EINVAL, p)
}

// MountPoints lists the registered prefixes.
func (v *VFS) MountPoints() []string {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.mounts))
	for i, ent := range s.mounts {
		out[i] = ent.prefix
	}

	return out
}

// resolveMount picks the mount whose prefix is the longest match for p and
// returns it with the mount-local remainder.
func (s *state) resolveMount(p string) (*mountEntry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *mountEntry
	for _, ent := range s.mounts {
		if ent.prefix != "/" && p != ent.prefix && !strings.HasPrefix(p, ent.prefix+"/") {
			continue
		}
		if best == nil || len(ent.prefix) > len(best.prefix) {
			best = ent
		}
	}

	if best == nil {
		return nil, "", syserr.New(syserr.ENODEV, p)
	}

	local := p
	if best.prefix != "/" {
		local = p[len(best.prefix):]
		if local == "" {
			local = "/"
		}
	}

	return best, local, nil
}

// userPath maps a mount-local path back to the caller-visible one.
func (ent *mountEntry) userPath(local string) string {
	if ent.prefix == "/" {
		return local
	}
	if local == "/" {
		return ent.prefix
	}

	return ent.prefix + local
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// normalize validates and cleans a user path: embedded NULs are rejected,
// "." and ".." resolve lexically, and the result is absolute.
func normalize(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", syserr.New(syserr.EINVAL, p)
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return cleanPath(p), nil
}

func cleanPath(p string) string {
	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}

	return cleaned
}

// rewriteErr translates a backend error's path from mount-local to user
// coordinates before it crosses the API boundary.
func rewriteErr(err error, userPath string) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(*syserr.Error); ok {
		return e.WithPath(userPath)
	}

	return err
}

// record emits telemetry for one completed op.
func (v *VFS) record(ctx context.Context, op string, start time.Time, err error) {
	s := v.s
	s.metrics.FsOpsCount(ctx, 1, op)
	s.metrics.FsOpsLatency(ctx, v.s.clock.Now().Sub(start), op)
	if err != nil {
		s.metrics.FsOpsErrorCount(ctx, 1, op, string(syserr.GetCode(err)))
	}
}
