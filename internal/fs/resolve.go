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
	"path"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// resolved is the outcome of path resolution: the mount serving the path,
// the mount-local remainder, and the target's inode record, which is nil
// when the path does not exist.
type resolved struct {
	ent   *mountEntry
	local string

	// The final user-visible path, after symlink expansion.
	path string

	// Nil iff the path is absent.
	stats *inode.Inode
}

// resolve normalizes p, dispatches it through the mount table, and unless
// preserveSymlinks is set follows symlinks in the final component chain.
// A missing final component is not an error; callers inspect stats.
func (v *VFS) resolve(ctx context.Context, p string, preserveSymlinks bool) (*resolved, error) {
	p, err := normalize(p)
	if err != nil {
		return nil, err
	}

	if preserveSymlinks {
		return v.resolveOnce(ctx, p)
	}

	return v.resolveFollowing(ctx, p, 0)
}

// resolveOnce maps a path to its mount and stats it, with no symlink
// expansion.
func (v *VFS) resolveOnce(ctx context.Context, p string) (*resolved, error) {
	ent, local, err := v.s.resolveMount(p)
	if err != nil {
		return nil, err
	}

	res := &resolved{ent: ent, local: local, path: p}

	ent.lock()
	st, err := ent.fs.Stat(ctx, local)
	ent.unlock()

	if err != nil {
		if syserr.IsCode(err, syserr.ENOENT) {
			return res, nil
		}
		return nil, rewriteErr(err, p)
	}

	res.stats = st
	return res, nil
}

func (v *VFS) resolveFollowing(ctx context.Context, p string, hops int) (*resolved, error) {
	if hops > maxSymlinkHops {
		return nil, syserr.New(syserr.ELOOP, p)
	}

	res, err := v.resolveOnce(ctx, p)
	if err != nil {
		// ENOTDIR mid-walk may just be a symlinked ancestor; retry with
		// the parent chain canonicalized.
		if syserr.IsCode(err, syserr.ENOTDIR) {
			dir, base := path.Dir(p), path.Base(p)
			if dir != p {
				realDir, rpErr := v.realpath(ctx, dir, hops+1)
				if rpErr == nil && realDir != dir {
					return v.resolveFollowing(ctx, cleanPath(path.Join(realDir, base)), hops+1)
				}
			}
		}
		return nil, err
	}

	// A symlink in the final position restarts resolution at its target,
	// interpreted relative to the link's directory.
	if res.stats != nil && res.stats.Mode.IsSymlink() {
		target, err := v.readlinkResolved(ctx, res)
		if err != nil {
			return nil, err
		}

		next := target
		if !path.IsAbs(target) {
			next = cleanPath(path.Join(path.Dir(p), target))
		}

		return v.resolveFollowing(ctx, next, hops+1)
	}

	// For a missing path, symlinks may still sit in the directory chain:
	// canonicalize the parent and retry once against the rejoined path.
	if res.stats == nil {
		dir, base := path.Dir(p), path.Base(p)
		if dir != p {
			realDir, err := v.realpath(ctx, dir, hops+1)
			if err != nil || realDir == dir {
				return res, nil
			}

			return v.resolveFollowing(ctx, cleanPath(path.Join(realDir, base)), hops+1)
		}
	}

	return res, nil
}

// readlinkResolved reads the target string of an already-resolved symlink.
func (v *VFS) readlinkResolved(ctx context.Context, res *resolved) (string, error) {
	buf := make([]byte, res.stats.Size)

	res.ent.lock()
	n, err := res.ent.fs.ReadAt(ctx, res.local, buf, 0)
	res.ent.unlock()

	if err != nil {
		return "", rewriteErr(err, res.path)
	}

	if n == 0 {
		return "", syserr.New(syserr.EINVAL, res.path)
	}

	return string(buf[:n]), nil
}

// realpath canonicalizes p by resolving symlinks in every component.
func (v *VFS) realpath(ctx context.Context, p string, hops int) (string, error) {
	if hops > maxSymlinkHops {
		return "", syserr.New(syserr.ELOOP, p)
	}

	p, err := normalize(p)
	if err != nil {
		return "", err
	}
	if p == "/" {
		return p, nil
	}

	// Canonicalize the parent first, then expand the final component.
	dir, base := path.Dir(p), path.Base(p)
	realDir, err := v.realpath(ctx, dir, hops+1)
	if err != nil {
		return "", err
	}

	joined := cleanPath(path.Join(realDir, base))
	res, err := v.resolveOnce(ctx, joined)
	if err != nil {
		return "", err
	}

	if res.stats != nil && res.stats.Mode.IsSymlink() {
		target, err := v.readlinkResolved(ctx, res)
		if err != nil {
			return "", err
		}

		if !path.IsAbs(target) {
			target = cleanPath(path.Join(realDir, target))
		}

		return v.realpath(ctx, target, hops+1)
	}

	return joined, nil
}

// Realpath resolves every symlink in p and returns the canonical absolute
// path. The final component must exist.
func (v *VFS) Realpath(ctx context.Context, p string) (string, error) {
	rp, err := v.realpath(ctx, p, 0)
	if err != nil {
		return "", err
	}

	res, err := v.resolveOnce(ctx, rp)
	if err != nil {
		return "", err
	}
	if res.stats == nil {
		return "", syserr.New(syserr.ENOENT, p)
	}

	return rp, nil
}

// Resolve reports which backend serves p, the backend-local path, and the
// target's stats after following symlinks. Configuration and diagnostic
// callers use it; file operations go through the typed surface.
func (v *VFS) Resolve(ctx context.Context, p string, preserveSymlinks bool) (FileSystem, string, *inode.Inode, error) {
	res, err := v.resolve(ctx, p, preserveSymlinks)
	if err != nil {
		return nil, "", nil, err
	}

	return res.ent.fs, res.local, res.stats, nil
}
