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
	"sort"
	"strings"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// SetXattr flag bits.
const (
	// XattrCreate fails with EEXIST when the attribute is already set.
	XattrCreate = 0x1

	// XattrReplace fails with ENODATA when the attribute is missing.
	XattrReplace = 0x2
)

// checkXattrNamespace enforces the configured namespace allow list.
func (v *VFS) checkXattrNamespace(name, p string) error {
	for _, ns := range v.s.xattrNamespaces {
		if strings.HasPrefix(name, ns) {
			return nil
		}
	}

	return syserr.WithSyscall(syserr.ENOTSUP, p, "setxattr")
}

// GetXattr returns the value of the named attribute.
func (v *VFS) GetXattr(ctx context.Context, p, name string) ([]byte, error) {
	res, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if res.stats == nil {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "getxattr")
	}
	if !inode.Check(v.cred, res.stats, inode.MayRead) {
		return nil, syserr.WithSyscall(syserr.EACCES, res.path, "getxattr")
	}

	val, ok := res.stats.Attributes[name]
	if !ok {
		return nil, syserr.WithSyscall(syserr.ENODATA, res.path, "getxattr")
	}

	return append([]byte(nil), val...), nil
}

// ListXattr returns the attribute names set on p, sorted.
func (v *VFS) ListXattr(ctx context.Context, p string) ([]string, error) {
	res, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if res.stats == nil {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "listxattr")
	}
	if !inode.Check(v.cred, res.stats, inode.MayRead) {
		return nil, syserr.WithSyscall(syserr.EACCES, res.path, "listxattr")
	}

	names := make([]string, 0, len(res.stats.Attributes))
	for name := range res.stats.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// SetXattr sets an attribute, subject to the namespace allow list and the
// create/replace flag bits.
func (v *VFS) SetXattr(ctx context.Context, p, name string, value []byte, flags int) (err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "setxattr", start, err) }()

	if err := v.checkXattrNamespace(name, p); err != nil {
		return err
	}

	return v.setattr(ctx, p, true, "setxattr", func(st *inode.Inode) error {
		if !inode.Check(v.cred, st, inode.MayWrite) {
			return syserr.WithSyscall(syserr.EACCES, p, "setxattr")
		}

		_, present := st.Attributes[name]
		if flags&XattrCreate != 0 && present {
			return syserr.WithSyscall(syserr.EEXIST, p, "setxattr")
		}
		if flags&XattrReplace != 0 && !present {
			return syserr.WithSyscall(syserr.ENODATA, p, "setxattr")
		}

		if st.Attributes == nil {
			st.Attributes = make(map[string][]byte)
		}
		st.Attributes[name] = append([]byte(nil), value...)
		return nil
	})
}

// RemoveXattr deletes the named attribute.
func (v *VFS) RemoveXattr(ctx context.Context, p, name string) error {
	if err := v.checkXattrNamespace(name, p); err != nil {
		return err
	}

	return v.setattr(ctx, p, true, "removexattr", func(st *inode.Inode) error {
		if !inode.Check(v.cred, st, inode.MayWrite) {
			return syserr.WithSyscall(syserr.EACCES, p, "removexattr")
		}

		if _, ok := st.Attributes[name]; !ok {
			return syserr.WithSyscall(syserr.ENODATA, p, "removexattr")
		}

		delete(st.Attributes, name)
		return nil
	})
}
