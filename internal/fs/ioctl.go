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

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// IoctlCmd is the closed command set served by Ioctl.
type IoctlCmd int

const (
	IocGetFlags IoctlCmd = iota + 1
	IocSetFlags
	IocGetVersion
	IocSetVersion
	IocGetXattr
	IocSetXattr
	IocGetLabel
	IocSetLabel
	IocGetUUID
	IocGetSysfsPath
)

// XattrArg carries the name/value pair of the xattr ioctls.
type XattrArg struct {
	Name  string
	Value []byte
}

// labelSetter is implemented by backends whose volume label is mutable.
type labelSetter interface {
	SetLabel(label string)
}

// sysfsPather is implemented by backends that expose device topology.
type sysfsPather interface {
	SysfsPath(ctx context.Context, p string) (string, error)
}

// Ioctl dispatches one of the symbolic device-control commands against p.
// The result type depends on the command.
func (v *VFS) Ioctl(ctx context.Context, p string, cmd IoctlCmd, arg any) (out any, err error) {
	start := v.s.clock.Now()
	defer func() { v.record(ctx, "ioctl", start, err) }()

	res, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if res.stats == nil {
		return nil, syserr.WithSyscall(syserr.ENOENT, res.path, "ioctl")
	}

	switch cmd {
	case IocGetFlags:
		return res.stats.Flags, nil

	case IocSetFlags:
		flags, ok := arg.(uint32)
		if !ok || flags&^inode.SettableFlags != 0 {
			return nil, syserr.WithSyscall(syserr.EINVAL, res.path, "ioctl")
		}
		return nil, v.setFlagsIoctl(ctx, res, flags)

	case IocGetVersion:
		return res.stats.Version, nil

	case IocSetVersion:
		version, ok := arg.(uint64)
		if !ok {
			return nil, syserr.WithSyscall(syserr.EINVAL, res.path, "ioctl")
		}
		return nil, v.setattr(ctx, p, true, "ioctl", func(st *inode.Inode) error {
			if err := v.ownerOrRoot(st, p, "ioctl"); err != nil {
				return err
			}
			st.Version = version
			return nil
		})

	case IocGetXattr:
		spec, ok := arg.(XattrArg)
		if !ok {
			return nil, syserr.WithSyscall(syserr.EINVAL, res.path, "ioctl")
		}
		return v.GetXattr(ctx, p, spec.Name)

	case IocSetXattr:
		spec, ok := arg.(XattrArg)
		if !ok {
			return nil, syserr.WithSyscall(syserr.EINVAL, res.path, "ioctl")
		}
		return nil, v.SetXattr(ctx, p, spec.Name, spec.Value, 0)

	case IocGetLabel:
		return res.ent.fs.Attrs().Label, nil

	case IocSetLabel:
		label, ok := arg.(string)
		if !ok {
			return nil, syserr.WithSyscall(syserr.EINVAL, res.path, "ioctl")
		}
		setter, ok := res.ent.fs.(labelSetter)
		if !ok {
			return nil, syserr.WithSyscall(syserr.ENOTSUP, res.path, "ioctl")
		}
		if v.cred.Uid != 0 {
			return nil, syserr.WithSyscall(syserr.EPERM, res.path, "ioctl")
		}
		setter.SetLabel(label)
		return nil, nil

	case IocGetUUID:
		return res.ent.fs.Attrs().UUID, nil

	case IocGetSysfsPath:
		pather, ok := res.ent.fs.(sysfsPather)
		if !ok {
			return nil, syserr.WithSyscall(syserr.ENOTSUP, res.path, "ioctl")
		}
		sp, err := pather.SysfsPath(ctx, res.local)
		if err != nil {
			return nil, rewriteErr(err, res.path)
		}
		return sp, nil

	default:
		return nil, syserr.WithSyscall(syserr.ENOTSUP, res.path, "ioctl")
	}
}

// setFlagsIoctl applies a new flag word, refusing to let a non-owner touch
// it and letting only the owner clear immutability.
func (v *VFS) setFlagsIoctl(ctx context.Context, res *resolved, flags uint32) error {
	// setattr rejects immutable inodes outright, which would make the
	// immutable bit one-way. Clearing it is the one edit allowed through.
	if res.stats.Flags&inode.FlagImmutable != 0 {
		if err := v.ownerOrRoot(res.stats, res.path, "ioctl"); err != nil {
			return err
		}
		if res.ent.fs.Attrs().ReadOnly {
			return syserr.New(syserr.EROFS, res.path)
		}

		res.stats.Flags = flags
		res.stats.TouchChanged(v.s.clock)

		res.ent.lock()
		err := res.ent.fs.Sync(ctx, res.local, nil, res.stats)
		res.ent.unlock()
		return rewriteErr(err, res.path)
	}

	return v.setattr(ctx, res.path, true, "ioctl", func(st *inode.Inode) error {
		if err := v.ownerOrRoot(st, res.path, "ioctl"); err != nil {
			return err
		}
		st.Flags = flags
		return nil
	})
}

func (cmd IoctlCmd) String() string {
	switch cmd {
	case IocGetFlags:
		return "get-flags"
	case IocSetFlags:
		return "set-flags"
	case IocGetVersion:
		return "get-version"
	case IocSetVersion:
		return "set-version"
	case IocGetXattr:
		return "get-xattr"
	case IocSetXattr:
		return "set-xattr"
	case IocGetLabel:
		return "get-label"
	case IocSetLabel:
		return "set-label"
	case IocGetUUID:
		return "get-uuid"
	case IocGetSysfsPath:
		return "get-sysfs-path"
	default:
		return fmt.Sprintf("ioctl(%d)", int(cmd))
	}
}
