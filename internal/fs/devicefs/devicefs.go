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

// Package devicefs multiplexes character devices through a driver
// interface, layered over an in-memory store file system so that ordinary
// files and directories can coexist with the device nodes.
package devicefs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/jacobsa/timeutil"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/fs/storefs"
	"github.com/storevfs/storevfs/internal/store"
	"github.com/storevfs/storevfs/internal/syserr"
)

// Driver serves reads and writes for one class of character device.
type Driver interface {
	// Name identifies the driver.
	Name() string

	// Read fills dst starting at off and returns the byte count.
	Read(ctx context.Context, dev *Device, dst []byte, off int64) (int, error)

	// Write consumes src at off.
	Write(ctx context.Context, dev *Device, src []byte, off int64) (int, error)
}

// Device is one registered device node.
type Device struct {
	Driver Driver
	Major  uint32
	Minor  uint32

	// The node's metadata. Chmod and friends update it in place via Sync.
	inode *inode.Inode
}

// DeviceFS is a StoreFS specialization whose device paths bypass the store
// and route to driver callbacks.
type DeviceFS struct {
	*storefs.StoreFS

	clock timeutil.Clock

	// Serializes device-table access; AddDevice is the only writer after
	// construction.
	mu sync.Mutex

	// GUARDED_BY(mu)
	devices map[string]*Device
}

var _ fs.FileSystem = &DeviceFS{}

// New builds a DeviceFS over a fresh in-memory store.
func New(ctx context.Context, clock timeutil.Clock) (*DeviceFS, error) {
	base, err := storefs.New(ctx, store.NewMemStore("devicefs"), clock, storefs.Options{
		Label: "dev",
	})
	if err != nil {
		return nil, err
	}

	return &DeviceFS{
		StoreFS: base,
		clock:   clock,
		devices: make(map[string]*Device),
	}, nil
}

func (dfs *DeviceFS) Attrs() fs.Attributes {
	attrs := dfs.StoreFS.Attrs()
	attrs.Name = "devicefs"
	return attrs
}

// AddDevice registers a driver-served node at the given backend-local path.
func (dfs *DeviceFS) AddDevice(p string, driver Driver, major, minor uint32) (*Device, error) {
	dfs.mu.Lock()
	defer dfs.mu.Unlock()

	if _, ok := dfs.devices[p]; ok {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	in := inode.New(inode.TypeCharDev|0o666, 0, 0, 0, dfs.clock)
	dev := &Device{
		Driver: driver,
		Major:  major,
		Minor:  minor,
		inode:  in,
	}
	dfs.devices[p] = dev

	return dev, nil
}

func (dfs *DeviceFS) device(p string) (*Device, bool) {
	dfs.mu.Lock()
	defer dfs.mu.Unlock()

	dev, ok := dfs.devices[p]
	return dev, ok
}

// DevicePath returns the registration path of dev, for the sysfs ioctl.
func (dfs *DeviceFS) DevicePath(dev *Device) string {
	dfs.mu.Lock()
	defer dfs.mu.Unlock()

	for p, d := range dfs.devices {
		if d == dev {
			return p
		}
	}

	return ""
}

////////////////////////////////////////////////////////////////////////
// FileSystem overrides
////////////////////////////////////////////////////////////////////////

func (dfs *DeviceFS) Stat(ctx context.Context, p string) (*inode.Inode, error) {
	if dev, ok := dfs.device(p); ok {
		return dev.inode.Clone(), nil
	}

	return dfs.StoreFS.Stat(ctx, p)
}

func (dfs *DeviceFS) OpenFile(ctx context.Context, p string, flag fs.OpenFlags) (*inode.Inode, error) {
	if dev, ok := dfs.device(p); ok {
		return dev.inode.Clone(), nil
	}

	return dfs.StoreFS.OpenFile(ctx, p, flag)
}

func (dfs *DeviceFS) Exists(ctx context.Context, p string) bool {
	if _, ok := dfs.device(p); ok {
		return true
	}

	return dfs.StoreFS.Exists(ctx, p)
}

func (dfs *DeviceFS) ReadAt(ctx context.Context, p string, dst []byte, off int64) (int, error) {
	if dev, ok := dfs.device(p); ok {
		return dev.Driver.Read(ctx, dev, dst, off)
	}

	return dfs.StoreFS.ReadAt(ctx, p, dst, off)
}

func (dfs *DeviceFS) WriteAt(ctx context.Context, p string, src []byte, off int64) (int, error) {
	if dev, ok := dfs.device(p); ok {
		return dev.Driver.Write(ctx, dev, src, off)
	}

	return dfs.StoreFS.WriteAt(ctx, p, src, off)
}

func (dfs *DeviceFS) CreateFile(ctx context.Context, p string, mode inode.Mode, cred inode.Cred, data []byte) (*inode.Inode, error) {
	if _, ok := dfs.device(p); ok {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	return dfs.StoreFS.CreateFile(ctx, p, mode, cred, data)
}

func (dfs *DeviceFS) Mkdir(ctx context.Context, p string, mode inode.Mode, cred inode.Cred) (*inode.Inode, error) {
	if _, ok := dfs.device(p); ok {
		return nil, syserr.New(syserr.EEXIST, p)
	}

	return dfs.StoreFS.Mkdir(ctx, p, mode, cred)
}

func (dfs *DeviceFS) Unlink(ctx context.Context, p string, cred inode.Cred) error {
	if _, ok := dfs.device(p); ok {
		return syserr.New(syserr.EPERM, p)
	}

	return dfs.StoreFS.Unlink(ctx, p, cred)
}

func (dfs *DeviceFS) Rmdir(ctx context.Context, p string, cred inode.Cred) error {
	if _, ok := dfs.device(p); ok {
		return syserr.New(syserr.EPERM, p)
	}

	return dfs.StoreFS.Rmdir(ctx, p, cred)
}

func (dfs *DeviceFS) Rename(ctx context.Context, oldPath, newPath string, cred inode.Cred) error {
	if _, ok := dfs.device(oldPath); ok {
		return syserr.New(syserr.EPERM, oldPath)
	}
	if _, ok := dfs.device(newPath); ok {
		return syserr.New(syserr.EPERM, newPath)
	}

	return dfs.StoreFS.Rename(ctx, oldPath, newPath, cred)
}

func (dfs *DeviceFS) Link(ctx context.Context, target, link string, cred inode.Cred) error {
	if _, ok := dfs.device(target); ok {
		return syserr.New(syserr.EPERM, target)
	}
	if _, ok := dfs.device(link); ok {
		return syserr.New(syserr.EPERM, link)
	}

	return dfs.StoreFS.Link(ctx, target, link, cred)
}

func (dfs *DeviceFS) ReadDir(ctx context.Context, p string) ([]string, error) {
	names, err := dfs.StoreFS.ReadDir(ctx, p)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}

	dfs.mu.Lock()
	for devPath := range dfs.devices {
		if path.Dir(devPath) != p {
			continue
		}
		base := path.Base(devPath)
		if _, ok := seen[base]; !ok {
			names = append(names, base)
			seen[base] = struct{}{}
		}
	}
	dfs.mu.Unlock()

	sort.Strings(names)
	return names, nil
}

// SysfsPath reports the kernel-style topology path for a device node,
// serving the sysfs-path ioctl.
func (dfs *DeviceFS) SysfsPath(_ context.Context, p string) (string, error) {
	dev, ok := dfs.device(p)
	if !ok {
		return "", syserr.New(syserr.ENOTSUP, p)
	}

	return fmt.Sprintf("/sys/dev/char/%d:%d", dev.Major, dev.Minor), nil
}

func (dfs *DeviceFS) Sync(ctx context.Context, p string, data []byte, st *inode.Inode) error {
	if dev, ok := dfs.device(p); ok {
		// Device data lives behind the driver; only metadata sticks.
		dfs.mu.Lock()
		merged := st.Clone()
		merged.Mode = merged.Mode.Perm() | inode.TypeCharDev
		dev.inode = merged
		dfs.mu.Unlock()
		return nil
	}

	return dfs.StoreFS.Sync(ctx, p, data, st)
}
