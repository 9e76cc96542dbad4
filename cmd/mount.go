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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/timeutil"

	"github.com/storevfs/storevfs/cfg"
	"github.com/storevfs/storevfs/common"
	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/devicefs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/fs/storefs"
	"github.com/storevfs/storevfs/internal/fuseserver"
	"github.com/storevfs/storevfs/internal/logger"
	"github.com/storevfs/storevfs/internal/monitor"
	"github.com/storevfs/storevfs/internal/store"
	"github.com/storevfs/storevfs/internal/syserr"
)

// runMount daemonizes unless foreground is requested, then serves the
// mount until unmounted or interrupted.
func runMount(mountPoint string) error {
	if err := logger.Setup(
		string(MountConfig.Logging.Severity),
		MountConfig.Logging.Format,
		MountConfig.Logging.FilePath,
		MountConfig.Logging.MaxFileSizeMb,
		MountConfig.Logging.BackupFileCount); err != nil {
		return err
	}

	if !MountConfig.Foreground {
		return daemonizeAndMount(mountPoint)
	}

	return mountAndServe(mountPoint)
}

// buildVFS assembles the backend stack the config asks for.
func buildVFS(ctx context.Context) (*fs.VFS, error) {
	clock := timeutil.RealClock()

	cred := inode.Cred{
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	}
	if MountConfig.FileSystem.Uid >= 0 {
		cred.Uid = uint32(MountConfig.FileSystem.Uid)
	}
	if MountConfig.FileSystem.Gid >= 0 {
		cred.Gid = uint32(MountConfig.FileSystem.Gid)
	}

	var backing store.Store = store.NewMemStore("root")
	if MountConfig.FileSystem.StoreRetryAttempts > 1 {
		backing = store.NewRetryStore(backing, MountConfig.FileSystem.StoreRetryAttempts)
	}

	root, err := storefs.New(ctx, backing, clock, storefs.Options{
		Label:    MountConfig.FileSystem.VolumeLabel,
		RootMode: inode.Mode(MountConfig.FileSystem.DirMode),
		Uid:      cred.Uid,
		Gid:      cred.Gid,
		ReadOnly: MountConfig.FileSystem.ReadOnly,
		NoAtime:  MountConfig.FileSystem.NoAtime,
	})
	if err != nil {
		return nil, fmt.Errorf("creating root file system: %w", err)
	}

	metrics := common.NewNoopMetrics()
	if MountConfig.Metrics.PrometheusPort > 0 {
		if metrics, err = common.NewOTelMetrics(); err != nil {
			return nil, fmt.Errorf("creating metric handle: %w", err)
		}
	}

	vfs := fs.New(fs.Options{
		Clock:           clock,
		Cred:            cred,
		XattrNamespaces: MountConfig.FileSystem.XattrNamespaces,
		Metrics:         metrics,
	})
	if err := vfs.Mount("/", root); err != nil {
		return nil, fmt.Errorf("mounting root: %w", err)
	}

	if MountConfig.FileSystem.MountDevices {
		dev, err := devicefs.New(ctx, clock)
		if err != nil {
			return nil, fmt.Errorf("creating device file system: %w", err)
		}
		if err := devicefs.AddStandardDevices(dev, os.Stdout); err != nil {
			return nil, fmt.Errorf("registering devices: %w", err)
		}
		if err := vfs.MkdirAll(ctx, "/dev", inode.Mode(MountConfig.FileSystem.DirMode)); err != nil && !syserr.IsCode(err, syserr.EROFS) {
			return nil, fmt.Errorf("creating /dev: %w", err)
		}
		if err := vfs.Mount("/dev", dev); err != nil {
			return nil, fmt.Errorf("mounting /dev: %w", err)
		}
	}

	return vfs, nil
}

func mountAndServe(mountPoint string) error {
	ctx := context.Background()

	if stringified, err := cfg.Stringify(&MountConfig); err == nil {
		logger.Infof("storevfs config:\n%s", stringified)
	}

	var mon *monitor.Server
	if MountConfig.Metrics.PrometheusPort > 0 {
		var err error
		if mon, err = monitor.Start(MountConfig.Metrics.PrometheusPort); err != nil {
			return err
		}
		defer mon.Stop()
	}

	vfs, err := buildVFS(ctx)
	if err != nil {
		markMountFailure(err)
		return err
	}

	mfs, err := fuseserver.Mount(ctx, vfs, mountPoint, "storevfs")
	if err != nil {
		markMountFailure(err)
		return err
	}

	markMountSuccess()
	logger.Infof("Mounted storevfs at %q", mountPoint)

	// Unmount on SIGINT/SIGTERM.
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		for range sigs {
			logger.Info("Received signal, attempting to unmount...")
			if err := fuseserver.Unmount(mountPoint); err != nil {
				logger.Errorf("Failed to unmount: %v", err)
			} else {
				logger.Infof("Successfully unmounted %q", mountPoint)
				return
			}
		}
	}()

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}

	return nil
}
