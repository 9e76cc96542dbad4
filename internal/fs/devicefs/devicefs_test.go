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

package devicefs_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/storevfs/storevfs/internal/fs/devicefs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

type DeviceFSTest struct {
	suite.Suite

	ctx     context.Context
	fs      *devicefs.DeviceFS
	console *bytes.Buffer
	cred    inode.Cred
}

func TestDeviceFSSuite(t *testing.T) {
	suite.Run(t, new(DeviceFSTest))
}

func (t *DeviceFSTest) SetupTest() {
	t.ctx = context.Background()
	t.console = new(bytes.Buffer)
	t.cred = inode.Cred{Uid: 1000, Gid: 1000}

	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC))

	var err error
	t.fs, err = devicefs.New(t.ctx, clock)
	require.NoError(t.T(), err)
	require.NoError(t.T(), devicefs.AddStandardDevices(t.fs, t.console))
}

func (t *DeviceFSTest) TestStatReportsCharDevice() {
	st, err := t.fs.Stat(t.ctx, "/null")
	require.NoError(t.T(), err)
	assert.True(t.T(), st.Mode.IsCharDev())
}

func (t *DeviceFSTest) TestNull() {
	buf := make([]byte, 8)
	n, err := t.fs.ReadAt(t.ctx, "/null", buf, 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 0, n)

	n, err = t.fs.WriteAt(t.ctx, "/null", []byte("discard"), 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 7, n)
}

func (t *DeviceFSTest) TestZero() {
	buf := []byte{1, 2, 3, 4}
	n, err := t.fs.ReadAt(t.ctx, "/zero", buf, 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 4, n)
	assert.Equal(t.T(), []byte{0, 0, 0, 0}, buf)
}

func (t *DeviceFSTest) TestFull() {
	buf := []byte{9, 9}
	_, err := t.fs.ReadAt(t.ctx, "/full", buf, 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []byte{0, 0}, buf)

	_, err = t.fs.WriteAt(t.ctx, "/full", []byte("x"), 0)
	assert.True(t.T(), syserr.IsCode(err, syserr.ENOSPC))
}

func (t *DeviceFSTest) TestRandomFillsBuffer() {
	buf := make([]byte, 64)
	n, err := t.fs.ReadAt(t.ctx, "/random", buf, 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 64, n)

	// All-zero output from a 64-byte random read means the driver did not
	// touch the buffer.
	assert.NotEqual(t.T(), make([]byte, 64), buf)
}

func (t *DeviceFSTest) TestConsoleWritesToSink() {
	_, err := t.fs.WriteAt(t.ctx, "/console", []byte("hello, world\n"), 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "hello, world\n", t.console.String())
}

func (t *DeviceFSTest) TestNamespaceOpsOnDevicesFail() {
	_, err := t.fs.CreateFile(t.ctx, "/null", inode.TypeRegular|0o644, t.cred, nil)
	assert.True(t.T(), syserr.IsCode(err, syserr.EEXIST))

	assert.True(t.T(), syserr.IsCode(t.fs.Unlink(t.ctx, "/null", t.cred), syserr.EPERM))
	assert.True(t.T(), syserr.IsCode(t.fs.Rename(t.ctx, "/null", "/nil", t.cred), syserr.EPERM))
	assert.True(t.T(), syserr.IsCode(t.fs.Link(t.ctx, "/null", "/nil", t.cred), syserr.EPERM))
}

func (t *DeviceFSTest) TestReadDirListsDevicesAndFiles() {
	_, err := t.fs.CreateFile(t.ctx, "/note", inode.TypeRegular|0o644, inode.RootCred, []byte("x"))
	require.NoError(t.T(), err)

	names, err := t.fs.ReadDir(t.ctx, "/")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []string{"console", "full", "note", "null", "random", "zero"}, names)
}

func (t *DeviceFSTest) TestSysfsPath() {
	sp, err := t.fs.SysfsPath(t.ctx, "/zero")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "/sys/dev/char/1:5", sp)
}

func (t *DeviceFSTest) TestChmodSticksViaSync() {
	st, err := t.fs.Stat(t.ctx, "/null")
	require.NoError(t.T(), err)

	st.Mode = st.Mode.FileType() | 0o600
	require.NoError(t.T(), t.fs.Sync(t.ctx, "/null", nil, st))

	after, _ := t.fs.Stat(t.ctx, "/null")
	assert.Equal(t.T(), inode.Mode(0o600), after.Mode.Perm())
	assert.True(t.T(), after.Mode.IsCharDev())
}

func (t *DeviceFSTest) TestAddDeviceTwice() {
	_, err := t.fs.AddDevice("/null", devicefs.NewConsoleDriver(nil), 1, 3)
	assert.True(t.T(), syserr.IsCode(err, syserr.EEXIST))
}
