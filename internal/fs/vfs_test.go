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

package fs_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/devicefs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/fs/storefs"
	"github.com/storevfs/storevfs/internal/store"
	"github.com/storevfs/storevfs/internal/syserr"
)

type VFSTest struct {
	suite.Suite

	ctx     context.Context
	clock   *timeutil.SimulatedClock
	vfs     *fs.VFS
	console *bytes.Buffer
}

func TestVFSSuite(t *testing.T) {
	suite.Run(t, new(VFSTest))
}

func (t *VFSTest) SetupTest() {
	t.ctx = context.Background()
	t.clock = &timeutil.SimulatedClock{}
	t.clock.SetTime(time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC))
	t.console = new(bytes.Buffer)

	root, err := storefs.New(t.ctx, store.NewMemStore("root"), t.clock, storefs.Options{Label: "root"})
	require.NoError(t.T(), err)

	dev, err := devicefs.New(t.ctx, t.clock)
	require.NoError(t.T(), err)
	require.NoError(t.T(), devicefs.AddStandardDevices(dev, t.console))

	t.vfs = fs.New(fs.Options{Clock: t.clock, Cred: inode.Cred{Uid: 1000, Gid: 1000}})
	require.NoError(t.T(), t.vfs.Mount("/", root))
	require.NoError(t.T(), t.vfs.Mount("/dev", dev))
}

func (t *VFSTest) write(p, contents string) {
	require.NoError(t.T(), t.vfs.WriteFile(t.ctx, p, []byte(contents), 0o644))
}

func (t *VFSTest) read(p string) string {
	data, err := t.vfs.ReadFile(t.ctx, p)
	require.NoError(t.T(), err)
	return string(data)
}

////////////////////////////////////////////////////////////////////////
// Seed scenarios
////////////////////////////////////////////////////////////////////////

// Scenario 1: create/read/write/close round-trip through descriptors.
func (t *VFSTest) TestCreateWriteCloseReadRoundTrip() {
	fd, err := t.vfs.Open(t.ctx, "/a.txt", fs.O_CREAT|fs.O_WRONLY, 0o644)
	require.NoError(t.T(), err)
	assert.GreaterOrEqual(t.T(), fd, 4)

	n, err := t.vfs.Write(t.ctx, fd, []byte("hello"))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 5, n)
	require.NoError(t.T(), t.vfs.Close(t.ctx, fd))

	assert.Equal(t.T(), "hello", t.read("/a.txt"))

	st, err := t.vfs.Stat(t.ctx, "/a.txt")
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 5, st.Size)
}

// Scenario 2: mkdir -p from an empty root.
func (t *VFSTest) TestMkdirAll() {
	require.NoError(t.T(), t.vfs.MkdirAll(t.ctx, "/x/y/z", 0o755))

	names, err := t.vfs.ReadDir(t.ctx, "/x/y")
	require.NoError(t.T(), err)
	assert.Contains(t.T(), names, "z")
}

// Scenario 3: unlink with two hard links.
func (t *VFSTest) TestUnlinkWithTwoHardLinks() {
	t.write("/a", "X")
	require.NoError(t.T(), t.vfs.Link(t.ctx, "/a", "/b"))
	require.NoError(t.T(), t.vfs.Unlink(t.ctx, "/a"))

	assert.Equal(t.T(), "X", t.read("/b"))

	st, err := t.vfs.Stat(t.ctx, "/b")
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 1, st.Nlink)
}

// Scenario 4: rename overwrites a file but never a directory.
func (t *VFSTest) TestRenameOverwriteRules() {
	require.NoError(t.T(), t.vfs.Mkdir(t.ctx, "/d", 0o755))
	t.write("/f", "Y")

	err := t.vfs.Rename(t.ctx, "/f", "/d")
	assert.True(t.T(), syserr.IsCode(err, syserr.EPERM))

	t.write("/g", "Z")
	require.NoError(t.T(), t.vfs.Rename(t.ctx, "/g", "/f"))
	assert.Equal(t.T(), "Z", t.read("/f"))
}

// Scenario 6: device behavior through the mount table.
func (t *VFSTest) TestDevices() {
	buf := make([]byte, 16)
	h, err := t.vfs.OpenHandle(t.ctx, "/dev/zero", fs.O_RDONLY, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)
	n, err := h.ReadAt(t.ctx, buf, 0)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 16, n)
	assert.Equal(t.T(), make([]byte, 16), buf)
	require.NoError(t.T(), h.Close(t.ctx))

	h, err = t.vfs.OpenHandle(t.ctx, "/dev/full", fs.O_WRONLY, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)
	_, err = h.Write(t.ctx, []byte("x"))
	assert.True(t.T(), syserr.IsCode(err, syserr.ENOSPC))
	h.Close(t.ctx)

	st, err := t.vfs.Stat(t.ctx, "/dev/null")
	require.NoError(t.T(), err)
	assert.True(t.T(), st.Mode.IsCharDev())

	h, err = t.vfs.OpenHandle(t.ctx, "/dev/console", fs.O_WRONLY, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)
	_, err = h.Write(t.ctx, []byte("boot ok\n"))
	require.NoError(t.T(), err)
	h.Close(t.ctx)
	assert.Equal(t.T(), "boot ok\n", t.console.String())
}

////////////////////////////////////////////////////////////////////////
// Root persistence
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestRootSurvivesChurn() {
	t.write("/a", "1")
	require.NoError(t.T(), t.vfs.Mkdir(t.ctx, "/d", 0o755))
	require.NoError(t.T(), t.vfs.Rename(t.ctx, "/a", "/d/a"))
	require.NoError(t.T(), t.vfs.RemoveAll(t.ctx, "/d"))

	st, err := t.vfs.Stat(t.ctx, "/")
	require.NoError(t.T(), err)
	assert.True(t.T(), st.Mode.IsDir())
}

////////////////////////////////////////////////////////////////////////
// Descriptors and handles
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestFDAllocationStartsAtFour() {
	fd1, err := t.vfs.Open(t.ctx, "/a", fs.O_CREAT|fs.O_RDWR, 0o644)
	require.NoError(t.T(), err)
	fd2, err := t.vfs.Open(t.ctx, "/b", fs.O_CREAT|fs.O_RDWR, 0o644)
	require.NoError(t.T(), err)

	assert.Equal(t.T(), 4, fd1)
	assert.Equal(t.T(), 5, fd2)

	require.NoError(t.T(), t.vfs.Close(t.ctx, fd1))
	require.NoError(t.T(), t.vfs.Close(t.ctx, fd2))
}

func (t *VFSTest) TestDoubleCloseIsEBADF() {
	fd, err := t.vfs.Open(t.ctx, "/a", fs.O_CREAT|fs.O_WRONLY, 0o644)
	require.NoError(t.T(), err)

	require.NoError(t.T(), t.vfs.Close(t.ctx, fd))
	err = t.vfs.Close(t.ctx, fd)
	assert.True(t.T(), syserr.IsCode(err, syserr.EBADF))
}

func (t *VFSTest) TestReadOnWriteOnlyFD() {
	t.write("/a", "data")

	h, err := t.vfs.OpenHandle(t.ctx, "/a", fs.O_WRONLY, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)
	defer h.Close(t.ctx)

	_, err = h.Read(t.ctx, make([]byte, 4))
	assert.True(t.T(), syserr.IsCode(err, syserr.EPERM))
}

func (t *VFSTest) TestWriteOnReadOnlyFD() {
	t.write("/a", "data")

	h, err := t.vfs.OpenHandle(t.ctx, "/a", fs.O_RDONLY, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)
	defer h.Close(t.ctx)

	_, err = h.Write(t.ctx, []byte("x"))
	assert.True(t.T(), syserr.IsCode(err, syserr.EPERM))
}

func (t *VFSTest) TestAppendAlwaysWritesAtEnd() {
	t.write("/log", "one\n")

	h, err := t.vfs.OpenHandle(t.ctx, "/log", fs.O_WRONLY|fs.O_APPEND, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)

	_, err = h.Seek(0, fs.SeekSet)
	require.NoError(t.T(), err)
	_, err = h.Write(t.ctx, []byte("two\n"))
	require.NoError(t.T(), err)
	require.NoError(t.T(), h.Close(t.ctx))

	assert.Equal(t.T(), "one\ntwo\n", t.read("/log"))
}

func (t *VFSTest) TestSeekAndSequentialReads() {
	t.write("/f", "abcdefgh")

	h, err := t.vfs.OpenHandle(t.ctx, "/f", fs.O_RDONLY, 0, fs.OpenOptions{})
	require.NoError(t.T(), err)
	defer h.Close(t.ctx)

	buf := make([]byte, 3)
	n, err := h.Read(t.ctx, buf)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "abc", string(buf[:n]))

	pos, err := h.Seek(2, fs.SeekCur)
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 5, pos)

	n, err = h.Read(t.ctx, buf)
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "fgh", string(buf[:n]))

	_, err = h.Read(t.ctx, buf)
	assert.Equal(t.T(), io.EOF, err)
}

func (t *VFSTest) TestExclCreate() {
	t.write("/a", "")

	_, err := t.vfs.Open(t.ctx, "/a", fs.O_CREAT|fs.O_EXCL|fs.O_WRONLY, 0o644)
	assert.True(t.T(), syserr.IsCode(err, syserr.EEXIST))
}

func (t *VFSTest) TestOpenMissingWithoutCreate() {
	_, err := t.vfs.Open(t.ctx, "/missing", fs.O_RDONLY, 0)
	assert.True(t.T(), syserr.IsCode(err, syserr.ENOENT))
}

func (t *VFSTest) TestOpenDirForWrite() {
	require.NoError(t.T(), t.vfs.Mkdir(t.ctx, "/d", 0o755))

	_, err := t.vfs.Open(t.ctx, "/d", fs.O_WRONLY, 0)
	assert.True(t.T(), syserr.IsCode(err, syserr.EISDIR))
}

func (t *VFSTest) TestTruncateOnOpen() {
	t.write("/f", "longer contents")

	fd, err := t.vfs.Open(t.ctx, "/f", fs.O_WRONLY|fs.O_TRUNC, 0)
	require.NoError(t.T(), err)
	require.NoError(t.T(), t.vfs.Close(t.ctx, fd))

	st, err := t.vfs.Stat(t.ctx, "/f")
	require.NoError(t.T(), err)
	assert.Zero(t.T(), st.Size)
}

func (t *VFSTest) TestTruncateZeroExtends() {
	t.write("/f", "ab")
	require.NoError(t.T(), t.vfs.Truncate(t.ctx, "/f", 5))

	data := t.read("/f")
	assert.Equal(t.T(), "ab\x00\x00\x00", data)
}

func (t *VFSTest) TestReadvWritev() {
	h, err := t.vfs.OpenHandle(t.ctx, "/v", fs.O_CREAT|fs.O_RDWR, 0o644, fs.OpenOptions{})
	require.NoError(t.T(), err)

	n, err := h.Writev(t.ctx, [][]byte{[]byte("abc"), []byte("defg")})
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 7, n)

	_, err = h.Seek(0, fs.SeekSet)
	require.NoError(t.T(), err)

	a, b := make([]byte, 2), make([]byte, 5)
	rn, err := h.Readv(t.ctx, [][]byte{a, b})
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 7, rn)
	assert.Equal(t.T(), "ab", string(a))
	assert.Equal(t.T(), "cdefg", string(b))

	require.NoError(t.T(), h.Close(t.ctx))
}

////////////////////////////////////////////////////////////////////////
// Symlinks
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestSymlinkFollowAndReadlink() {
	t.write("/target", "payload")
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "/target", "/ln"))

	assert.Equal(t.T(), "payload", t.read("/ln"))

	target, err := t.vfs.Readlink(t.ctx, "/ln")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "/target", target)

	st, err := t.vfs.Lstat(t.ctx, "/ln")
	require.NoError(t.T(), err)
	assert.True(t.T(), st.Mode.IsSymlink())
}

func (t *VFSTest) TestRelativeSymlink() {
	require.NoError(t.T(), t.vfs.MkdirAll(t.ctx, "/d/sub", 0o755))
	t.write("/d/file", "here")
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "../file", "/d/sub/ln"))

	assert.Equal(t.T(), "here", t.read("/d/sub/ln"))
}

func (t *VFSTest) TestSymlinkInDirectoryChain() {
	require.NoError(t.T(), t.vfs.MkdirAll(t.ctx, "/real/dir", 0o755))
	t.write("/real/dir/f", "x")
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "/real", "/alias"))

	assert.Equal(t.T(), "x", t.read("/alias/dir/f"))

	rp, err := t.vfs.Realpath(t.ctx, "/alias/dir/f")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "/real/dir/f", rp)
}

func (t *VFSTest) TestSymlinkLoop() {
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "/b", "/a"))
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "/a", "/b"))

	_, err := t.vfs.Stat(t.ctx, "/a")
	assert.True(t.T(), syserr.IsCode(err, syserr.ELOOP))
}

func (t *VFSTest) TestReadlinkOnRegularFile() {
	t.write("/f", "")
	_, err := t.vfs.Readlink(t.ctx, "/f")
	assert.True(t.T(), syserr.IsCode(err, syserr.EINVAL))
}

func (t *VFSTest) TestDanglingSymlink() {
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "/nowhere", "/ln"))

	_, err := t.vfs.Stat(t.ctx, "/ln")
	assert.True(t.T(), syserr.IsCode(err, syserr.ENOENT))

	// Lstat still sees the link itself.
	_, err = t.vfs.Lstat(t.ctx, "/ln")
	assert.NoError(t.T(), err)
}

////////////////////////////////////////////////////////////////////////
// Mount table
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestCrossMountRename() {
	t.write("/a", "x")

	err := t.vfs.Rename(t.ctx, "/a", "/dev/a")
	assert.True(t.T(), syserr.IsCode(err, syserr.EXDEV))
}

func (t *VFSTest) TestCrossMountLink() {
	t.write("/a", "x")

	err := t.vfs.Link(t.ctx, "/a", "/dev/a")
	assert.True(t.T(), syserr.IsCode(err, syserr.EXDEV))
}

func (t *VFSTest) TestLongestPrefixWins() {
	st, err := t.vfs.StatFS(t.ctx, "/dev/null")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "devicefs", st.FSName)

	st, err = t.vfs.StatFS(t.ctx, "/devices")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "storefs", st.FSName)
}

func (t *VFSTest) TestUmount() {
	require.NoError(t.T(), t.vfs.Umount("/dev"))

	_, err := t.vfs.Stat(t.ctx, "/dev/null")
	assert.True(t.T(), syserr.IsCode(err, syserr.ENOENT))

	err = t.vfs.Umount("/dev")
	assert.True(t.T(), syserr.IsCode(err, syserr.EINVAL))
}

func (t *VFSTest) TestMountOccupiedPrefix() {
	dev, err := devicefs.New(t.ctx, t.clock)
	require.NoError(t.T(), err)

	err = t.vfs.Mount("/dev", dev)
	assert.True(t.T(), syserr.IsCode(err, syserr.EBUSY))
}

////////////////////////////////////////////////////////////////////////
// Path handling
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestPathNormalization() {
	t.write("/a", "v")

	assert.Equal(t.T(), "v", t.read("/./a"))
	assert.Equal(t.T(), "v", t.read("//a"))
	assert.Equal(t.T(), "v", t.read("/x/../a"))
}

func (t *VFSTest) TestEmbeddedNULRejected() {
	_, err := t.vfs.Stat(t.ctx, "/a\x00b")
	assert.True(t.T(), syserr.IsCode(err, syserr.EINVAL))
}

////////////////////////////////////////////////////////////////////////
// Permissions
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestAccessChecks() {
	t.write("/secret", "x")
	require.NoError(t.T(), t.vfs.Chmod(t.ctx, "/secret", 0o600))

	other := t.vfs.View(inode.Cred{Uid: 2000, Gid: 2000})
	err := other.Access(t.ctx, "/secret", inode.MayRead)
	assert.True(t.T(), syserr.IsCode(err, syserr.EACCES))

	_, err = other.OpenHandle(t.ctx, "/secret", fs.O_RDONLY, 0, fs.OpenOptions{})
	assert.True(t.T(), syserr.IsCode(err, syserr.EACCES))

	require.NoError(t.T(), t.vfs.Access(t.ctx, "/secret", inode.MayRead|inode.MayWrite))
}

func (t *VFSTest) TestChmodRequiresOwnership() {
	t.write("/mine", "")

	other := t.vfs.View(inode.Cred{Uid: 2000, Gid: 2000})
	err := other.Chmod(t.ctx, "/mine", 0o777)
	assert.True(t.T(), syserr.IsCode(err, syserr.EPERM))
}

func (t *VFSTest) TestChownRules() {
	t.write("/f", "")

	// A non-root owner may not reassign the file to another user.
	err := t.vfs.Chown(t.ctx, "/f", 0, 0)
	assert.True(t.T(), syserr.IsCode(err, syserr.EPERM))

	root := t.vfs.View(inode.RootCred)
	require.NoError(t.T(), root.Chown(t.ctx, "/f", 42, 42))

	st, _ := t.vfs.Stat(t.ctx, "/f")
	assert.EqualValues(t.T(), 42, st.Uid)
}

func (t *VFSTest) TestUtimes() {
	t.write("/f", "")

	at := time.Date(2020, time.January, 2, 3, 4, 5, 0, time.UTC)
	mt := time.Date(2021, time.February, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t.T(), t.vfs.Utimes(t.ctx, "/f", at, mt))

	st, _ := t.vfs.Stat(t.ctx, "/f")
	assert.Equal(t.T(), inode.TimeMillis(at), st.Atime)
	assert.Equal(t.T(), inode.TimeMillis(mt), st.Mtime)
}

////////////////////////////////////////////////////////////////////////
// Recursive helpers
////////////////////////////////////////////////////////////////////////

func (t *VFSTest) TestRemoveAll() {
	require.NoError(t.T(), t.vfs.MkdirAll(t.ctx, "/tree/a/b", 0o755))
	t.write("/tree/f", "1")
	t.write("/tree/a/g", "2")
	t.write("/tree/a/b/h", "3")

	require.NoError(t.T(), t.vfs.RemoveAll(t.ctx, "/tree"))
	assert.False(t.T(), t.vfs.Exists(t.ctx, "/tree"))

	// Removing an absent tree is not an error.
	assert.NoError(t.T(), t.vfs.RemoveAll(t.ctx, "/tree"))
}

func (t *VFSTest) TestCopyAll() {
	require.NoError(t.T(), t.vfs.MkdirAll(t.ctx, "/src/sub", 0o755))
	t.write("/src/f", "1")
	t.write("/src/sub/g", "2")
	require.NoError(t.T(), t.vfs.Symlink(t.ctx, "/src/f", "/src/ln"))

	require.NoError(t.T(), t.vfs.CopyAll(t.ctx, "/src", "/dst"))

	assert.Equal(t.T(), "1", t.read("/dst/f"))
	assert.Equal(t.T(), "2", t.read("/dst/sub/g"))

	target, err := t.vfs.Readlink(t.ctx, "/dst/ln")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "/src/f", target)
}

func (t *VFSTest) TestMkdirTemp() {
	require.NoError(t.T(), t.vfs.Mkdir(t.ctx, "/tmp", 0o777))

	p1, err := t.vfs.MkdirTemp(t.ctx, "/tmp", "work-*")
	require.NoError(t.T(), err)
	p2, err := t.vfs.MkdirTemp(t.ctx, "/tmp", "work-*")
	require.NoError(t.T(), err)

	assert.NotEqual(t.T(), p1, p2)

	st, err := t.vfs.Stat(t.ctx, p1)
	require.NoError(t.T(), err)
	assert.True(t.T(), st.Mode.IsDir())
}
