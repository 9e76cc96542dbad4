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
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storevfs/storevfs/clock"
	"github.com/storevfs/storevfs/internal/fs"
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/fs/overlayfs"
	"github.com/storevfs/storevfs/internal/fs/storefs"
	"github.com/storevfs/storevfs/internal/store"
	"github.com/storevfs/storevfs/internal/syserr"
)

func newTestVFS(t *testing.T) (*fs.VFS, context.Context) {
	t.Helper()

	ctx := context.Background()
	tclock := &timeutil.SimulatedClock{}
	tclock.SetTime(time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC))

	root, err := storefs.New(ctx, store.NewMemStore("root"), tclock, storefs.Options{})
	require.NoError(t, err)

	v := fs.New(fs.Options{Clock: tclock, Cred: inode.Cred{Uid: 1000, Gid: 1000}})
	require.NoError(t, v.Mount("/", root))

	return v, ctx
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

func TestXattrRoundTrip(t *testing.T) {
	v, ctx := newTestVFS(t)
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	require.NoError(t, v.SetXattr(ctx, "/f", "user.color", []byte("teal"), 0))

	val, err := v.GetXattr(ctx, "/f", "user.color")
	require.NoError(t, err)
	assert.Equal(t, []byte("teal"), val)

	names, err := v.ListXattr(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"user.color"}, names)

	require.NoError(t, v.RemoveXattr(ctx, "/f", "user.color"))
	_, err = v.GetXattr(ctx, "/f", "user.color")
	assert.True(t, syserr.IsCode(err, syserr.ENODATA))
}

func TestXattrPersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	tclock := &timeutil.SimulatedClock{}
	mem := store.NewMemStore("shared")

	root, err := storefs.New(ctx, mem, tclock, storefs.Options{})
	require.NoError(t, err)
	v := fs.New(fs.Options{Clock: tclock, Cred: inode.RootCred})
	require.NoError(t, v.Mount("/", root))

	require.NoError(t, v.WriteFile(ctx, "/f", []byte("x"), 0o644))
	require.NoError(t, v.SetXattr(ctx, "/f", "user.k", []byte("v"), 0))

	// A second FS over the same store decodes the attribute tail.
	root2, err := storefs.New(ctx, mem, tclock, storefs.Options{})
	require.NoError(t, err)
	v2 := fs.New(fs.Options{Clock: tclock, Cred: inode.RootCred})
	require.NoError(t, v2.Mount("/", root2))

	val, err := v2.GetXattr(ctx, "/f", "user.k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestXattrCreateReplaceFlags(t *testing.T) {
	v, ctx := newTestVFS(t)
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	err := v.SetXattr(ctx, "/f", "user.a", []byte("1"), fs.XattrReplace)
	assert.True(t, syserr.IsCode(err, syserr.ENODATA))

	require.NoError(t, v.SetXattr(ctx, "/f", "user.a", []byte("1"), fs.XattrCreate))

	err = v.SetXattr(ctx, "/f", "user.a", []byte("2"), fs.XattrCreate)
	assert.True(t, syserr.IsCode(err, syserr.EEXIST))

	require.NoError(t, v.SetXattr(ctx, "/f", "user.a", []byte("2"), fs.XattrReplace))

	val, _ := v.GetXattr(ctx, "/f", "user.a")
	assert.Equal(t, []byte("2"), val)
}

func TestXattrNamespacePolicy(t *testing.T) {
	v, ctx := newTestVFS(t)
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	err := v.SetXattr(ctx, "/f", "trusted.evil", []byte("x"), 0)
	assert.True(t, syserr.IsCode(err, syserr.ENOTSUP))

	err = v.RemoveXattr(ctx, "/f", "security.selinux")
	assert.True(t, syserr.IsCode(err, syserr.ENOTSUP))
}

func TestXattrNamespaceConfigurable(t *testing.T) {
	ctx := context.Background()
	tclock := &timeutil.SimulatedClock{}
	root, err := storefs.New(ctx, store.NewMemStore("root"), tclock, storefs.Options{})
	require.NoError(t, err)

	v := fs.New(fs.Options{
		Clock:           tclock,
		Cred:            inode.RootCred,
		XattrNamespaces: []string{"user.", "trusted."},
	})
	require.NoError(t, v.Mount("/", root))
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	assert.NoError(t, v.SetXattr(ctx, "/f", "trusted.ok", []byte("y"), 0))
}

////////////////////////////////////////////////////////////////////////
// Ioctl
////////////////////////////////////////////////////////////////////////

func TestIoctlFlagsAndVersion(t *testing.T) {
	v, ctx := newTestVFS(t)
	require.NoError(t, v.WriteFile(ctx, "/f", []byte("x"), 0o644))

	out, err := v.Ioctl(ctx, "/f", fs.IocGetFlags, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)

	_, err = v.Ioctl(ctx, "/f", fs.IocSetFlags, inode.FlagImmutable)
	require.NoError(t, err)

	// The immutable bit now rejects writes.
	err = v.WriteFile(ctx, "/f", []byte("y"), 0o644)
	assert.True(t, syserr.IsCode(err, syserr.EPERM))

	// The owner may clear it again.
	_, err = v.Ioctl(ctx, "/f", fs.IocSetFlags, uint32(0))
	require.NoError(t, err)
	assert.NoError(t, v.WriteFile(ctx, "/f", []byte("y"), 0o644))

	out, err = v.Ioctl(ctx, "/f", fs.IocGetVersion, nil)
	require.NoError(t, err)
	before := out.(uint64)

	_, err = v.Ioctl(ctx, "/f", fs.IocSetVersion, before+100)
	require.NoError(t, err)

	out, err = v.Ioctl(ctx, "/f", fs.IocGetVersion, nil)
	require.NoError(t, err)
	// Reading the version back includes the bump from the set itself.
	assert.GreaterOrEqual(t, out.(uint64), before+100)
}

func TestIoctlLabelAndUUID(t *testing.T) {
	ctx := context.Background()
	tclock := &timeutil.SimulatedClock{}
	root, err := storefs.New(ctx, store.NewMemStore("root"), tclock, storefs.Options{Label: "data"})
	require.NoError(t, err)

	v := fs.New(fs.Options{Clock: tclock, Cred: inode.RootCred})
	require.NoError(t, v.Mount("/", root))
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	out, err := v.Ioctl(ctx, "/f", fs.IocGetLabel, nil)
	require.NoError(t, err)
	assert.Equal(t, "data", out)

	_, err = v.Ioctl(ctx, "/f", fs.IocSetLabel, "renamed")
	require.NoError(t, err)

	out, _ = v.Ioctl(ctx, "/f", fs.IocGetLabel, nil)
	assert.Equal(t, "renamed", out)

	out, err = v.Ioctl(ctx, "/f", fs.IocGetUUID, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out.(string))
}

func TestIoctlXattrPair(t *testing.T) {
	v, ctx := newTestVFS(t)
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	_, err := v.Ioctl(ctx, "/f", fs.IocSetXattr, fs.XattrArg{Name: "user.k", Value: []byte("v")})
	require.NoError(t, err)

	out, err := v.Ioctl(ctx, "/f", fs.IocGetXattr, fs.XattrArg{Name: "user.k"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), out)
}

func TestIoctlInvalidFlagBits(t *testing.T) {
	v, ctx := newTestVFS(t)
	require.NoError(t, v.WriteFile(ctx, "/f", nil, 0o644))

	_, err := v.Ioctl(ctx, "/f", fs.IocSetFlags, uint32(1<<31))
	assert.True(t, syserr.IsCode(err, syserr.EINVAL))
}

////////////////////////////////////////////////////////////////////////
// Overlay through the VFS (copy-up via descriptors)
////////////////////////////////////////////////////////////////////////

func TestOverlayCopyUpThroughVFS(t *testing.T) {
	ctx := context.Background()
	tclock := &timeutil.SimulatedClock{}
	tclock.SetTime(time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC))
	cred := inode.Cred{Uid: 1000, Gid: 1000}

	upper, err := storefs.New(ctx, store.NewMemStore("upper"), tclock, storefs.Options{})
	require.NoError(t, err)
	lower, err := storefs.New(ctx, store.NewMemStore("lower"), tclock, storefs.Options{})
	require.NoError(t, err)

	// Seed the lower layer before composing.
	_, err = lower.CreateFile(ctx, "/r", inode.TypeRegular|0o644, cred, []byte("OLD"))
	require.NoError(t, err)

	ov, err := overlayfs.New(ctx, upper, lower, clock.RealClock{})
	require.NoError(t, err)

	v := fs.New(fs.Options{Clock: tclock, Cred: cred})
	require.NoError(t, v.Mount("/", ov))

	require.NoError(t, v.WriteFile(ctx, "/r", []byte("NEW"), 0o644))

	data, err := v.ReadFile(ctx, "/r")
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(data))

	// The lower layer still holds the original bytes.
	buf := make([]byte, 3)
	n, err := lower.ReadAt(ctx, "/r", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "OLD", string(buf[:n]))
}
