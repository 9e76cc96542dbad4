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

package inode

import (
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
)

func TestFileTypePredicates(t *testing.T) {
	assert.True(t, (TypeDirectory | 0o755).IsDir())
	assert.True(t, (TypeRegular | 0o644).IsRegular())
	assert.True(t, (TypeSymlink | 0o777).IsSymlink())
	assert.True(t, (TypeCharDev | 0o666).IsCharDev())
	assert.False(t, (TypeRegular | 0o644).IsDir())
	assert.Equal(t, Mode(0o644), (TypeRegular | 0o644).Perm())
}

func TestPermissionCheck(t *testing.T) {
	clock := &timeutil.SimulatedClock{}
	in := New(TypeRegular|0o640, 1000, 2000, 0, clock)

	owner := Cred{Uid: 1000, Gid: 1}
	group := Cred{Uid: 42, Gid: 2000}
	other := Cred{Uid: 42, Gid: 42}

	assert.True(t, Check(owner, in, MayRead|MayWrite))
	assert.False(t, Check(owner, in, MayExec))
	assert.True(t, Check(group, in, MayRead))
	assert.False(t, Check(group, in, MayWrite))
	assert.False(t, Check(other, in, MayRead))
}

func TestRootBypassesReadWrite(t *testing.T) {
	clock := &timeutil.SimulatedClock{}
	in := New(TypeRegular|0o000, 1000, 1000, 0, clock)

	assert.True(t, Check(RootCred, in, MayRead|MayWrite))
	assert.False(t, Check(RootCred, in, MayExec))

	in.Mode |= OwnerExec
	assert.True(t, Check(RootCred, in, MayExec))
}

func TestTouchHelpers(t *testing.T) {
	start := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	clock := &timeutil.SimulatedClock{}
	clock.SetTime(start)

	in := New(TypeRegular|0o644, 0, 0, 0, clock)
	version := in.Version

	clock.AdvanceTime(time.Second)
	in.TouchModified(clock)
	assert.Equal(t, TimeMillis(start.Add(time.Second)), in.Mtime)
	assert.Equal(t, version+1, in.Version)

	in.Flags |= FlagNoAtime
	before := in.Atime
	clock.AdvanceTime(time.Second)
	in.TouchAccessed(clock)
	assert.Equal(t, before, in.Atime)
}
