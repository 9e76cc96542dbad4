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

package syserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorRendering(t *testing.T) {
	err := New(ENOENT, "/missing")
	assert.Equal(t, "ENOENT: no such file or directory, '/missing'", err.Error())
	assert.Equal(t, 2, err.Errno)

	bare := New(EIO, "")
	assert.Equal(t, "EIO: input/output error", bare.Error())
}

func TestErrnoNumbers(t *testing.T) {
	// Spot-check the Linux-compatible numbering across the range.
	for code, want := range map[Code]int{
		EPERM:     1,
		EACCES:    13,
		EEXIST:    17,
		EXDEV:     18,
		ENOTDIR:   20,
		EISDIR:    21,
		EINVAL:    22,
		ENOSPC:    28,
		EROFS:     30,
		ENOTEMPTY: 39,
		ELOOP:     40,
		ENODATA:   61,
		ENOTSUP:   95,
		EDQUOT:    122,
	} {
		assert.Equal(t, want, New(code, "").Errno, "errno for %s", code)
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("Lookup: %w", New(EACCES, "/p"))

	assert.True(t, IsCode(err, EACCES))
	assert.False(t, IsCode(err, ENOENT))
	assert.Equal(t, EACCES, GetCode(err))
}

func TestConvert(t *testing.T) {
	assert.Nil(t, Convert(nil, "/p"))

	tagged := New(EEXIST, "/p")
	assert.Same(t, tagged, Convert(tagged, "/other"))

	foreign := Convert(errors.New("boom"), "/p")
	assert.Equal(t, EIO, foreign.Code)
	assert.Equal(t, "/p", foreign.Path)
}

func TestWithPath(t *testing.T) {
	err := New(ENOENT, "/backend/local")
	rewritten := err.WithPath("/user/visible")

	assert.Equal(t, "/user/visible", rewritten.Path)
	assert.Equal(t, "/backend/local", err.Path)
}

func TestUnknownCodeBecomesEIO(t *testing.T) {
	err := New(Code("EWAT"), "/p")
	assert.Equal(t, EIO, err.Code)
}
