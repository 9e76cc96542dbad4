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

package inode_test

import (
	"encoding/binary"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/storevfs/storevfs/internal/fs/inode"
)

func TestCodec(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type CodecTest struct {
}

func init() { RegisterTestSuite(&CodecTest{}) }

func sample() *inode.Inode {
	return &inode.Inode{
		Ino:       0xdeadbeefcafe,
		Data:      0x1122334455667788,
		Size:      42,
		Mode:      inode.TypeRegular | 0o644,
		Nlink:     2,
		Uid:       1000,
		Gid:       1000,
		Atime:     1700000000001,
		Mtime:     1700000000002,
		Ctime:     1700000000003,
		Birthtime: 1700000000004,
		Flags:     inode.FlagNoAtime,
		Version:   7,
	}
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *CodecTest) RoundTrip() {
	in := sample()

	raw, err := inode.Marshal(in)
	AssertEq(nil, err)

	out, err := inode.Unmarshal(raw)
	AssertEq(nil, err)
	ExpectThat(out, DeepEquals(in))
}

func (t *CodecTest) RoundTripWithAttributes() {
	in := sample()
	in.Attributes = map[string][]byte{
		"user.answer": []byte("forty-two"),
		"user.empty":  {},
	}

	raw, err := inode.Marshal(in)
	AssertEq(nil, err)

	out, err := inode.Unmarshal(raw)
	AssertEq(nil, err)
	ExpectEq(2, len(out.Attributes))
	ExpectEq("forty-two", string(out.Attributes["user.answer"]))
}

func (t *CodecTest) FixedBytePositions() {
	// The positions below are shared with other implementations of the
	// store layout; a change here is a wire format break.
	in := sample()

	raw, err := inode.Marshal(in)
	AssertEq(nil, err)
	AssertEq(84, len(raw))

	ExpectEq(uint64(in.Ino), binary.LittleEndian.Uint64(raw[0:]))
	ExpectEq(uint64(in.Data), binary.LittleEndian.Uint64(raw[8:]))
	ExpectEq(in.Size, binary.LittleEndian.Uint64(raw[16:]))
	ExpectEq(uint32(in.Mode), binary.LittleEndian.Uint32(raw[24:]))
	ExpectEq(in.Nlink, binary.LittleEndian.Uint32(raw[28:]))
	ExpectEq(in.Uid, binary.LittleEndian.Uint32(raw[32:]))
	ExpectEq(in.Gid, binary.LittleEndian.Uint32(raw[36:]))
	ExpectEq(uint64(in.Atime), binary.LittleEndian.Uint64(raw[40:]))
	ExpectEq(uint64(in.Mtime), binary.LittleEndian.Uint64(raw[48:]))
	ExpectEq(uint64(in.Ctime), binary.LittleEndian.Uint64(raw[56:]))
	ExpectEq(uint64(in.Birthtime), binary.LittleEndian.Uint64(raw[64:]))
	ExpectEq(in.Flags, binary.LittleEndian.Uint32(raw[72:]))
	ExpectEq(in.Version, binary.LittleEndian.Uint64(raw[76:]))
}

func (t *CodecTest) ShortRecord() {
	_, err := inode.Unmarshal(make([]byte, 83))
	ExpectNe(nil, err)
}

func (t *CodecTest) CloneIsDeep() {
	in := sample()
	in.Attributes = map[string][]byte{"user.a": []byte("x")}

	dup := in.Clone()
	dup.Attributes["user.a"][0] = 'y'

	ExpectEq("x", string(in.Attributes["user.a"]))
}
