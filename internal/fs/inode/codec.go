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
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// On-store layout: a packed little-endian struct in declaration order.
// Stores written by one implementation must be readable by another, so the
// byte positions below are load-bearing; do not reorder.
//
//	offset  field      width
//	     0  ino        8
//	     8  data       8
//	    16  size       8
//	    24  mode       4
//	    28  nlink      4
//	    32  uid        4
//	    36  gid        4
//	    40  atime      8
//	    48  mtime      8
//	    56  ctime      8
//	    64  birthtime  8
//	    72  flags      4
//	    76  version    8
//
// When the inode carries extended attributes, a JSON object mapping
// attribute name to base64 value follows the fixed part.
const recordSize = 84

// Marshal serializes the record into its on-store form.
func Marshal(in *Inode) ([]byte, error) {
	var tail []byte
	if len(in.Attributes) != 0 {
		var err error
		tail, err = json.Marshal(in.Attributes)
		if err != nil {
			return nil, fmt.Errorf("marshaling attributes: %w", err)
		}
	}

	buf := make([]byte, recordSize, recordSize+len(tail))
	binary.LittleEndian.PutUint64(buf[0:], uint64(in.Ino))
	binary.LittleEndian.PutUint64(buf[8:], uint64(in.Data))
	binary.LittleEndian.PutUint64(buf[16:], in.Size)
	binary.LittleEndian.PutUint32(buf[24:], uint32(in.Mode))
	binary.LittleEndian.PutUint32(buf[28:], in.Nlink)
	binary.LittleEndian.PutUint32(buf[32:], in.Uid)
	binary.LittleEndian.PutUint32(buf[36:], in.Gid)
	binary.LittleEndian.PutUint64(buf[40:], uint64(in.Atime))
	binary.LittleEndian.PutUint64(buf[48:], uint64(in.Mtime))
	binary.LittleEndian.PutUint64(buf[56:], uint64(in.Ctime))
	binary.LittleEndian.PutUint64(buf[64:], uint64(in.Birthtime))
	binary.LittleEndian.PutUint32(buf[72:], in.Flags)
	binary.LittleEndian.PutUint64(buf[76:], in.Version)

	return append(buf, tail...), nil
}

// Unmarshal parses an on-store record.
func Unmarshal(data []byte) (*Inode, error) {
	if len(data) < recordSize {
		return nil, fmt.Errorf("inode record too short: %d bytes", len(data))
	}

	in := &Inode{
		Ino:       Ino(binary.LittleEndian.Uint64(data[0:])),
		Data:      Ino(binary.LittleEndian.Uint64(data[8:])),
		Size:      binary.LittleEndian.Uint64(data[16:]),
		Mode:      Mode(binary.LittleEndian.Uint32(data[24:])),
		Nlink:     binary.LittleEndian.Uint32(data[28:]),
		Uid:       binary.LittleEndian.Uint32(data[32:]),
		Gid:       binary.LittleEndian.Uint32(data[36:]),
		Atime:     int64(binary.LittleEndian.Uint64(data[40:])),
		Mtime:     int64(binary.LittleEndian.Uint64(data[48:])),
		Ctime:     int64(binary.LittleEndian.Uint64(data[56:])),
		Birthtime: int64(binary.LittleEndian.Uint64(data[64:])),
		Flags:     binary.LittleEndian.Uint32(data[72:]),
		Version:   binary.LittleEndian.Uint64(data[76:]),
	}

	if len(data) > recordSize {
		if err := json.Unmarshal(data[recordSize:], &in.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes: %w", err)
		}
	}

	return in, nil
}
