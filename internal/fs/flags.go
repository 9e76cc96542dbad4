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
	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/syserr"
)

// OpenFlags is the parsed form of the POSIX open(2) flag word.
type OpenFlags uint32

const (
	FlagRead OpenFlags = 1 << iota
	FlagWrite
	FlagAppend
	FlagCreate
	FlagExcl
	FlagTrunc
	FlagSync
)

// Raw POSIX open(2) constants accepted by ParseOpenFlags. Numeric values
// follow Linux.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_EXCL   = 0x80
	O_TRUNC  = 0x200
	O_APPEND = 0x400
	O_SYNC   = 0x101000
)

// ParseOpenFlags converts a raw flag word into flag bits. O_TRUNC on a
// read-only descriptor is rejected, as is an unknown access mode.
func ParseOpenFlags(raw int) (OpenFlags, error) {
	var f OpenFlags

	switch raw & 0x3 {
	case O_RDONLY:
		f |= FlagRead
	case O_WRONLY:
		f |= FlagWrite
	case O_RDWR:
		f |= FlagRead | FlagWrite
	default:
		return 0, syserr.WithSyscall(syserr.EINVAL, "", "open")
	}

	if raw&O_APPEND != 0 {
		f |= FlagAppend | FlagWrite
	}
	if raw&O_CREAT != 0 {
		f |= FlagCreate
	}
	if raw&O_EXCL != 0 {
		f |= FlagExcl
	}
	if raw&O_TRUNC != 0 {
		if f&FlagWrite == 0 {
			return 0, syserr.WithSyscall(syserr.EINVAL, "", "open")
		}
		f |= FlagTrunc
	}
	if raw&O_SYNC == O_SYNC {
		f |= FlagSync
	}

	return f, nil
}

func (f OpenFlags) MayRead() bool {
	return f&FlagRead != 0
}

func (f OpenFlags) MayWrite() bool {
	return f&FlagWrite != 0
}

// AccessMask returns the MayRead/MayWrite mask implied by the flags, for
// permission checking at open time.
func (f OpenFlags) AccessMask() uint32 {
	var mask uint32
	if f.MayRead() {
		mask |= inode.MayRead
	}
	if f.MayWrite() {
		mask |= inode.MayWrite
	}

	return mask
}
