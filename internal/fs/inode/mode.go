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

// Mode holds the POSIX file-type bits in the top half and the permission
// bits (including setuid/setgid/sticky) in the low 12 bits.
type Mode uint32

const (
	// File type mask and types.
	TypeMask Mode = 0xF000

	TypeFIFO      Mode = 0x1000
	TypeCharDev   Mode = 0x2000
	TypeDirectory Mode = 0x4000
	TypeBlockDev  Mode = 0x6000
	TypeRegular   Mode = 0x8000
	TypeSymlink   Mode = 0xA000
	TypeSocket    Mode = 0xC000

	// Set-id and sticky bits.
	SetUid Mode = 0o4000
	SetGid Mode = 0o2000
	Sticky Mode = 0o1000

	// Permission triads.
	PermMask Mode = 0o777

	OwnerRead  Mode = 0o400
	OwnerWrite Mode = 0o200
	OwnerExec  Mode = 0o100
	GroupRead  Mode = 0o040
	GroupWrite Mode = 0o020
	GroupExec  Mode = 0o010
	OtherRead  Mode = 0o004
	OtherWrite Mode = 0o002
	OtherExec  Mode = 0o001
)

// Access masks for Check and the access(2)-style VFS call.
const (
	MayExec  uint32 = 1
	MayWrite uint32 = 2
	MayRead  uint32 = 4
)

// FileType returns just the type bits.
func (m Mode) FileType() Mode {
	return m & TypeMask
}

// Perm returns the permission bits, including set-id and sticky.
func (m Mode) Perm() Mode {
	return m &^ TypeMask
}

func (m Mode) IsDir() bool {
	return m.FileType() == TypeDirectory
}

func (m Mode) IsRegular() bool {
	return m.FileType() == TypeRegular
}

func (m Mode) IsSymlink() bool {
	return m.FileType() == TypeSymlink
}

func (m Mode) IsCharDev() bool {
	return m.FileType() == TypeCharDev
}

// Check reports whether the credential may access the inode with the given
// mask (a combination of MayRead/MayWrite/MayExec). Uid 0 bypasses
// read/write checks and passes execute checks when any execute bit is set,
// mirroring kernel behavior.
func Check(cred Cred, in *Inode, mask uint32) bool {
	if cred.Uid == 0 {
		if mask&MayExec == 0 {
			return true
		}

		return in.Mode&(OwnerExec|GroupExec|OtherExec) != 0 || in.Mode.IsDir()
	}

	var granted uint32
	switch {
	case cred.Uid == in.Uid:
		granted = uint32(in.Mode>>6) & 0o7
	case cred.Gid == in.Gid:
		granted = uint32(in.Mode>>3) & 0o7
	default:
		granted = uint32(in.Mode) & 0o7
	}

	return granted&mask == mask
}
