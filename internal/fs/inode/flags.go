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

// Per-inode behavioral flags, settable through the flags ioctl pair.
const (
	// FlagImmutable rejects every mutation of data and metadata with EPERM.
	FlagImmutable uint32 = 1 << 0

	// FlagAppendOnly restricts writes to the end of the file.
	FlagAppendOnly uint32 = 1 << 1

	// FlagNoAtime suppresses access-time updates on reads.
	FlagNoAtime uint32 = 1 << 2

	// FlagSync forces metadata write-back after every data write.
	FlagSync uint32 = 1 << 3
)

// SettableFlags is the set a caller may toggle via the set-flags ioctl.
const SettableFlags = FlagImmutable | FlagAppendOnly | FlagNoAtime | FlagSync
