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

// Package store defines the flat key-value contract the file system engine
// is built on: byte values keyed by 64-bit inode ids, with atomic
// insert-if-absent and pre-image transactions.
package store

import (
	"context"

	"github.com/storevfs/storevfs/internal/fs/inode"
)

// Store is a mapping from inode id to opaque byte string.
//
// Put with overwrite=false must be an atomic create: it returns false iff
// the key already exists, and inserts otherwise. Values may be up to
// 2^32-1 bytes. Implementations must not retain the value slice passed to
// Put, nor hand out slices a caller may mutate.
type Store interface {
	// Get returns the value stored under ino, or found=false.
	Get(ctx context.Context, ino inode.Ino) (val []byte, found bool, err error)

	// Put stores val under ino. With overwrite=false it is an atomic
	// create, returning done=false when the key is already present.
	Put(ctx context.Context, ino inode.Ino, val []byte, overwrite bool) (done bool, err error)

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, ino inode.Ino) error

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Begin opens a transaction against this store. Transactions do not
	// nest; isolation between concurrent transactions is cooperative and
	// provided by the caller (the VFS serializes through the mount mutex).
	Begin() Transaction

	// Name identifies the store in log output.
	Name() string
}

// Transaction is a batch of mutations that either commits as a whole or
// rolls every touched key back to its pre-transaction value.
type Transaction interface {
	Get(ctx context.Context, ino inode.Ino) (val []byte, found bool, err error)
	Put(ctx context.Context, ino inode.Ino, val []byte, overwrite bool) (done bool, err error)
	Remove(ctx context.Context, ino inode.Ino) error

	// Commit releases the transaction, keeping all mutations.
	Commit() error

	// Abort restores the pre-image of every key the transaction observed
	// or mutated.
	Abort(ctx context.Context) error
}

// TransientError marks a store failure that is worth retrying, such as a
// dropped connection to a remote backend. See RetryStore.
type TransientError interface {
	error
	Transient() bool
}
