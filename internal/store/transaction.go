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

package store

import (
	"context"
	"fmt"

	"github.com/storevfs/storevfs/internal/fs/inode"
)

// preImage records what a key looked like before the transaction first
// touched it.
type preImage struct {
	val     []byte
	existed bool
}

// Tx is the pre-image transaction used by every store in this module. It
// stashes the original value of each key lazily, on first observation or
// first mutation, and Abort writes the stash back.
type Tx struct {
	store Store

	// GUARDED_BY(the mount mutex of the owning FS)
	preImages map[inode.Ino]preImage
	done      bool
}

var _ Transaction = &Tx{}

// NewTransaction opens a transaction over s. Mutations go straight to the
// underlying store; only Abort undoes them.
func NewTransaction(s Store) *Tx {
	return &Tx{
		store:     s,
		preImages: make(map[inode.Ino]preImage),
	}
}

// stash records the current value of ino if this is the first time the
// transaction has touched it.
func (t *Tx) stash(ctx context.Context, ino inode.Ino) error {
	if _, ok := t.preImages[ino]; ok {
		return nil
	}

	val, found, err := t.store.Get(ctx, ino)
	if err != nil {
		return fmt.Errorf("Get: %w", err)
	}

	t.preImages[ino] = preImage{val: val, existed: found}
	return nil
}

func (t *Tx) Get(ctx context.Context, ino inode.Ino) ([]byte, bool, error) {
	if t.done {
		return nil, false, errTxDone
	}

	if err := t.stash(ctx, ino); err != nil {
		return nil, false, err
	}

	return t.store.Get(ctx, ino)
}

func (t *Tx) Put(ctx context.Context, ino inode.Ino, val []byte, overwrite bool) (bool, error) {
	if t.done {
		return false, errTxDone
	}

	if err := t.stash(ctx, ino); err != nil {
		return false, err
	}

	return t.store.Put(ctx, ino, val, overwrite)
}

func (t *Tx) Remove(ctx context.Context, ino inode.Ino) error {
	if t.done {
		return errTxDone
	}

	if err := t.stash(ctx, ino); err != nil {
		return err
	}

	return t.store.Remove(ctx, ino)
}

func (t *Tx) Commit() error {
	if t.done {
		return errTxDone
	}

	t.done = true
	t.preImages = nil
	return nil
}

// Abort restores each touched key: keys that existed get their old value
// written back, keys that did not are removed. The first restore failure is
// returned, but restoration continues so that as much state as possible is
// rolled back.
func (t *Tx) Abort(ctx context.Context) error {
	if t.done {
		return errTxDone
	}

	t.done = true

	var firstErr error
	for ino, pre := range t.preImages {
		var err error
		if pre.existed {
			_, err = t.store.Put(ctx, ino, pre.val, true)
		} else {
			err = t.store.Remove(ctx, ino)
		}

		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restoring %d: %w", ino, err)
		}
	}

	t.preImages = nil
	return firstErr
}

var errTxDone = fmt.Errorf("transaction already finished")
