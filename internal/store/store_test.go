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

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/storevfs/storevfs/internal/fs/inode"
	"github.com/storevfs/storevfs/internal/store"
)

type StoreTest struct {
	suite.Suite
	ctx context.Context
	s   *store.MemStore
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTest))
}

func (t *StoreTest) SetupTest() {
	t.ctx = context.Background()
	t.s = store.NewMemStore("test")
}

func (t *StoreTest) TestPutGetRemove() {
	done, err := t.s.Put(t.ctx, 1, []byte("hello"), false)
	require.NoError(t.T(), err)
	assert.True(t.T(), done)

	val, found, err := t.s.Get(t.ctx, 1)
	require.NoError(t.T(), err)
	assert.True(t.T(), found)
	assert.Equal(t.T(), []byte("hello"), val)

	require.NoError(t.T(), t.s.Remove(t.ctx, 1))
	_, found, err = t.s.Get(t.ctx, 1)
	require.NoError(t.T(), err)
	assert.False(t.T(), found)
}

func (t *StoreTest) TestInsertIfAbsent() {
	done, err := t.s.Put(t.ctx, 7, []byte("a"), false)
	require.NoError(t.T(), err)
	assert.True(t.T(), done)

	done, err = t.s.Put(t.ctx, 7, []byte("b"), false)
	require.NoError(t.T(), err)
	assert.False(t.T(), done)

	val, _, _ := t.s.Get(t.ctx, 7)
	assert.Equal(t.T(), []byte("a"), val)

	done, err = t.s.Put(t.ctx, 7, []byte("b"), true)
	require.NoError(t.T(), err)
	assert.True(t.T(), done)
}

func (t *StoreTest) TestGetReturnsCopy() {
	_, err := t.s.Put(t.ctx, 3, []byte("abc"), true)
	require.NoError(t.T(), err)

	val, _, _ := t.s.Get(t.ctx, 3)
	val[0] = 'x'

	again, _, _ := t.s.Get(t.ctx, 3)
	assert.Equal(t.T(), []byte("abc"), again)
}

func (t *StoreTest) TestAbortRestoresPreImages() {
	_, err := t.s.Put(t.ctx, 1, []byte("old"), true)
	require.NoError(t.T(), err)

	tx := t.s.Begin()
	_, err = tx.Put(t.ctx, 1, []byte("new"), true)
	require.NoError(t.T(), err)
	_, err = tx.Put(t.ctx, 2, []byte("fresh"), false)
	require.NoError(t.T(), err)
	require.NoError(t.T(), tx.Remove(t.ctx, 1))

	require.NoError(t.T(), tx.Abort(t.ctx))

	val, found, _ := t.s.Get(t.ctx, 1)
	assert.True(t.T(), found)
	assert.Equal(t.T(), []byte("old"), val)

	_, found, _ = t.s.Get(t.ctx, 2)
	assert.False(t.T(), found)
}

func (t *StoreTest) TestCommitKeepsMutations() {
	tx := t.s.Begin()
	_, err := tx.Put(t.ctx, 5, []byte("v"), false)
	require.NoError(t.T(), err)
	require.NoError(t.T(), tx.Commit())

	_, found, _ := t.s.Get(t.ctx, 5)
	assert.True(t.T(), found)

	assert.Error(t.T(), tx.Commit())
	assert.Error(t.T(), tx.Abort(t.ctx))
}

func (t *StoreTest) TestAbortRestoresObservedKeys() {
	// Keys stashed by a read, then mutated behind the transaction's back
	// through the same transaction, also roll back.
	_, err := t.s.Put(t.ctx, 9, []byte("seen"), true)
	require.NoError(t.T(), err)

	tx := t.s.Begin()
	_, found, err := tx.Get(t.ctx, 9)
	require.NoError(t.T(), err)
	require.True(t.T(), found)

	require.NoError(t.T(), tx.Remove(t.ctx, 9))
	require.NoError(t.T(), tx.Abort(t.ctx))

	val, found, _ := t.s.Get(t.ctx, 9)
	assert.True(t.T(), found)
	assert.Equal(t.T(), []byte("seen"), val)
}

////////////////////////////////////////////////////////////////////////
// Retry wrapper
////////////////////////////////////////////////////////////////////////

type flakyErr struct{}

func (flakyErr) Error() string   { return "flaky" }
func (flakyErr) Transient() bool { return true }

// flakyStore fails the first failures calls to Get; its other methods pass
// straight through to the MemStore.
type flakyStore struct {
	*store.MemStore
	failures int
}

func (f *flakyStore) Get(ctx context.Context, ino inode.Ino) ([]byte, bool, error) {
	if f.failures > 0 {
		f.failures--
		return nil, false, flakyErr{}
	}

	return f.MemStore.Get(ctx, ino)
}

func TestRetryStoreRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{MemStore: store.NewMemStore("flaky"), failures: 2}
	_, err := flaky.MemStore.Put(ctx, 1, []byte("v"), true)
	require.NoError(t, err)

	rs := store.NewRetryStore(flaky, 5)
	val, found, err := rs.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
}

func TestRetryStoreGivesUp(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{MemStore: store.NewMemStore("flaky"), failures: 100}

	rs := store.NewRetryStore(flaky, 3)
	_, _, err := rs.Get(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.As(err, &flakyErr{}))
}
