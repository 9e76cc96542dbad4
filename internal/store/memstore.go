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
	"sync"

	"github.com/storevfs/storevfs/internal/fs/inode"
)

// MemStore keeps all values in process memory. It backs tests, the device
// file system, and throwaway mounts.
type MemStore struct {
	mu   sync.RWMutex
	data map[inode.Ino][]byte // GUARDED_BY(mu)
	name string
}

var _ Store = &MemStore{}

func NewMemStore(name string) *MemStore {
	if name == "" {
		name = "memory"
	}

	return &MemStore{
		data: make(map[inode.Ino][]byte),
		name: name,
	}
}

func (s *MemStore) Get(_ context.Context, ino inode.Ino) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[ino]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), val...), true, nil
}

func (s *MemStore) Put(_ context.Context, ino inode.Ino, val []byte, overwrite bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !overwrite {
		if _, ok := s.data[ino]; ok {
			return false, nil
		}
	}

	s.data[ino] = append([]byte(nil), val...)
	return true, nil
}

func (s *MemStore) Remove(_ context.Context, ino inode.Ino) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, ino)
	return nil
}

func (s *MemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[inode.Ino][]byte)
	return nil
}

func (s *MemStore) Begin() Transaction {
	return NewTransaction(s)
}

func (s *MemStore) Name() string {
	return s.name
}

// Len reports the number of stored keys. Tests use it to assert rollback.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
