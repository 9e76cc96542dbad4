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

package indexfs

import (
	"context"
	"sync"

	"github.com/storevfs/storevfs/internal/syserr"
)

// MemData is the in-memory DataFS used by tests and throwaway index
// mounts.
type MemData struct {
	mu    sync.RWMutex
	files map[string][]byte // GUARDED_BY(mu)
}

var _ DataFS = &MemData{}

func NewMemData() *MemData {
	return &MemData{files: make(map[string][]byte)}
}

func (m *MemData) ReadFile(_ context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contents, ok := m.files[p]
	if !ok {
		return nil, syserr.New(syserr.ENOENT, p)
	}

	return append([]byte(nil), contents...), nil
}

func (m *MemData) WriteFile(_ context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *MemData) RemoveFile(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, p)
	return nil
}
