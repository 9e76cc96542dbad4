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

package storefs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storevfs/storevfs/internal/fs/inode"
)

// Directory listings are stored as a UTF-8 JSON object mapping child name
// to decimal inode id. The format is shared with other implementations of
// this store layout, so it stays JSON rather than a binary re-encode.

func encodeListing(listing map[string]inode.Ino) ([]byte, error) {
	m := make(map[string]uint64, len(listing))
	for name, ino := range listing {
		m[name] = uint64(ino)
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding listing: %w", err)
	}

	return b, nil
}

func decodeListing(data []byte) (map[string]inode.Ino, error) {
	if len(data) == 0 {
		return make(map[string]inode.Ino), nil
	}

	var m map[string]uint64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}

	listing := make(map[string]inode.Ino, len(m))
	for name, ino := range m {
		listing[name] = inode.Ino(ino)
	}

	return listing, nil
}

// validName reports whether name may appear in a directory listing.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, "/\x00")
}
