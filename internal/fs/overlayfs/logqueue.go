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

package overlayfs

// snapshotQueue feeds full deletion-log snapshots to the single writer
// task. Each snapshot supersedes everything queued before it, so the
// writer only ever takes the newest entry and the queue never holds more
// than a handful of slices between writes.
type snapshotQueue struct {
	snapshots [][]byte
}

func (q *snapshotQueue) push(snapshot []byte) {
	q.snapshots = append(q.snapshots, snapshot)
}

func (q *snapshotQueue) empty() bool {
	return len(q.snapshots) == 0
}

// takeNewest pops the most recent snapshot and discards the stale ones it
// supersedes. Callers must check empty first.
func (q *snapshotQueue) takeNewest() []byte {
	newest := q.snapshots[len(q.snapshots)-1]
	q.snapshots = q.snapshots[:0]

	return newest
}
