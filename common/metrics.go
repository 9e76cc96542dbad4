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

// Package common holds the small pieces shared across layers, chiefly the
// metric handle the VFS records operation telemetry through.
package common

import (
	"context"
	"time"
)

const (
	// FSOpKey annotates a measurement with the file system op processed.
	FSOpKey = "fs_op"

	// FSErrCategoryKey groups errors to keep metric cardinality bounded.
	FSErrCategoryKey = "fs_error_category"
)

// MetricHandle receives one count per dispatched VFS operation, one count
// per failed one, and the wall latency of each.
type MetricHandle interface {
	FsOpsCount(ctx context.Context, inc int64, fsOp string)
	FsOpsErrorCount(ctx context.Context, inc int64, fsOp string, errCategory string)
	FsOpsLatency(ctx context.Context, latency time.Duration, fsOp string)
}
