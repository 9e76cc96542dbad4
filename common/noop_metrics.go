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

package common

import (
	"context"
	"time"
)

type noopMetrics struct{}

var _ MetricHandle = noopMetrics{}

// NewNoopMetrics returns a handle that discards every measurement. It is
// the default when no metrics exporter is configured.
func NewNoopMetrics() MetricHandle {
	return noopMetrics{}
}

func (noopMetrics) FsOpsCount(context.Context, int64, string) {}

func (noopMetrics) FsOpsErrorCount(context.Context, int64, string, string) {}

func (noopMetrics) FsOpsLatency(context.Context, time.Duration, string) {}
