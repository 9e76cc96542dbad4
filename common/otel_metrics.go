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
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	fsOpsMeter = otel.Meter("fs_op")

	fsOpsAttributeSet,
	fsOpsErrorAttributeSet sync.Map
)

func loadOrStoreAttributeOption[K comparable](mp *sync.Map, key K, attrSetGenFunc func() attribute.Set) metric.MeasurementOption {
	attrSet, ok := mp.Load(key)
	if ok {
		return attrSet.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attrSetGenFunc()))
	return v.(metric.MeasurementOption)
}

func getFSOpsAttributeSet(fsOp string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&fsOpsAttributeSet, fsOp, func() attribute.Set {
		return attribute.NewSet(attribute.String(FSOpKey, fsOp))
	})
}

type fsOpsError struct {
	fsOp     string
	category string
}

func getFSOpsErrorAttributeSet(key fsOpsError) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&fsOpsErrorAttributeSet, key, func() attribute.Set {
		return attribute.NewSet(
			attribute.String(FSOpKey, key.fsOp),
			attribute.String(FSErrCategoryKey, key.category))
	})
}

// otelMetrics records VFS measurements through the OpenTelemetry API.
type otelMetrics struct {
	fsOpsCount      metric.Int64Counter
	fsOpsErrorCount metric.Int64Counter
	fsOpsLatency    metric.Float64Histogram
}

var _ MetricHandle = &otelMetrics{}

func NewOTelMetrics() (MetricHandle, error) {
	fsOpsCount, err := fsOpsMeter.Int64Counter("fs/ops_count",
		metric.WithDescription("The number of ops processed by the file system."))
	if err != nil {
		return nil, fmt.Errorf("creating fs/ops_count: %w", err)
	}

	fsOpsErrorCount, err := fsOpsMeter.Int64Counter("fs/ops_error_count",
		metric.WithDescription("The number of errors generated by file system ops."))
	if err != nil {
		return nil, fmt.Errorf("creating fs/ops_error_count: %w", err)
	}

	fsOpsLatency, err := fsOpsMeter.Float64Histogram("fs/ops_latency",
		metric.WithDescription("The latency of a file system op."),
		metric.WithUnit("us"))
	if err != nil {
		return nil, fmt.Errorf("creating fs/ops_latency: %w", err)
	}

	return &otelMetrics{
		fsOpsCount:      fsOpsCount,
		fsOpsErrorCount: fsOpsErrorCount,
		fsOpsLatency:    fsOpsLatency,
	}, nil
}

func (o *otelMetrics) FsOpsCount(ctx context.Context, inc int64, fsOp string) {
	o.fsOpsCount.Add(ctx, inc, getFSOpsAttributeSet(fsOp))
}

func (o *otelMetrics) FsOpsErrorCount(ctx context.Context, inc int64, fsOp string, category string) {
	o.fsOpsErrorCount.Add(ctx, inc, getFSOpsErrorAttributeSet(fsOpsError{fsOp: fsOp, category: category}))
}

func (o *otelMetrics) FsOpsLatency(ctx context.Context, latency time.Duration, fsOp string) {
	o.fsOpsLatency.Record(ctx, float64(latency.Microseconds()), getFSOpsAttributeSet(fsOp))
}
