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

package devicefs

import (
	"context"
	"crypto/rand"
	"io"
	"strings"

	"github.com/storevfs/storevfs/internal/syserr"
)

// nullDriver: reads see end-of-file, writes vanish.
type nullDriver struct{}

func (nullDriver) Name() string {
	return "null"
}

func (nullDriver) Read(context.Context, *Device, []byte, int64) (int, error) {
	return 0, nil
}

func (nullDriver) Write(_ context.Context, _ *Device, src []byte, _ int64) (int, error) {
	return len(src), nil
}

// zeroDriver: reads fill with zero bytes, writes vanish.
type zeroDriver struct{}

func (zeroDriver) Name() string {
	return "zero"
}

func (zeroDriver) Read(_ context.Context, _ *Device, dst []byte, _ int64) (int, error) {
	for i := range dst {
		dst[i] = 0
	}

	return len(dst), nil
}

func (zeroDriver) Write(_ context.Context, _ *Device, src []byte, _ int64) (int, error) {
	return len(src), nil
}

// fullDriver: reads like zero, writes report a full device.
type fullDriver struct {
	zeroDriver
}

func (fullDriver) Name() string {
	return "full"
}

func (fullDriver) Write(context.Context, *Device, []byte, int64) (int, error) {
	return 0, syserr.New(syserr.ENOSPC, "")
}

// randomDriver: reads return uniformly random bytes.
type randomDriver struct{}

func (randomDriver) Name() string {
	return "random"
}

func (randomDriver) Read(_ context.Context, _ *Device, dst []byte, _ int64) (int, error) {
	if _, err := rand.Read(dst); err != nil {
		return 0, syserr.New(syserr.EIO, "")
	}

	return len(dst), nil
}

func (randomDriver) Write(_ context.Context, _ *Device, src []byte, _ int64) (int, error) {
	return len(src), nil
}

// consoleDriver: writes decode as UTF-8 and go to the configured sink,
// reads see end-of-file.
type consoleDriver struct {
	sink io.Writer
}

func (consoleDriver) Name() string {
	return "console"
}

func (consoleDriver) Read(context.Context, *Device, []byte, int64) (int, error) {
	return 0, nil
}

func (d consoleDriver) Write(_ context.Context, _ *Device, src []byte, _ int64) (int, error) {
	if d.sink == nil {
		return len(src), nil
	}

	// Invalid sequences are replaced rather than rejected, matching what a
	// terminal would render.
	text := strings.ToValidUTF8(string(src), "�")
	if _, err := io.WriteString(d.sink, text); err != nil {
		return 0, syserr.New(syserr.EIO, "")
	}

	return len(src), nil
}

// NewConsoleDriver returns a console device writing to sink.
func NewConsoleDriver(sink io.Writer) Driver {
	return consoleDriver{sink: sink}
}

// AddStandardDevices registers null, zero, full, random, and console under
// the root of dfs with their conventional device numbers.
func AddStandardDevices(dfs *DeviceFS, consoleSink io.Writer) error {
	devs := []struct {
		path         string
		driver       Driver
		major, minor uint32
	}{
		{"/null", nullDriver{}, 1, 3},
		{"/zero", zeroDriver{}, 1, 5},
		{"/full", fullDriver{}, 1, 7},
		{"/random", randomDriver{}, 1, 8},
		{"/console", NewConsoleDriver(consoleSink), 5, 1},
	}

	for _, d := range devs {
		if _, err := dfs.AddDevice(d.path, d.driver, d.major, d.minor); err != nil {
			return err
		}
	}

	return nil
}
