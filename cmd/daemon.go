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

package cmd

import (
	"fmt"
	"os"

	"github.com/jacobsa/daemonize"
	"github.com/kardianos/osext"

	"github.com/storevfs/storevfs/internal/logger"
)

// The environment variable marking a re-exec'd child, so it mounts in the
// foreground instead of daemonizing again.
const inBackgroundModeEnv = "STOREVFS_IN_BACKGROUND_MODE"

// daemonizeAndMount re-executes this binary in the background with
// --foreground implied, relaying its mount outcome to our exit status.
func daemonizeAndMount(mountPoint string) error {
	if os.Getenv(inBackgroundModeEnv) == "true" {
		return mountAndServe(mountPoint)
	}

	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	env := append(os.Environ(), fmt.Sprintf("%s=true", inBackgroundModeEnv))

	err = daemonize.Run(path, os.Args[1:], env, nil, os.Stderr)
	if err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}

	logger.Infof("Mount of %q deferred to background process", mountPoint)
	return nil
}

// markMountSuccess tells the waiting parent (if any) that the mount is up.
func markMountSuccess() {
	if os.Getenv(inBackgroundModeEnv) == "true" {
		if err := daemonize.SignalOutcome(nil); err != nil {
			logger.Errorf("Failed to signal success to parent process: %v", err)
		}
	}
}

// markMountFailure relays a mount error to the waiting parent.
func markMountFailure(outcome error) {
	if os.Getenv(inBackgroundModeEnv) == "true" {
		if err := daemonize.SignalOutcome(outcome); err != nil {
			logger.Errorf("Failed to signal error to parent process: %v", err)
		}
	}
}
