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

package cfg

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validate rejects configs the rest of the stack would choke on.
func Validate(c *Config) error {
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("unsupported log format: %q", c.Logging.Format)
	}

	if c.FileSystem.FileMode&^0o777 != 0 {
		return fmt.Errorf("file-mode %o has bits outside 0777", int(c.FileSystem.FileMode))
	}
	if c.FileSystem.DirMode&^0o777 != 0 {
		return fmt.Errorf("dir-mode %o has bits outside 0777", int(c.FileSystem.DirMode))
	}

	for _, ns := range c.FileSystem.XattrNamespaces {
		if ns == "" || !strings.HasSuffix(ns, ".") {
			return fmt.Errorf("xattr namespace %q must end with a dot", ns)
		}
	}

	if c.FileSystem.StoreRetryAttempts < 1 {
		return fmt.Errorf("store-retry-attempts must be at least 1")
	}

	if c.Metrics.PrometheusPort < 0 || c.Metrics.PrometheusPort > 65535 {
		return fmt.Errorf("prometheus-port %d out of range", c.Metrics.PrometheusPort)
	}

	return nil
}

// Stringify renders the resolved config for the startup log.
func Stringify(c *Config) (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	return string(out), nil
}
