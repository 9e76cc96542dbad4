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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOctalUnmarshal(t *testing.T) {
	var o Octal
	require.NoError(t, o.UnmarshalText([]byte("644")))
	assert.Equal(t, Octal(0o644), o)

	out, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "644", string(out))

	assert.Error(t, o.UnmarshalText([]byte("9z")))
}

func TestLogSeverityUnmarshal(t *testing.T) {
	var l LogSeverity
	require.NoError(t, l.UnmarshalText([]byte("warning")))
	assert.Equal(t, WarningLogSeverity, l)

	assert.Error(t, l.UnmarshalText([]byte("shouty")))
}

func validConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Severity: InfoLogSeverity, Format: "text"},
		FileSystem: FileSystemConfig{
			Uid:                -1,
			Gid:                -1,
			FileMode:           0o644,
			DirMode:            0o755,
			XattrNamespaces:    []string{"user."},
			StoreRetryAttempts: 3,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejections(t *testing.T) {
	c := validConfig()
	c.Logging.Format = "xml"
	assert.Error(t, Validate(c))

	c = validConfig()
	c.FileSystem.FileMode = Octal(0o7777)
	assert.Error(t, Validate(c))

	c = validConfig()
	c.FileSystem.XattrNamespaces = []string{"user"}
	assert.Error(t, Validate(c))

	c = validConfig()
	c.FileSystem.StoreRetryAttempts = 0
	assert.Error(t, Validate(c))

	c = validConfig()
	c.Metrics.PrometheusPort = 70000
	assert.Error(t, Validate(c))
}

func TestStringifyIsYaml(t *testing.T) {
	out, err := Stringify(validConfig())
	require.NoError(t, err)
	assert.Contains(t, out, "file-mode: \"644\"")
	assert.Contains(t, out, "severity: INFO")
}
