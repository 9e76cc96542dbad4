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

// Package cfg defines the configuration surface: a yaml-file-shaped struct
// tree bound to command-line flags through viper.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Foreground bool `yaml:"foreground"`

	Logging LoggingConfig `yaml:"logging"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggingConfig struct {
	// Severity: trace, debug, info, warning, error, or off.
	Severity LogSeverity `yaml:"severity"`

	// Format: text or json.
	Format string `yaml:"format"`

	// FilePath routes logs to a rotated file instead of stderr.
	FilePath string `yaml:"file-path"`

	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	BackupFileCount int `yaml:"backup-file-count"`
}

type FileSystemConfig struct {
	// Uid and Gid act as the calling credential. -1 means the process
	// owner.
	Uid int `yaml:"uid"`
	Gid int `yaml:"gid"`

	FileMode Octal `yaml:"file-mode"`
	DirMode  Octal `yaml:"dir-mode"`

	// Volume label for the root mount.
	VolumeLabel string `yaml:"volume-label"`

	ReadOnly bool `yaml:"read-only"`

	NoAtime bool `yaml:"no-atime"`

	// Extended-attribute namespaces user code may touch.
	XattrNamespaces []string `yaml:"xattr-namespaces"`

	// MountDevices adds a device file system at /dev.
	MountDevices bool `yaml:"mount-devices"`

	// StoreRetryAttempts bounds the attempts per store operation on
	// transient failures, including the first; values above 1 enable retry.
	StoreRetryAttempts int `yaml:"store-retry-attempts"`
}

type MetricsConfig struct {
	// PrometheusPort serves /metrics when positive.
	PrometheusPort int `yaml:"prometheus-port"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this mount.")

	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Stay in the foreground after mounting.")

	if err = viper.BindPFlag("foreground", flagSet.Lookup("foreground")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Severity of logs to emit: trace, debug, info, warning, error, or off.")

	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "The format of the logs: text or json.")

	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. The default is to log to stderr.")

	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 100, "Maximum size in megabytes of a log file before rotation.")

	if err = viper.BindPFlag("logging.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "Number of rotated log files to retain. 0 retains all.")

	if err = viper.BindPFlag("logging.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID the file system acts as. -1 means the process owner.")

	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID the file system acts as. -1 means the process owner.")

	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.StringP("file-mode", "", "644", "Permission bits for new files, in octal.")

	if err = viper.BindPFlag("file-system.file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.StringP("dir-mode", "", "755", "Permission bits for new directories, in octal.")

	if err = viper.BindPFlag("file-system.dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.StringP("volume-label", "", "", "Volume label reported for the root mount.")

	if err = viper.BindPFlag("file-system.volume-label", flagSet.Lookup("volume-label")); err != nil {
		return err
	}

	flagSet.BoolP("read-only", "", false, "Mount the file system read-only.")

	if err = viper.BindPFlag("file-system.read-only", flagSet.Lookup("read-only")); err != nil {
		return err
	}

	flagSet.BoolP("no-atime", "", false, "Do not maintain access times.")

	if err = viper.BindPFlag("file-system.no-atime", flagSet.Lookup("no-atime")); err != nil {
		return err
	}

	flagSet.StringSliceP("xattr-namespace", "", []string{"user."}, "Extended-attribute namespaces user code may touch.")

	if err = viper.BindPFlag("file-system.xattr-namespaces", flagSet.Lookup("xattr-namespace")); err != nil {
		return err
	}

	flagSet.BoolP("mount-devices", "", true, "Serve the built-in character devices under /dev.")

	if err = viper.BindPFlag("file-system.mount-devices", flagSet.Lookup("mount-devices")); err != nil {
		return err
	}

	flagSet.IntP("store-retry-attempts", "", 3, "Attempts for transient store failures, including the first.")

	if err = viper.BindPFlag("file-system.store-retry-attempts", flagSet.Lookup("store-retry-attempts")); err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics on this port; 0 disables them.")

	if err = viper.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port")); err != nil {
		return err
	}

	return nil
}
