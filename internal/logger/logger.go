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

// Package logger provides the process-wide leveled logger. Output goes to
// stderr by default; Setup can reroute it through a size-rotated file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity values accepted from configuration.
const (
	SeverityTrace   = "TRACE"
	SeverityDebug   = "DEBUG"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
	SeverityOff     = "OFF"
)

// TRACE sits below slog's builtin debug level; OFF above error.
const (
	levelTrace = slog.LevelDebug - 4
	levelOff   = slog.LevelError + 4
)

var (
	mu            sync.Mutex
	programLevel  = new(slog.LevelVar)
	logFormat     = "text"
	defaultLogger = slog.New(newHandler(os.Stderr, "text", programLevel))
)

// Setup configures level, format, and optional file output in one call.
// filePath == "" keeps stderr. Rotation keeps up to maxSizeMB per file and
// backupCount old files.
func Setup(severity, format, filePath string, maxSizeMB, backupCount int) error {
	mu.Lock()
	defer mu.Unlock()

	if err := setLevel(severity); err != nil {
		return err
	}

	if format != "" {
		if format != "text" && format != "json" {
			return fmt.Errorf("unsupported log format: %q", format)
		}
		logFormat = format
	}

	var sink io.Writer = os.Stderr
	if filePath != "" {
		if maxSizeMB <= 0 {
			maxSizeMB = 100
		}
		sink = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    maxSizeMB,
			MaxBackups: backupCount,
			Compress:   true,
		}
	}

	defaultLogger = slog.New(newHandler(sink, logFormat, programLevel))
	return nil
}

// SetLogLevel adjusts the severity threshold of the running logger.
func SetLogLevel(severity string) error {
	mu.Lock()
	defer mu.Unlock()

	return setLevel(severity)
}

func setLevel(severity string) error {
	switch strings.ToUpper(severity) {
	case "", SeverityInfo:
		programLevel.Set(slog.LevelInfo)
	case SeverityTrace:
		programLevel.Set(levelTrace)
	case SeverityDebug:
		programLevel.Set(slog.LevelDebug)
	case SeverityWarning:
		programLevel.Set(slog.LevelWarn)
	case SeverityError:
		programLevel.Set(slog.LevelError)
	case SeverityOff:
		programLevel.Set(levelOff)
	default:
		return fmt.Errorf("unsupported log severity: %q", severity)
	}

	return nil
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Render custom levels under a "severity" key the way the
			// rest of the tooling expects.
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				a.Value = slog.StringValue(levelName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func levelName(l slog.Level) string {
	switch {
	case l <= levelTrace:
		return SeverityTrace
	case l < slog.LevelInfo:
		return SeverityDebug
	case l < slog.LevelWarn:
		return SeverityInfo
	case l < slog.LevelError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	return defaultLogger
}

func logf(level slog.Level, format string, v ...any) {
	current().Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) {
	logf(levelTrace, format, v...)
}

func Debugf(format string, v ...any) {
	logf(slog.LevelDebug, format, v...)
}

func Infof(format string, v ...any) {
	logf(slog.LevelInfo, format, v...)
}

func Info(v ...any) {
	current().Info(fmt.Sprint(v...))
}

func Warnf(format string, v ...any) {
	logf(slog.LevelWarn, format, v...)
}

func Errorf(format string, v ...any) {
	logf(slog.LevelError, format, v...)
}
