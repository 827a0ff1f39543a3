// Copyright 2024 The jdwpagent Authors.
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

// Package tclog provides the structured, leveled logging used throughout
// the thread-control core. It plays the role gvisor's pkg/log plays
// for pkg/sentry/kernel, except that entries are fielded rather than
// receiver-bound, since there is no Task object here to hang Infof off
// of -- only the runtime's opaque thread handles.
package tclog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// base is the package-wide logger, writing to stderr.
var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the minimum logged severity. Harness flags call this.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// For returns an entry fielded with the given thread handle, the way
// promoteLocked in gvisor's task_exec.go logs "Becoming TID %d" with
// the acting task's identity attached.
func For(thread any) *logrus.Entry {
	return base.WithField("thread", thread)
}

// Infof logs at info level with no thread context, for process-wide
// events (initialize, reset, suspendAll/resumeAll).
func Infof(format string, args ...any) {
	base.Infof(format, args...)
}

// Warningf logs a recoverable anomaly: a primitive call failed in a way
// the caller absorbs, or a defensive fallback path was taken.
func Warningf(format string, args ...any) {
	base.Warningf(format, args...)
}

// Fatalf logs and terminates the process immediately. Every call site
// is asserting an invariant, not reporting a user-facing error.
func Fatalf(format string, args ...any) {
	base.Fatalf(format, args...)
}
