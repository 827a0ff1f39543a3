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

package main

import (
	"os"
	"os/signal"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"jdwpagent.dev/threadcontrol/internal/tclog"
)

var debugOnce sync.Once

// setDebugSigHandler installs a SIGUSR2 stack-dump handler so a stuck
// harness run can be diagnosed without killing it outright.
func setDebugSigHandler() {
	debugOnce.Do(func() {
		dumpCh := make(chan os.Signal, 1)
		signal.Notify(dumpCh, unix.SIGUSR2)
		go func() {
			buf := make([]byte, 10240)
			for range dumpCh {
				for {
					n := runtime.Stack(buf, true)
					if n >= len(buf) {
						buf = make([]byte, 2*len(buf))
						continue
					}
					tclog.Infof("harness: stack dump requested:\n%s", buf[:n])
					break
				}
			}
		}()
		tclog.Infof("harness: for a stack dump, send SIGUSR2 to pid %d", os.Getpid())
	})
}

// setShutdownSigHandler returns a channel that receives SIGINT and
// SIGTERM, for run.go's graceful-shutdown wait.
func setShutdownSigHandler() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	return ch
}
