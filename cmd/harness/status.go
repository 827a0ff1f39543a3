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
	"context"
	"flag"

	"github.com/google/subcommands"

	"jdwpagent.dev/threadcontrol/internal/simruntime"
	"jdwpagent.dev/threadcontrol/internal/tclog"
	"jdwpagent.dev/threadcontrol/threadcontrol"
)

// statusCmd spawns a single platform thread and a single virtual thread,
// starts them, and reports applicationThreadStatus for both -- a minimal
// liveness check for a freshly wired Controller/Backend pair.
type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "sanity-check a fresh Controller/Backend pair" }
func (*statusCmd) Usage() string {
	return "status: spawns one platform and one virtual thread and prints their status.\n"
}

func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (*statusCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	backend := simruntime.NewBackend(true, 4)
	controller := threadcontrol.NewController(backend, threadcontrol.Config{})
	controller.Initialize()

	platform := backend.Spawn(false)
	virtual := backend.Spawn(true)
	backend.Start(platform)
	backend.Start(virtual)

	for name, t := range map[string]*simruntime.Thread{"platform": platform, "virtual": virtual} {
		status, flags := controller.ApplicationThreadStatus(t)
		tclog.Infof("harness: status: %s thread: status=%v flags=%v", name, status, flags)
	}
	return subcommands.ExitSuccess
}
