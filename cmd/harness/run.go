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
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jdwpagent.dev/threadcontrol/internal/simruntime"
	"jdwpagent.dev/threadcontrol/internal/tclog"
	"jdwpagent.dev/threadcontrol/threadcontrol"
)

// runCmd is "do" for this repo: a simplistic way to drive the
// thread-control core against a simulated runtime for manual
// exploration, not a production entry point.
type runCmd struct {
	scenarioPath string
	suspendAll   bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a thread-lifecycle scenario against the simulated runtime" }
func (*runCmd) Usage() string {
	return `run -scenario <path.toml> [-suspend-all]:
  Spawns the scenario's threads, drives each through start/step/end
  events, optionally issuing a VM-wide suspend midway, and prints the
  resulting thread-control state. For manual exploration and smoke
  testing only.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.scenarioPath, "scenario", "", "path to a scenario TOML file")
	f.BoolVar(&r.suspendAll, "suspend-all", false, "issue SuspendAll partway through the run")
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if r.scenarioPath == "" {
		tclog.Warningf("harness: run: -scenario is required")
		return subcommands.ExitUsageError
	}
	cfg, err := loadScenario(r.scenarioPath)
	if err != nil {
		tclog.Warningf("harness: run: %v", err)
		return subcommands.ExitFailure
	}

	backend := simruntime.NewBackend(cfg.VirtualThreadsSupported, cfg.CarrierSlots)
	controller := threadcontrol.NewController(backend, threadcontrol.Config{
		RememberVirtualThreads: cfg.RememberVirtualThreads,
	})
	controller.Initialize()

	threads := make([]*simruntime.Thread, len(cfg.Threads))
	for i, tc := range cfg.Threads {
		threads[i] = backend.Spawn(tc.Virtual)
	}

	scenario := &simruntime.Scenario{
		Backend:    backend,
		Controller: controller,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), 1),
	}

	if r.suspendAll {
		go func() {
			time.Sleep(10 * time.Millisecond)
			if err := controller.SuspendAll(); err != nil {
				tclog.Warningf("harness: run: SuspendAll: %v", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	shutdownCh := setShutdownSigHandler()
	go func() {
		select {
		case <-shutdownCh:
			cancel()
		case <-runCtx.Done():
		}
	}()
	g, gctx := errgroup.WithContext(runCtx)
	for i, tc := range cfg.Threads {
		i, tc := i, tc
		g.Go(func() error { return scenario.RunThread(gctx, threads[i], tc.Steps) })
	}
	runErr := g.Wait()

	if r.suspendAll {
		if err := controller.ResumeAll(nil); err != nil {
			tclog.Warningf("harness: run: ResumeAll: %v", err)
		}
	}

	for i, t := range threads {
		status, flags := controller.ApplicationThreadStatus(t)
		tclog.Infof("harness: thread %d (virtual=%v): status=%v flags=%v suspendCount=%d",
			i, cfg.Threads[i].Virtual, status, flags, controller.SuspendCount(t))
	}
	if runErr != nil {
		tclog.Warningf("harness: run: %v", runErr)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
