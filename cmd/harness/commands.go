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
	"jdwpagent.dev/threadcontrol/runtime"
	"jdwpagent.dev/threadcontrol/threadcontrol"
)

// demoRig spins up a fresh Controller/Backend pair with a handful of
// started threads, the minimal fixture every one-shot primitive
// subcommand below needs. It mirrors "do"'s own habit of building a
// throwaway sandbox per invocation rather than attaching to a running
// one.
func demoRig(virtualSupported bool, platformCount, virtualCount int) (*threadcontrol.Controller, *simruntime.Backend, []*simruntime.Thread) {
	backend := simruntime.NewBackend(virtualSupported, 8)
	controller := threadcontrol.NewController(backend, threadcontrol.Config{})
	controller.Initialize()

	var threads []*simruntime.Thread
	for i := 0; i < platformCount; i++ {
		th := backend.Spawn(false)
		backend.Start(th)
		threads = append(threads, th)
	}
	for i := 0; i < virtualCount; i++ {
		th := backend.Spawn(true)
		backend.Start(th)
		threads = append(threads, th)
	}
	platformHandles := make([]runtime.ThreadHandle, platformCount)
	for i, th := range threads[:platformCount] {
		platformHandles[i] = th
	}
	controller.OnHook(platformHandles, false)
	if virtualCount > 0 {
		virtualHandles := make([]runtime.ThreadHandle, virtualCount)
		for i, th := range threads[platformCount:] {
			virtualHandles[i] = th
		}
		controller.OnHook(virtualHandles, true)
	}
	return controller, backend, threads
}

func reportStatus(controller *threadcontrol.Controller, threads []*simruntime.Thread) {
	for i, th := range threads {
		status, flags := controller.ApplicationThreadStatus(th)
		tclog.Infof("harness: thread %d: status=%v flags=%v suspendCount=%d", i, status, flags, controller.SuspendCount(th))
	}
}

// suspendCmd is a one-shot demonstration of ThreadController.SuspendThread.
type suspendCmd struct{}

func (*suspendCmd) Name() string     { return "suspend" }
func (*suspendCmd) Synopsis() string { return "suspend a freshly spawned demo thread" }
func (*suspendCmd) Usage() string    { return "suspend: spawns one thread and suspends it.\n" }
func (*suspendCmd) SetFlags(*flag.FlagSet) {}
func (*suspendCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	controller, _, threads := demoRig(false, 1, 0)
	if err := controller.SuspendThread(threads[0], false); err != nil {
		tclog.Warningf("harness: suspend: %v", err)
		return subcommands.ExitFailure
	}
	reportStatus(controller, threads)
	return subcommands.ExitSuccess
}

// resumeCmd is a one-shot demonstration of ThreadController.ResumeThread.
type resumeCmd struct{}

func (*resumeCmd) Name() string     { return "resume" }
func (*resumeCmd) Synopsis() string { return "suspend then resume a freshly spawned demo thread" }
func (*resumeCmd) Usage() string    { return "resume: spawns one thread, suspends it, then resumes it.\n" }
func (*resumeCmd) SetFlags(*flag.FlagSet) {}
func (*resumeCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	controller, _, threads := demoRig(false, 1, 0)
	if err := controller.SuspendThread(threads[0], false); err != nil {
		tclog.Warningf("harness: resume: suspend: %v", err)
		return subcommands.ExitFailure
	}
	if err := controller.ResumeThread(threads[0], nil); err != nil {
		tclog.Warningf("harness: resume: %v", err)
		return subcommands.ExitFailure
	}
	reportStatus(controller, threads)
	return subcommands.ExitSuccess
}

// suspendAllCmd demonstrates ThreadController.SuspendAll across a mix of
// platform and virtual threads.
type suspendAllCmd struct{}

func (*suspendAllCmd) Name() string     { return "suspendall" }
func (*suspendAllCmd) Synopsis() string { return "VM-wide suspend over a small demo thread population" }
func (*suspendAllCmd) Usage() string {
	return "suspendall: spawns platform and virtual demo threads and suspends all of them.\n"
}
func (*suspendAllCmd) SetFlags(*flag.FlagSet) {}
func (*suspendAllCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	controller, _, threads := demoRig(true, 2, 2)
	if err := controller.SuspendAll(); err != nil {
		tclog.Warningf("harness: suspendall: %v", err)
		return subcommands.ExitFailure
	}
	reportStatus(controller, threads)
	return subcommands.ExitSuccess
}

// resumeAllCmd demonstrates ThreadController.ResumeAll undoing a prior
// SuspendAll.
type resumeAllCmd struct{}

func (*resumeAllCmd) Name() string     { return "resumeall" }
func (*resumeAllCmd) Synopsis() string { return "VM-wide suspend then resume over a small demo thread population" }
func (*resumeAllCmd) Usage() string {
	return "resumeall: spawns demo threads, suspends all of them, then resumes all of them.\n"
}
func (*resumeAllCmd) SetFlags(*flag.FlagSet) {}
func (*resumeAllCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	controller, _, threads := demoRig(true, 2, 2)
	if err := controller.SuspendAll(); err != nil {
		tclog.Warningf("harness: resumeall: suspendall: %v", err)
		return subcommands.ExitFailure
	}
	if err := controller.ResumeAll(nil); err != nil {
		tclog.Warningf("harness: resumeall: %v", err)
		return subcommands.ExitFailure
	}
	reportStatus(controller, threads)
	return subcommands.ExitSuccess
}

// popFrameCmd demonstrates ThreadController.PopFrames against a demo
// thread driven through one SINGLE_STEP rendezvous by a background
// goroutine standing in for the target thread's own event-handler
// callback.
type popFrameCmd struct {
	frames int
}

func (*popFrameCmd) Name() string     { return "popframe" }
func (*popFrameCmd) Synopsis() string { return "pop one or more frames off a freshly started demo thread" }
func (*popFrameCmd) Usage() string {
	return "popframe [-frames N]: drives a PopFrames(t, N) rendezvous against a demo thread.\n"
}
func (p *popFrameCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.frames, "frames", 0, "number of extra frames to pop (0 pops exactly one)")
}
func (p *popFrameCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	controller, backend, threads := demoRig(false, 1, 0)
	th := threads[0]

	// For each frame, PopFrames pops it, resumes th for one single-step,
	// then waits for that step's event to arrive before suspending th. Stand
	// in for the target thread's own event-handler callback: as soon as
	// the ResumeThread inside PopFrames fires, deliver the simulated
	// SINGLE_STEP on a separate goroutine (OnResume runs synchronously
	// inside PopFrames's own call stack, so its body must not block).
	backend.OnResume = func(t *simruntime.Thread) {
		if t != th {
			return
		}
		go controller.OnEventHandlerEntry(nil, threadcontrol.EventInfo{Thread: th, EventIdx: runtime.EventSingleStep}, nil)
	}

	if err := controller.PopFrames(th, p.frames); err != nil {
		tclog.Warningf("harness: popframe: %v", err)
		return subcommands.ExitFailure
	}
	tclog.Infof("harness: popframe: frameGeneration=%d", controller.FrameGeneration(th))
	return subcommands.ExitSuccess
}
