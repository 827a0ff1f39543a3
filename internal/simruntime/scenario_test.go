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

package simruntime

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"jdwpagent.dev/threadcontrol/runtime"
	"jdwpagent.dev/threadcontrol/threadcontrol"
)

func TestScenarioRunAllSettlesThreads(t *testing.T) {
	backend := NewBackend(true, 4)
	controller := threadcontrol.NewController(backend, threadcontrol.Config{})
	controller.Initialize()

	threads := make([]*Thread, 0, 6)
	for i := 0; i < 3; i++ {
		threads = append(threads, backend.Spawn(false))
	}
	for i := 0; i < 3; i++ {
		threads = append(threads, backend.Spawn(true))
	}

	scenario := &Scenario{
		Backend:    backend,
		Controller: controller,
		Limiter:    rate.NewLimiter(rate.Limit(1000), 10),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scenario.RunAll(ctx, threads, 4); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	for i, th := range threads {
		status, _ := controller.ApplicationThreadStatus(th)
		if status != runtime.WireStatusZombie {
			t.Errorf("thread %d: status = %v, want WireStatusZombie after THREAD_END", i, status)
		}
		if controller.SuspendCount(th) != 0 {
			t.Errorf("thread %d: SuspendCount = %d, want 0", i, controller.SuspendCount(th))
		}
	}
}

func TestScenarioSuspendResumeSingleThread(t *testing.T) {
	backend := NewBackend(true, 4)
	controller := threadcontrol.NewController(backend, threadcontrol.Config{})
	controller.Initialize()

	th := backend.Spawn(false)
	backend.Start(th)

	if err := controller.SuspendThread(th, false); err != nil {
		t.Fatalf("SuspendThread: %v", err)
	}
	if got := controller.SuspendCount(th); got != 1 {
		t.Fatalf("SuspendCount = %d, want 1", got)
	}
	if err := controller.ResumeThread(th, nil); err != nil {
		t.Fatalf("ResumeThread: %v", err)
	}
	if got := controller.SuspendCount(th); got != 0 {
		t.Fatalf("SuspendCount after resume = %d, want 0", got)
	}

	backend.Terminate(th)
}
