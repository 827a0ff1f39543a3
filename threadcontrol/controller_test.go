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

package threadcontrol

import (
	"testing"

	"jdwpagent.dev/threadcontrol/runtime"
)

func newTestController(virtualSupported bool) (*Controller, *fakeBackend) {
	b := newFakeBackend(virtualSupported)
	c := NewController(b, Config{})
	c.Initialize()
	return c, b
}

func TestOnHookCapturesPreExistingThreads(t *testing.T) {
	c, b := newTestController(false)
	t1 := b.newThread("t1", false)
	b.start(t1)

	c.OnHook([]runtime.ThreadHandle{t1}, false)

	n := c.CurrentThread(t1)
	if n == nil {
		t.Fatal("expected node for pre-existing thread")
	}
	if !n.isStarted {
		t.Error("pre-existing thread should be marked started")
	}
	if n.list != listRunning {
		t.Errorf("expected node on running list, got %v", n.list)
	}

	// Calling OnHook again must not duplicate the node.
	c.OnHook([]runtime.ThreadHandle{t1}, false)
	if c.running.len != 1 {
		t.Errorf("OnHook duplicated a node: running.len = %d", c.running.len)
	}
}

// TestResetScenario implements scenario 6: reset()
// resumes a tracked-suspended thread, clears counts, and drops
// other/virtual-thread nodes unless configured to remember them.
func TestResetScenario(t *testing.T) {
	c, b := newTestController(true)
	platform := b.newThread("platform", false)
	b.start(platform)
	virtual := b.newThread("virtual", true)
	b.start(virtual)

	c.OnHook([]runtime.ThreadHandle{platform}, false)
	c.OnHook([]runtime.ThreadHandle{virtual}, true)

	if err := c.SuspendThread(platform, false); err != nil {
		t.Fatalf("SuspendThread: %v", err)
	}
	if err := c.SuspendAll(); err != nil {
		t.Fatalf("SuspendAll: %v", err)
	}

	c.Reset()

	n := c.CurrentThread(platform)
	if n == nil {
		t.Fatal("platform node should survive reset")
	}
	if n.suspendCount != 0 || n.toBeResumed || n.suspendOnStart {
		t.Errorf("platform node not fully reset: %+v", n)
	}
	if c.suspendAllCount != 0 {
		t.Errorf("suspendAllCount not cleared: %d", c.suspendAllCount)
	}
	if c.CurrentThread(virtual) != nil {
		t.Error("virtual node should be dropped on reset by default")
	}
	state, _ := b.GetThreadState(platform)
	if state&runtime.ThreadSuspended != 0 {
		t.Error("platform thread should have been primitively resumed by reset")
	}
}

func TestResetRemembersVirtualThreadsWhenConfigured(t *testing.T) {
	b := newFakeBackend(true)
	c := NewController(b, Config{RememberVirtualThreads: true})
	c.Initialize()
	virtual := b.newThread("virtual", true)
	b.start(virtual)
	c.OnHook([]runtime.ThreadHandle{virtual}, true)

	c.Reset()

	if c.CurrentThread(virtual) == nil {
		t.Error("virtual node should survive reset when RememberVirtualThreads is set")
	}
}

func TestAddDebugThreadCapacity(t *testing.T) {
	c, b := newTestController(false)
	for i := 0; i < debugThreadSetCap; i++ {
		th := b.newThread("dbg", false)
		if err := c.AddDebugThread(th); err != nil {
			t.Fatalf("AddDebugThread(%d): %v", i, err)
		}
	}
	over := b.newThread("over-cap", false)
	if err := c.AddDebugThread(over); err == nil {
		t.Error("expected error adding past debugThreadSetCap")
	}
}

func TestCLEInfoDedup(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	b.start(th)
	c.OnHook([]runtime.ThreadHandle{th}, false)

	class, method, loc := "C", "m", 42
	c.SaveCLEInfo(th, runtime.EventBreakpoint, class, method, loc)
	if !c.CmpCLEInfo(th, class, method, loc) {
		t.Error("expected CmpCLEInfo to match saved info")
	}
	if c.CmpCLEInfo(th, class, method, 43) {
		t.Error("expected CmpCLEInfo to reject a different location")
	}
	c.ClearCLEInfo(th)
	if c.CmpCLEInfo(th, class, method, loc) {
		t.Error("expected CmpCLEInfo to fail after ClearCLEInfo")
	}
}

func TestSetEventModeDeferredUntilStart(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)

	if err := c.SetEventMode(true, runtime.EventBreakpoint, th); err != nil {
		t.Fatalf("SetEventMode: %v", err)
	}
	if b.modes[runtime.EventBreakpoint][th] {
		t.Error("mode should not be applied before the thread starts")
	}

	b.start(th)
	_, consumed := c.OnEventHandlerEntry(nil, EventInfo{Thread: th, EventIdx: runtime.EventThreadStart}, nil)
	if consumed {
		t.Fatal("THREAD_START should never be consumed by pop-frame machinery here")
	}

	if !b.modes[runtime.EventBreakpoint][th] {
		t.Error("deferred mode should have been applied at thread start")
	}
	counts := c.EventModeCounts()
	if counts[runtime.EventBreakpoint] != 1 {
		t.Errorf("EventModeCounts[Breakpoint] = %d, want 1", counts[runtime.EventBreakpoint])
	}
}
