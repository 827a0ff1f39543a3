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

// TestDeferredSuspendAtStart implements scenario 1: a
// debugger suspends a not-yet-started thread; the primitive call is
// deferred until the thread actually starts.
func TestDeferredSuspendAtStart(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)

	if err := c.SuspendThread(th, false); err != nil {
		t.Fatalf("SuspendThread: %v", err)
	}
	n := c.CurrentThread(th)
	if n == nil || !n.suspendOnStart || n.suspendCount != 1 {
		t.Fatalf("expected suspendOnStart node with count 1, got %+v", n)
	}
	if b.suspended[th] {
		t.Error("primitive suspend must not have fired before the thread starts")
	}

	b.start(th)
	_, consumed := c.OnEventHandlerEntry(nil, EventInfo{Thread: th, EventIdx: runtime.EventThreadStart}, nil)
	if consumed {
		t.Fatal("THREAD_START unexpectedly consumed")
	}

	if !b.suspended[th] {
		t.Error("expected primitive suspend to fire on thread start")
	}
	if n.suspendOnStart {
		t.Error("suspendOnStart should be cleared once the deferred suspend applies")
	}
	if !n.toBeResumed {
		t.Error("toBeResumed should be set once the primitive suspend succeeds")
	}
}

// TestSuspendAllCoversVirtualThread implements scenario
// 2: SuspendAll must suspend a virtual thread via the bulk primitive, not
// just the platform thread list.
func TestSuspendAllCoversVirtualThread(t *testing.T) {
	c, b := newTestController(true)
	platform := b.newThread("p", false)
	b.start(platform)
	virtual := b.newThread("v", true)
	b.start(virtual)
	c.OnHook([]runtime.ThreadHandle{virtual}, true)

	if err := c.SuspendAll(); err != nil {
		t.Fatalf("SuspendAll: %v", err)
	}

	pState, _ := b.GetThreadState(platform)
	if pState&runtime.ThreadSuspended == 0 {
		t.Error("platform thread should be suspended after SuspendAll")
	}
	vState, _ := b.GetThreadState(virtual)
	if vState&runtime.ThreadSuspended == 0 {
		t.Error("virtual thread should be suspended after SuspendAll")
	}
	if c.SuspendCount(virtual) != 1 {
		t.Errorf("virtual thread SuspendCount = %d, want 1", c.SuspendCount(virtual))
	}
}

// TestResumeAllExcludesNestedSuspend covers a thread individually
// suspended twice (nested), which stays
// suspended after a single ResumeAll, and is excluded from the bulk
// virtual-thread resume.
func TestResumeAllExcludesNestedSuspend(t *testing.T) {
	c, b := newTestController(true)
	virtual := b.newThread("v", true)
	b.start(virtual)
	c.OnHook([]runtime.ThreadHandle{virtual}, true)

	if err := c.SuspendThread(virtual, false); err != nil {
		t.Fatalf("SuspendThread: %v", err)
	}
	if err := c.SuspendThread(virtual, false); err != nil {
		t.Fatalf("SuspendThread (nested): %v", err)
	}
	if err := c.SuspendAll(); err != nil {
		t.Fatalf("SuspendAll: %v", err)
	}
	if got := c.SuspendCount(virtual); got != 3 {
		t.Fatalf("SuspendCount before ResumeAll = %d, want 3", got)
	}

	if err := c.ResumeAll(nil); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}

	if got := c.SuspendCount(virtual); got != 2 {
		t.Errorf("SuspendCount after one ResumeAll = %d, want 2 (nested suspend preserved)", got)
	}
	state, _ := b.GetThreadState(virtual)
	if state&runtime.ThreadSuspended == 0 {
		t.Error("nested-suspended thread must still be suspended after ResumeAll")
	}
}

func TestResumeThreadIdempotentAtZero(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	b.start(th)
	c.OnHook([]runtime.ThreadHandle{th}, false)

	if err := c.ResumeThread(th, nil); err != nil {
		t.Fatalf("ResumeThread on never-suspended thread: %v", err)
	}
	if got := c.SuspendCount(th); got != 0 {
		t.Errorf("SuspendCount = %d, want 0", got)
	}
}

func TestSuspendNestingAndUnwind(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	b.start(th)
	c.OnHook([]runtime.ThreadHandle{th}, false)

	for i := 0; i < 3; i++ {
		if err := c.SuspendThread(th, false); err != nil {
			t.Fatalf("SuspendThread iteration %d: %v", i, err)
		}
	}
	if got := c.SuspendCount(th); got != 3 {
		t.Fatalf("SuspendCount = %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		if err := c.ResumeThread(th, nil); err != nil {
			t.Fatalf("ResumeThread iteration %d: %v", i, err)
		}
	}
	if got := c.SuspendCount(th); got != 0 {
		t.Errorf("SuspendCount after full unwind = %d, want 0", got)
	}
	state, _ := b.GetThreadState(th)
	if state&runtime.ThreadSuspended != 0 {
		t.Error("thread should be primitively resumed after the count reaches 0")
	}
}

func TestResumeAllNoOpWhenNotSuspended(t *testing.T) {
	c, _ := newTestController(false)
	if err := c.ResumeAll(nil); err != nil {
		t.Fatalf("ResumeAll with suspendAllCount == 0: %v", err)
	}
}

// TestSuspendOnTerminatedThread covers a boundary behavior: a NotAlive
// primitive failure is absorbed into suspendOnStart rather than
// surfaced as an error, the same as the
// not-yet-started case (a terminated thread will never deliver the start
// event that would drain it, but the bookkeeping is identical).
func TestSuspendOnTerminatedThread(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	b.start(th)
	b.terminate(th)
	c.OnHook([]runtime.ThreadHandle{th}, false)

	if err := c.SuspendThread(th, false); err != nil {
		t.Fatalf("SuspendThread on terminated thread returned an error, want absorbed: %v", err)
	}
	n := c.CurrentThread(th)
	if n == nil || !n.suspendOnStart || n.suspendCount != 1 {
		t.Errorf("expected absorbed suspend-on-start bookkeeping, got %+v", n)
	}
}

// TestNestedSuspendAllDiscoversNewThread covers a platform thread the
// core has never seen before turning up in a nested SuspendAll's
// AllThreads() snapshot: its node is created on the spot with
// suspendAllCount already assumed, so no primitive suspend is issued
// for it and it must be marked suspendOnStart, never toBeResumed.
func TestNestedSuspendAllDiscoversNewThread(t *testing.T) {
	c, b := newTestController(false)
	if err := c.SuspendAll(); err != nil {
		t.Fatalf("SuspendAll (outer): %v", err)
	}

	th := b.newThread("t", false)
	b.start(th)

	if err := c.SuspendAll(); err != nil {
		t.Fatalf("SuspendAll (nested): %v", err)
	}

	n := c.CurrentThread(th)
	if n == nil {
		t.Fatal("expected a node to be created for the newly-discovered thread")
	}
	if n.toBeResumed {
		t.Error("toBeResumed must not be set: no primitive suspend was ever issued for this node")
	}
	if !n.suspendOnStart {
		t.Error("expected suspendOnStart to be set for a node discovered mid nested-SuspendAll")
	}
	if b.suspended[th] {
		t.Error("no primitive suspend should fire for a node that only ever took the assumed-count path")
	}
	if got := n.suspendCount; got != 2 {
		t.Errorf("suspendCount = %d, want 2 (assumed outer count, then bumped by the nested call)", got)
	}
}
