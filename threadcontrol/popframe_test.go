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
	"time"

	"jdwpagent.dev/threadcontrol/internal/tcerr"
	"jdwpagent.dev/threadcontrol/runtime"
)

func TestPopFramesRejectsNegativeFrameNumber(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	b.start(th)
	c.OnHook([]runtime.ThreadHandle{th}, false)

	if err := c.PopFrames(th, -1); err != tcerr.NoMoreFrames {
		t.Fatalf("PopFrames(-1) = %v, want tcerr.NoMoreFrames", err)
	}
}

func TestPopFramesUnknownThread(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	if err := c.PopFrames(th, 0); err != tcerr.InvalidThread {
		t.Fatalf("PopFrames on untracked thread = %v, want tcerr.InvalidThread", err)
	}
}

// TestPopFramesOneFrame implements scenario 4: popping
// a single frame drives exactly one PopFrame/ResumeThread/SuspendThread
// rendezvous round-trip with the target thread's simulated SINGLE_STEP
// event.
func TestPopFramesOneFrame(t *testing.T) {
	c, b := newTestController(false)
	th := b.newThread("t", false)
	b.start(th)
	c.OnHook([]runtime.ThreadHandle{th}, false)

	resumed := make(chan struct{}, 1)
	b.onResume = func(tt *fakeThread) {
		if tt == th {
			resumed <- struct{}{}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-resumed
		// Simulate the target thread delivering its SINGLE_STEP event
		// after being resumed, the way popFrameGateCheck expects.
		c.OnEventHandlerEntry(nil, EventInfo{Thread: th, EventIdx: runtime.EventSingleStep}, nil)
	}()

	if err := c.PopFrames(th, 0); err != nil {
		t.Fatalf("PopFrames: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for simulated target-thread goroutine")
	}

	n := c.CurrentThread(th)
	if n.popFrameThread {
		t.Error("popFrameThread should be cleared once PopFrames returns")
	}
	if n.frameGeneration == 0 {
		t.Error("frameGeneration should have advanced during PopFrames")
	}
}
