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
	"jdwpagent.dev/threadcontrol/internal/tcerr"
	"jdwpagent.dev/threadcontrol/internal/tclog"
	"jdwpagent.dev/threadcontrol/runtime"
)

// PopFrames drives popping frameNumber+1 frames off t's stack as a
// sequence of single-step-assisted pops, synchronized with the target
// thread via the two rendezvous monitors. frameNumber < 0 is a boundary
// error.
func (c *Controller) PopFrames(t runtime.ThreadHandle, frameNumber int) error {
	if frameNumber < 0 {
		return tcerr.NoMoreFrames
	}

	n := c.peekNodeQuick(t)
	if n == nil {
		return tcerr.InvalidThread
	}

	prevStepEnabled := c.stepControl.IsSingleStepEnabled(t)
	prevInvokeEnabled := c.invokeCtl.IsEnabled(t)

	c.mu.Lock()
	if err := c.applyEventModeLocked(n, runtime.EventSingleStep, true); err != nil {
		c.mu.Unlock()
		return err
	}
	n.popFrameThread = true
	n.frameGeneration++ // setup also bumps the generation.
	c.mu.Unlock()

	var stepErr error
	for i := 0; i <= frameNumber; i++ {
		if stepErr = c.backend.PopFrame(t); stepErr != nil {
			break
		}
		if stepErr = c.backend.ResumeThread(t); stepErr != nil {
			break
		}
		c.waitPopFrameEvent(n)

		c.popFrameProceedMu.Lock()
		if stepErr = c.backend.SuspendThread(t); stepErr != nil {
			c.popFrameProceedMu.Unlock()
			break
		}
		n.popFrameProceed = true
		c.popFrameProceedCond.Broadcast()
		c.popFrameProceedMu.Unlock()

		c.mu.Lock()
		n.frameGeneration++
		c.mu.Unlock()
	}

	c.mu.Lock()
	n.popFrameThread = false
	c.mu.Unlock()

	if prevStepEnabled {
		if err := c.stepControl.ResetStepRequest(t); err != nil {
			tclog.Warningf("threadcontrol: popFrames: ResetStepRequest failed for %v: %v", t, err)
		}
	} else {
		c.mu.Lock()
		if err := c.applyEventModeLocked(n, runtime.EventSingleStep, false); err != nil {
			tclog.Warningf("threadcontrol: popFrames: restoring event mode failed for %v: %v", t, err)
		}
		c.mu.Unlock()
	}
	if prevInvokeEnabled {
		c.invokeCtl.SetEnabled(t, true)
	}

	return stepErr
}

// peekNodeQuick looks up t's node under a short-lived lock, for callers
// (PopFrames, the event-gate pre-check) that need the node before
// deciding whether to enter the full Entry/primitive sequence.
func (c *Controller) peekNodeQuick(t runtime.ThreadHandle) *ThreadNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(t)
}

// waitPopFrameEvent blocks until the target thread's SINGLE_STEP event
// signals arrival via popFrameGateCheck.
func (c *Controller) waitPopFrameEvent(n *ThreadNode) {
	c.popFrameEventMu.Lock()
	for !n.popFrameEvent {
		c.popFrameEventCond.Wait()
	}
	n.popFrameEvent = false
	c.popFrameEventMu.Unlock()
}

// signalPopFrameEvent wakes PopFrames' wait above.
func (c *Controller) signalPopFrameEvent(n *ThreadNode) {
	c.popFrameEventMu.Lock()
	n.popFrameEvent = true
	c.popFrameEventCond.Broadcast()
	c.popFrameEventMu.Unlock()
}

// waitPopFrameProceed blocks the target thread's event-handling goroutine
// until PopFrames has re-suspended it and set popFrameProceed.
func (c *Controller) waitPopFrameProceed(n *ThreadNode) {
	c.popFrameProceedMu.Lock()
	for !n.popFrameProceed {
		c.popFrameProceedCond.Wait()
	}
	n.popFrameProceed = false
	c.popFrameProceedMu.Unlock()
}

// popFrameGateCheck is the target-side synchronization for PopFrames:
// called from the event gate's pre-check, on the thread that is itself
// being popped. It reports whether the event was
// consumed (and must not be dispatched to the external EventHandler).
func (c *Controller) popFrameGateCheck(n *ThreadNode, ei runtime.EventIndex) bool {
	c.mu.Lock()
	inPopFrame := n.popFrameThread
	c.mu.Unlock()
	if !inPopFrame {
		return false
	}

	switch ei {
	case runtime.EventThreadStart:
		tclog.Fatalf("threadcontrol: THREAD_START observed on %v while pop-frame is in progress", n.thread)
		return true
	case runtime.EventThreadEnd:
		c.mu.Lock()
		n.popFrameThread = false
		c.mu.Unlock()
		c.signalPopFrameEvent(n)
		return true
	case runtime.EventSingleStep:
		c.signalPopFrameEvent(n)
		c.waitPopFrameProceed(n)
		return true
	default:
		// Breakpoint, exception, field access/modification, and
		// method entry/exit events arriving mid-pop-frame are
		// consumed without a rendezvous; the coordinator isn't
		// waiting on them.
		return true
	}
}

// peekForPopFrame is the event-gate's lookup of a node before it
// has otherwise touched any state, used only to decide whether
// popFrameGateCheck needs to run at all. It takes mu itself.
func (c *Controller) peekForPopFrame(t runtime.ThreadHandle) *ThreadNode {
	return c.peekNodeQuick(t)
}
