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

// EventInfo carries what the event-handler prologue knows about the
// event it's about to dispatch: enough for the gate to file it against
// the right node and co-located-event cache.
type EventInfo struct {
	Thread    runtime.ThreadHandle
	EventIdx  runtime.EventIndex
	IsVirtual bool
	Class     any
	Method    any
	Location  any
}

// OnEventHandlerEntry is called by the external event-handler prologue
// for every event. It
// returns the node's event bag for the handler to accumulate into, and
// reports whether the event was consumed by pop-frame machinery -- a
// consumed event carries no bag and the caller must not dispatch it to
// the external EventHandler.
func (c *Controller) OnEventHandlerEntry(sessionID any, info EventInfo, currentException any) (eventBag any, consumed bool) {
	// Pop-frame duplicate consumption happens before the node is
	// otherwise touched.
	if n := c.peekForPopFrame(info.Thread); n != nil {
		if c.popFrameGateCheck(n, info.EventIdx) {
			return nil, true
		}
	}

	c.mu.Lock()

	n := c.lookupLocked(info.Thread)
	if n == nil {
		n = c.newNodeLocked(info.Thread, info.IsVirtual)
	} else if n.list == listOther {
		dst := listRunning
		if n.isVirtual {
			dst = listRunningVirtual
		}
		c.moveLocked(n, dst)
	}

	switch info.EventIdx {
	case runtime.EventThreadStart:
		n.isStarted = true
		c.deferred.drainLocked(info.Thread, func(ei runtime.EventIndex, mode bool) {
			if err := c.applyEventModeLocked(n, ei, mode); err != nil {
				tclog.Warningf("threadcontrol: deferred SetEventNotificationMode failed for %v/%v: %v", info.Thread, ei, err)
			}
		})
	case runtime.EventThreadEnd:
		// Re-creation case: a THREAD_END for a node we just created
		// above (e.g. racing with agent attach) still counts as
		// having been started.
		n.isStarted = true
	}

	n.currentEI = info.EventIdx
	bag := n.eventBag
	needDeferredSuspend := n.suspendOnStart

	c.mu.Unlock()

	if needDeferredSuspend {
		// Call the deferred-suspend path with no locks held.
		c.deferredSuspendAfterStart(info.Thread)
	}

	return bag, false
}

// deferredSuspendAfterStart applies a suspend that was requested before
// t had started. Unlike the debugger-command path (SuspendThread), it is
// called from the application thread that is handling its own start
// event, so it never goes through LockOrderManager.
func (c *Controller) deferredSuspendAfterStart(t runtime.ThreadHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.deferredSuspendLocked(t); err != nil {
		tclog.Warningf("threadcontrol: deferred suspend-at-start failed for %v: %v", t, err)
	}
}

// OnEventHandlerExit runs after the external EventHandler returns,
// applying anything deferred while the thread was mid-event.
func (c *Controller) OnEventHandlerExit(ei runtime.EventIndex, t runtime.ThreadHandle, eventBag any) {
	c.lockOrder.acquire()
	defer c.lockOrder.release()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lookupLocked(t)
	if n == nil {
		return
	}
	if ei == runtime.EventThreadEnd {
		c.removeLocked(n)
		return
	}
	if n.pendingInterrupt {
		if err := c.backend.InterruptThread(t); err != nil {
			tclog.Warningf("threadcontrol: pending InterruptThread failed for %v: %v", t, err)
		}
		n.pendingInterrupt = false
	}
	if n.pendingStop != nil {
		if err := c.backend.StopThread(t, n.pendingStop); err != nil {
			tclog.Warningf("threadcontrol: pending StopThread failed for %v: %v", t, err)
		}
		n.pendingStop = nil
	}
	n.eventBag = eventBag
	n.currentEI = runtime.None
}

// ApplicationThreadStatus answers the debugger's thread status query,
// including the HANDLING_EVENT override: a handler running on a
// debug-agent monitor must never look "waiting" to the debugger.
func (c *Controller) ApplicationThreadStatus(t runtime.ThreadHandle) (runtime.WireStatus, runtime.SuspendFlags) {
	c.mu.Lock()
	n := c.lookupLocked(t)
	handlingEvent := n != nil && n.HandlingEvent()
	c.mu.Unlock()

	state, err := c.backend.GetThreadState(t)
	if err != nil {
		state = 0
	}
	status, flags := runtime.MapThreadState(state)
	if handlingEvent {
		status = runtime.WireStatusRunning
	}
	return status, flags
}

// Interrupt issues interrupt(t): deferred while the thread is mid-event,
// applied immediately otherwise.
func (c *Controller) Interrupt(t runtime.ThreadHandle) error {
	c.mu.Lock()
	n := c.lookupLocked(t)
	handling := n != nil && n.HandlingEvent()
	c.mu.Unlock()
	if handling {
		return c.SetPendingInterrupt(t)
	}
	return c.backend.InterruptThread(t)
}

// SetPendingInterrupt is setPendingInterrupt(t): always defers,
// regardless of event-handling state, for callers that already know
// they want the deferred form.
func (c *Controller) SetPendingInterrupt(t runtime.ThreadHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookupLocked(t)
	if n == nil {
		return tcerr.InvalidThread
	}
	n.pendingInterrupt = true
	return nil
}

// Stop issues stop(t, throwable): no primitive call while
// HANDLING_EVENT(t); the throwable is applied at the next
// OnEventHandlerExit for t instead.
func (c *Controller) Stop(t runtime.ThreadHandle, throwable any) error {
	c.mu.Lock()
	n := c.lookupLocked(t)
	if n != nil && n.HandlingEvent() {
		n.pendingStop = throwable
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.backend.StopThread(t, throwable)
}
