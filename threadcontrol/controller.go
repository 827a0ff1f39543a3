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

// Package threadcontrol implements the thread-control core: the data
// structure and state machine that mediates between a remote debugger
// and a managed runtime's per-thread suspend/resume/event-notification
// primitives.
//
// Every exported method on Controller corresponds to one operation the
// rest of the agent calls into the core for. Internals are split across
// files by component: registry.go (ThreadRegistry), node.go (ThreadNode),
// suspend.go (SuspendEngine), eventgate.go (EventGate), popframe.go
// (PopFrameCoordinator), lockorder.go (LockOrderManager and the opaque
// collaborator interfaces), debugthreads.go (DebugThreadSet),
// deferredmodes.go (DeferredEventModes).
//
// Methods named with a "Locked" suffix assume the caller already holds
// mu; this is the same convention gvisor's kernel package uses to avoid
// a reentrant mutex (see promoteLocked, endGroupStopLocked, and friends) --
// Go's sync.Mutex isn't reentrant, so nested internal calls are spelled
// as direct calls to a *Locked method rather than recursive locking.
package threadcontrol

import (
	"sync"

	"jdwpagent.dev/threadcontrol/internal/tclog"
	"jdwpagent.dev/threadcontrol/runtime"
)

// Config bundles the optional collaborators a Controller is wired to.
// Every field has a safe zero-value stand-in (see lockorder.go), so a
// bare Config{} is a valid, if inert, configuration.
type Config struct {
	ExternalLocks ExternalLocks
	Pinner        ObjectPinner
	StepControl   StepControl
	InvokeControl InvokeControl
	Checkpoint    runtime.CheckpointExtension

	// RememberVirtualThreads, if true, keeps virtual-thread nodes alive
	// across reset() instead of bulk-freeing them.
	RememberVirtualThreads bool
}

// Controller is the ThreadController: it owns the three thread lists,
// the process-wide suspend count, the debug-thread set, and the
// deferred-event-mode queue, and exposes the operations the rest of the
// agent drives thread state through.
type Controller struct {
	backend runtime.Backend

	mu   sync.Mutex
	cond *sync.Cond // Wait()/Broadcast() on mu; debugMonitorNotifyAll(threadLock)

	running        nodeList
	runningVirtual nodeList
	other          nodeList

	suspendAllCount int
	// teardownCleared relaxes lookupLocked's fallback-scan assertion.
	// Initialize clears it; no operation in this package sets it.
	teardownCleared bool

	debugThreads *debugThreadSet
	deferred     *deferredEventModes
	lockOrder    *lockOrderManager
	pinner       ObjectPinner
	stepControl  StepControl
	invokeCtl    InvokeControl

	rememberVirtualThreads bool

	// Pop-frame rendezvous monitors. Go's zero-value sync.Mutex/Cond need no
	// lazy-construction step, so they are simply part of Controller;
	// see DESIGN.md for why this is a faithful, not a simplified,
	// translation of the C original's lazy-init comment.
	popFrameEventMu     sync.Mutex
	popFrameEventCond   *sync.Cond
	popFrameProceedMu   sync.Mutex
	popFrameProceedCond *sync.Cond
}

// NewController constructs a Controller wired to backend. cfg may be the
// zero value; every collaborator it doesn't set falls back to a no-op
// stand-in.
func NewController(backend runtime.Backend, cfg Config) *Controller {
	c := &Controller{
		backend:                backend,
		debugThreads:           newDebugThreadSet(cfg.Checkpoint),
		deferred:               newDeferredEventModes(),
		lockOrder:              newLockOrderManager(cfg.ExternalLocks),
		pinner:                 cfg.Pinner,
		stepControl:            cfg.StepControl,
		invokeCtl:              cfg.InvokeControl,
		rememberVirtualThreads: cfg.RememberVirtualThreads,
	}
	if c.pinner == nil {
		c.pinner = NoObjectPinner{}
	}
	if c.stepControl == nil {
		c.stepControl = NoStepControl{}
	}
	if c.invokeCtl == nil {
		c.invokeCtl = NoInvokeControl{}
	}
	c.cond = sync.NewCond(&c.mu)
	c.popFrameEventCond = sync.NewCond(&c.popFrameEventMu)
	c.popFrameProceedCond = sync.NewCond(&c.popFrameProceedMu)
	return c
}

// notifyLocked wakes every waiter on the main monitor. It must be called
// after any state change another thread might be waiting on.
func (c *Controller) notifyLocked() {
	c.cond.Broadcast()
}

// Initialize prepares process-wide state. It must be called once before
// any other operation.
func (c *Controller) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspendAllCount = 0
	c.teardownCleared = false
}

// OnHook captures pre-existing threads at agent attach time. Each thread
// not already known is given a node on the appropriate running list,
// since by definition a pre-existing thread has already started.
func (c *Controller) OnHook(threads []runtime.ThreadHandle, virtual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := listRunning
	if virtual {
		dst = listRunningVirtual
	}
	for _, t := range threads {
		if c.lookupLocked(t) != nil {
			continue
		}
		n := &ThreadNode{thread: t, isVirtual: virtual, isStarted: true, currentEI: runtime.None}
		c.insertLocked(n, dst)
	}
}

// OnConnect marks the start of a debugger session; the core itself has
// no per-session state beyond what reset() clears, so this is currently
// a hook point for future bookkeeping and logging.
func (c *Controller) OnConnect() {
	tclog.Infof("threadcontrol: debugger connected")
}

// OnDisconnect is an alias for Reset: a debugger disconnect clears all
// debugger-visible state exactly like an explicit reset request.
func (c *Controller) OnDisconnect() {
	c.Reset()
}

// Reset clears all debugger-visible suspension and deferred state:
// resume the bulk virtual-thread primitive if it was engaged, primitively resume every
// node with toBeResumed, clear all counts, flush deferred event modes,
// empty `other`, and -- unless RememberVirtualThreads is set -- remove
// every virtual-thread node.
func (c *Controller) Reset() {
	c.lockOrder.acquire()
	defer c.lockOrder.release()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suspendAllCount > 0 && c.backend.VirtualThreadsSupported() {
		if err := c.backend.ResumeAllVirtualThreads(nil); err != nil {
			tclog.Warningf("threadcontrol: reset: ResumeAllVirtualThreads: %v", err)
		}
	}

	resumeAllIn := func(l *nodeList) {
		for n := l.front(); n != nil; {
			next := n.Next()
			if n.toBeResumed {
				if err := c.backend.ResumeThread(n.thread); err != nil {
					tclog.Fatalf("threadcontrol: reset: failed to resume tracked-suspended thread %v: %v", n.thread, err)
				}
				n.frameGeneration++
			}
			n.suspendCount = 0
			n.toBeResumed = false
			n.suspendOnStart = false
			n.assertInvariants()
			n = next
		}
	}
	resumeAllIn(&c.running)
	resumeAllIn(&c.runningVirtual)

	c.suspendAllCount = 0
	c.deferred.resetLocked()
	c.pinner.UnpinAll()

	// empties `other`.
	for n := c.other.front(); n != nil; {
		next := n.Next()
		c.removeLocked(n)
		n = next
	}

	if !c.rememberVirtualThreads {
		for n := c.runningVirtual.front(); n != nil; {
			next := n.Next()
			c.removeLocked(n)
			n = next
		}
	}

	c.notifyLocked()
	tclog.Infof("threadcontrol: reset complete")
}

// CurrentThread returns the node tracking the calling goroutine's
// thread, if any. The core has no notion of a "current OS thread" on
// its own in Go (goroutines are not 1:1 with OS threads), so this is
// driven by an explicit handle the caller supplies rather than an
// implicit runtime query.
func (c *Controller) CurrentThread(t runtime.ThreadHandle) *ThreadNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(t)
}

// FrameGeneration returns t's current frame-invalidation counter, or 0
// if t is untracked.
func (c *Controller) FrameGeneration(t runtime.ThreadHandle) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.lookupLocked(t); n != nil {
		return n.frameGeneration
	}
	return 0
}

// AllVirtualThreads returns the runtime's current virtual-thread list,
// a pass-through to the backend.
func (c *Controller) AllVirtualThreads() []runtime.ThreadHandle {
	return c.backend.AllVirtualThreads()
}

// DetachInvokes is a pass-through hook for the external invoker to clear
// any outstanding invokes at disconnect.
func (c *Controller) DetachInvokes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range [...]*nodeList{&c.running, &c.runningVirtual, &c.other} {
		for n := l.front(); n != nil; n = n.Next() {
			if n.currentInvoke != nil {
				c.invokeCtl.SetEnabled(n.thread, false)
				n.currentInvoke = nil
			}
		}
	}
}

// AddDebugThread registers t as agent-owned, immune to debugger-issued
// suspension.
func (c *Controller) AddDebugThread(t runtime.ThreadHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.debugThreads.add(t); err != nil {
		return err
	}
	if n := c.lookupLocked(t); n != nil {
		n.isDebugThread = true
	}
	return nil
}

// IsDebugThread reports whether t is agent-owned.
func (c *Controller) IsDebugThread(t runtime.ThreadHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debugThreads.contains(t)
}

// ClearCLEInfo, SaveCLEInfo, and CmpCLEInfo implement the co-located
// event cache a single BREAKPOINT/FIELD_ACCESS/FIELD_MODIFICATION/
// EXCEPTION_CATCH location can produce more than one of, so a second
// callback at the same {class, method, location} can be suppressed.
func (c *Controller) ClearCLEInfo(t runtime.ThreadHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.lookupLocked(t); n != nil {
		n.cle = cleInfo{}
	}
}

// SaveCLEInfo records the {class, method, location} of the event at ei
// so a second event at the same location can be suppressed.
func (c *Controller) SaveCLEInfo(t runtime.ThreadHandle, ei runtime.EventIndex, class, method, location any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.lookupLocked(t); n != nil {
		n.cle = cleInfo{valid: true, ei: ei, class: class, method: method, location: location}
	}
}

// CmpCLEInfo reports whether t's last saved co-located-event info
// matches {class, method, location} exactly, using identity comparison
// for class.
func (c *Controller) CmpCLEInfo(t runtime.ThreadHandle, class, method, location any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookupLocked(t)
	if n == nil || !n.cle.valid || n.cle.ei == runtime.None {
		return false
	}
	return n.cle.class == class && n.cle.method == method && n.cle.location == location
}

// GetInstructionStepMode returns the shadow of the runtime's single-step
// enablement for t.
func (c *Controller) GetInstructionStepMode(t runtime.ThreadHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.lookupLocked(t); n != nil {
		return n.instructionStepMode
	}
	return false
}

// EventModeCounts returns a snapshot of the per-event-index enablement
// counts maintained by DeferredEventModes/EventGate together.
func (c *Controller) EventModeCounts() [runtime.NumEventIndices]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deferred.snapshotLocked()
}

// SetEventMode installs mode for ei on t. If t is already started, the
// mode is applied immediately; otherwise it's queued on the deferred
// FIFO until t's start event.
func (c *Controller) SetEventMode(mode bool, ei runtime.EventIndex, t runtime.ThreadHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookupLocked(t)
	if n == nil || !n.isStarted {
		c.deferred.enqueueLocked(ei, mode, t)
		return nil
	}
	return c.applyEventModeLocked(n, ei, mode)
}

// applyEventModeLocked installs mode for ei on n's thread via the
// backend, mirroring SINGLE_STEP into instructionStepMode so PopFrames
// can tell whether single-stepping is already enabled for other reasons.
func (c *Controller) applyEventModeLocked(n *ThreadNode, ei runtime.EventIndex, mode bool) error {
	if err := c.backend.SetEventNotificationMode(mode, ei, n.thread); err != nil {
		return err
	}
	if ei == runtime.EventSingleStep {
		n.instructionStepMode = mode
	}
	c.deferred.recordModeLocked(ei, mode)
	return nil
}
