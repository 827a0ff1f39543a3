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
	"errors"

	"jdwpagent.dev/threadcontrol/internal/tcerr"
	"jdwpagent.dev/threadcontrol/internal/tclog"
	"jdwpagent.dev/threadcontrol/runtime"
)

// SuspendThread implements a debugger-issued
// per-thread suspend. deferred selects the variant used when a node
// already exists but its thread isn't alive yet.
func (c *Controller) SuspendThread(t runtime.ThreadHandle, deferred bool) error {
	c.lockOrder.acquire()
	defer c.lockOrder.release()
	c.mu.Lock()
	defer c.mu.Unlock()

	if deferred {
		return c.deferredSuspendLocked(t)
	}
	return c.suspendThreadLocked(t)
}

// suspendThreadLocked is the non-deferred path of a per-thread suspend.
func (c *Controller) suspendThreadLocked(t runtime.ThreadHandle) (outerErr error) {
	n := c.findOrCreateNodeLocked(t, false)

	if n.isDebugThread {
		return nil
	}
	if n.suspendOnStart {
		n.suspendCount++
		n.assertInvariants()
		c.notifyLocked()
		return nil
	}
	if n.suspendCount == 0 {
		// Open Question (a): classifying the
		// primitive's result must never let an inner check overwrite
		// the outer status actually returned to the caller. primErr is
		// computed once and is the only thing outerErr is ever set
		// from below.
		primErr := c.backend.SuspendThread(t)
		switch {
		case primErr == nil:
			n.toBeResumed = true
		case errors.Is(primErr, tcerr.NotAlive):
			n.suspendOnStart = true
		default:
			outerErr = primErr
		}
	}
	if outerErr != nil {
		return outerErr
	}
	n.suspendCount++
	n.assertInvariants()
	c.notifyLocked()
	return nil
}

// deferredSuspendLocked is the deferred variant, used when a node exists
// but its thread isn't alive yet. It
// skips the count increment (the original request already did it),
// calls the primitive anyway if suspendCount > 0, and rolls the count
// back on primitive failure.
func (c *Controller) deferredSuspendLocked(t runtime.ThreadHandle) error {
	n := c.lookupLocked(t)
	if n == nil {
		tclog.Fatalf("threadcontrol: deferredSuspend on unknown thread %v", t)
	}
	n.suspendOnStart = false
	if n.suspendCount > 0 {
		if err := c.backend.SuspendThread(t); err != nil {
			if errors.Is(err, tcerr.NotAlive) {
				n.suspendOnStart = true
				n.assertInvariants()
				return nil
			}
			n.suspendCount--
			n.assertInvariants()
			return err
		}
		n.toBeResumed = true
	}
	n.assertInvariants()
	c.notifyLocked()
	return nil
}

// ResumeThread implements a debugger-issued per-thread resume.
// unblockCommandLoop, if non-nil, is called once the resumed thread's
// state is fully settled; a real agent wires this to its
// command-dispatch wakeup.
func (c *Controller) ResumeThread(t runtime.ThreadHandle, unblockCommandLoop func()) error {
	c.lockOrder.ext.LockEventHandler()
	defer c.lockOrder.ext.UnlockEventHandler()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lookupLocked(t)
	if n == nil {
		return nil
	}
	if n.isDebugThread {
		return nil
	}
	if n.suspendCount == 0 {
		return nil
	}
	n.suspendCount--
	c.notifyLocked()

	if n.suspendCount == 0 && n.toBeResumed {
		if err := c.backend.ResumeThread(t); err != nil {
			if !(errors.Is(err, tcerr.NotAlive) && !n.isStarted) {
				// Roll the count back: the resume didn't happen.
				n.suspendCount++
				n.assertInvariants()
				return err
			}
		}
		n.frameGeneration++
		n.toBeResumed = false
	}
	n.assertInvariants()

	c.sweepOtherLocked()

	if unblockCommandLoop != nil {
		unblockCommandLoop()
	}
	return nil
}

// sweepOtherLocked frees every node on `other` that has settled back to
// zero net suspend pressure. Platform
// threads sweep here because a node only lives on `other` before start
// or, transiently, around teardown; virtual threads additionally sweep
// here per the Open Question (b) policy documented in DESIGN.md (closing
// the original's "TODO: vthread node cleanup").
func (c *Controller) sweepOtherLocked() {
	for n := c.other.front(); n != nil; {
		next := n.Next()
		if n.suspendCount == 0 && !n.suspendOnStart && !n.toBeResumed && n.isStarted {
			c.removeLocked(n)
		}
		n = next
	}
}

// SuspendCount implements suspend-count query.
func (c *Controller) SuspendCount(t runtime.ThreadHandle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.lookupLocked(t); n != nil {
		return n.suspendCount
	}
	// Untracked virtual thread: state 0 (not started) means 0, else the
	// VM-wide suspension applies implicitly. An untracked platform thread
	// reports 0. Virtual-ness is taken from the runtime's live
	// virtual-thread list.
	if state, err := c.backend.GetThreadState(t); err != nil || state == 0 {
		return 0
	}
	for _, v := range c.backend.AllVirtualThreads() {
		if v == t {
			return c.suspendAllCount
		}
	}
	return 0
}

// SuspendAll implements VM-wide suspend.
func (c *Controller) SuspendAll() error {
	c.lockOrder.acquire()
	defer c.lockOrder.release()
	c.mu.Lock()
	defer c.mu.Unlock()

	virtualSupported := c.backend.VirtualThreadsSupported()
	if virtualSupported && c.suspendAllCount == 0 {
		if err := c.backend.SuspendAllVirtualThreads(nil); err != nil {
			return err
		}
	}

	if virtualSupported {
		c.enumerateLocked(&c.runningVirtual, func(n *ThreadNode) (bool, error) {
			n.suspendCount++
			n.toBeResumed = true
			n.assertInvariants()
			return true, nil
		})
	}

	allThreads := c.backend.AllThreads()
	seen := make(map[runtime.ThreadHandle]bool, len(allThreads))
	for _, t := range allThreads {
		seen[t] = true
	}
	if err := c.listSuspendByHandlesLocked(allThreads); err != nil {
		return err
	}

	// Any node in `other` not covered by the runtime's live-thread list
	// still gets a non-deferred suspend.
	var otherTargets []*ThreadNode
	c.enumerateLocked(&c.other, func(n *ThreadNode) (bool, error) {
		if !seen[n.thread] {
			otherTargets = append(otherTargets, n)
		}
		return true, nil
	})
	for _, n := range otherTargets {
		if err := c.suspendThreadLocked(n.thread); err != nil {
			return err
		}
	}

	if err := c.pinner.PinAll(); err != nil {
		return err
	}
	c.suspendAllCount++
	c.notifyLocked()
	return nil
}

// listSuspendByHandlesLocked resolves handles to nodes (creating as
// needed) and runs the batch-suspend algorithm over them.
func (c *Controller) listSuspendByHandlesLocked(handles []runtime.ThreadHandle) error {
	nodes := make([]*ThreadNode, 0, len(handles))
	for _, t := range handles {
		n := c.lookupLocked(t)
		if n == nil {
			n = c.newNodeLocked(t, false)
		}
		nodes = append(nodes, n)
	}
	return c.listSuspendLocked(nodes)
}

// listSuspendLocked implements the batch-primitive
// list-suspend algorithm.
func (c *Controller) listSuspendLocked(nodes []*ThreadNode) error {
	var targets []*ThreadNode
	var handles []runtime.ThreadHandle
	for _, n := range nodes {
		if n.isDebugThread {
			continue
		}
		if n.suspendCount > 0 || n.suspendOnStart {
			// Nested suspend: just bump the count.
			n.suspendCount++
			n.assertInvariants()
			continue
		}
		targets = append(targets, n)
		handles = append(handles, n.thread)
	}
	if len(targets) == 0 {
		return nil
	}
	results := c.backend.SuspendThreadList(handles)
	for i, n := range targets {
		var err error
		if i < len(results) {
			err = results[i]
		}
		switch {
		case err == nil:
			n.toBeResumed = true
			n.suspendCount++
		case errors.Is(err, tcerr.AlreadySuspendedByOther):
			n.suspendCount++
		case errors.Is(err, tcerr.NotAlive):
			n.suspendOnStart = true
			n.suspendCount++
		default:
			tclog.Warningf("threadcontrol: SuspendThreadList: thread %v: %v", n.thread, err)
		}
		n.assertInvariants()
	}
	c.notifyLocked()
	return nil
}

// ResumeAll implements VM-wide resume.
func (c *Controller) ResumeAll(unblockCommandLoop func()) error {
	c.lockOrder.acquire()
	defer c.lockOrder.release()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suspendAllCount == 0 {
		return nil
	}

	virtualSupported := c.backend.VirtualThreadsSupported()
	if virtualSupported && c.suspendAllCount == 1 {
		var exclude []runtime.ThreadHandle
		c.enumerateLocked(&c.runningVirtual, func(n *ThreadNode) (bool, error) {
			if n.suspendCount > 0 {
				exclude = append(exclude, n.thread)
			}
			return true, nil
		})
		if err := c.backend.ResumeAllVirtualThreads(exclude); err != nil {
			return err
		}
		c.notifyLocked()
	}

	if err := c.listResumeLocked(); err != nil {
		return err
	}

	var otherTargets []*ThreadNode
	c.enumerateLocked(&c.other, func(n *ThreadNode) (bool, error) {
		otherTargets = append(otherTargets, n)
		return true, nil
	})
	for _, n := range otherTargets {
		if err := c.resumeNodeLocked(n); err != nil {
			return err
		}
	}
	c.sweepOtherLocked()

	c.pinner.UnpinAll()
	c.suspendAllCount--
	if unblockCommandLoop != nil {
		unblockCommandLoop()
	}
	return nil
}

// resumeNodeLocked is ResumeThread's body, reentered directly (already
// under mu) for otherTargets in ResumeAll -- see the package doc for why
// this is spelled as a direct call instead of reacquiring mu.
func (c *Controller) resumeNodeLocked(n *ThreadNode) error {
	if n.isDebugThread || n.suspendCount == 0 {
		return nil
	}
	n.suspendCount--
	c.notifyLocked()
	if n.suspendCount == 0 && n.toBeResumed {
		if err := c.backend.ResumeThread(n.thread); err != nil {
			if !(errors.Is(err, tcerr.NotAlive) && !n.isStarted) {
				n.suspendCount++
				n.assertInvariants()
				return err
			}
		}
		n.frameGeneration++
		n.toBeResumed = false
	}
	n.assertInvariants()
	return nil
}

// listResumeLocked implements the two-pass batch
// resume over running and runningVirtual. Pass 1 counts the hard-resume
// set (suspendCount == 1 && toBeResumed) before anything mutates those
// fields; pass 2 either decrements nested nodes in place or collects
// hard-resume handles for the primitive call. The passes are kept
// separate because pass 2 mutates the exact fields pass 1 reads.
func (c *Controller) listResumeLocked() error {
	var hard []*ThreadNode
	classify := func(n *ThreadNode) (bool, error) {
		if n.suspendCount == 1 && n.toBeResumed {
			hard = append(hard, n)
		}
		return true, nil
	}
	c.enumerateLocked(&c.running, classify)
	c.enumerateLocked(&c.runningVirtual, classify)

	hardSet := make(map[*ThreadNode]bool, len(hard))
	for _, n := range hard {
		hardSet[n] = true
	}

	settle := func(n *ThreadNode) (bool, error) {
		if hardSet[n] {
			return true, nil // handled after the primitive call below.
		}
		if n.suspendCount > 0 {
			n.suspendCount--
			if n.suspendCount == 0 {
				n.suspendOnStart = false
			}
			n.assertInvariants()
		}
		return true, nil
	}
	c.enumerateLocked(&c.running, settle)
	c.enumerateLocked(&c.runningVirtual, settle)

	if len(hard) == 0 {
		return nil
	}
	handles := make([]runtime.ThreadHandle, len(hard))
	for i, n := range hard {
		handles[i] = n.thread
	}
	results := c.backend.ResumeThreadList(handles)
	for i, n := range hard {
		var err error
		if i < len(results) {
			err = results[i]
		}
		if err != nil && !errors.Is(err, tcerr.NotAlive) {
			tclog.Warningf("threadcontrol: ResumeThreadList: thread %v: %v", n.thread, err)
			continue
		}
		n.suspendCount--
		n.toBeResumed = false
		n.frameGeneration++
		n.assertInvariants()
	}
	c.notifyLocked()
	return nil
}
