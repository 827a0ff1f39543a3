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
	"jdwpagent.dev/threadcontrol/internal/tclog"
	"jdwpagent.dev/threadcontrol/runtime"
)

// listFor returns the nodeList that id names, or nil for listNone.
func (c *Controller) listFor(id listID) *nodeList {
	switch id {
	case listRunning:
		return &c.running
	case listRunningVirtual:
		return &c.runningVirtual
	case listOther:
		return &c.other
	default:
		return nil
	}
}

// lookupLocked asks the runtime for the thread-local slot first, falling
// back to a linear
// scan only when the slot is null. The fallback is restricted to
// threads that can only legitimately live on `other` with a null slot
// (not yet started), except while teardownCleared is set, when
// running/runningVirtual nodes may also have had their slots cleared
// (Initialize clears the flag and no operation in this package sets
// it). Violating that restriction indicates a bug, so
// it is asserted rather than silently tolerated.
func (c *Controller) lookupLocked(t runtime.ThreadHandle) *ThreadNode {
	if v, err := c.backend.GetThreadLocalStorage(t); err == nil {
		if n, ok := v.(*ThreadNode); ok && n != nil {
			return n
		}
	}
	for _, id := range [...]listID{listOther, listRunning, listRunningVirtual} {
		l := c.listFor(id)
		for n := l.front(); n != nil; n = n.Next() {
			if n.thread == t {
				if id != listOther && !c.teardownCleared {
					tclog.Fatalf("threadcontrol: node for %v found on %s via fallback scan outside teardown", t, id)
				}
				return n
			}
		}
	}
	return nil
}

// insertLocked adds a brand-new node to the given list and, for
// running/runningVirtual, publishes it through the thread-local slot so
// future lookups take the fast path.
func (c *Controller) insertLocked(n *ThreadNode, id listID) {
	n.list = id
	c.listFor(id).pushFront(n)
	if id == listRunning || id == listRunningVirtual {
		if err := c.backend.SetThreadLocalStorage(n.thread, n); err != nil {
			tclog.Fatalf("threadcontrol: SetThreadLocalStorage failed for live thread: %v", err)
		}
	}
}

// moveLocked relocates n from its current list to dst, publishing the
// thread-local slot if the destination requires it. Used when a node in
// `other` observes its thread's first start event.
func (c *Controller) moveLocked(n *ThreadNode, dst listID) {
	src := n.list
	if src == listNone {
		tclog.Fatalf("threadcontrol: moveLocked on freed node")
	}
	c.listFor(src).remove(n)
	n.list = dst
	c.listFor(dst).pushFront(n)
	if dst == listRunning || dst == listRunningVirtual {
		if err := c.backend.SetThreadLocalStorage(n.thread, n); err != nil {
			tclog.Fatalf("threadcontrol: SetThreadLocalStorage failed for live thread: %v", err)
		}
	}
}

// removeLocked unlinks n from its current list, clears the thread-local
// slot a running/runningVirtual node published, and marks it freed.
// Callers must not touch n afterward.
func (c *Controller) removeLocked(n *ThreadNode) {
	if n.list == listNone {
		return
	}
	if n.list == listRunning || n.list == listRunningVirtual {
		_ = c.backend.SetThreadLocalStorage(n.thread, nil)
	}
	c.listFor(n.list).remove(n)
	n.list = listNone
}

// visitor is called once per node during enumeration; returning false or
// a non-nil error aborts the walk early.
type visitor func(n *ThreadNode) (keepGoing bool, err error)

// enumerateLocked walks l head-to-tail, stopping at the first
// non-success the visitor reports.
func (c *Controller) enumerateLocked(l *nodeList, visit visitor) error {
	for n := l.front(); n != nil; n = n.Next() {
		cont, err := visit(n)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// numRunningVirtualLocked returns |runningVirtual|, kept trivially equal
// to the list's length since nothing else tracks it separately.
func (c *Controller) numRunningVirtualLocked() int {
	return c.runningVirtual.len
}

// newNodeLocked constructs and inserts a node for thread t, choosing the
// list it starts on: not-yet-known non-virtual threads go on `other`;
// virtual threads go on runningVirtual if alive, else other.
func (c *Controller) newNodeLocked(t runtime.ThreadHandle, isVirtual bool) *ThreadNode {
	n := &ThreadNode{
		thread:    t,
		isVirtual: isVirtual,
		currentEI: runtime.None,
	}
	dst := listOther
	alreadyAlive := false
	if isVirtual {
		if state, err := c.backend.GetThreadState(t); err == nil && state&runtime.ThreadAlive != 0 {
			dst = listRunningVirtual
			n.isStarted = true
			alreadyAlive = true
		}
	}
	if c.suspendAllCount > 0 {
		// Invariant: nodes created while suspendAllCount > 0 start with
		// suspendCount >= suspendAllCount. No primitive suspend call has
		// been made for this node yet, so toBeResumed (which means the
		// primitive call actually succeeded) must never be set here --
		// only suspendOnStart, which defers the real suspend until the
		// thread starts. A virtual thread that is already alive has no
		// start event left to defer to, so it gets the assumed count with
		// neither flag set; the sweep in suspend.go treats that the same
		// way the rest of the VM's suspended state is assumed without a
		// primitive call per thread.
		n.suspendCount = c.suspendAllCount
		if !isVirtual || !alreadyAlive {
			n.suspendOnStart = true
		}
	}
	c.insertLocked(n, dst)
	n.assertInvariants()
	return n
}

// findOrCreateNodeLocked returns the existing node for t, or creates one
// if none exists yet.
func (c *Controller) findOrCreateNodeLocked(t runtime.ThreadHandle, isVirtual bool) *ThreadNode {
	if n := c.lookupLocked(t); n != nil {
		return n
	}
	return c.newNodeLocked(t, isVirtual)
}
