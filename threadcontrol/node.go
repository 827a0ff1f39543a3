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
	"jdwpagent.dev/threadcontrol/runtime"
)

// listID is the tagged variant recording which of the three lists a node
// currently belongs to. listNone means the node has been freed.
type listID int

const (
	listNone listID = iota
	listRunning
	listRunningVirtual
	listOther
)

func (l listID) String() string {
	switch l {
	case listRunning:
		return "running"
	case listRunningVirtual:
		return "runningVirtual"
	case listOther:
		return "other"
	default:
		return "none"
	}
}

// cleInfo is the co-located-event cache: two events reported at the
// same bytecode location are collapsed into one.
type cleInfo struct {
	valid    bool
	ei       runtime.EventIndex
	class    any
	method   any
	location any
}

// ThreadNode is the per-thread state record. Every field is mutated only
// while the owning Controller's threadLock is held, except the
// popFrameEvent and popFrameProceed rendezvous flags, which are guarded
// by the pop-frame monitors instead.
type ThreadNode struct {
	// thread is this node's identity; it never changes after creation.
	thread runtime.ThreadHandle

	isVirtual     bool
	isDebugThread bool
	isStarted     bool

	suspendOnStart bool
	toBeResumed    bool
	suspendCount   int

	pendingInterrupt bool
	pendingStop      any // thrown object, nil when none pending

	currentEI runtime.EventIndex // runtime.None when not handling an event

	instructionStepMode bool
	currentStep         any
	currentInvoke       any

	eventBag any

	cle cleInfo

	frameGeneration uint64

	// popFrame rendezvous flags; see popframe.go.
	popFrameThread  bool
	popFrameEvent   bool
	popFrameProceed bool

	// list membership (intrusive doubly linked list, head-only
	// insertion).
	list       listID
	next, prev *ThreadNode
}

// Thread returns the node's runtime thread handle.
func (n *ThreadNode) Thread() runtime.ThreadHandle { return n.thread }

// IsVirtual reports whether this node tracks a virtual (lightweight)
// thread.
func (n *ThreadNode) IsVirtual() bool { return n.isVirtual }

// IsDebugThread reports whether this node is immune to debugger-issued
// suspension.
func (n *ThreadNode) IsDebugThread() bool { return n.isDebugThread }

// SuspendCount returns the node's debugger-visible nesting level.
func (n *ThreadNode) SuspendCount() int { return n.suspendCount }

// HandlingEvent reports whether the node is currently inside an event
// handler.
func (n *ThreadNode) HandlingEvent() bool { return n.currentEI != runtime.None }

// FrameGeneration returns the node's monotonic frame-invalidation
// counter.
func (n *ThreadNode) FrameGeneration() uint64 { return n.frameGeneration }

// GetStepRequest and GetInvokeRequest hand out the borrowed, opaque
// per-node records; they are valid only while the node lives. Callers
// must not retain these past the node's lifetime.
func (n *ThreadNode) GetStepRequest() any   { return n.currentStep }
func (n *ThreadNode) GetInvokeRequest() any { return n.currentInvoke }

// assertInvariants panics if the node violates the invariant that
// toBeResumed and suspendOnStart can never both be true. It's called
// after every transition that touches either field.
func (n *ThreadNode) assertInvariants() {
	if n.toBeResumed && n.suspendOnStart {
		panic("threadcontrol: invariant violated: toBeResumed && suspendOnStart")
	}
	if n.suspendCount < 0 {
		panic("threadcontrol: invariant violated: suspendCount < 0")
	}
}

// nodeList is a head-only intrusive doubly linked list of ThreadNodes,
// in the spirit of gvisor's generated intrusive lists (see
// task_exec.go's use of t.tg.tasks.Front()/Next()). Order is immaterial;
// nodes are only ever enumerated in full.
type nodeList struct {
	head, tail *ThreadNode
	len        int
}

// pushFront inserts n at the head of the list.
func (l *nodeList) pushFront(n *ThreadNode) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.len++
}

// remove unlinks n from the list. n must currently be a member.
func (l *nodeList) remove(n *ThreadNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.next, n.prev = nil, nil
	l.len--
}

// front returns the first node, or nil if the list is empty. Combined
// with ThreadNode.next it lets callers walk the list without an
// iterator type, matching gvisor's Front()/Next() idiom.
func (l *nodeList) front() *ThreadNode { return l.head }

// Next returns the next node in whatever list n belongs to, or nil at
// the end. It exists so enumeration code outside this package (tests)
// can walk a snapshot without reaching into unexported list internals.
func (n *ThreadNode) Next() *ThreadNode { return n.next }
