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

// Package runtime defines the contract the thread-control core uses to
// talk to the managed-runtime debug/instrumentation interface (the
// JVMTI-equivalent layer). The core never implements these primitives,
// it only calls them. A real agent
// wires Backend to the runtime's actual debug interface; tests and the
// harness wire it to internal/simruntime instead.
package runtime

import "fmt"

// ThreadHandle identifies a runtime thread. Implementations must be
// comparable, since the core uses handles as map keys and compares them
// with ==, exactly as the native agent compares raw jthread references.
type ThreadHandle any

// EventIndex enumerates the event kinds the runtime can report, per the
// GLOSSARY entry for "Event index (ei)".
type EventIndex int

const (
	EventThreadStart EventIndex = iota
	EventThreadEnd
	EventSingleStep
	EventBreakpoint
	EventMethodEntry
	EventMethodExit
	EventFieldAccess
	EventFieldModification
	EventException
	EventCompiledMethodLoad
	EventCompiledMethodUnload
	EventVirtualThreadStart
	EventVirtualThreadEnd

	// NumEventIndices bounds the event index space; DeferredEventModes
	// and EventModeCounts size their per-event-index state on it.
	NumEventIndices
)

// None is the "no event currently being handled" sentinel for
// ThreadNode.current_ei.
const None EventIndex = -1

func (ei EventIndex) String() string {
	switch ei {
	case EventThreadStart:
		return "THREAD_START"
	case EventThreadEnd:
		return "THREAD_END"
	case EventSingleStep:
		return "SINGLE_STEP"
	case EventBreakpoint:
		return "BREAKPOINT"
	case EventMethodEntry:
		return "METHOD_ENTRY"
	case EventMethodExit:
		return "METHOD_EXIT"
	case EventFieldAccess:
		return "FIELD_ACCESS"
	case EventFieldModification:
		return "FIELD_MODIFICATION"
	case EventException:
		return "EXCEPTION"
	case EventCompiledMethodLoad:
		return "COMPILED_METHOD_LOAD"
	case EventCompiledMethodUnload:
		return "COMPILED_METHOD_UNLOAD"
	case EventVirtualThreadStart:
		return "VIRTUAL_THREAD_START"
	case EventVirtualThreadEnd:
		return "VIRTUAL_THREAD_END"
	case None:
		return "NONE"
	default:
		return fmt.Sprintf("EventIndex(%d)", int(ei))
	}
}

// ThreadState mirrors the JVMTI-style state bitmask returned by
// GetThreadState. State 0 means the thread has not yet started.
type ThreadState uint32

const (
	ThreadAlive ThreadState = 1 << iota
	ThreadRunnable
	ThreadWaiting
	ThreadSleeping
	ThreadInMonitor
	ThreadSuspended
	ThreadInterrupted
	ThreadNative
	ThreadTerminated
)

// WireStatus is the debugger-visible thread status ApplicationThreadStatus
// maps runtime state onto.
type WireStatus int

const (
	WireStatusZombie WireStatus = iota
	WireStatusRunning
	WireStatusSleeping
	WireStatusMonitor
	WireStatusWait
	WireStatusNotStarted
)

// SuspendFlags augments WireStatus with whether the debugger-visible
// suspend count is nonzero.
type SuspendFlags uint32

const SuspendFlagSuspended SuspendFlags = 1

// MapThreadState translates a raw runtime state into the wire-protocol
// status and suspend flags. The core overrides this with RUNNING
// whenever the node is mid-event-handling, which is applied by the
// caller (EventGate), not here -- this function only knows about the
// runtime's view.
func MapThreadState(s ThreadState) (WireStatus, SuspendFlags) {
	var flags SuspendFlags
	if s&ThreadSuspended != 0 {
		flags = SuspendFlagSuspended
	}
	switch {
	case s == 0:
		return WireStatusNotStarted, flags
	case s&ThreadTerminated != 0:
		return WireStatusZombie, flags
	case s&ThreadInMonitor != 0:
		return WireStatusMonitor, flags
	case s&ThreadWaiting != 0:
		return WireStatusWait, flags
	case s&ThreadSleeping != 0:
		return WireStatusSleeping, flags
	default:
		return WireStatusRunning, flags
	}
}

// Backend is the contract the thread-control core consumes from the
// runtime's debug/instrumentation interface. Every method corresponds directly to a
// primitive named there.
type Backend interface {
	// SuspendThread primitive-suspends t. Returns tcerr.NotAlive if t
	// has not started or has already terminated, tcerr.InvalidThread if t is not a thread
	// the runtime recognizes.
	SuspendThread(t ThreadHandle) error

	// ResumeThread primitive-resumes t. Returns tcerr.NotAlive if t
	// both never started and has no primitive suspension to undo.
	ResumeThread(t ThreadHandle) error

	// SuspendThreadList is the bulk primitive behind list suspend. The
	// returned slice has one error per input thread, nil for success;
	// may report tcerr.NotAlive or tcerr.AlreadySuspendedByOther per
	// element.
	SuspendThreadList(ts []ThreadHandle) []error

	// ResumeThreadList is the bulk primitive behind list resume.
	ResumeThreadList(ts []ThreadHandle) []error

	// VirtualThreadsSupported reports whether this runtime build
	// exposes the bulk virtual-thread primitives at all.
	VirtualThreadsSupported() bool

	// SuspendAllVirtualThreads suspends every virtual thread except
	// those named in exclude.
	SuspendAllVirtualThreads(exclude []ThreadHandle) error

	// ResumeAllVirtualThreads resumes every virtual thread except those
	// named in exclude.
	ResumeAllVirtualThreads(exclude []ThreadHandle) error

	// GetThreadState returns the raw state bitmask for t.
	GetThreadState(t ThreadHandle) (ThreadState, error)

	// GetThreadLocalStorage and SetThreadLocalStorage model the single
	// pointer-sized per-thread slot the runtime reserves for debug
	// agents; here it holds the owning *threadcontrol.ThreadNode,
	// type-erased.
	GetThreadLocalStorage(t ThreadHandle) (any, error)
	SetThreadLocalStorage(t ThreadHandle, v any) error

	// SetEventNotificationMode enables or disables ei's delivery for
	// t, or for every thread if t is nil.
	SetEventNotificationMode(enable bool, ei EventIndex, t ThreadHandle) error

	// InterruptThread, StopThread, PopFrame are the remaining
	// single-thread primitives.
	InterruptThread(t ThreadHandle) error
	StopThread(t ThreadHandle, throwable any) error
	PopFrame(t ThreadHandle) error

	// GenerateEvents is a pass-through to the runtime's own
	// event-generation primitive; the core does no filtering of its own.
	GenerateEvents(ei EventIndex) error

	// AllThreads returns every platform thread the runtime currently
	// knows about, used by VM-wide suspend's list-suspend pass.
	AllThreads() []ThreadHandle

	// AllVirtualThreads returns every virtual thread currently alive.
	AllVirtualThreads() []ThreadHandle
}

// CheckpointExtension is an optional extension lookup (by string id) for
// checkpoint-aware debug thread registration. A Backend that also
// implements this interface is notified whenever DebugThreadSet adds or
// removes a member, so a checkpoint/restore facility does not snapshot
// agent threads as application state. Backends without the extension
// simply don't implement it; callers use a type assertion.
type CheckpointExtension interface {
	RegisterDebugThread(t ThreadHandle)
	UnregisterDebugThread(t ThreadHandle)
}
