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

// Package simruntime is a goroutine-backed stand-in for the managed
// runtime's debug/instrumentation interface (runtime.Backend). It plays
// the role kvm_test.go's testutil package plays for
// pkg/sentry/platform/kvm in gvisor: a fake of the real primitive
// layer, faithful enough to drive the core's tests and the harness
// without a real VM underneath.
package simruntime

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"jdwpagent.dev/threadcontrol/internal/tcerr"
	"jdwpagent.dev/threadcontrol/runtime"
)

// Thread is a simulated runtime thread. Its address is its identity, so
// it satisfies runtime.ThreadHandle's comparability requirement without
// any extra bookkeeping.
type Thread struct {
	ID      uint64
	Virtual bool

	mu               sync.Mutex
	started          bool
	terminated       bool
	suspended        bool
	suspendedByOther bool
	tls              any
}

// Started reports whether Start has been called.
func (t *Thread) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Backend implements runtime.Backend over a set of simulated Threads.
// It has no real scheduler behind it -- spawning a Thread just makes it
// eligible to be driven through events by a Scenario (see scenario.go);
// the semaphore models the fact that virtual threads are
// many-to-few-scheduled and the core itself is never a scheduler.
type Backend struct {
	mu              sync.Mutex
	threads         map[*Thread]struct{}
	supportsVirtual bool
	nextID          uint64

	// virtualSlots models the limited number of carrier threads
	// backing virtual threads; Scenario acquires a slot for the
	// duration of a virtual thread's simulated run.
	virtualSlots *semaphore.Weighted

	eventModes map[eventKey]bool

	// OnResume, if set, is invoked synchronously after a successful
	// ResumeThread, so a caller driving a simulated target-thread
	// goroutine (a harness subcommand, a test) can coordinate with the
	// primitive it's waiting on instead of polling.
	OnResume func(t *Thread)
}

type eventKey struct {
	t  *Thread
	ei runtime.EventIndex
}

// NewBackend constructs a Backend. carrierSlots bounds how many virtual
// threads Scenario will run concurrently; 0 means unbounded.
func NewBackend(supportsVirtual bool, carrierSlots int64) *Backend {
	if carrierSlots <= 0 {
		carrierSlots = 1 << 20 // effectively unbounded
	}
	return &Backend{
		threads:         make(map[*Thread]struct{}),
		supportsVirtual: supportsVirtual,
		virtualSlots:    semaphore.NewWeighted(carrierSlots),
		eventModes:      make(map[eventKey]bool),
	}
}

// Spawn creates a new, not-yet-started thread and registers it with the
// backend.
func (b *Backend) Spawn(virtual bool) *Thread {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	t := &Thread{ID: b.nextID, Virtual: virtual}
	b.threads[t] = struct{}{}
	return t
}

// Start marks t as alive and runnable, as if its first instruction had
// executed.
func (b *Backend) Start(t *Thread) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
}

// Terminate marks t as no longer alive.
func (b *Backend) Terminate(t *Thread) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = true
}

// MarkSuspendedByOther simulates a third party (not this agent) having
// already primitive-suspended t, so the next SuspendThreadList call
// reports tcerr.AlreadySuspendedByOther for it.
func (b *Backend) MarkSuspendedByOther(t *Thread) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspendedByOther = true
	t.suspended = true
}

func (b *Backend) VirtualThreadsSupported() bool { return b.supportsVirtual }

func (b *Backend) SuspendThread(h runtime.ThreadHandle) error {
	t := h.(*Thread)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated || !t.started {
		return tcerr.NotAlive
	}
	t.suspended = true
	return nil
}

func (b *Backend) ResumeThread(h runtime.ThreadHandle) error {
	t := h.(*Thread)
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return tcerr.NotAlive
	}
	t.suspended = false
	t.suspendedByOther = false
	t.mu.Unlock()
	if b.OnResume != nil {
		b.OnResume(t)
	}
	return nil
}

func (b *Backend) SuspendThreadList(hs []runtime.ThreadHandle) []error {
	errs := make([]error, len(hs))
	for i, h := range hs {
		t := h.(*Thread)
		t.mu.Lock()
		switch {
		case t.terminated || !t.started:
			errs[i] = tcerr.NotAlive
		case t.suspendedByOther:
			errs[i] = tcerr.AlreadySuspendedByOther
		default:
			t.suspended = true
		}
		t.mu.Unlock()
	}
	return errs
}

func (b *Backend) ResumeThreadList(hs []runtime.ThreadHandle) []error {
	errs := make([]error, len(hs))
	for i, h := range hs {
		t := h.(*Thread)
		t.mu.Lock()
		if !t.started {
			errs[i] = tcerr.NotAlive
		} else {
			t.suspended = false
			t.suspendedByOther = false
		}
		t.mu.Unlock()
	}
	return errs
}

func (b *Backend) forEachVirtual(exclude []runtime.ThreadHandle, fn func(t *Thread)) {
	excluded := make(map[*Thread]struct{}, len(exclude))
	for _, h := range exclude {
		excluded[h.(*Thread)] = struct{}{}
	}
	b.mu.Lock()
	targets := make([]*Thread, 0, len(b.threads))
	for t := range b.threads {
		if !t.Virtual {
			continue
		}
		if _, ok := excluded[t]; ok {
			continue
		}
		targets = append(targets, t)
	}
	b.mu.Unlock()
	for _, t := range targets {
		t.mu.Lock()
		if t.started && !t.terminated {
			fn(t)
		}
		t.mu.Unlock()
	}
}

func (b *Backend) SuspendAllVirtualThreads(exclude []runtime.ThreadHandle) error {
	b.forEachVirtual(exclude, func(t *Thread) { t.suspended = true })
	return nil
}

func (b *Backend) ResumeAllVirtualThreads(exclude []runtime.ThreadHandle) error {
	b.forEachVirtual(exclude, func(t *Thread) { t.suspended = false })
	return nil
}

func (b *Backend) GetThreadState(h runtime.ThreadHandle) (runtime.ThreadState, error) {
	t := h.(*Thread)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0, nil
	}
	var s runtime.ThreadState
	if t.terminated {
		return runtime.ThreadTerminated, nil
	}
	s |= runtime.ThreadAlive | runtime.ThreadRunnable
	if t.suspended {
		s |= runtime.ThreadSuspended
	}
	return s, nil
}

func (b *Backend) GetThreadLocalStorage(h runtime.ThreadHandle) (any, error) {
	t := h.(*Thread)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tls, nil
}

func (b *Backend) SetThreadLocalStorage(h runtime.ThreadHandle, v any) error {
	t := h.(*Thread)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tls = v
	return nil
}

func (b *Backend) SetEventNotificationMode(enable bool, ei runtime.EventIndex, h runtime.ThreadHandle) error {
	t, _ := h.(*Thread)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventModes[eventKey{t, ei}] = enable
	return nil
}

// EventModeEnabled reports the last mode SetEventNotificationMode
// recorded for (t, ei); tests use it to assert deferred modes actually
// applied.
func (b *Backend) EventModeEnabled(h runtime.ThreadHandle, ei runtime.EventIndex) bool {
	t, _ := h.(*Thread)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventModes[eventKey{t, ei}]
}

func (b *Backend) InterruptThread(runtime.ThreadHandle) error { return nil }
func (b *Backend) StopThread(runtime.ThreadHandle, any) error { return nil }
func (b *Backend) PopFrame(runtime.ThreadHandle) error        { return nil }
func (b *Backend) GenerateEvents(runtime.EventIndex) error    { return nil }

func (b *Backend) AllThreads() []runtime.ThreadHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []runtime.ThreadHandle
	for t := range b.threads {
		if t.Virtual {
			continue
		}
		t.mu.Lock()
		alive := t.started && !t.terminated
		t.mu.Unlock()
		if alive {
			out = append(out, t)
		}
	}
	return out
}

func (b *Backend) AllVirtualThreads() []runtime.ThreadHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []runtime.ThreadHandle
	for t := range b.threads {
		if !t.Virtual {
			continue
		}
		t.mu.Lock()
		alive := t.started && !t.terminated
		t.mu.Unlock()
		if alive {
			out = append(out, t)
		}
	}
	return out
}

// VirtualSlots exposes the carrier-thread semaphore for Scenario.
func (b *Backend) VirtualSlots() *semaphore.Weighted { return b.virtualSlots }
