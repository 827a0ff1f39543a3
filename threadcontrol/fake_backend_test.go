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
	"sync"

	"jdwpagent.dev/threadcontrol/internal/tcerr"
	"jdwpagent.dev/threadcontrol/runtime"
)

// fakeThread is a comparable handle identity for fakeBackend, the way a
// *kernel.Task pointer is the handle in gvisor's own tests.
type fakeThread struct {
	name string
}

// fakeBackend is a minimal, single-file runtime.Backend fake for this
// package's own white-box tests, kept separate from
// internal/simruntime's fuller fake to avoid that package's import of
// threadcontrol creating a test-only import cycle.
type fakeBackend struct {
	mu               sync.Mutex
	started          map[*fakeThread]bool
	terminated       map[*fakeThread]bool
	suspended        map[*fakeThread]bool
	suspendedByOther map[*fakeThread]bool
	virtual          map[*fakeThread]bool
	tls              map[*fakeThread]any
	modes            map[runtime.EventIndex]map[*fakeThread]bool
	virtualSupported bool
	allThreads       []*fakeThread
	allVirtual       []*fakeThread

	// onResume, if set, is called synchronously after a successful
	// ResumeThread, letting a test coordinate a simulated target-thread
	// goroutine with the primitive call it's waiting on.
	onResume func(*fakeThread)
}

func newFakeBackend(virtualSupported bool) *fakeBackend {
	return &fakeBackend{
		started:          map[*fakeThread]bool{},
		terminated:       map[*fakeThread]bool{},
		suspended:        map[*fakeThread]bool{},
		suspendedByOther: map[*fakeThread]bool{},
		virtual:          map[*fakeThread]bool{},
		tls:              map[*fakeThread]any{},
		modes:            map[runtime.EventIndex]map[*fakeThread]bool{},
		virtualSupported: virtualSupported,
	}
}

func (b *fakeBackend) newThread(name string, virtual bool) *fakeThread {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &fakeThread{name: name}
	b.virtual[t] = virtual
	return t
}

func (b *fakeBackend) start(t *fakeThread) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started[t] = true
	if b.virtual[t] {
		b.allVirtual = append(b.allVirtual, t)
	} else {
		b.allThreads = append(b.allThreads, t)
	}
}

func (b *fakeBackend) terminate(t *fakeThread) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminated[t] = true
}

func (b *fakeBackend) SuspendThread(h runtime.ThreadHandle) error {
	t := h.(*fakeThread)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started[t] || b.terminated[t] {
		return tcerr.NotAlive
	}
	b.suspended[t] = true
	return nil
}

func (b *fakeBackend) ResumeThread(h runtime.ThreadHandle) error {
	t := h.(*fakeThread)
	b.mu.Lock()
	if !b.started[t] {
		b.mu.Unlock()
		return tcerr.NotAlive
	}
	b.suspended[t] = false
	hook := b.onResume
	b.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	return nil
}

func (b *fakeBackend) SuspendThreadList(ts []runtime.ThreadHandle) []error {
	errs := make([]error, len(ts))
	for i, h := range ts {
		errs[i] = b.SuspendThread(h)
		t := h.(*fakeThread)
		b.mu.Lock()
		if b.suspendedByOther[t] {
			errs[i] = tcerr.AlreadySuspendedByOther
		}
		b.mu.Unlock()
	}
	return errs
}

func (b *fakeBackend) ResumeThreadList(ts []runtime.ThreadHandle) []error {
	errs := make([]error, len(ts))
	for i, h := range ts {
		errs[i] = b.ResumeThread(h)
	}
	return errs
}

func (b *fakeBackend) VirtualThreadsSupported() bool { return b.virtualSupported }

func (b *fakeBackend) SuspendAllVirtualThreads(exclude []runtime.ThreadHandle) error {
	excl := toSet(exclude)
	b.mu.Lock()
	defer b.mu.Unlock()
	for t := range b.virtual {
		if b.virtual[t] && b.started[t] && !b.terminated[t] && !excl[t] {
			b.suspended[t] = true
		}
	}
	return nil
}

func (b *fakeBackend) ResumeAllVirtualThreads(exclude []runtime.ThreadHandle) error {
	excl := toSet(exclude)
	b.mu.Lock()
	defer b.mu.Unlock()
	for t := range b.virtual {
		if b.virtual[t] && b.started[t] && !b.terminated[t] && !excl[t] {
			b.suspended[t] = false
		}
	}
	return nil
}

func toSet(hs []runtime.ThreadHandle) map[*fakeThread]bool {
	s := make(map[*fakeThread]bool, len(hs))
	for _, h := range hs {
		s[h.(*fakeThread)] = true
	}
	return s
}

func (b *fakeBackend) GetThreadState(h runtime.ThreadHandle) (runtime.ThreadState, error) {
	t := h.(*fakeThread)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started[t] {
		return 0, nil
	}
	if b.terminated[t] {
		return runtime.ThreadTerminated, nil
	}
	s := runtime.ThreadAlive | runtime.ThreadRunnable
	if b.suspended[t] {
		s |= runtime.ThreadSuspended
	}
	return s, nil
}

func (b *fakeBackend) GetThreadLocalStorage(h runtime.ThreadHandle) (any, error) {
	t := h.(*fakeThread)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tls[t], nil
}

func (b *fakeBackend) SetThreadLocalStorage(h runtime.ThreadHandle, v any) error {
	t := h.(*fakeThread)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tls[t] = v
	return nil
}

func (b *fakeBackend) SetEventNotificationMode(enable bool, ei runtime.EventIndex, h runtime.ThreadHandle) error {
	t, _ := h.(*fakeThread)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modes[ei] == nil {
		b.modes[ei] = map[*fakeThread]bool{}
	}
	b.modes[ei][t] = enable
	return nil
}

func (b *fakeBackend) InterruptThread(runtime.ThreadHandle) error { return nil }
func (b *fakeBackend) StopThread(runtime.ThreadHandle, any) error { return nil }
func (b *fakeBackend) PopFrame(runtime.ThreadHandle) error        { return nil }
func (b *fakeBackend) GenerateEvents(runtime.EventIndex) error    { return nil }

func (b *fakeBackend) AllThreads() []runtime.ThreadHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]runtime.ThreadHandle, 0, len(b.allThreads))
	for _, t := range b.allThreads {
		if !b.terminated[t] {
			out = append(out, t)
		}
	}
	return out
}

func (b *fakeBackend) AllVirtualThreads() []runtime.ThreadHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]runtime.ThreadHandle, 0, len(b.allVirtual))
	for _, t := range b.allVirtual {
		if !b.terminated[t] {
			out = append(out, t)
		}
	}
	return out
}
