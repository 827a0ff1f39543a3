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

import "jdwpagent.dev/threadcontrol/runtime"

// deferredEventMode is one queued SetEventNotificationMode change for a
// thread that hasn't started yet.
type deferredEventMode struct {
	ei     runtime.EventIndex
	mode   bool
	thread runtime.ThreadHandle
}

// deferredEventModes is the FIFO of per-thread event-notification-mode
// changes queued for not-yet-started threads. A
// plain slice is enough here: drains happen per-thread at start, and the
// whole queue is dropped at reset(), so there's no need for the
// intrusive-list treatment the three thread lists get.
type deferredEventModes struct {
	q      []deferredEventMode
	counts [runtime.NumEventIndices]int // EventModeCounts() snapshot
}

func newDeferredEventModes() *deferredEventModes {
	return &deferredEventModes{}
}

// enqueueLocked appends a deferred mode change, in FIFO arrival order.
func (d *deferredEventModes) enqueueLocked(ei runtime.EventIndex, mode bool, t runtime.ThreadHandle) {
	d.q = append(d.q, deferredEventMode{ei: ei, mode: mode, thread: t})
}

// drainLocked applies, in arrival order, every entry queued for t,
// removing them from the FIFO. Each application goes through apply,
// which installs the mode via the runtime and mirrors SINGLE_STEP into
// the node's instructionStepMode.
func (d *deferredEventModes) drainLocked(t runtime.ThreadHandle, apply func(ei runtime.EventIndex, mode bool)) {
	kept := d.q[:0]
	for _, e := range d.q {
		if e.thread == t {
			apply(e.ei, e.mode)
			continue
		}
		kept = append(kept, e)
	}
	d.q = kept
}

// resetLocked drops every queued entry. It never touches counts: a
// count is recorded only when a mode is actually applied (through
// applyEventModeLocked), never at enqueue time, so a queued-but-undrained
// entry has contributed nothing yet.
func (d *deferredEventModes) resetLocked() {
	d.q = nil
}

// recordModeLocked updates the per-event-index enablement count used by
// EventModeCounts.
func (d *deferredEventModes) recordModeLocked(ei runtime.EventIndex, enable bool) {
	if ei < 0 || int(ei) >= len(d.counts) {
		return
	}
	if enable {
		d.counts[ei]++
	} else if d.counts[ei] > 0 {
		d.counts[ei]--
	}
}

// snapshotLocked returns a copy of the current per-event-index counts.
func (d *deferredEventModes) snapshotLocked() [runtime.NumEventIndices]int {
	return d.counts
}
