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
	"jdwpagent.dev/threadcontrol/runtime"
)

// debugThreadSetCap is the fixed capacity of DebugThreadSet.
const debugThreadSetCap = 10

// debugThreadSet is the small fixed-capacity set of agent-owned threads
// (helper/worker threads the agent spawned itself) that must never be
// suspended or reported to the debugger as application threads.
// Membership is checked by runtime object-identity comparison, i.e.
// Go's ==, since ThreadHandle values must be comparable.
type debugThreadSet struct {
	threads [debugThreadSetCap]runtime.ThreadHandle
	n       int
	ext     runtime.CheckpointExtension // optional; nil if unsupported
}

func newDebugThreadSet(ext runtime.CheckpointExtension) *debugThreadSet {
	return &debugThreadSet{ext: ext}
}

// contains reports whether t is a member, via linear scan.
func (s *debugThreadSet) contains(t runtime.ThreadHandle) bool {
	for i := 0; i < s.n; i++ {
		if s.threads[i] == t {
			return true
		}
	}
	return false
}

// add appends t, informing the optional checkpoint extension so t is
// not snapshotted as application state. Returns tcerr.DebugThreadSetFull
// past capacity.
func (s *debugThreadSet) add(t runtime.ThreadHandle) error {
	if s.contains(t) {
		return nil
	}
	if s.n >= debugThreadSetCap {
		return tcerr.DebugThreadSetFull
	}
	s.threads[s.n] = t
	s.n++
	if s.ext != nil {
		s.ext.RegisterDebugThread(t)
	}
	return nil
}

// remove compacts t out of the set, if present.
func (s *debugThreadSet) remove(t runtime.ThreadHandle) {
	for i := 0; i < s.n; i++ {
		if s.threads[i] == t {
			copy(s.threads[i:s.n-1], s.threads[i+1:s.n])
			s.n--
			if s.ext != nil {
				s.ext.UnregisterDebugThread(t)
			}
			return
		}
	}
}
