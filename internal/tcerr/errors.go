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

// Package tcerr holds the thread-control core's error taxonomy. It
// plays the role gvisor's pkg/errors/linuxerr plays for pkg/sentry: a
// small closed set of sentinel errors that callers classify rather than
// string-match, kept in its own package so the core's packages don't
// have to import each other just to compare errors.
package tcerr

import "errors"

var (
	// NotAlive reports that a runtime primitive targeted a thread that
	// has not started yet or has already terminated. Several call sites absorb this into a
	// success; list-suspend/resume leave it for the caller to
	// fold in per-node.
	NotAlive = errors.New("threadcontrol: thread not alive")

	// AlreadySuspendedByOther reports that SuspendThreadList found the
	// thread already primitive-suspended by a party outside the agent.
	// Absorbed as success without owing a resume.
	AlreadySuspendedByOther = errors.New("threadcontrol: thread already suspended by other")

	// InvalidThread reports that the runtime rejected a thread handle
	// outright. Always propagated.
	InvalidThread = errors.New("threadcontrol: invalid thread")

	// OutOfMemory reports an allocation failure for a structural
	// allocation (node, list entry, request array). Structural
	// allocation failures are fatal; queue-insert
	// failures (deferred event modes) propagate it instead.
	OutOfMemory = errors.New("threadcontrol: out of memory")

	// NoMoreFrames reports popFrames(t, n) requested more pops than the
	// call stack can satisfy.
	NoMoreFrames = errors.New("threadcontrol: no more frames to pop")

	// DebugThreadSetFull reports addDebugThread past the fixed
	// capacity.
	DebugThreadSetFull = errors.New("threadcontrol: debug thread set is full")
)

// IsAbsorbed reports whether err is one of the runtime outcomes folded
// into a successful result rather than propagated. Primitive returns
// matching this are never surfaced to the debugger as failures.
func IsAbsorbed(err error) bool {
	return errors.Is(err, NotAlive) || errors.Is(err, AlreadySuspendedByOther)
}
