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

package simruntime

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jdwpagent.dev/threadcontrol/runtime"
	"jdwpagent.dev/threadcontrol/threadcontrol"
)

// Scenario drives a fleet of simulated threads through start/step/end
// events against a real Controller and a Backend, the way do.go's
// sandbox driver drives a container command -- concurrency comes from
// plain goroutines plus an errgroup, paced by a rate.Limiter so event
// floods are reproducible instead of racing the CPU.
type Scenario struct {
	Backend    *Backend
	Controller *threadcontrol.Controller
	Limiter    *rate.Limiter // nil means unpaced
}

func (s *Scenario) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Wait(ctx)
}

// RunThread takes t through THREAD_START, stepCount SINGLE_STEP events,
// and THREAD_END, reporting each to the Controller exactly as a real
// event-handler prologue/epilogue pair would.
func (s *Scenario) RunThread(ctx context.Context, t *Thread, stepCount int) error {
	if t.Virtual {
		if err := s.Backend.virtualSlots.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.Backend.virtualSlots.Release(1)
	}

	s.Backend.Start(t)
	if err := s.dispatch(ctx, t, runtime.EventThreadStart); err != nil {
		return err
	}

	for i := 0; i < stepCount; i++ {
		if err := s.wait(ctx); err != nil {
			return err
		}
		if err := s.dispatch(ctx, t, runtime.EventSingleStep); err != nil {
			return err
		}
	}

	s.Backend.Terminate(t)
	return s.dispatch(ctx, t, runtime.EventThreadEnd)
}

func (s *Scenario) dispatch(ctx context.Context, t *Thread, ei runtime.EventIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info := threadcontrol.EventInfo{Thread: t, EventIdx: ei, IsVirtual: t.Virtual}
	bag, consumed := s.Controller.OnEventHandlerEntry(nil, info, nil)
	if consumed {
		return nil
	}
	s.Controller.OnEventHandlerExit(ei, t, bag)
	return nil
}

// RunAll runs every thread's lifecycle concurrently, failing fast on the
// first error (mirroring the stop-the-world semantics of
// errgroup.WithContext).
func (s *Scenario) RunAll(ctx context.Context, threads []*Thread, stepsPerThread int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range threads {
		t := t
		g.Go(func() error { return s.RunThread(gctx, t, stepsPerThread) })
	}
	return g.Wait()
}
