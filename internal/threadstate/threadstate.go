// Package threadstate implements ThreadState, spec §3's per-thread record:
// tid, clock, shadow call stack, event buffer, sampling counter, enabled
// flag, and mutex_book. One ThreadState exists per live ThreadId and is
// exclusively mutated by that application thread except at join and
// during global flush, per spec §3's ownership note.
//
// Adapted from the teacher's internal/race/goroutine.RaceContext, widened
// from a single cached Epoch field to the full bookkeeping spec's
// ThreadState names (shadow stack, mutex book, per-thread ingest buffer,
// sampling and enabled state) that the teacher leaves to its
// internal/race/api package's loose globals.
package threadstate

import (
	"github.com/kelenar/hbrace/internal/clock"
	"github.com/kelenar/hbrace/internal/ingest"
	"github.com/kelenar/hbrace/internal/syncobj"
)

// State is one thread's detector-visible state.
type State struct {
	Tid   clock.ThreadId
	Clock *clock.VectorClock

	// ShadowStack is the ordered sequence of call-site pcs pushed by
	// func_enter and popped by func_exit.
	ShadowStack []uintptr

	// Buffer is this thread's EventIngest control block.
	Buffer *ingest.ControlBlock

	// SamplingPeriod is the configured admit-1-in-N rate; 0 or 1 means
	// every event is admitted. SamplingCounter tracks progress toward the
	// next admitted event, matching spec §4.4's "decrements
	// sampling_counter; on reaching zero, the event is admitted and the
	// counter resets to sampling_period."
	SamplingPeriod  uint32
	SamplingCounter uint32

	// Enabled implements the per-thread state machine from spec §4.4:
	// Enabled --[enter_exclude]--> Disabled --[leave_exclude]--> Enabled.
	Enabled bool

	// MutexBook maps a held handle to the local acquire depth this thread
	// has observed. Mismatched releases are detected and reported by the
	// shared SyncObjectTable, not from this map.
	MutexBook map[syncobj.Handle]uint32
}

// New allocates a ThreadState for a freshly forked thread. childClock is
// the deep copy of the parent's clock at fork time (spec §4.4: "child
// clock initialized from parent's clock (deep copy)"); pass clock.New()
// for the initial process thread.
func New(tid clock.ThreadId, childClock *clock.VectorClock, samplingPeriod uint32) *State {
	return &State{
		Tid:             tid,
		Clock:           childClock,
		Buffer:          ingest.NewControlBlock(),
		SamplingPeriod:  samplingPeriod,
		SamplingCounter: samplingPeriod,
		Enabled:         true,
		MutexBook:       make(map[syncobj.Handle]uint32),
	}
}

// ShouldSample decrements the sampling counter and reports whether this
// event should be admitted, resetting the counter to SamplingPeriod on
// admission. Deterministic given SamplingPeriod and call count, per spec
// §4.4. A SamplingPeriod of 0 always admits.
func (s *State) ShouldSample() bool {
	if s.SamplingPeriod == 0 {
		return true
	}
	if s.SamplingCounter == 0 {
		s.SamplingCounter = s.SamplingPeriod
	}
	s.SamplingCounter--
	if s.SamplingCounter == 0 {
		return true
	}
	return false
}

// EnterExclude transitions Enabled -> Disabled.
func (s *State) EnterExclude() {
	s.Enabled = false
	s.Buffer.SetDisabled(true)
}

// LeaveExclude transitions Disabled -> Enabled.
func (s *State) LeaveExclude() {
	s.Enabled = true
	s.Buffer.SetDisabled(false)
}

// PushFrame records a call-site pc on the shadow stack (func_enter).
func (s *State) PushFrame(pc uintptr) {
	s.ShadowStack = append(s.ShadowStack, pc)
}

// PopFrame removes the most recent call-site pc (func_exit). A pop with
// an empty stack is ignored rather than panicking, consistent with spec
// §4.4's "all operations are infallible from the caller's view."
func (s *State) PopFrame() {
	if len(s.ShadowStack) == 0 {
		return
	}
	s.ShadowStack = s.ShadowStack[:len(s.ShadowStack)-1]
}

// StackSnapshot returns a copy of the current shadow stack, for attaching
// to a buffered MemRef at the moment of the access. Returns nil for an
// empty stack so accesses outside any instrumented function carry no
// shadow-stack allocation.
func (s *State) StackSnapshot() []uintptr {
	if len(s.ShadowStack) == 0 {
		return nil
	}
	out := make([]uintptr, len(s.ShadowStack))
	copy(out, s.ShadowStack)
	return out
}
