// Package ingest implements the per-thread EventIngest contract from spec
// §4.6: a batched, single-producer buffer the instrumenter appends MemRef
// records into, plus the {buf_ptr, buf_end, control_word} triple the
// instrumenter's inline code is meant to read at fixed offsets.
//
// The teacher has no equivalent of this — its hot-path calls
// (internal/race/api/race.go's raceread/racewrite) go straight from the
// instrumentation call site into the detector on every single access. This
// package is new, built to the spec's explicit buffer-full-flush contract
// rather than a call-per-access one.
package ingest

import (
	"sync/atomic"
	"unsafe"
)

// MemRef is one buffered access, matching spec §3's `{ addr, pc, size,
// is_write }` plus ShadowStack: a copy of the thread's func_enter/
// func_exit call-site stack at the moment this access was recorded, not
// whenever the buffer is later drained. The thread may push or pop frames
// before process_buffer runs, so the snapshot has to travel with the
// record rather than be read back off ThreadState at drain time.
type MemRef struct {
	Addr        uint64
	PC          uint64
	Size        uint8
	IsWrite     bool
	ShadowStack []uintptr
}

// bufferCapacity bounds how many MemRef records accumulate before the
// buffer is considered full and control transfers to the engine's
// process_buffer, per spec §4.6.
const bufferCapacity = 4096

// disabledBit is bit 63 of the control word: when set, memory events are
// dropped without being buffered (the ENTER_EXCLUDE state from spec §4.4).
const disabledBit = uint64(1) << 63

// samplingMask isolates the low 32 bits of the control word: the
// remaining sampling budget before the next event is admitted.
const samplingMask = uint64(0xFFFFFFFF)

// ControlBlock is the pointer-sized triple exposed to the instrumenter:
// buf_ptr/buf_end bound the live region of buf, and control_word packs the
// disabled flag with the sampling budget so inline code can check both
// with a single load. Offsets are computed with unsafe.Offsetof so the
// instrumenter's constants track the actual struct layout instead of
// duplicating it by hand, per spec §9's "expose the offsets as constants"
// design note.
type ControlBlock struct {
	buf         []MemRef
	head        int // next free slot; buf_ptr conceptually advances with it
	controlWord atomic.Uint64
}

var (
	// OffsetControlWord is the byte offset of the control word within
	// ControlBlock, exposed for the instrumenter per spec §9.
	OffsetControlWord = unsafe.Offsetof(ControlBlock{}.controlWord)
)

// NewControlBlock returns a ControlBlock with a fresh buffer and an
// all-zero control word: enabled, sampling budget 0 until
// SetSamplingBudget is called. The block does not itself admit or drop
// events by budget; threadstate.State's sampling counter does that.
func NewControlBlock() *ControlBlock {
	cb := &ControlBlock{buf: make([]MemRef, bufferCapacity)}
	return cb
}

// Disabled reports whether the disabled bit is set.
func (cb *ControlBlock) Disabled() bool {
	return cb.controlWord.Load()&disabledBit != 0
}

// SetDisabled sets or clears bit 63 of the control word, implementing the
// Enabled/Disabled state machine from spec §4.4.
func (cb *ControlBlock) SetDisabled(disabled bool) {
	for {
		old := cb.controlWord.Load()
		var next uint64
		if disabled {
			next = old | disabledBit
		} else {
			next = old &^ disabledBit
		}
		if cb.controlWord.CompareAndSwap(old, next) {
			return
		}
	}
}

// SamplingBudget returns the low 32 bits of the control word: the number
// of events remaining before the next one is admitted.
func (cb *ControlBlock) SamplingBudget() uint32 {
	return uint32(cb.controlWord.Load() & samplingMask)
}

// SetSamplingBudget overwrites the low 32 bits without disturbing the
// disabled bit.
func (cb *ControlBlock) SetSamplingBudget(budget uint32) {
	for {
		old := cb.controlWord.Load()
		next := (old &^ samplingMask) | uint64(budget)
		if cb.controlWord.CompareAndSwap(old, next) {
			return
		}
	}
}

// Append adds ref to the buffer. It returns true when the buffer is now
// full (buf_ptr == buf_end in the spec's terms) and the caller — the
// owning thread, always, per spec §4.6's single-producer guarantee — must
// drain it via the engine's process_buffer before continuing.
func (cb *ControlBlock) Append(ref MemRef) (full bool) {
	cb.buf[cb.head] = ref
	cb.head++
	return cb.head >= len(cb.buf)
}

// Drain returns the buffered records since the last Drain and resets the
// buffer to empty. Only the owning thread calls this except during
// join(parent, child), which the instrumenter guarantees runs after the
// child has stopped.
func (cb *ControlBlock) Drain() []MemRef {
	if cb.head == 0 {
		return nil
	}
	out := make([]MemRef, cb.head)
	copy(out, cb.buf[:cb.head])
	cb.head = 0
	return out
}

// Len reports how many records are currently buffered, for tests and
// diagnostics.
func (cb *ControlBlock) Len() int {
	return cb.head
}
