// Package stackdepot implements stack trace storage and deduplication for
// race reports. Adapted near-verbatim from the teacher's
// internal/race/stackdepot: a global deduplication store keyed by an
// FNV-1a hash of the captured program counters, so a stack seen many
// times over the life of a run is stored only once.
package stackdepot

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"unsafe"
)

// MaxFrames caps how many frames are captured per stack. Most race bugs
// are visible within the top handful of frames; spec §3's AccessSnapshot
// calls this an "ordered sequence of pcs" without a fixed bound, but a
// fixed cap keeps capture allocation-free and O(1).
const MaxFrames = 32

// StackTrace is a captured, fixed-size stack trace.
type StackTrace struct {
	PC [MaxFrames]uintptr
	n  int
}

// PCs returns the captured program counters, in caller-to-callee order,
// as a plain slice for building an AccessSnapshot.
func (st *StackTrace) PCs() []uintptr {
	if st == nil {
		return nil
	}
	return st.PC[:st.n]
}

var depot sync.Map // uint64 (hash) -> *StackTrace

// CaptureStack captures the caller's current stack (skipping this
// function and runtime.Callers itself) and returns a hash identifying it
// in the depot. A previously-seen stack returns the same hash without a
// new allocation.
func CaptureStack() uint64 {
	var pcs [MaxFrames]uintptr
	n := runtime.Callers(2, pcs[:])
	if n == 0 {
		return 0
	}

	hash := hashStack(pcs[:n])
	if _, exists := depot.Load(hash); exists {
		return hash
	}

	trace := &StackTrace{PC: pcs, n: n}
	depot.Store(hash, trace)
	return hash
}

// Capture builds and stores a stack trace from an explicit sequence of
// program counters (the application's func_enter/func_exit shadow stack),
// with pc appended as the innermost frame. Unlike CaptureStack, which walks
// the detector's own Go call stack via runtime.Callers, this records the
// instrumented program's call stack as the instrumenter reported it, which
// is what a race report's captured_stack must reflect.
func Capture(shadowStack []uintptr, pc uintptr) uint64 {
	var pcs [MaxFrames]uintptr
	n := copy(pcs[:MaxFrames-1], shadowStack)
	pcs[n] = pc
	n++
	if n == 0 {
		return 0
	}

	hash := hashStack(pcs[:n])
	if _, exists := depot.Load(hash); exists {
		return hash
	}

	trace := &StackTrace{PC: pcs, n: n}
	depot.Store(hash, trace)
	return hash
}

// GetStack retrieves a previously captured stack by hash, or nil if the
// hash is zero or unknown.
func GetStack(hash uint64) *StackTrace {
	if hash == 0 {
		return nil
	}
	val, ok := depot.Load(hash)
	if !ok {
		return nil
	}
	return val.(*StackTrace)
}

func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for _, pc := range pcs {
		//nolint:gosec // G103: reading the PC's own bytes for hashing, not dereferencing it.
		pcBytes := (*[8]byte)(unsafe.Pointer(&pc))[:]
		_, _ = h.Write(pcBytes)
	}
	return h.Sum64()
}

// FormatStack renders a stack trace for a terminal or XML sink, filtering
// out runtime-internal frames.
func (st *StackTrace) FormatStack() string {
	if st == nil {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(st.PC[:st.n])

	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&buf, "  %s()\n", frame.Function)
		fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// Reset clears the stack depot. Test-only, matching the teacher's.
func Reset() {
	depot = sync.Map{}
}

// Stats reports the number of unique stacks currently retained and an
// approximate byte cost, for diagnostics.
func Stats() (uniqueStacks int, totalMemory int64) {
	depot.Range(func(_, _ any) bool {
		uniqueStacks++
		return true
	})
	const bytesPerStack = MaxFrames*8 + 32
	return uniqueStacks, int64(uniqueStacks) * bytesPerStack
}
