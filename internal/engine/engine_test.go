package engine

import (
	"testing"

	"github.com/kelenar/hbrace/internal/config"
	"github.com/kelenar/hbrace/internal/sink"
	"github.com/kelenar/hbrace/internal/syncobj"
)

func newTestEngine() *Engine {
	cfg := config.Default()
	cfg.Output.Terminal = false
	return New(cfg)
}

// TestWRRace mirrors spec §8's WR_Race scenario: fork T10, T11; T10
// writes 0x100000 size 8; T11 reads 0x100000 size 8. Expected races = 1.
func TestWRRace(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 10)
	e.Fork(1, 11)

	e.Write(10, 0x10, 0x100000, 8)
	e.Read(11, 0x20, 0x100000, 8)
	e.Finalize()

	if got := len(mem.Reports()); got != 1 {
		t.Errorf("WR_Race: got %d reports, want 1", got)
	}
}

// TestLocked mirrors spec §8's Locked scenario: T20, T21 each acquire
// mutex M, write+read 0x200000, release. Expected races = 0.
func TestLocked(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 20)
	e.Fork(1, 21)

	const m syncobj.Handle = 0x4D

	e.Acquire(20, m, 0, false)
	e.Write(20, 0x10, 0x200000, 8)
	e.Read(20, 0x11, 0x200000, 8)
	e.Release(20, m, false)

	e.Acquire(21, m, 0, false)
	e.Write(21, 0x20, 0x200000, 8)
	e.Read(21, 0x21, 0x200000, 8)
	e.Release(21, m, false)

	e.Finalize()

	if got := len(mem.Reports()); got != 0 {
		t.Errorf("Locked: got %d reports, want 0", got)
	}
}

// TestThreadExitOrdering mirrors spec §8: T30 writes 0x320000; fork T31;
// T31 writes 0x320000; join(T30,T31); T30 reads 0x320000. Expected races
// = 0.
func TestThreadExitOrdering(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 30)

	e.Write(30, 0x10, 0x320000, 8)
	e.Fork(30, 31)
	e.Write(31, 0x20, 0x320000, 8)
	e.Join(30, 31)
	e.Read(30, 0x30, 0x320000, 8)

	e.Finalize()

	if got := len(mem.Reports()); got != 0 {
		t.Errorf("Thread-exit ordering: got %d reports, want 0", got)
	}
}

// TestHappensBeforeAnnotation mirrors spec §8: T50 writes 0x500000;
// happens_before(50510000) on T50; happens_after(50510000) on T51; T51
// writes 0x500000. Expected races = 0.
func TestHappensBeforeAnnotation(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 50)
	e.Fork(1, 51)

	const id syncobj.Handle = 0x50510000

	e.Write(50, 0x10, 0x500000, 8)
	e.HappensBefore(50, id)
	e.HappensAfter(51, id)
	e.Write(51, 0x20, 0x500000, 8)

	e.Finalize()

	if got := len(mem.Reports()); got != 0 {
		t.Errorf("Happens-before annotation: got %d reports, want 0", got)
	}
}

// TestBarrier mirrors spec §8: T70/T71/T72; all write before a barrier;
// T70 and T71 participate via happens_before+happens_after on barrier id
// 0x0700, T72 does not; T72 then writes an address previously written by
// T70. Expected races = 1.
func TestBarrier(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 70)
	e.Fork(1, 71)
	e.Fork(1, 72)

	const barrier syncobj.Handle = 0x0700

	e.Write(70, 0x10, 0x700000, 8)
	e.HappensBefore(70, barrier)

	e.Write(71, 0x20, 0x710000, 8)
	e.HappensBefore(71, barrier)

	e.Write(72, 0x30, 0x720000, 8)
	// T72 does not participate in the barrier.

	e.HappensAfter(70, barrier)
	e.HappensAfter(71, barrier)

	// T72 races with T70's earlier write since it never synchronized.
	e.Write(72, 0x40, 0x700000, 8)

	e.Finalize()

	if got := len(mem.Reports()); got != 1 {
		t.Errorf("Barrier: got %d reports, want 1", got)
	}
}

// TestResetOnFree mirrors spec §8: T80 allocates 0x800000..+0xF, writes,
// deallocates; happens_before/after on 0x800000; T81 allocates
// 0x800000..+0x2, writes. Expected races = 0.
func TestResetOnFree(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 80)
	e.Fork(1, 81)

	e.Allocate(80, 0, 0x800000, 0x10)
	e.Write(80, 0x10, 0x800000, 8)
	e.Deallocate(80, 0x800000)

	e.HappensBefore(80, 0x800000)
	e.HappensAfter(81, 0x800000)

	e.Allocate(81, 0, 0x800000, 0x3)
	e.Write(81, 0x20, 0x800000, 2)

	e.Finalize()

	if got := len(mem.Reports()); got != 0 {
		t.Errorf("Reset-on-free: got %d reports, want 0", got)
	}
}

func TestFuncEnterExitRunsUnderExclude(t *testing.T) {
	e := newTestEngine()
	e.Fork(1, 90)

	e.EnterExclude(90)
	e.FuncEnter(90, 0x1234)
	thread := e.thread(90)
	if len(thread.ShadowStack) != 1 {
		t.Fatalf("shadow stack should still push under exclude, got %v", thread.ShadowStack)
	}
	e.FuncExit(90)
	if len(thread.ShadowStack) != 0 {
		t.Fatalf("shadow stack should still pop under exclude, got %v", thread.ShadowStack)
	}
}

func TestEnterExcludeDropsMemoryEvents(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 91)
	e.Fork(1, 92)

	e.Write(91, 0x10, 0x900000, 8)

	e.EnterExclude(92)
	e.Write(92, 0x20, 0x900000, 8) // dropped: should not race
	e.LeaveExclude(92)
	e.Write(92, 0x30, 0x900000, 8) // admitted: should race

	e.Finalize()

	if got := len(mem.Reports()); got != 1 {
		t.Errorf("got %d reports, want 1 (only the post-LeaveExclude write races)", got)
	}
}

// TestInspection mirrors spec §8's Inspection scenario: with func_enter/
// func_exit on T90 around the racing write and T91 around the racing
// read, the reported race's two stack snapshots have sizes 3 and 2,
// ending in the access pcs 0x0090 / 0x0091 respectively.
func TestInspection(t *testing.T) {
	e := newTestEngine()
	mem := sink.NewMemorySink()
	e.AddSink(mem)

	e.Fork(1, 90)
	e.Fork(1, 91)

	e.FuncEnter(90, 0x0050)
	e.FuncEnter(90, 0x0060)
	e.Write(90, 0x0090, 0x900000, 8)
	e.FuncExit(90)
	e.FuncExit(90)

	// Force T90's write to drain, and thus be retained in the shadow cell,
	// before T91's read runs: Finalize would otherwise drain both threads'
	// buffers in map-iteration order, leaving which access is "first" vs
	// "second" undetermined.
	e.HappensBefore(90, 0xDEAD0090)

	e.FuncEnter(91, 0x0070)
	e.Read(91, 0x0091, 0x900000, 8)
	e.FuncExit(91)

	e.Finalize()

	reports := mem.Reports()
	if len(reports) != 1 {
		t.Fatalf("Inspection: got %d reports, want 1", len(reports))
	}

	prev := reports[0].Previous.StackTrace
	cur := reports[0].Current.StackTrace

	if len(prev) != 3 {
		t.Errorf("Inspection: previous stack size = %d, want 3 (%v)", len(prev), prev)
	} else if got := prev[len(prev)-1]; got != 0x0090 {
		t.Errorf("Inspection: previous stack ends in %#x, want 0x0090", got)
	}

	if len(cur) != 2 {
		t.Errorf("Inspection: current stack size = %d, want 2 (%v)", len(cur), cur)
	} else if got := cur[len(cur)-1]; got != 0x0091 {
		t.Errorf("Inspection: current stack ends in %#x, want 0x0091", got)
	}
}

func TestReleaseWithoutAcquireIsUsageWarningNotPanic(t *testing.T) {
	e := newTestEngine()
	e.Fork(1, 95)
	e.Release(95, 0xBAD, false) // must not panic
}
