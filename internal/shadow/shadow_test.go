package shadow

import (
	"testing"

	"github.com/kelenar/hbrace/internal/clock"
)

func newAccess(tid clock.ThreadId, vc *clock.VectorClock, pc uintptr) Access {
	return Access{Tid: tid, Clock: vc, PC: pc}
}

// TestOnWriteUnorderedIsRace covers the WR_Race scenario: two threads with
// no synchronization between them racing on the same address.
func TestOnWriteUnorderedIsRace(t *testing.T) {
	sm := New()

	vc10 := clock.New()
	vc10.Tick(10)
	if r := sm.OnWrite(newAccess(10, vc10, 0x10), 0x100000, 8); r != nil {
		t.Fatalf("first write reported a spurious race: %+v", r)
	}

	vc11 := clock.New()
	vc11.Tick(11)
	r := sm.OnRead(newAccess(11, vc11, 0x11), 0x100000, 8)
	if r == nil {
		t.Fatal("expected a race between unordered write and read, got none")
	}
	if !r.First.IsWrite || r.Second.IsWrite {
		t.Errorf("race shape = {first.IsWrite=%v, second.IsWrite=%v}, want {true, false}", r.First.IsWrite, r.Second.IsWrite)
	}
}

// TestOnWriteOrderedByClockIsNotRace covers the "Locked"-style ordering:
// if the second thread's clock already dominates the first thread's
// write, there is no race (this is what SyncObjectTable.acquire installs).
func TestOnWriteOrderedByClockIsNotRace(t *testing.T) {
	sm := New()

	vc20 := clock.New()
	vc20.Tick(20)
	if r := sm.OnWrite(newAccess(20, vc20, 0x20), 0x200000, 8); r != nil {
		t.Fatalf("first write reported a spurious race: %+v", r)
	}

	vc21 := clock.New()
	vc21.Join(vc20) // simulate having acquired a lock released by thread 20
	vc21.Tick(21)
	if r := sm.OnWrite(newAccess(21, vc21, 0x21), 0x200000, 8); r != nil {
		t.Fatalf("ordered write reported a race: %+v", r)
	}
}

// TestOnWriteSameThreadNeverRaces exercises the same-epoch and
// same-owner fast paths.
func TestOnWriteSameThreadNeverRaces(t *testing.T) {
	sm := New()
	vc := clock.New()
	vc.Tick(1)

	for i := 0; i < 5; i++ {
		if r := sm.OnWrite(newAccess(1, vc, 0x1), 0x300000, 8); r != nil {
			t.Fatalf("same-thread write %d reported a race: %+v", i, r)
		}
		vc.Tick(1)
	}
}

// TestOnReadSameThreadAsWriterNeverRaces exercises the ownership fast
// path: a thread reading back its own writes never races.
func TestOnReadSameThreadAsWriterNeverRaces(t *testing.T) {
	sm := New()
	vc := clock.New()
	vc.Tick(5)

	sm.OnWrite(newAccess(5, vc, 0x50), 0x400000, 8)
	vc.Tick(5)
	if r := sm.OnRead(newAccess(5, vc, 0x51), 0x400000, 8); r != nil {
		t.Fatalf("reading own write reported a race: %+v", r)
	}
}

// TestOnWriteAfterUnorderedReadReportsReadAsOther covers the other
// direction of TestOnWriteUnorderedIsRace: an unordered write arriving
// after a read must report the read as the "other" access, with its own
// pc and kind, rather than mislabeling it a write at pc 0.
func TestOnWriteAfterUnorderedReadReportsReadAsOther(t *testing.T) {
	sm := New()

	vc30 := clock.New()
	vc30.Tick(30)
	if r := sm.OnRead(newAccess(30, vc30, 0x30), 0x500000, 8); r != nil {
		t.Fatalf("first read reported a spurious race: %+v", r)
	}

	vc31 := clock.New()
	vc31.Tick(31)
	r := sm.OnWrite(newAccess(31, vc31, 0x31), 0x500000, 8)
	if r == nil {
		t.Fatal("expected a race between unordered read and write, got none")
	}
	if r.First.IsWrite {
		t.Errorf("First.IsWrite = true, want false (the other access was a read)")
	}
	if r.First.PC != 0x30 {
		t.Errorf("First.PC = %#x, want 0x30 (the read's pc)", r.First.PC)
	}
	if !r.Second.IsWrite || r.Second.PC != 0x31 {
		t.Errorf("Second = {IsWrite=%v, PC=%#x}, want {true, 0x31}", r.Second.IsWrite, r.Second.PC)
	}
}

// TestAllocationIsolation covers §8 property 4: a reallocated address
// must not inherit the predecessor allocation's access history.
func TestAllocationIsolation(t *testing.T) {
	sm := New()
	sm.Allocate(0x800000, 16)

	vc80 := clock.New()
	vc80.Tick(80)
	sm.OnWrite(newAccess(80, vc80, 0x80), 0x800000, 8)

	if _, ok := sm.Deallocate(0x800000); !ok {
		t.Fatal("Deallocate of a known allocation should succeed")
	}

	sm.Allocate(0x800000, 8)

	vc81 := clock.New()
	vc81.Tick(81)
	if r := sm.OnWrite(newAccess(81, vc81, 0x81), 0x800000, 8); r != nil {
		t.Fatalf("write to freshly reallocated address raced with freed predecessor: %+v", r)
	}
}

// TestDeallocateUnknownExtentIsNoop matches spec §7: double-deallocate /
// deallocate of an untracked address is a Usage condition, not fatal.
func TestDeallocateUnknownExtentIsNoop(t *testing.T) {
	sm := New()
	if _, ok := sm.Deallocate(0x999000); ok {
		t.Error("Deallocate of unknown address should report ok=false")
	}
}

// TestWordDecompositionCoversOverlap ensures a write spanning two words
// is checked against, and updates, both underlying cells.
func TestWordDecompositionCoversOverlap(t *testing.T) {
	sm := New()
	vc := clock.New()
	vc.Tick(1)
	sm.OnWrite(newAccess(1, vc, 0x1), 0x1000, 16) // spans [0x1000,0x1008) and [0x1008,0x1010)

	if sm.Get(0x1000) == nil {
		t.Error("expected a cell at the first covered word")
	}
	if sm.Get(0x1008) == nil {
		t.Error("expected a cell at the second covered word")
	}
}

// TestShardingAcrossHighAddressBits exercises addresses that land in
// different shards to ensure cross-shard locking doesn't deadlock or
// corrupt state.
func TestShardingAcrossHighAddressBits(t *testing.T) {
	sm := New()
	addrs := []uintptr{0x10_0000_0000, 0x20_0000_0000, 0x55_0000_1000}

	for i, addr := range addrs {
		vc := clock.New()
		tid := clock.ThreadId(i + 1)
		vc.Tick(tid)
		if r := sm.OnWrite(newAccess(tid, vc, 0x1), addr, 8); r != nil {
			t.Fatalf("unexpected race writing distinct shard address %#x: %+v", addr, r)
		}
	}

	for _, addr := range addrs {
		if sm.Get(addr) == nil {
			t.Errorf("expected a cell recorded at %#x", addr)
		}
	}
}
