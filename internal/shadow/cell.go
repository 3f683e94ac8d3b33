// Package shadow implements the address-keyed shadow memory: for every
// instrumented memory location it retains enough access history to decide,
// on the next access, whether that access races with something already
// seen.
//
// Cell is the per-location building block, adapted from the teacher's
// VarState (internal/race/shadowmem/varstate.go): an adaptive
// representation that stays in a handful of inline fields for the common
// exclusive-writer / small-reader-set case, and promotes to a full
// VectorClock only when enough concurrent readers show up to need one.
package shadow

import (
	"sync"
	"sync/atomic"

	"github.com/kelenar/hbrace/internal/clock"
	"github.com/kelenar/hbrace/internal/epoch"
)

const (
	// maxInlineReaders bounds the number of concurrent readers a Cell
	// tracks without promoting to a full VectorClock.
	maxInlineReaders = 4

	// promotedMarker flags readerCount as "promoted to readClock".
	promotedMarker uint8 = 255
)

// Cell is the AccessRecord for one shadow-memory word: `{ last_writer,
// write_clock, last_readers, read_clock_bound }` per the data model, plus
// bookkeeping the engine needs to build a Race report (caller pc and
// stack-depot hash for each side).
type Cell struct {
	// Hot-path fields, read/written on every access without a lock.
	writeEpoch      atomic.Uint64 // epoch.Epoch of the last write, as uint64.
	exclusiveWriter atomic.Int64  // ThreadId+1 of the sole writer; -1 once shared; 0 before any write.
	writePC         atomic.Uintptr
	readPC          atomic.Uintptr

	mu sync.Mutex

	readEpochs  [maxInlineReaders]epoch.Epoch
	readerCount uint8
	readClock   *clock.VectorClock

	writeStackHash uint64
	readStackHash  uint64
}

// NewCell returns a Cell representing a location never accessed.
func NewCell() *Cell {
	return &Cell{}
}

// Reset restores a Cell to its never-accessed state. Called by Invalidate
// when a range is deallocated or reused, so a freed-and-reallocated address
// does not inherit its predecessor's access history.
func (c *Cell) Reset() {
	c.writeEpoch.Store(0)
	c.exclusiveWriter.Store(0)
	c.writePC.Store(0)
	c.readPC.Store(0)

	c.mu.Lock()
	for i := range c.readEpochs {
		c.readEpochs[i] = epoch.Epoch{}
	}
	c.readerCount = 0
	c.readClock = nil
	c.writeStackHash = 0
	c.readStackHash = 0
	c.mu.Unlock()
}

//go:nosplit
func (c *Cell) GetWriteEpoch() epoch.Epoch {
	raw := c.writeEpoch.Load()
	return unpackEpoch(raw)
}

//go:nosplit
func (c *Cell) SetWriteEpoch(e epoch.Epoch) {
	c.writeEpoch.Store(packEpoch(e))
}

// packEpoch/unpackEpoch let the hot write-epoch field stay a lock-free
// atomic.Uint64 even though Epoch is now a two-field struct (tid no longer
// fits in the high byte of a packed 64-bit clock). The tid half is capped
// at 32 bits, matching ThreadId's width, and the tick half at 32 bits,
// which is ample for any single run's operation count.
func packEpoch(e epoch.Epoch) uint64 {
	return uint64(e.Tid)<<32 | (e.Tick & 0xFFFFFFFF)
}

func unpackEpoch(raw uint64) epoch.Epoch {
	return epoch.Epoch{Tid: clock.ThreadId(raw >> 32), Tick: raw & 0xFFFFFFFF}
}

//go:nosplit
func (c *Cell) IsOwned() bool {
	return c.exclusiveWriter.Load() >= 0
}

//go:nosplit
func (c *Cell) ExclusiveWriter() int64 {
	return c.exclusiveWriter.Load()
}

//go:nosplit
func (c *Cell) SetExclusiveWriter(tid int64) {
	c.exclusiveWriter.Store(tid)
}

//go:nosplit
func (c *Cell) CompareAndSwapExclusiveWriter(old, new int64) bool {
	return c.exclusiveWriter.CompareAndSwap(old, new)
}

// ReadEpochs returns a copy of the inline reader epochs actively tracked.
// Returns nil once promoted; callers must check IsPromoted first.
func (c *Cell) ReadEpochs() []epoch.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readerCount == 0 || c.readerCount == promotedMarker {
		return nil
	}
	out := make([]epoch.Epoch, c.readerCount)
	copy(out, c.readEpochs[:c.readerCount])
	return out
}

func (c *Cell) IsPromoted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readerCount == promotedMarker && c.readClock != nil
}

func (c *Cell) ReadClock() *clock.VectorClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readClock
}

// AddReader records tid's read epoch in the next free inline slot,
// updating an existing slot for the same thread. Returns false when the
// inline slots are full and the caller must promote.
func (c *Cell) AddReader(e epoch.Epoch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readerCount == promotedMarker {
		return true
	}

	for i := uint8(0); i < c.readerCount; i++ {
		if c.readEpochs[i].Tid == e.Tid {
			c.readEpochs[i] = e
			return true
		}
	}

	if c.readerCount < maxInlineReaders {
		c.readEpochs[c.readerCount] = e
		c.readerCount++
		return true
	}

	return false
}

// PromoteToReadClock folds the inline reader slots plus a newly observed
// reader clock into a full VectorClock, releasing the inline slots. Mirrors
// VarState.PromoteToReadClock in the teacher.
func (c *Cell) PromoteToReadClock(newReaderClock *clock.VectorClock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rc := clock.New()
	for i := uint8(0); i < c.readerCount && i < maxInlineReaders; i++ {
		e := c.readEpochs[i]
		rc.Set(e.Tid, e.Tick)
	}
	rc.Join(newReaderClock)

	for i := range c.readEpochs {
		c.readEpochs[i] = epoch.Epoch{}
	}
	c.readerCount = promotedMarker
	c.readClock = rc
}

// Demote clears all reader tracking. Called after a write: a write
// happens-after every previously retained read, so the reader set can be
// dropped back to the fast path.
func (c *Cell) Demote() {
	c.mu.Lock()
	for i := range c.readEpochs {
		c.readEpochs[i] = epoch.Epoch{}
	}
	c.readerCount = 0
	c.readClock = nil
	c.mu.Unlock()
}

func (c *Cell) SetWriteStack(hash uint64) {
	c.mu.Lock()
	c.writeStackHash = hash
	c.mu.Unlock()
}

func (c *Cell) WriteStack() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeStackHash
}

func (c *Cell) SetReadStack(hash uint64) {
	c.mu.Lock()
	c.readStackHash = hash
	c.mu.Unlock()
}

func (c *Cell) ReadStack() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readStackHash
}

//go:nosplit
func (c *Cell) SetWritePC(pc uintptr) { c.writePC.Store(pc) }

//go:nosplit
func (c *Cell) WritePC() uintptr { return c.writePC.Load() }

//go:nosplit
func (c *Cell) SetReadPC(pc uintptr) { c.readPC.Store(pc) }

//go:nosplit
func (c *Cell) ReadPC() uintptr { return c.readPC.Load() }
