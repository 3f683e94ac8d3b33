// ShadowMap ties the per-word Cells together into the sharded, allocation-
// scoped structure spec'd in §3 (ShadowMap) and §5 (sharded by high address
// bits, ascending-index cross-shard locking). The teacher keeps one flat
// sync.Map (internal/race/shadowmem/shadow_map.go); this redesigns that
// into fixed shards each guarded by their own mutex, the concurrency model
// called for once shadow state has an allocation lifetime attached to it.
package shadow

import (
	"sort"
	"sync"

	"github.com/kelenar/hbrace/internal/clock"
)

const (
	// wordSize is the access granularity: every tracked address is rounded
	// down to an 8-byte boundary and overlapping accesses are decomposed
	// into per-word checks, per spec §4.2 ("Overlapping but not identical
	// sizes are decomposed per cell").
	wordSize = 8

	// numShards is the shard count; addresses are routed to a shard by
	// their high bits, so addresses in different high address regions
	// take different shard locks while nearby addresses share one shard.
	numShards = 256

	// shardShift sets the shard-selection bits: shardIndex shifts a word
	// address right by shardShift-3 (37) and keeps the low 8 bits of the
	// result, so address bits 37-44 become the shard index.
	shardShift = 40
)

type shard struct {
	mu    sync.Mutex
	cells map[uintptr]*Cell
	// extents maps an allocation's start word to its length in words, for
	// addresses whose allocation extent begins in this shard. Kept
	// per-shard so Allocate/Deallocate never need a global lock.
	extents map[uintptr]uintptr
}

func newShard() *shard {
	return &shard{cells: make(map[uintptr]*Cell), extents: make(map[uintptr]uintptr)}
}

func shardIndex(wordAddr uintptr) int {
	return int((wordAddr >> (shardShift - 3)) & (numShards - 1))
}

func alignDown(addr uintptr) uintptr {
	return addr &^ (wordSize - 1)
}

// ShadowMap is the top-level shadow memory structure: numShards independent
// shards, each a mutex-guarded map from word address to Cell.
type ShadowMap struct {
	shards [numShards]*shard
}

// New returns an empty ShadowMap.
func New() *ShadowMap {
	sm := &ShadowMap{}
	for i := range sm.shards {
		sm.shards[i] = newShard()
	}
	return sm
}

func (sm *ShadowMap) shardFor(wordAddr uintptr) *shard {
	return sm.shards[shardIndex(wordAddr)]
}

// words returns the word-aligned addresses covered by [addr, addr+size).
func words(addr uintptr, size uint8) []uintptr {
	start := alignDown(addr)
	end := alignDown(addr+uintptr(size)-1) + wordSize
	out := make([]uintptr, 0, (end-start)/wordSize)
	for w := start; w < end; w += wordSize {
		out = append(out, w)
	}
	return out
}

// withShardsAscending groups the given word addresses by shard and invokes
// fn once per shard, in ascending shard-index order, holding that shard's
// lock for the duration of fn. This is the cross-shard ordering rule from
// spec §5: "Cross-shard operations MUST acquire locks in ascending shard
// index to avoid deadlock."
func (sm *ShadowMap) withShardsAscending(wordAddrs []uintptr, fn func(s *shard, wordsInShard []uintptr)) {
	byShard := make(map[int][]uintptr)
	for _, w := range wordAddrs {
		idx := shardIndex(w)
		byShard[idx] = append(byShard[idx], w)
	}
	indices := make([]int, 0, len(byShard))
	for idx := range byShard {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		s := sm.shards[idx]
		s.mu.Lock()
		fn(s, byShard[idx])
		s.mu.Unlock()
	}
}

func (s *shard) getOrCreate(wordAddr uintptr) *Cell {
	c, ok := s.cells[wordAddr]
	if !ok {
		c = NewCell()
		s.cells[wordAddr] = c
	}
	return c
}

// Get returns the Cell for a word-aligned address if one exists, without
// creating it.
func (sm *ShadowMap) Get(wordAddr uintptr) *Cell {
	s := sm.shardFor(wordAddr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells[wordAddr]
}

// Allocate zeroes shadow state across [addr, addr+size) and records the
// extent so Deallocate can invalidate it precisely. Per spec §3: "allocate
// MUST zero the range's shadow" so a reused address never inherits a freed
// predecessor's access history.
func (sm *ShadowMap) Allocate(addr uintptr, size uintptr) {
	if size == 0 {
		return
	}
	base := alignDown(addr)
	n := (size + wordSize - 1) / wordSize
	wordAddrs := make([]uintptr, 0, n)
	for i := uintptr(0); i < n; i++ {
		wordAddrs = append(wordAddrs, base+i*wordSize)
	}
	sm.withShardsAscending(wordAddrs, func(s *shard, ws []uintptr) {
		for _, w := range ws {
			if c, ok := s.cells[w]; ok {
				c.Reset()
			} else {
				s.cells[w] = NewCell()
			}
		}
	})
	s := sm.shardFor(base)
	s.mu.Lock()
	s.extents[base] = n
	s.mu.Unlock()
}

// Deallocate invalidates the shadow state for the allocation starting at
// addr. If addr was never recorded as an allocation start, this is a
// no-op Usage error (double-deallocate or deallocate-of-unknown): the
// caller is responsible for logging it, per spec §7.
func (sm *ShadowMap) Deallocate(addr uintptr) (sizeWords uintptr, ok bool) {
	base := alignDown(addr)
	s := sm.shardFor(base)

	s.mu.Lock()
	n, found := s.extents[base]
	if found {
		delete(s.extents, base)
	}
	s.mu.Unlock()

	if !found {
		return 0, false
	}

	wordAddrs := make([]uintptr, 0, n)
	for i := uintptr(0); i < n; i++ {
		wordAddrs = append(wordAddrs, base+i*wordSize)
	}
	sm.Invalidate(wordAddrs)
	return n, true
}

// Invalidate zeroes shadow state for the given word-aligned addresses,
// acquiring shards in ascending order.
func (sm *ShadowMap) Invalidate(wordAddrs []uintptr) {
	sm.withShardsAscending(wordAddrs, func(s *shard, ws []uintptr) {
		for _, w := range ws {
			if c, ok := s.cells[w]; ok {
				c.Reset()
			}
		}
	})
}

// AccessSnapshot captures one side of a reported race: which thread, what
// pc, what address/size, read or write, and (if retained) the captured
// call stack, per spec §3 (Race / AccessSnapshot).
type AccessSnapshot struct {
	Tid           clock.ThreadId
	PC            uintptr
	Addr          uintptr
	Size          uint8
	IsWrite       bool
	CapturedStack []uintptr
}

// Race is a single detected racing pair.
type Race struct {
	First  AccessSnapshot
	Second AccessSnapshot
}
