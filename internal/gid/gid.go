// Package gid supplies the convenience layer spec §1's instrumenter needs
// to identify "the current thread" without being handed a ThreadId
// explicitly: a fast-as-practical current-goroutine-id lookup, and a pool
// that hands out compact ThreadId values so a long-running process doesn't
// need an ever-growing counter.
//
// Grounded on the teacher's internal/race/api goroutine-id family
// (goid_generic.go's parseGID/getGoroutineIDSlow, goid_fallback.go's
// build-tag fallback wiring) and its tid_pool_test.go, which exercises a
// free-list pool API (initTIDPool/allocTID/freeTID) that has no surviving
// implementation file in this rework's source tree — rebuilt here against
// that same test-implied shape, generalized from the teacher's fixed
// 256-slot pool to one that grows instead of running out.
package gid

import (
	"runtime"
	"sync"

	"github.com/kelenar/hbrace/internal/clock"
)

// Current returns the calling goroutine's runtime id.
//
// The teacher's fast path (goid_amd64.go / goid_fast.go) reads the goid
// field directly off the g struct via assembly keyed to a hand-verified
// byte offset; that file itself ships disabled in the teacher
// ("disabled_for_v0_1_0") because a wrong offset silently corrupts every
// race report downstream. This rework carries only the always-correct
// path: parse it out of runtime.Stack, the same way goid_fallback.go does
// on every architecture the assembly path doesn't cover.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the numeric id from a "goroutine 123 [running]:..."
// stack header, adapted from the teacher's goid_generic.go.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}

const initialPoolSize = 256

// Pool hands out compact clock.ThreadId values on fork and reclaims them
// on join, so a process that forks and joins many short-lived goroutines
// doesn't leak an ever-growing ThreadId counter. Grounded on the shape
// tid_pool_test.go exercises (a mutex-guarded free-list seeded with a
// fixed run of ascending ids), widened to grow the free-list instead of
// exhausting it once the initial batch is allocated.
type Pool struct {
	mu   sync.Mutex
	free []clock.ThreadId
	next clock.ThreadId
}

// NewPool seeds a Pool with initialPoolSize ascending ids, mirroring the
// teacher's freeTIDs[0..256) initialization.
func NewPool() *Pool {
	p := &Pool{free: make([]clock.ThreadId, 0, initialPoolSize)}
	for i := clock.ThreadId(0); i < initialPoolSize; i++ {
		p.free = append(p.free, i)
	}
	p.next = initialPoolSize
	return p
}

// Alloc returns the next available ThreadId, growing the pool by minting
// a fresh id if the free-list is empty.
func (p *Pool) Alloc() clock.ThreadId {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		id := p.free[0]
		p.free = p.free[1:]
		return id
	}
	id := p.next
	p.next++
	return id
}

// Free returns id to the pool for reuse by a later fork, mirroring the
// teacher's TID release path at thread exit.
func (p *Pool) Free(id clock.ThreadId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append([]clock.ThreadId{id}, p.free...)
}
