// Package epoch implements compact per-thread logical timestamps.
//
// An Epoch records "this was thread T's Nth event" and is the unit the
// shadow memory fast path compares against a reader/writer's vector clock
// without walking the whole clock. The teacher packs {TID:8, Clock:24} into
// a single uint32; that encoding cannot hold a 64-bit tick (the clock
// package here widens ticks to uint64 per the detector contract), so an
// Epoch is a small two-field struct instead. It stays comparable with ==,
// so the same-epoch fast path is still a single machine comparison.
package epoch

import "github.com/kelenar/hbrace/internal/clock"

// Epoch is a single thread's logical timestamp: the tick thread Tid held at
// the moment of some event.
type Epoch struct {
	Tid  clock.ThreadId
	Tick uint64
}

// New builds an epoch from a thread id and tick value.
//
//go:nosplit
func New(tid clock.ThreadId, tick uint64) Epoch {
	return Epoch{Tid: tid, Tick: tick}
}

// Decode returns the thread id and tick value, mirroring the teacher's
// decode-pair convention even though there is no packed representation to
// unpack here.
//
//go:nosplit
func (e Epoch) Decode() (clock.ThreadId, uint64) {
	return e.Tid, e.Tick
}

// HappensBefore reports whether e happened-before vc: e's owning thread's
// tick at the time e was recorded is no greater than vc's corresponding
// component. This is the O(1) fast-path check that avoids a full
// VectorClock comparison on the common case.
//
//go:nosplit
func (e Epoch) HappensBefore(vc *clock.VectorClock) bool {
	return e.Tick <= vc.Get(e.Tid)
}

// Same reports whether two epochs are identical. Used for the same-epoch
// fast path: if the previous access epoch equals the current thread's own
// epoch, the access was made by the same thread at the same logical time
// and no happens-before check is needed at all.
//
//go:nosplit
func (e Epoch) Same(other Epoch) bool {
	return e == other
}

// String renders an epoch as "tick@tid", matching the teacher's debug
// format. Only used for diagnostics, never on the hot path.
func (e Epoch) String() string {
	return itoa(e.Tick) + "@" + itoa(uint64(e.Tid))
}

// itoa avoids pulling strconv/fmt into this hot-path package, the same
// tradeoff the teacher makes.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	tmp := n
	digits := 0
	for tmp > 0 {
		digits++
		tmp /= 10
	}
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf)
}
