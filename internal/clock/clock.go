// Package clock implements vector clocks for tracking happens-before
// relations between threads.
//
// A VectorClock maps ThreadId to a monotonically increasing tick. Threads
// not yet observed read as tick 0. Join performs a pointwise maximum
// (synchronization); LessOrEqual performs the happens-before partial-order
// check.
//
// Unlike a fixed-size [65536]uint32 array, the clock here grows on demand
// and is indexed directly by the caller-assigned ThreadId (spec: "opaque
// integer assigned at fork"). No separate high-water mark is kept: the
// slice's length bounds how far Join/LessOrEqual walk, the same sparse
// optimization a fixed-array clock would get from tracking a maxTID.
package clock

// ThreadId identifies a thread for the lifetime of the clock. It is opaque
// to this package; callers (the engine's fork operation) assign it.
type ThreadId uint32

// VectorClock is a per-thread tick vector. The zero value is a valid,
// all-zero clock.
type VectorClock struct {
	ticks []uint64
}

// New returns a zero-initialized vector clock.
func New() *VectorClock {
	return &VectorClock{}
}

func (vc *VectorClock) ensure(t ThreadId) {
	if int(t) >= len(vc.ticks) {
		grown := make([]uint64, t+1)
		copy(grown, vc.ticks)
		vc.ticks = grown
	}
}

// Get returns the tick for thread t, or 0 if never observed.
func (vc *VectorClock) Get(t ThreadId) uint64 {
	if int(t) >= len(vc.ticks) {
		return 0
	}
	return vc.ticks[t]
}

// Set assigns the tick for thread t directly. Used when seeding a clock
// from a snapshot.
func (vc *VectorClock) Set(t ThreadId, tick uint64) {
	vc.ensure(t)
	vc.ticks[t] = tick
}

// Tick advances thread t's own component by one. Per spec this is the only
// operation that may increase a thread's own component, and it must be
// called after every detector operation on t to keep the own-thread
// monotonicity invariant.
func (vc *VectorClock) Tick(t ThreadId) {
	vc.ensure(t)
	vc.ticks[t]++
}

// Join performs vc = vc ⊔ other: a pointwise maximum. This is the
// synchronization primitive used on lock acquire, join, and the
// happens_before/happens_after annotations.
func (vc *VectorClock) Join(other *VectorClock) {
	if len(other.ticks) > len(vc.ticks) {
		vc.ensure(ThreadId(len(other.ticks) - 1))
	}
	for i, v := range other.ticks {
		if v > vc.ticks[i] {
			vc.ticks[i] = v
		}
	}
}

// LessOrEqual reports whether vc ⊑ other: every component of vc is no
// greater than the corresponding component of other. This is the
// happens-before check: vc ⊑ other means the event that produced vc
// happened-before the event that produced other.
func (vc *VectorClock) LessOrEqual(other *VectorClock) bool {
	for i, v := range vc.ticks {
		if v == 0 {
			continue
		}
		if i >= len(other.ticks) || v > other.ticks[i] {
			return false
		}
	}
	return true
}

// HappensBefore is an alias for LessOrEqual, named for readability at call
// sites that are checking the happens-before relation rather than doing
// generic lattice comparison.
func (vc *VectorClock) HappensBefore(other *VectorClock) bool {
	return vc.LessOrEqual(other)
}

// Snapshot returns a cheap, independent copy of vc. Shadow memory and sync
// objects retain snapshots rather than live references so that a thread's
// subsequent Tick/Join calls cannot mutate a previously-recorded clock.
func (vc *VectorClock) Snapshot() *VectorClock {
	cp := make([]uint64, len(vc.ticks))
	copy(cp, vc.ticks)
	return &VectorClock{ticks: cp}
}

// CopyFrom overwrites vc in place with other's contents. Used to avoid an
// allocation when refreshing a long-lived clock (e.g. a sync object's
// release clock) in place.
func (vc *VectorClock) CopyFrom(other *VectorClock) {
	vc.ticks = append(vc.ticks[:0], other.ticks...)
}

// Equal reports whether vc and other have identical tick vectors,
// ignoring trailing zeros. Used by tests.
func (vc *VectorClock) Equal(other *VectorClock) bool {
	return vc.LessOrEqual(other) && other.LessOrEqual(vc)
}
