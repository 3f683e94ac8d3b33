// Package syncobj implements the SyncObjectTable: a single id-keyed table
// mapping a synchronization handle (lock, channel, waitgroup, barrier, or
// any id an application names directly via happens_before/happens_after)
// to the vector clock of its last release, per spec §3 (SyncObject) and
// §4.3 (SyncObjectTable).
//
// The teacher keeps three separate structures for this
// (internal/race/syncshadow: a generic SyncVar plus bolted-on
// ChannelState/WaitGroupState fields). Spec's data model has exactly one
// SyncObject shape, so mutex, channel, WaitGroup, and barrier support here
// are all just call conventions layered over the same table — generalizing
// the teacher's GetOrCreate/release-clock idiom rather than replicating its
// three special cases.
package syncobj

import (
	"sync"

	"github.com/kelenar/hbrace/internal/clock"
)

// Handle identifies a synchronization object: the address of a mutex, a
// channel, a WaitGroup, or an application-chosen id for
// happens_before/happens_after.
type Handle uint64

// object is one entry in the table: the last release clock plus recursion
// depth and current owner, matching spec §3's SyncObject record.
type object struct {
	mu            sync.Mutex
	releaseClock  *clock.VectorClock
	recursionDepth uint32
	owner         clock.ThreadId
	hasOwner      bool
}

// Table is the SyncObjectTable. Entries are created lazily on first
// observation and held until Forget removes that handle or Reset clears
// the whole table, matching "destroyed on explicit forget or engine
// teardown".
type Table struct {
	mu      sync.RWMutex
	objects map[Handle]*object
}

// New returns an empty SyncObjectTable.
func New() *Table {
	return &Table{objects: make(map[Handle]*object)}
}

func (t *Table) getOrCreate(h Handle) *object {
	t.mu.RLock()
	o, ok := t.objects[h]
	t.mu.RUnlock()
	if ok {
		return o
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok = t.objects[h]; ok {
		return o
	}
	o = &object{}
	t.objects[h] = o
	return o
}

// UsageWarning is returned by Release when called without a matching
// Acquire, per the Usage error class in spec §7: logged at warn, no
// effect on correctness of other events.
type UsageWarning struct {
	Handle Handle
	Detail string
}

func (w *UsageWarning) Error() string {
	return w.Detail
}

// Acquire implements spec §4.3's acquire rule: join the thread's clock
// with the object's last release clock, bump recursion depth, and mark
// ownership the first time depth transitions from 0.
func (t *Table) Acquire(tid clock.ThreadId, h Handle, threadClock *clock.VectorClock) {
	o := t.getOrCreate(h)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.recursionDepth == 0 {
		if o.releaseClock != nil {
			threadClock.Join(o.releaseClock)
		}
		o.owner = tid
		o.hasOwner = true
	}
	o.recursionDepth++
}

// Release implements spec §4.3's release rule: only a transition to depth
// 0 installs the release clock edge; the thread's clock is ticked
// afterward, matching the Clock contract ("own-thread component is
// strictly monotonic"). Release-without-acquire is a Usage warning with no
// clock effect.
func (t *Table) Release(tid clock.ThreadId, h Handle, threadClock *clock.VectorClock) *UsageWarning {
	o := t.getOrCreate(h)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.recursionDepth == 0 || !o.hasOwner || o.owner != tid {
		return &UsageWarning{Handle: h, Detail: "release without matching acquire"}
	}

	o.recursionDepth--
	if o.recursionDepth == 0 {
		o.releaseClock = threadClock.Snapshot()
		o.hasOwner = false
		threadClock.Tick(tid)
	}
	return nil
}

// ReleaseMerge is the RWMutex-style release used when more than one
// reader may release concurrently: the thread's clock is merged into (not
// replacing) the object's release clock rather than requiring a
// recursion-depth transition to zero.
func (t *Table) ReleaseMerge(tid clock.ThreadId, h Handle, threadClock *clock.VectorClock) {
	o := t.getOrCreate(h)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.releaseClock == nil {
		o.releaseClock = threadClock.Snapshot()
	} else {
		o.releaseClock.Join(threadClock)
	}
	threadClock.Tick(tid)
}

// HappensBefore implements spec §4.3: publish the current thread clock
// into the object's release clock (so a later happens_after observer
// joins it), then tick the publishing thread. Used both for the
// HAPPENS_BEFORE annotation and, with the object keyed on a barrier id,
// for barrier participation.
func (t *Table) HappensBefore(tid clock.ThreadId, h Handle, threadClock *clock.VectorClock) {
	o := t.getOrCreate(h)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.releaseClock == nil {
		o.releaseClock = threadClock.Snapshot()
	} else {
		o.releaseClock.Join(threadClock)
	}
	threadClock.Tick(tid)
}

// HappensAfter implements spec §4.3: join the thread's clock with the
// object's release clock. Per the Open Question resolved in DESIGN.md,
// an id never published via HappensBefore has a nil release clock and
// this is a no-op.
func (t *Table) HappensAfter(threadClock *clock.VectorClock, h Handle) {
	o := t.getOrCreate(h)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.releaseClock != nil {
		threadClock.Join(o.releaseClock)
	}
}

// Forget removes a handle's entry entirely, matching the "destroyed on
// explicit forget" lifetime from spec §3. Used e.g. when a channel or
// mutex's backing memory is freed and its identity may be reused.
func (t *Table) Forget(h Handle) {
	t.mu.Lock()
	delete(t.objects, h)
	t.mu.Unlock()
}

// Reset clears every entry. Test/engine-teardown only.
func (t *Table) Reset() {
	t.mu.Lock()
	t.objects = make(map[Handle]*object)
	t.mu.Unlock()
}
