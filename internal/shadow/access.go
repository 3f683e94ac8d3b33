// OnWrite/OnRead implement the FastTrack + SmartTrack checks from the
// teacher's detector.go, adapted to operate per shadow Cell and to report
// through the shared Race/AccessSnapshot types instead of printing
// directly. ShadowMap.OnWrite/OnRead decompose a [addr, addr+size) access
// into its covered words (spec §4.2) and apply this per-word check to
// each, stopping at the first race found on this call (the teacher's
// "stop on first race to avoid cascade of reports" policy, preserved
// here).
package shadow

import (
	"github.com/kelenar/hbrace/internal/clock"
	"github.com/kelenar/hbrace/internal/epoch"
	"github.com/kelenar/hbrace/internal/stackdepot"
)

// Access describes the calling thread's state needed by a single
// read/write check: its identity, its live vector clock, the instruction
// pointer of the access, and a snapshot of its shadow stack (the
// func_enter/func_exit call-site pcs live at the moment of the access, per
// spec §4.4's "the reporter snapshots the current shadow stack ... and the
// racing pc"). ShadowStack is captured by the caller at the original
// access, not at whatever later point the buffered event is drained,
// since func_enter/func_exit may run again on this thread before that.
type Access struct {
	Tid         clock.ThreadId
	Clock       *clock.VectorClock
	PC          uintptr
	ShadowStack []uintptr
}

// OnWrite applies the write rule from spec §4.2 across every word in
// [addr, addr+size): compare the thread's clock against each cell's
// write_clock and retained reads, reporting a race if either is not
// happens-before, then installing the new write epoch and demoting the
// reader set. Returns the first race found, or nil if none.
func (sm *ShadowMap) OnWrite(a Access, addr uintptr, size uint8) *Race {
	stackHash := stackdepot.Capture(a.ShadowStack, a.PC)
	currentEpoch := epoch.New(a.Tid, a.Clock.Get(a.Tid))

	var race *Race
	sm.withShardsAscending(words(addr, size), func(s *shard, ws []uintptr) {
		for _, w := range ws {
			if race != nil {
				return
			}
			c := s.getOrCreate(w)
			if r := onWriteCell(c, a, currentEpoch, w, stackHash); r != nil {
				race = r
				return
			}
		}
	})
	return race
}

func onWriteCell(c *Cell, a Access, currentEpoch epoch.Epoch, addr uintptr, stackHash uint64) *Race {
	prevWrite := c.GetWriteEpoch()

	// [FT WRITE SAME EPOCH]: writing to the same location at the same
	// logical time as last time is always safe.
	if prevWrite.Same(currentEpoch) {
		c.SetWriteStack(stackHash)
		return nil
	}

	exclusive := c.ExclusiveWriter()
	tidAsInt := int64(a.Tid) + 1 // reserve 0 for "uninitialized"

	if exclusive == tidAsInt {
		// Same owner writing again: still must check a previous write
		// from this same owner is not somehow ahead of us (clock
		// rollback would indicate a bug upstream); the common case
		// just advances.
		if prevWrite.Tid == a.Tid && prevWrite.Tick <= currentEpoch.Tick {
			c.SetWriteEpoch(currentEpoch)
			c.SetWritePC(a.PC)
			c.SetWriteStack(stackHash)
			return nil
		}
	}

	if exclusive == 0 {
		// First write ever to this cell.
		readEpochs := c.ReadEpochs()
		if len(readEpochs) == 0 && !c.IsPromoted() {
			c.SetExclusiveWriter(tidAsInt)
			c.SetWriteEpoch(currentEpoch)
			c.SetWritePC(a.PC)
			c.SetWriteStack(stackHash)
			return nil
		}
		c.SetExclusiveWriter(tidAsInt)
	} else if exclusive != tidAsInt {
		c.SetExclusiveWriter(-1)
	}

	// Full check: write-write race.
	if !happensBefore(prevWrite, a.Clock) {
		return raceOf(c, prevWrite, false, currentEpoch, true, a, addr, stackHash)
	}

	// Read-write race: the other side is a previous read.
	if !c.IsPromoted() {
		for _, re := range c.ReadEpochs() {
			if !happensBefore(re, a.Clock) {
				return raceOf(c, re, true, currentEpoch, true, a, addr, stackHash)
			}
		}
	} else if rc := c.ReadClock(); rc != nil {
		if !rc.LessOrEqual(a.Clock) {
			return raceOf(c, epoch.Epoch{}, true, currentEpoch, true, a, addr, stackHash)
		}
	}

	c.SetWriteEpoch(currentEpoch)
	c.SetWritePC(a.PC)
	c.SetWriteStack(stackHash)
	c.Demote()
	return nil
}

// OnRead applies the read rule from spec §4.2: compare against write_clock
// only, reporting a race if not happens-before, then adding/merging the
// reader into the cell's reader set.
func (sm *ShadowMap) OnRead(a Access, addr uintptr, size uint8) *Race {
	stackHash := stackdepot.Capture(a.ShadowStack, a.PC)
	currentEpoch := epoch.New(a.Tid, a.Clock.Get(a.Tid))

	var race *Race
	sm.withShardsAscending(words(addr, size), func(s *shard, ws []uintptr) {
		for _, w := range ws {
			if race != nil {
				return
			}
			c := s.getOrCreate(w)
			if r := onReadCell(c, a, currentEpoch, w, stackHash); r != nil {
				race = r
				return
			}
		}
	})
	return race
}

func onReadCell(c *Cell, a Access, currentEpoch epoch.Epoch, addr uintptr, stackHash uint64) *Race {
	exclusive := c.ExclusiveWriter()
	tidAsInt := int64(a.Tid) + 1

	if exclusive == tidAsInt {
		// Reading back our own writes never races: our own writes
		// always happen-before our own subsequent reads.
		c.AddReader(currentEpoch)
		c.SetReadPC(a.PC)
		c.SetReadStack(stackHash)
		return nil
	}

	prevWrite := c.GetWriteEpoch()
	if (prevWrite != epoch.Epoch{}) && !happensBefore(prevWrite, a.Clock) {
		// The other side is the previous write.
		return raceOf(c, prevWrite, false, currentEpoch, false, a, addr, stackHash)
	}

	if !c.IsPromoted() {
		readEpochs := c.ReadEpochs()
		for _, re := range readEpochs {
			if re.Tid == currentEpoch.Tid {
				c.AddReader(currentEpoch)
				c.SetReadPC(a.PC)
				c.SetReadStack(stackHash)
				return nil
			}
		}
		if len(readEpochs) > 0 {
			allBefore := true
			for _, re := range readEpochs {
				if !happensBefore(re, a.Clock) {
					allBefore = false
					break
				}
			}
			if allBefore && len(readEpochs) == 1 {
				c.AddReader(currentEpoch)
				c.SetReadPC(a.PC)
				c.SetReadStack(stackHash)
				return nil
			}
		}
		if c.AddReader(currentEpoch) {
			c.SetReadPC(a.PC)
			c.SetReadStack(stackHash)
			return nil
		}
		c.PromoteToReadClock(a.Clock)
		c.SetReadPC(a.PC)
		c.SetReadStack(stackHash)
		return nil
	}

	if rc := c.ReadClock(); rc != nil {
		rc.Join(a.Clock)
		c.SetReadPC(a.PC)
		c.SetReadStack(stackHash)
	}
	return nil
}

// happensBefore is the write-epoch-vs-thread-clock check: did the thread
// that produced e observe it from its own clock no later than the current
// thread's view of that same thread's progress.
func happensBefore(e epoch.Epoch, current *clock.VectorClock) bool {
	if (e == epoch.Epoch{}) {
		return true
	}
	return e.HappensBefore(current)
}

func raceOf(c *Cell, otherEpoch epoch.Epoch, otherIsRead bool, currentEpoch epoch.Epoch, currentIsWrite bool, a Access, addr uintptr, stackHash uint64) *Race {
	var otherStackHash uint64
	if otherIsRead {
		otherStackHash = c.ReadStack()
	} else {
		otherStackHash = c.WriteStack()
	}

	first := AccessSnapshot{
		Tid:           otherEpoch.Tid,
		PC:            pcFor(c, otherIsRead),
		Addr:          addr,
		Size:          wordSize,
		IsWrite:       !otherIsRead,
		CapturedStack: stackFor(otherStackHash),
	}
	second := AccessSnapshot{
		Tid:           a.Tid,
		PC:            a.PC,
		Addr:          addr,
		Size:          wordSize,
		IsWrite:       currentIsWrite,
		CapturedStack: stackFor(stackHash),
	}
	return &Race{First: first, Second: second}
}

func pcFor(c *Cell, wasRead bool) uintptr {
	if wasRead {
		return c.ReadPC()
	}
	return c.WritePC()
}

func stackFor(hash uint64) []uintptr {
	if hash == 0 {
		return nil
	}
	st := stackdepot.GetStack(hash)
	if st == nil {
		return nil
	}
	return st.PCs()
}
