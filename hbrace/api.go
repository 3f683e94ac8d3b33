package hbrace

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kelenar/hbrace/internal/clock"
	"github.com/kelenar/hbrace/internal/config"
	"github.com/kelenar/hbrace/internal/engine"
	"github.com/kelenar/hbrace/internal/gid"
	"github.com/kelenar/hbrace/internal/sink"
	"github.com/kelenar/hbrace/internal/syncobj"
)

const rootThreadID clock.ThreadId = 0

var (
	engMu sync.Mutex
	eng   *engine.Engine

	// goroutines maps a runtime goroutine id (from gid.Current) to the
	// ThreadId Engine knows it by. Populated lazily: the first hbrace
	// call made from a goroutine forks it as a child of rootThreadID.
	goroutines sync.Map // int64 -> clock.ThreadId

	initialized atomic.Bool
)

// Init (re-)initializes the detector runtime with documented-default
// configuration. Must be called before any other hbrace function. The
// hbrace CLI does not insert this call; the program (or an external
// instrumenter) must call it explicitly at the start of main().
//
// Thread safety: safe to call more than once (e.g. across independent test
// runs in the same process) — each call discards any prior detector state
// and its forked threads, starting over with clean shadow memory.
func Init() {
	initWith(engine.New(config.Default()))
}

// InitWithConfig is Init, but loads its Config from path instead of using
// documented defaults, wiring an XML sink when the config names one.
// Returns the load error unchanged so the caller (the hbrace CLI,
// typically) can decide whether a missing or malformed config file should
// abort the run.
func InitWithConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	e := engine.New(cfg)
	if cfg.Output.XMLPath != "" {
		if f, ferr := os.Create(cfg.Output.XMLPath); ferr == nil {
			e.AddSink(sink.NewXMLSink(f, os.Getpid()))
		}
	}
	initWith(e)
	return nil
}

// configEnvVar names the environment variable the hbrace CLI's run and
// test commands set on the launched process to point it at the config
// file given via their -config flag. A program honors it by calling
// InitFromEnv instead of Init.
const configEnvVar = "HBRACE_CONFIG"

// InitFromEnv is Init, except that it calls InitWithConfig against the
// path named by the HBRACE_CONFIG environment variable when that variable
// is set, falling back to documented defaults otherwise. The hbrace run
// and test commands set HBRACE_CONFIG when invoked with -config; programs
// opt into the same convention by calling this instead of Init.
func InitFromEnv() error {
	if path := os.Getenv(configEnvVar); path != "" {
		return InitWithConfig(path)
	}
	Init()
	return nil
}

func initWith(e *engine.Engine) {
	engMu.Lock()
	defer engMu.Unlock()
	goroutines = sync.Map{}
	eng = e
	eng.Fork(rootThreadID, rootThreadID)
	initialized.Store(true)
}

// Fini finalizes the detector, flushing every sink and printing the
// summary report spec §7 requires. Call via defer immediately after Init.
//
// After Fini returns, every hbrace function is a safe no-op until the next
// Init.
func Fini() {
	engMu.Lock()
	e := eng
	eng = nil
	initialized.Store(false)
	engMu.Unlock()

	if e == nil {
		return
	}
	stats := e.Finalize()

	fmt.Fprintf(os.Stderr, "\n==================\n")
	fmt.Fprintf(os.Stderr, "hbrace report\n")
	fmt.Fprintf(os.Stderr, "==================\n")
	if stats.RacesReported == 0 {
		fmt.Fprintf(os.Stderr, "no data races detected\n")
	} else {
		fmt.Fprintf(os.Stderr, "%d data race(s) detected (see above for details)\n", stats.RacesReported)
	}
	if stats.RacesDropped > 0 {
		fmt.Fprintf(os.Stderr, "%d additional race report(s) dropped by rate limiting\n", stats.RacesDropped)
	}
	if stats.EventsDropped > 0 {
		fmt.Fprintf(os.Stderr, "%d memory event(s) dropped while a thread was excluded\n", stats.EventsDropped)
	}
	fmt.Fprintf(os.Stderr, "==================\n\n")
}

// current returns the live Engine and the calling goroutine's ThreadId, or
// ok=false if the detector isn't currently initialized (mirroring the
// teacher's enabled.Load() gate on every raceread/racewrite entry point).
// Forks a fresh ThreadId the first time this goroutine is observed.
func current() (e *engine.Engine, tid clock.ThreadId, ok bool) {
	if !initialized.Load() {
		return nil, 0, false
	}
	engMu.Lock()
	e = eng
	engMu.Unlock()
	if e == nil {
		return nil, 0, false
	}

	g := gid.Current()
	if v, loaded := goroutines.Load(g); loaded {
		return e, v.(clock.ThreadId), true
	}
	tid = clock.ThreadId(uint64(g))
	e.Fork(rootThreadID, tid)
	goroutines.Store(g, tid)
	return e, tid, true
}

// GoStart records the launch of a new goroutine, forking its ThreadState
// from the launching goroutine's clock. Instrumented code calls this as
// the first statement of every "go" statement's closure; g is the
// new goroutine's runtime id, obtained via gid.Current() from inside that
// closure.
func GoStart(g int64) {
	e, parent, ok := current()
	if !ok {
		return
	}
	tid := clock.ThreadId(uint64(g))
	e.Fork(parent, tid)
	goroutines.Store(g, tid)
}

// GoExit retires the calling goroutine's ThreadState, joining its clock
// back into the root thread so later happens-before queries still see its
// final accesses. Instrumented code defers this call at the top of every
// goroutine entry closure.
func GoExit() {
	e, tid, ok := current()
	if !ok {
		return
	}
	goroutines.Delete(gid.Current())
	e.Join(rootThreadID, tid)
}

// nativeWordSize is the access size assumed by the single-address
// RaceRead/RaceWrite API, matching the word size ShadowMemory tracks
// accesses at (internal/shadow's wordSize). Instrumentation for a wider access (e.g. a
// struct copy) should call Engine.Read/Write directly with the real size
// instead of going through this convenience wrapper.
const nativeWordSize = 8

// RaceRead records a memory read at addr. Instrumented code calls it
// before every load.
//
//nolint:revive // RaceRead mirrors the naming of Go's built-in race detector API.
func RaceRead(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Read(tid, callerPC(), addr, nativeWordSize)
	}
}

// RaceWrite records a memory write at addr. Instrumented code calls it
// before every store.
//
//nolint:revive // RaceWrite mirrors the naming of Go's built-in race detector API.
func RaceWrite(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Write(tid, callerPC(), addr, nativeWordSize)
	}
}

// RaceAcquire records an exclusive lock acquisition (sync.Mutex.Lock,
// channel receive, WaitGroup.Wait) keyed by the lock's address.
//
//nolint:revive // RaceAcquire mirrors the naming of Go's built-in race detector API.
func RaceAcquire(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Acquire(tid, syncobj.Handle(addr), 0, false)
	}
}

// RaceAcquireWrite records an RWMutex-style shared acquisition
// (RWMutex.RLock) that may be released concurrently by other readers.
func RaceAcquireWrite(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Acquire(tid, syncobj.Handle(addr), 0, true)
	}
}

// RaceRelease records an exclusive lock release (sync.Mutex.Unlock,
// channel send, WaitGroup.Done).
//
//nolint:revive // RaceRelease mirrors the naming of Go's built-in race detector API.
func RaceRelease(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Release(tid, syncobj.Handle(addr), false)
	}
}

// RaceReleaseWrite records an RWMutex-style shared release (RWMutex.RUnlock).
func RaceReleaseWrite(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Release(tid, syncobj.Handle(addr), true)
	}
}

// HappensBefore publishes the calling thread's clock under id, establishing
// that everything before this call happens-before any later
// [HappensAfter](id) on another thread. Used for synchronization primitives
// the RaceAcquire/RaceRelease family doesn't cover (custom barriers,
// condition variables built from channels, third-party sync packages).
func HappensBefore(id uint64) {
	if e, tid, ok := current(); ok {
		e.HappensBefore(tid, syncobj.Handle(id))
	}
}

// HappensAfter joins the calling thread's clock with whatever was last
// published via [HappensBefore](id). A no-op if id was never published.
func HappensAfter(id uint64) {
	if e, tid, ok := current(); ok {
		e.HappensAfter(tid, syncobj.Handle(id))
	}
}

// Allocate records the start of addr's live range, covering size bytes.
// Inserted before a heap allocation escapes to another goroutine.
func Allocate(addr uintptr, size uintptr) {
	if e, tid, ok := current(); ok {
		e.Allocate(tid, callerPC(), addr, size)
	}
}

// Deallocate records the end of addr's live range. A Deallocate for an
// address Allocate never saw is a logged Usage warning, not a panic.
func Deallocate(addr uintptr) {
	if e, tid, ok := current(); ok {
		e.Deallocate(tid, addr)
	}
}

// FuncEnter pushes pc onto the calling thread's shadow call stack, giving
// later race reports a call-site trail independent of runtime.Callers.
func FuncEnter(pc uintptr) {
	if e, tid, ok := current(); ok {
		e.FuncEnter(tid, pc)
	}
}

// FuncExit pops the calling thread's shadow call stack.
func FuncExit() {
	if e, tid, ok := current(); ok {
		e.FuncExit(tid)
	}
}

// EnterExclude suppresses memory-event recording for the calling thread
// until the matching [LeaveExclude]. Used to wrap code the detector
// shouldn't instrument (e.g. the detector's own runtime, or a vetted
// lock-free structure annotated by hand).
func EnterExclude() {
	if e, tid, ok := current(); ok {
		e.EnterExclude(tid)
	}
}

// LeaveExclude re-enables memory-event recording for the calling thread.
func LeaveExclude() {
	if e, tid, ok := current(); ok {
		e.LeaveExclude(tid)
	}
}

// callerPC returns the program counter of the caller of the hbrace function
// currently recording an access, for attribution in race reports. Skip
// count of 3 accounts for runtime.Callers itself, callerPC, and the
// recording function (e.g. RaceRead).
func callerPC() uintptr {
	var pcs [1]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return 0
	}
	return pcs[0]
}
