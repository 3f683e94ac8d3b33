// Package hbrace is the public API a compiled program links against to
// get data-race detection without CGO: a single process-wide Engine,
// reached through free functions so instrumentation calls never have to
// thread an *Engine argument through instrumented code.
//
// # Quick start
//
//	$ hbrace build ./cmd/myserver
//	$ ./myserver
//
// hbrace build only wires the module's go.mod against this runtime; it
// does not insert detector calls, so the program makes them itself:
//
//	package main
//
//	import (
//		"github.com/kelenar/hbrace/hbrace"
//		"unsafe"
//	)
//
//	var counter int
//
//	func main() {
//		hbrace.Init()
//		defer hbrace.Fini()
//
//		hbrace.RaceWrite(uintptr(unsafe.Pointer(&counter)))
//		counter = 42
//	}
//
// # API overview
//
//   - Lifecycle: [Init], [Fini]
//   - Memory accesses: [RaceRead], [RaceWrite]
//   - Locks and channels: [RaceAcquire], [RaceAcquireWrite], [RaceRelease], [RaceReleaseWrite]
//   - Arbitrary happens-before edges: [HappensBefore], [HappensAfter]
//   - Allocation lifetime: [Allocate], [Deallocate]
//   - Call-site bookkeeping: [FuncEnter], [FuncExit]
//   - Suppressing a region: [EnterExclude], [LeaveExclude]
//   - Goroutine lifetime: [GoStart], [GoExit]
//
// Every function identifies "the current thread" by the calling
// goroutine's runtime id, translated to an opaque ThreadId behind the
// scenes (see internal/gid) — callers never see or manage a ThreadId
// directly. A goroutine that accesses the detector before [GoStart] has
// been called for it (notably the initial goroutine) is adopted lazily on
// first use as a child of an implicit root thread.
package hbrace
