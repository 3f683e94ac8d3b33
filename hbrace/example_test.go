package hbrace_test

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/kelenar/hbrace/hbrace"
)

// Example demonstrates basic usage of the detector API, with the
// instrumentation calls written by hand.
func Example() {
	hbrace.Init()
	defer hbrace.Fini()

	var counter int

	hbrace.RaceWrite(uintptr(unsafe.Pointer(&counter)))
	counter = 42

	hbrace.RaceRead(uintptr(unsafe.Pointer(&counter)))
	fmt.Println(counter)

	// Output:
	// 42
}

// Example_mutexProtected demonstrates a write under mutex protection: the
// Acquire/Release pair publishes the happens-before edge that a later
// holder of the same lock on another goroutine would acquire.
func Example_mutexProtected() {
	hbrace.Init()
	defer hbrace.Fini()

	var (
		counter int
		mu      sync.Mutex
	)

	hbrace.RaceAcquire(uintptr(unsafe.Pointer(&mu)))
	mu.Lock()

	hbrace.RaceWrite(uintptr(unsafe.Pointer(&counter)))
	counter = 42

	hbrace.RaceRelease(uintptr(unsafe.Pointer(&mu)))
	mu.Unlock()

	fmt.Println("no race detected")

	// Output:
	// no race detected
}

// Example_manualInstrumentation shows the calls an instrumented program
// carries; it performs no detector calls itself. hbrace build does not
// insert these calls: it only wires the module's go.mod against the
// runtime.
func Example_manualInstrumentation() {
	// Original:
	//   var x int
	//   x = 42
	//
	// Instrumented:
	//   var x int
	//   hbrace.RaceWrite(uintptr(unsafe.Pointer(&x)))
	//   x = 42
	//
	// The program (or an external instrumenter) must:
	//  1. import github.com/kelenar/hbrace/hbrace
	//  2. call hbrace.Init() at the top of main, hbrace.Fini() deferred
	//  3. call RaceRead/RaceWrite around every memory access
	//  4. call RaceAcquire/RaceRelease around sync primitives

	fmt.Println("use: hbrace build ./cmd/myprogram")

	// Output:
	// use: hbrace build ./cmd/myprogram
}
